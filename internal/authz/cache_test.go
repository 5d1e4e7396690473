package authz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type staticUsers struct {
	byRole map[int64][]int64
}

func (u *staticUsers) RoleIDsOfUser(ctx context.Context, userID int64) ([]int64, error) {
	var roles []int64
	for roleID, users := range u.byRole {
		for _, id := range users {
			if id == userID {
				roles = append(roles, roleID)
			}
		}
	}
	return roles, nil
}

func (u *staticUsers) UserIDsWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	return append([]int64(nil), u.byRole[roleID]...), nil
}

func newRedisTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, time.Minute), srv
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, _ := newRedisTestCache(t)

	var missing []string
	ok, err := cache.Get(ctx, UserKey(7), &missing)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Put(ctx, UserKey(7), []string{"reports.view"}))

	var got []string
	ok, err = cache.Get(ctx, UserKey(7), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"reports.view"}, got)

	require.NoError(t, cache.Invalidate(ctx, UserKey(7)))
	ok, err = cache.Get(ctx, UserKey(7), &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCacheEntriesExpire(t *testing.T) {
	ctx := context.Background()
	cache, srv := newRedisTestCache(t)

	require.NoError(t, cache.Put(ctx, UserKey(7), []string{"reports.view"}))
	srv.FastForward(2 * time.Minute)

	var got []string
	ok, err := cache.Get(ctx, UserKey(7), &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInvalidateUsersOfRoleCoversRoleAndHolders(t *testing.T) {
	ctx := context.Background()
	cache, _ := newRedisTestCache(t)
	inv := NewInvalidator(cache, &staticUsers{byRole: map[int64][]int64{5: {7, 8}}})

	epoch, err := inv.MenuEpoch(ctx)
	require.NoError(t, err)

	require.NoError(t, cache.Put(ctx, RoleKey(5), []string{"x"}))
	require.NoError(t, cache.Put(ctx, UserKey(7), []string{"x"}))
	require.NoError(t, cache.Put(ctx, UserKey(8), []string{"x"}))
	require.NoError(t, cache.Put(ctx, UserMenuKey(7, epoch), []string{"x"}))
	require.NoError(t, cache.Put(ctx, UserKey(9), []string{"x"}))

	require.NoError(t, inv.InvalidateUsersOfRole(ctx, 5))

	var got []string
	for _, key := range []string{RoleKey(5), UserKey(7), UserKey(8), UserMenuKey(7, epoch)} {
		ok, err := cache.Get(ctx, key, &got)
		require.NoError(t, err)
		require.False(t, ok, key)
	}

	// A user outside the role keeps their entry.
	ok, err := cache.Get(ctx, UserKey(9), &got)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMenuEpochInitialisesAndBumps(t *testing.T) {
	ctx := context.Background()
	cache, _ := newRedisTestCache(t)
	inv := NewInvalidator(cache, &staticUsers{byRole: map[int64][]int64{}})

	epoch, err := inv.MenuEpoch(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), epoch)

	require.NoError(t, inv.BumpMenuEpoch(ctx))
	epoch, err = inv.MenuEpoch(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), epoch)

	require.NotEqual(t, UserMenuKey(7, 1), UserMenuKey(7, 2))
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Millisecond)

	require.NoError(t, cache.Put(ctx, "k", "v"))
	time.Sleep(5 * time.Millisecond)

	var got string
	ok, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.False(t, ok)
}
