package jobs

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-admin/helmsman/internal/authz"
	"github.com/helmsman-admin/helmsman/internal/roles"
)

type staticRoles struct {
	list []roles.Role
}

func (s *staticRoles) List(ctx context.Context) ([]roles.Role, error) {
	return s.list, nil
}

type staticUsers struct {
	byRole map[int64][]int64
}

func (s *staticUsers) RoleIDsOfUser(ctx context.Context, userID int64) ([]int64, error) {
	return nil, nil
}

func (s *staticUsers) UserIDsWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	return append([]int64(nil), s.byRole[roleID]...), nil
}

type staticSource struct {
	rolePerms map[int64][]string
	userPerms map[int64][]string
}

func (s *staticSource) EffectivePermissionNames(ctx context.Context, userID int64) ([]string, error) {
	return append([]string(nil), s.userPerms[userID]...), nil
}

func (s *staticSource) PermissionNamesOfRole(ctx context.Context, roleID int64) ([]string, error) {
	return append([]string(nil), s.rolePerms[roleID]...), nil
}

func TestAuthzWarmupPopulatesCaches(t *testing.T) {
	cache := authz.NewMemoryCache(time.Minute)
	resolver := authz.NewResolver(&staticSource{
		rolePerms: map[int64][]string{1: {"reports.view"}, 2: {"roles.manage"}},
		userPerms: map[int64][]string{7: {"reports.view"}, 8: {"reports.view", "roles.manage"}},
	}, cache, nil)

	job := NewAuthzWarmupJob(
		&staticRoles{list: []roles.Role{
			{ID: 1, Name: "viewer", Status: roles.StatusActive},
			{ID: 2, Name: "editor", Status: roles.StatusActive},
			{ID: 3, Name: "retired", Status: roles.StatusInactive},
		}},
		&staticUsers{byRole: map[int64][]int64{1: {7, 8}, 2: {8}, 3: {9}}},
		resolver,
		slog.Default(),
	)

	task, err := NewAuthzWarmupTask("active")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.True(t, cache.Contains(authz.RoleKey(1)))
	require.True(t, cache.Contains(authz.RoleKey(2)))
	require.False(t, cache.Contains(authz.RoleKey(3)))
	require.True(t, cache.Contains(authz.UserKey(7)))
	require.True(t, cache.Contains(authz.UserKey(8)))
	require.False(t, cache.Contains(authz.UserKey(9)))
}

func TestAuthzWarmupAllScopeIncludesInactiveRoles(t *testing.T) {
	cache := authz.NewMemoryCache(time.Minute)
	resolver := authz.NewResolver(&staticSource{
		rolePerms: map[int64][]string{3: nil},
	}, cache, nil)

	job := NewAuthzWarmupJob(
		&staticRoles{list: []roles.Role{{ID: 3, Name: "retired", Status: roles.StatusInactive}}},
		&staticUsers{byRole: map[int64][]int64{}},
		resolver,
		slog.Default(),
	)

	task, err := NewAuthzWarmupTask("all")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, cache.Contains(authz.RoleKey(3)))
}

func TestAuthzWarmupRejectsMalformedPayload(t *testing.T) {
	job := NewAuthzWarmupJob(&staticRoles{}, &staticUsers{}, authz.NewResolver(&staticSource{}, authz.NewMemoryCache(time.Minute), nil), slog.Default())
	err := job.Handle(context.Background(), asynq.NewTask(TaskAuthzWarmup, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
