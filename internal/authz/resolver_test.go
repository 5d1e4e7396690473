package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helmsman-admin/helmsman/internal/shared"
)

type countingSource struct {
	perms     map[int64][]string
	rolePerms map[int64][]string
	userCalls int
	roleCalls int
}

func (s *countingSource) EffectivePermissionNames(ctx context.Context, userID int64) ([]string, error) {
	s.userCalls++
	return append([]string(nil), s.perms[userID]...), nil
}

func (s *countingSource) PermissionNamesOfRole(ctx context.Context, roleID int64) ([]string, error) {
	s.roleCalls++
	return append([]string(nil), s.rolePerms[roleID]...), nil
}

func TestResolverCachesEffectivePermissions(t *testing.T) {
	ctx := context.Background()
	source := &countingSource{perms: map[int64][]string{7: {"reports.view", "roles.manage"}}}
	cache := NewMemoryCache(time.Minute)
	resolver := NewResolver(source, cache, nil)

	got, err := resolver.EffectivePermissions(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, []string{"reports.view", "roles.manage"}, got)
	require.Equal(t, 1, source.userCalls)

	// Second read is served from the cache.
	_, err = resolver.EffectivePermissions(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 1, source.userCalls)

	// Invalidation forces a recomputation.
	require.NoError(t, cache.Invalidate(ctx, UserKey(7)))
	source.perms[7] = []string{"reports.view"}
	got, err = resolver.EffectivePermissions(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, []string{"reports.view"}, got)
	require.Equal(t, 2, source.userCalls)
}

func TestResolverRolePermissions(t *testing.T) {
	ctx := context.Background()
	source := &countingSource{rolePerms: map[int64][]string{5: {"reports.view"}}}
	resolver := NewResolver(source, NewMemoryCache(time.Minute), nil)

	got, err := resolver.RolePermissions(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"reports.view"}, got)

	_, err = resolver.RolePermissions(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 1, source.roleCalls)
}

func TestHasPermission(t *testing.T) {
	ctx := context.Background()
	source := &countingSource{perms: map[int64][]string{7: {"reports.view"}}}
	resolver := NewResolver(source, NewMemoryCache(time.Minute), nil)

	ok, err := resolver.HasPermission(ctx, 7, "reports.view")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = resolver.HasPermission(ctx, 7, "roles.manage")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMiddlewareRequireAny(t *testing.T) {
	source := &countingSource{perms: map[int64][]string{7: {"reports.view"}}}
	mw := Middleware{Resolver: NewResolver(source, NewMemoryCache(time.Minute), nil)}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := mw.RequireAny("reports.view", "admin.all")(next)

	// Anonymous requests are rejected outright.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{UserID: 7}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{UserID: 99}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddlewareRequireAll(t *testing.T) {
	source := &countingSource{perms: map[int64][]string{7: {"reports.view", "roles.manage"}}}
	mw := Middleware{Resolver: NewResolver(source, NewMemoryCache(time.Minute), nil)}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{UserID: 7}))

	rec := httptest.NewRecorder()
	mw.RequireAll("reports.view", "roles.manage")(next).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	mw.RequireAll("reports.view", "admin.all")(next).ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
