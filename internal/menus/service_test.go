package menus

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helmsman-admin/helmsman/internal/authz"
	"github.com/helmsman-admin/helmsman/internal/hierarchy"
	"github.com/helmsman-admin/helmsman/internal/shared"
)

type memoryMenuRepo struct {
	menus     map[int64]Menu
	grants    map[int64][]int64
	userRoles map[int64][]int64
	userPerms map[int64]map[int64]bool
	nextID    int64
}

func newMemoryMenuRepo() *memoryMenuRepo {
	return &memoryMenuRepo{
		menus:     make(map[int64]Menu),
		grants:    make(map[int64][]int64),
		userRoles: make(map[int64][]int64),
		userPerms: make(map[int64]map[int64]bool),
	}
}

func (r *memoryMenuRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, r)
}

func (r *memoryMenuRepo) Get(ctx context.Context, id int64) (*Menu, error) {
	m, ok := r.menus[id]
	if !ok || m.Tombstoned {
		return nil, shared.ErrNotFound
	}
	out := m
	return &out, nil
}

func (r *memoryMenuRepo) GetByName(ctx context.Context, name string) (*Menu, error) {
	for _, m := range r.menus {
		if m.Name == name && !m.Tombstoned {
			out := m
			return &out, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memoryMenuRepo) List(ctx context.Context) ([]Menu, error) {
	out := make([]Menu, 0, len(r.menus))
	for _, m := range r.menus {
		if !m.Tombstoned {
			out = append(out, m)
		}
	}
	sortMenus(out)
	return out, nil
}

func (r *memoryMenuRepo) ParentMap(ctx context.Context) (hierarchy.Parents, error) {
	parents := make(hierarchy.Parents, len(r.menus))
	for id, m := range r.menus {
		if m.Tombstoned {
			continue
		}
		if m.ParentID != nil {
			parents[id] = *m.ParentID
		} else {
			parents[id] = hierarchy.NoParent
		}
	}
	return parents, nil
}

func (r *memoryMenuRepo) Create(ctx context.Context, m Menu) (int64, error) {
	r.nextID++
	m.ID = r.nextID
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	r.menus[m.ID] = m
	return m.ID, nil
}

func (r *memoryMenuRepo) Update(ctx context.Context, m Menu) error {
	if _, ok := r.menus[m.ID]; !ok {
		return shared.ErrNotFound
	}
	m.UpdatedAt = time.Now()
	r.menus[m.ID] = m
	return nil
}

func (r *memoryMenuRepo) SetLevels(ctx context.Context, levels map[int64]int) error {
	for id, level := range levels {
		m, ok := r.menus[id]
		if !ok {
			return shared.ErrNotFound
		}
		m.Level = level
		r.menus[id] = m
	}
	return nil
}

func (r *memoryMenuRepo) Tombstone(ctx context.Context, id int64) error {
	m, ok := r.menus[id]
	if !ok {
		return shared.ErrNotFound
	}
	m.Tombstoned = true
	r.menus[id] = m
	delete(r.grants, id)
	return nil
}

func (r *memoryMenuRepo) MaxSiblingSortOrder(ctx context.Context, parentID *int64) (int, error) {
	max := -1
	for _, m := range r.menus {
		if m.Tombstoned || !sameParent(m.ParentID, parentID) {
			continue
		}
		if m.SortOrder > max {
			max = m.SortOrder
		}
	}
	return max, nil
}

func (r *memoryMenuRepo) CountChildren(ctx context.Context, id int64) (int, error) {
	count := 0
	for _, m := range r.menus {
		if !m.Tombstoned && m.ParentID != nil && *m.ParentID == id {
			count++
		}
	}
	return count, nil
}

func (r *memoryMenuRepo) Reorder(ctx context.Context, items []ReorderItem) error {
	for _, item := range items {
		m, ok := r.menus[item.ID]
		if !ok {
			return shared.ErrNotFound
		}
		m.SortOrder = item.SortOrder
		r.menus[item.ID] = m
	}
	return nil
}

func (r *memoryMenuRepo) RoleIDs(ctx context.Context, menuID int64) ([]int64, error) {
	return append([]int64(nil), r.grants[menuID]...), nil
}

func (r *memoryMenuRepo) SetRoleGrants(ctx context.Context, menuID int64, roleIDs []int64) error {
	r.grants[menuID] = append([]int64(nil), roleIDs...)
	return nil
}

func (r *memoryMenuRepo) CopyRoleGrants(ctx context.Context, srcID, dstID int64) error {
	r.grants[dstID] = append([]int64(nil), r.grants[srcID]...)
	return nil
}

func (r *memoryMenuRepo) VisibleForUser(ctx context.Context, userID int64) ([]Menu, error) {
	roles := make(map[int64]struct{})
	for _, id := range r.userRoles[userID] {
		roles[id] = struct{}{}
	}
	var out []Menu
	for _, m := range r.menus {
		if m.Tombstoned || !m.IsActive {
			continue
		}
		if granted := r.grants[m.ID]; len(granted) > 0 {
			held := false
			for _, roleID := range granted {
				if _, ok := roles[roleID]; ok {
					held = true
					break
				}
			}
			if !held {
				continue
			}
		}
		if m.RequiredPermissionID != nil && !r.userPerms[userID][*m.RequiredPermissionID] {
			continue
		}
		out = append(out, m)
	}
	sortMenus(out)
	return out, nil
}

func (r *memoryMenuRepo) RoleIDsOfUser(ctx context.Context, userID int64) ([]int64, error) {
	return append([]int64(nil), r.userRoles[userID]...), nil
}

func (r *memoryMenuRepo) UserIDsWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	var ids []int64
	for userID, roles := range r.userRoles {
		for _, id := range roles {
			if id == roleID {
				ids = append(ids, userID)
			}
		}
	}
	return ids, nil
}

func sortMenus(menus []Menu) {
	sort.Slice(menus, func(i, j int) bool {
		if menus[i].Level != menus[j].Level {
			return menus[i].Level < menus[j].Level
		}
		if menus[i].SortOrder != menus[j].SortOrder {
			return menus[i].SortOrder < menus[j].SortOrder
		}
		return menus[i].ID < menus[j].ID
	})
}

func sameParent(a, b *int64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func newMenuTestService() (*Service, *memoryMenuRepo, *authz.MemoryCache) {
	repo := newMemoryMenuRepo()
	cache := authz.NewMemoryCache(time.Minute)
	svc := NewService(repo, authz.NewInvalidator(cache, repo), cache, nil, slog.Default())
	return svc, repo, cache
}

func seedMenu(repo *memoryMenuRepo, name string, parentID *int64, level int, system bool) int64 {
	id, _ := repo.Create(context.Background(), Menu{
		Name:     name,
		Title:    name,
		ParentID: parentID,
		Level:    level,
		Type:     TypeLink,
		IsActive: true,
		IsSystem: system,
	})
	return id
}

func TestCreateMenuDerivesLevelAndSort(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newMenuTestService()
	actor := shared.Actor{UserID: 1}

	root, err := svc.Create(ctx, actor, CreateMenuRequest{Name: "dashboard", Title: "Dashboard"})
	require.NoError(t, err)
	require.Equal(t, 0, root.Level)
	require.Equal(t, 0, root.SortOrder)

	child, err := svc.Create(ctx, actor, CreateMenuRequest{Name: "reports", Title: "Reports", ParentID: &root.ID})
	require.NoError(t, err)
	require.Equal(t, 1, child.Level)
	require.Equal(t, 0, child.SortOrder)

	sibling, err := svc.Create(ctx, actor, CreateMenuRequest{Name: "settings", Title: "Settings", ParentID: &root.ID})
	require.NoError(t, err)
	require.Equal(t, 1, sibling.SortOrder)

	_, err = svc.Create(ctx, actor, CreateMenuRequest{Name: "dashboard", Title: "Again"})
	require.ErrorIs(t, err, shared.ErrAlreadyExists)
	require.Len(t, repo.menus, 3)
}

func TestCreateMenuDepthCap(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newMenuTestService()
	actor := shared.Actor{UserID: 1}

	root := seedMenu(repo, "a", nil, 0, false)
	mid := seedMenu(repo, "b", &root, 1, false)
	leaf := seedMenu(repo, "c", &mid, 2, false)

	_, err := svc.Create(ctx, actor, CreateMenuRequest{Name: "d", Title: "D", ParentID: &leaf})
	require.ErrorIs(t, err, shared.ErrMaxDepthExceeded)

	got, err := svc.Create(ctx, actor, CreateMenuRequest{Name: "d", Title: "D", ParentID: &mid})
	require.NoError(t, err)
	require.Equal(t, 2, got.Level)
}

func TestCreateMenuRejectsInactiveParent(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newMenuTestService()

	parent := seedMenu(repo, "a", nil, 0, false)
	m := repo.menus[parent]
	m.IsActive = false
	repo.menus[parent] = m

	_, err := svc.Create(ctx, shared.Actor{UserID: 1}, CreateMenuRequest{Name: "b", Title: "B", ParentID: &parent})
	require.ErrorIs(t, err, shared.ErrInvalidHierarchy)
}

func TestUpdateMenuReparent(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newMenuTestService()
	actor := shared.Actor{UserID: 1}

	root := seedMenu(repo, "a", nil, 0, false)
	mid := seedMenu(repo, "b", &root, 1, false)
	leaf := seedMenu(repo, "c", &mid, 2, false)
	other := seedMenu(repo, "x", nil, 0, false)

	// A descendant cannot become the parent.
	_, err := svc.Update(ctx, actor, root, UpdateMenuRequest{ParentID: &leaf})
	require.ErrorIs(t, err, shared.ErrInvalidHierarchy)

	// Moving mid (with its child) under leaf-level parent overflows the cap.
	otherChild := seedMenu(repo, "y", &other, 1, false)
	otherGrand := seedMenu(repo, "z", &otherChild, 2, false)
	_ = otherGrand
	_, err = svc.Update(ctx, actor, mid, UpdateMenuRequest{ParentID: &otherChild})
	require.ErrorIs(t, err, shared.ErrMaxDepthExceeded)

	// Promoting mid to a root relabels its whole subtree.
	updated, err := svc.Update(ctx, actor, mid, UpdateMenuRequest{ClearParent: true})
	require.NoError(t, err)
	require.Equal(t, 0, updated.Level)
	require.Equal(t, 1, repo.menus[leaf].Level)

	// And moving it back under another root restores the old depths.
	updated, err = svc.Update(ctx, actor, mid, UpdateMenuRequest{ParentID: &other})
	require.NoError(t, err)
	require.Equal(t, 1, updated.Level)
	require.Equal(t, 2, repo.menus[leaf].Level)
}

func TestUpdateSystemMenuNeedsElevation(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newMenuTestService()
	id := seedMenu(repo, "admin", nil, 0, true)

	title := "Renamed"
	_, err := svc.Update(ctx, shared.Actor{UserID: 1}, id, UpdateMenuRequest{Title: &title})
	require.ErrorIs(t, err, shared.ErrAuthorizationDenied)

	updated, err := svc.Update(ctx, shared.Actor{UserID: 1, Elevated: true}, id, UpdateMenuRequest{Title: &title})
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Title)
}

func TestDeleteMenuGuards(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newMenuTestService()
	actor := shared.Actor{UserID: 1}

	system := seedMenu(repo, "admin", nil, 0, true)
	require.ErrorIs(t, svc.Delete(ctx, actor, system), shared.ErrSystemProtected)

	parent := seedMenu(repo, "a", nil, 0, false)
	seedMenu(repo, "b", &parent, 1, false)
	require.ErrorIs(t, svc.Delete(ctx, actor, parent), shared.ErrHasChildren)

	leaf := seedMenu(repo, "c", nil, 0, false)
	require.NoError(t, svc.Delete(ctx, actor, leaf))
	_, err := svc.Get(ctx, leaf)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDuplicateMenu(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newMenuTestService()
	actor := shared.Actor{UserID: 1}

	src := seedMenu(repo, "reports", nil, 0, false)
	repo.grants[src] = []int64{3, 4}

	clone, err := svc.Duplicate(ctx, actor, src)
	require.NoError(t, err)
	require.Equal(t, "reports-copy", clone.Name)
	require.Equal(t, "reports (copy)", clone.Title)
	require.False(t, clone.IsActive)
	require.False(t, clone.IsSystem)
	require.Equal(t, []int64{3, 4}, repo.grants[clone.ID])

	second, err := svc.Duplicate(ctx, actor, src)
	require.NoError(t, err)
	require.Equal(t, "reports-copy-2", second.Name)
}

func TestToggleActive(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newMenuTestService()
	id := seedMenu(repo, "reports", nil, 0, false)

	toggled, err := svc.ToggleActive(ctx, shared.Actor{UserID: 1}, id)
	require.NoError(t, err)
	require.False(t, toggled.IsActive)

	toggled, err = svc.ToggleActive(ctx, shared.Actor{UserID: 1}, id)
	require.NoError(t, err)
	require.True(t, toggled.IsActive)
}

func TestResolveVisibleForUnrestrictedDefault(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newMenuTestService()

	open := seedMenu(repo, "home", nil, 0, false)
	gated := seedMenu(repo, "finance", nil, 0, false)
	repo.grants[gated] = []int64{9}
	repo.userRoles[7] = []int64{2}

	tree, err := svc.ResolveVisibleFor(ctx, 7)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Equal(t, open, tree[0].ID)

	repo.userRoles[8] = []int64{9}
	tree, err = svc.ResolveVisibleFor(ctx, 8)
	require.NoError(t, err)
	require.Len(t, tree, 2)
}

func TestResolveVisibleForCachesUntilEpochBump(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newMenuTestService()
	seedMenu(repo, "home", nil, 0, false)

	tree, err := svc.ResolveVisibleFor(ctx, 7)
	require.NoError(t, err)
	require.Len(t, tree, 1)

	// A write that bypasses the service leaves the cached view stale.
	seedMenu(repo, "extra", nil, 0, false)
	tree, err = svc.ResolveVisibleFor(ctx, 7)
	require.NoError(t, err)
	require.Len(t, tree, 1)

	// A service-side mutation bumps the epoch and retires the view.
	_, err = svc.Create(ctx, shared.Actor{UserID: 1}, CreateMenuRequest{Name: "settings", Title: "Settings"})
	require.NoError(t, err)
	tree, err = svc.ResolveVisibleFor(ctx, 7)
	require.NoError(t, err)
	require.Len(t, tree, 3)
}

func TestResolveVisibleForDropsOrphanedChildren(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newMenuTestService()

	hidden := seedMenu(repo, "admin", nil, 0, false)
	repo.grants[hidden] = []int64{9}
	seedMenu(repo, "admin.users", &hidden, 1, false)
	seedMenu(repo, "home", nil, 0, false)

	tree, err := svc.ResolveVisibleFor(ctx, 7)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Equal(t, "home", tree[0].Name)
}
