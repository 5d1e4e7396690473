package menus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/helmsman-admin/helmsman/internal/audit"
	"github.com/helmsman-admin/helmsman/internal/authz"
	"github.com/helmsman-admin/helmsman/internal/hierarchy"
	"github.com/helmsman-admin/helmsman/internal/shared"
)

// Service enforces the menu tree invariants: three levels at most, an
// acyclic parent chain, sibling ordering and system-node protection. Every
// mutation commits first and retires cached menu views afterwards.
type Service struct {
	repo        Repository
	invalidator *authz.Invalidator
	cache       authz.Cache
	audit       *audit.Recorder
	logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(repo Repository, invalidator *authz.Invalidator, cache authz.Cache, recorder *audit.Recorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, invalidator: invalidator, cache: cache, audit: recorder, logger: logger}
}

// Get fetches a menu by id.
func (s *Service) Get(ctx context.Context, id int64) (*Menu, error) {
	if id <= 0 {
		return nil, shared.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// List returns all non-deleted menus ordered by (level, sort_order).
func (s *Service) List(ctx context.Context) ([]Menu, error) {
	return s.repo.List(ctx)
}

// Tree returns the full menu forest for administration, children nested.
func (s *Service) Tree(ctx context.Context) ([]*TreeNode, error) {
	menus, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return buildTree(menus, true), nil
}

// Create inserts a new menu node under an optional parent. The resulting
// level must stay within the three-level cap.
func (s *Service) Create(ctx context.Context, actor shared.Actor, req CreateMenuRequest) (*Menu, error) {
	m := Menu{
		Name:                 req.Name,
		Title:                req.Title,
		ParentID:             req.ParentID,
		URL:                  req.URL,
		RouteName:            req.RouteName,
		Icon:                 req.Icon,
		Target:               req.Target,
		Type:                 TypeLink,
		IsExternal:           req.IsExternal,
		IsActive:             true,
		IsSystem:             false,
		RequiredPermissionID: req.RequiredPermissionID,
	}
	if req.Type != nil {
		m.Type = Type(*req.Type)
	}
	if req.IsActive != nil {
		m.IsActive = *req.IsActive
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if existing, err := repo.GetByName(ctx, m.Name); err == nil && existing != nil {
			return fmt.Errorf("menus: name %q: %w", m.Name, shared.ErrAlreadyExists)
		} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if req.ParentID != nil {
			parent, err := repo.Get(ctx, *req.ParentID)
			if err != nil {
				return fmt.Errorf("menus: parent %d: %w", *req.ParentID, err)
			}
			if !parent.IsActive {
				return fmt.Errorf("menus: parent %q is inactive: %w", parent.Name, shared.ErrInvalidHierarchy)
			}
			if parent.Level >= MaxLevel {
				return fmt.Errorf("menus: parent %q is at level %d: %w", parent.Name, parent.Level, shared.ErrMaxDepthExceeded)
			}
			m.Level = parent.Level + 1
		}
		if req.SortOrder != nil {
			m.SortOrder = *req.SortOrder
		} else {
			max, err := repo.MaxSiblingSortOrder(ctx, req.ParentID)
			if err != nil {
				return err
			}
			m.SortOrder = max + 1
		}
		id, err := repo.Create(ctx, m)
		if err != nil {
			return err
		}
		m.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.retireViews(ctx)
	s.record(ctx, actor, "menu.create", m.ID, nil)
	return s.repo.Get(ctx, m.ID)
}

// Update applies a partial update. A parent change re-runs the cycle and
// depth checks inside the writing transaction and recomputes the level of
// every descendant.
func (s *Service) Update(ctx context.Context, actor shared.Actor, id int64, req UpdateMenuRequest) (*Menu, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.IsSystem && !actor.Elevated {
			return fmt.Errorf("menus: %q is a system menu: %w", current.Name, shared.ErrAuthorizationDenied)
		}

		next := *current
		if req.Name != nil {
			next.Name = *req.Name
		}
		if req.Title != nil {
			next.Title = *req.Title
		}
		if req.SortOrder != nil {
			next.SortOrder = *req.SortOrder
		}
		if req.URL != nil {
			next.URL = req.URL
		}
		if req.RouteName != nil {
			next.RouteName = req.RouteName
		}
		if req.Icon != nil {
			next.Icon = req.Icon
		}
		if req.Target != nil {
			next.Target = req.Target
		}
		if req.Type != nil {
			next.Type = Type(*req.Type)
		}
		if req.IsExternal != nil {
			next.IsExternal = *req.IsExternal
		}
		if req.IsActive != nil {
			next.IsActive = *req.IsActive
		}
		if req.ClearRequiredPerm {
			next.RequiredPermissionID = nil
		} else if req.RequiredPermissionID != nil {
			next.RequiredPermissionID = req.RequiredPermissionID
		}
		if req.ClearParent {
			next.ParentID = nil
		} else if req.ParentID != nil {
			next.ParentID = req.ParentID
		}

		if next.Name != current.Name {
			if existing, err := repo.GetByName(ctx, next.Name); err == nil && existing != nil && existing.ID != id {
				return fmt.Errorf("menus: name %q: %w", next.Name, shared.ErrAlreadyExists)
			} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
				return err
			}
		}

		if !parentChanged(current.ParentID, next.ParentID) {
			return repo.Update(ctx, next)
		}

		parents, err := repo.ParentMap(ctx)
		if err != nil {
			return err
		}
		newLevel := 0
		if next.ParentID != nil {
			parent, err := repo.Get(ctx, *next.ParentID)
			if err != nil {
				return fmt.Errorf("menus: parent %d: %w", *next.ParentID, err)
			}
			if !parent.IsActive {
				return fmt.Errorf("menus: parent %q is inactive: %w", parent.Name, shared.ErrInvalidHierarchy)
			}
			if hierarchy.WouldCycle(parents, id, *next.ParentID) {
				return fmt.Errorf("menus: parent %d is a descendant of %d: %w", *next.ParentID, id, shared.ErrInvalidHierarchy)
			}
			newLevel = parent.Level + 1
		}

		children := childIndex(parents)
		if newLevel+subtreeHeight(children, id) > MaxLevel {
			return fmt.Errorf("menus: moving %q to level %d overflows the subtree: %w", next.Name, newLevel, shared.ErrMaxDepthExceeded)
		}

		next.Level = newLevel
		if req.SortOrder == nil {
			max, err := repo.MaxSiblingSortOrder(ctx, next.ParentID)
			if err != nil {
				return err
			}
			next.SortOrder = max + 1
		}
		if err := repo.Update(ctx, next); err != nil {
			return err
		}

		// Each descendant reads its parent's already-updated level, so a
		// breadth-first sweep assigns every level exactly once.
		levels := map[int64]int{id: newLevel}
		queue := append([]int64(nil), children[id]...)
		for len(queue) > 0 {
			nodeID := queue[0]
			queue = queue[1:]
			levels[nodeID] = levels[parents[nodeID]] + 1
			queue = append(queue, children[nodeID]...)
		}
		delete(levels, id)
		return repo.SetLevels(ctx, levels)
	})
	if err != nil {
		return nil, err
	}
	s.retireViews(ctx)
	s.record(ctx, actor, "menu.update", id, nil)
	return s.repo.Get(ctx, id)
}

// Delete tombstones a menu node. System nodes and nodes with children are
// protected.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.IsSystem {
			return fmt.Errorf("menus: %q is a system menu: %w", current.Name, shared.ErrSystemProtected)
		}
		children, err := repo.CountChildren(ctx, id)
		if err != nil {
			return err
		}
		if children > 0 {
			return fmt.Errorf("menus: %q has %d children: %w", current.Name, children, shared.ErrHasChildren)
		}
		return repo.Tombstone(ctx, id)
	})
	if err != nil {
		return err
	}
	s.retireViews(ctx)
	s.record(ctx, actor, "menu.delete", id, nil)
	return nil
}

// Reorder batch-updates sibling ordering. No hierarchy change, no level
// recomputation.
func (s *Service) Reorder(ctx context.Context, actor shared.Actor, items []ReorderItem) error {
	if len(items) == 0 {
		return nil
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.Reorder(ctx, items)
	})
	if err != nil {
		return err
	}
	s.retireViews(ctx)
	s.record(ctx, actor, "menu.reorder", items[0].ID, map[string]any{"count": len(items)})
	return nil
}

// Duplicate clones a node into the same parent scope. The clone starts
// inactive, is never a system menu, and inherits the source's role grants.
func (s *Service) Duplicate(ctx context.Context, actor shared.Actor, id int64) (*Menu, error) {
	var cloneID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		src, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		name, err := cloneName(ctx, repo, src.Name)
		if err != nil {
			return err
		}
		max, err := repo.MaxSiblingSortOrder(ctx, src.ParentID)
		if err != nil {
			return err
		}
		clone := *src
		clone.ID = 0
		clone.Name = name
		clone.Title = src.Title + " (copy)"
		clone.SortOrder = max + 1
		clone.IsActive = false
		clone.IsSystem = false
		cloneID, err = repo.Create(ctx, clone)
		if err != nil {
			return err
		}
		return repo.CopyRoleGrants(ctx, id, cloneID)
	})
	if err != nil {
		return nil, err
	}
	s.retireViews(ctx)
	s.record(ctx, actor, "menu.duplicate", id, map[string]any{"clone_id": cloneID})
	return s.repo.Get(ctx, cloneID)
}

// ToggleActive flips visibility of a node.
func (s *Service) ToggleActive(ctx context.Context, actor shared.Actor, id int64) (*Menu, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.IsSystem && !actor.Elevated {
			return fmt.Errorf("menus: %q is a system menu: %w", current.Name, shared.ErrAuthorizationDenied)
		}
		next := *current
		next.IsActive = !current.IsActive
		return repo.Update(ctx, next)
	})
	if err != nil {
		return nil, err
	}
	s.retireViews(ctx)
	s.record(ctx, actor, "menu.toggle_active", id, nil)
	return s.repo.Get(ctx, id)
}

// SetRoleGrants replaces the set of roles the menu is visible to.
func (s *Service) SetRoleGrants(ctx context.Context, actor shared.Actor, menuID int64, roleIDs []int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.Get(ctx, menuID)
		if err != nil {
			return err
		}
		if current.IsSystem && !actor.Elevated {
			return fmt.Errorf("menus: %q is a system menu: %w", current.Name, shared.ErrAuthorizationDenied)
		}
		return repo.SetRoleGrants(ctx, menuID, roleIDs)
	})
	if err != nil {
		return err
	}
	s.retireViews(ctx)
	s.record(ctx, actor, "menu.set_role_grants", menuID, map[string]any{"roles": len(roleIDs)})
	return nil
}

// RoleGrants returns the role ids a menu is granted to.
func (s *Service) RoleGrants(ctx context.Context, menuID int64) ([]int64, error) {
	if _, err := s.repo.Get(ctx, menuID); err != nil {
		return nil, err
	}
	return s.repo.RoleIDs(ctx, menuID)
}

// ResolveVisibleFor returns the menu tree the user may see, reading the
// cached view when present and recomputing it from the store otherwise.
func (s *Service) ResolveVisibleFor(ctx context.Context, userID int64) ([]*TreeNode, error) {
	epoch, err := s.invalidator.MenuEpoch(ctx)
	if err != nil {
		s.logger.Error("menu epoch", slog.Any("error", err))
		epoch = 1
	}
	key := authz.UserMenuKey(userID, epoch)

	var cached []*TreeNode
	ok, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Error("menu view cache get", slog.String("key", key), slog.Any("error", err))
	}
	if ok {
		return cached, nil
	}

	visible, err := s.repo.VisibleForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	tree := buildTree(visible, false)
	if err := s.cache.Put(ctx, key, tree); err != nil {
		s.logger.Error("menu view cache put", slog.String("key", key), slog.Any("error", err))
	}
	return tree, nil
}

// retireViews bumps the menu epoch after a committed mutation. Failure is
// degraded-but-non-fatal: the store is already correct and the old views
// expire with the cache TTL.
func (s *Service) retireViews(ctx context.Context) {
	if err := s.invalidator.BumpMenuEpoch(ctx); err != nil {
		s.logger.Error("menu epoch bump", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action string, menuID int64, meta map[string]any) {
	err := s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "menu",
		EntityID: strconv.FormatInt(menuID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Error("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

// buildTree nests menus already ordered by (level, sort_order). When
// keepOrphans is false a node whose parent is absent is dropped with its
// subtree, which is what a user-facing view wants; the admin tree keeps
// orphans as extra roots instead of hiding data.
func buildTree(menus []Menu, keepOrphans bool) []*TreeNode {
	nodes := make(map[int64]*TreeNode, len(menus))
	var roots []*TreeNode
	for i := range menus {
		node := &TreeNode{Menu: menus[i]}
		if menus[i].ParentID == nil {
			nodes[menus[i].ID] = node
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*menus[i].ParentID]
		if !ok {
			if keepOrphans {
				nodes[menus[i].ID] = node
				roots = append(roots, node)
			}
			continue
		}
		nodes[menus[i].ID] = node
		parent.Children = append(parent.Children, node)
	}
	return roots
}

func childIndex(parents hierarchy.Parents) map[int64][]int64 {
	children := make(map[int64][]int64, len(parents))
	for id, parent := range parents {
		if parent != hierarchy.NoParent {
			children[parent] = append(children[parent], id)
		}
	}
	return children
}

// subtreeHeight returns the number of levels below id (0 for a leaf).
func subtreeHeight(children map[int64][]int64, id int64) int {
	height := 0
	for _, child := range children[id] {
		if h := subtreeHeight(children, child) + 1; h > height {
			height = h
		}
	}
	return height
}

func cloneName(ctx context.Context, repo Repository, base string) (string, error) {
	candidate := base + "-copy"
	for i := 2; ; i++ {
		_, err := repo.GetByName(ctx, candidate)
		if errors.Is(err, shared.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s-copy-%d", base, i)
		if i > 50 {
			return "", fmt.Errorf("menus: no free clone name for %q: %w", base, shared.ErrAlreadyExists)
		}
	}
}

func parentChanged(a, b *int64) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	return *a != *b
}
