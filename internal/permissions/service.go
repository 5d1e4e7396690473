package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/helmsman-admin/helmsman/internal/authz"
	"github.com/helmsman-admin/helmsman/internal/hierarchy"
	"github.com/helmsman-admin/helmsman/internal/shared"
)

// Service enforces the permission tree invariants: unique names, an acyclic
// parent chain, system-entity protection and dependent-aware deletes.
type Service struct {
	repo        Repository
	invalidator *authz.Invalidator
	logger      *slog.Logger
	collator    *collate.Collator
}

// NewService builds a Service instance.
func NewService(repo Repository, invalidator *authz.Invalidator, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		invalidator: invalidator,
		logger:      logger,
		collator:    collate.New(language.Und, collate.IgnoreCase),
	}
}

// Get fetches a permission by id.
func (s *Service) Get(ctx context.Context, id int64) (*Permission, error) {
	if id <= 0 {
		return nil, shared.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// List returns all non-deleted permissions.
func (s *Service) List(ctx context.Context) ([]Permission, error) {
	return s.repo.List(ctx)
}

// Create inserts a new permission. User-created entries are never system
// permissions. The cycle check is trivially false for a brand-new node but
// runs anyway to cover copy/import flows that supply a parent chain.
func (s *Service) Create(ctx context.Context, actor shared.Actor, req CreatePermissionRequest) (*Permission, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errors.New("permissions: name required")
	}

	status := StatusActive
	if req.Status != nil {
		status = Status(*req.Status)
	}
	p := Permission{
		Name:        name,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Module:      strings.TrimSpace(req.Module),
		Action:      strings.TrimSpace(req.Action),
		Resource:    req.Resource,
		Group:       req.Group,
		SortOrder:   req.SortOrder,
		IsSystem:    false,
		Status:      status,
		Conditions:  req.Conditions,
		ParentID:    req.ParentID,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if existing, err := repo.GetByName(ctx, name); err == nil && existing != nil {
			return fmt.Errorf("permissions: name %q: %w", name, shared.ErrAlreadyExists)
		} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if req.ParentID != nil {
			if _, err := repo.Get(ctx, *req.ParentID); err != nil {
				return fmt.Errorf("permissions: parent %d: %w", *req.ParentID, err)
			}
			parents, err := repo.ParentMap(ctx)
			if err != nil {
				return err
			}
			if hierarchy.WouldCycle(parents, 0, *req.ParentID) {
				return fmt.Errorf("permissions: parent %d: %w", *req.ParentID, shared.ErrInvalidHierarchy)
			}
		}
		id, err := repo.Create(ctx, p)
		if err != nil {
			return err
		}
		p.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, p.ID)
}

// Update applies a partial update. System permissions require an elevated
// actor; a parent change re-runs the cycle check inside the same transaction
// that performs the write.
func (s *Service) Update(ctx context.Context, actor shared.Actor, id int64, req UpdatePermissionRequest) (*Permission, error) {
	var (
		updated       *Permission
		namesChanged  bool
		attachedRoles []int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.IsSystem && !actor.Elevated {
			return fmt.Errorf("permissions: %q is a system permission: %w", current.Name, shared.ErrAuthorizationDenied)
		}

		next := *current
		if req.Name != nil {
			next.Name = strings.TrimSpace(*req.Name)
		}
		if req.DisplayName != nil {
			next.DisplayName = strings.TrimSpace(*req.DisplayName)
		}
		if req.Module != nil {
			next.Module = strings.TrimSpace(*req.Module)
		}
		if req.Action != nil {
			next.Action = strings.TrimSpace(*req.Action)
		}
		if req.Resource != nil {
			next.Resource = req.Resource
		}
		if req.Group != nil {
			next.Group = req.Group
		}
		if req.SortOrder != nil {
			next.SortOrder = *req.SortOrder
		}
		if req.Status != nil {
			next.Status = Status(*req.Status)
		}
		if req.Conditions != nil {
			next.Conditions = req.Conditions
		}
		if req.ClearParent {
			next.ParentID = nil
		} else if req.ParentID != nil {
			next.ParentID = req.ParentID
		}

		if next.Name != current.Name {
			if existing, err := repo.GetByName(ctx, next.Name); err == nil && existing != nil && existing.ID != id {
				return fmt.Errorf("permissions: name %q: %w", next.Name, shared.ErrAlreadyExists)
			} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
				return err
			}
		}

		if parentChanged(current.ParentID, next.ParentID) && next.ParentID != nil {
			if _, err := repo.Get(ctx, *next.ParentID); err != nil {
				return fmt.Errorf("permissions: parent %d: %w", *next.ParentID, err)
			}
			parents, err := repo.ParentMap(ctx)
			if err != nil {
				return err
			}
			if hierarchy.WouldCycle(parents, id, *next.ParentID) {
				return fmt.Errorf("permissions: parent %d is a descendant of %d: %w", *next.ParentID, id, shared.ErrInvalidHierarchy)
			}
		}

		namesChanged = next.Name != current.Name || next.Status != current.Status
		if namesChanged {
			attachedRoles, err = repo.RoleIDsAttached(ctx, id)
			if err != nil {
				return err
			}
		}
		if err := repo.Update(ctx, next); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	// A rename or status flip changes the resolved permission set of every
	// role holding this permission, so the full cascade runs post-commit.
	if namesChanged {
		for _, roleID := range attachedRoles {
			if err := s.invalidator.InvalidateUsersOfRole(ctx, roleID); err != nil {
				s.logger.Error("permission update cache cascade", slog.Int64("role_id", roleID), slog.Any("error", err))
			}
		}
	}
	return updated, nil
}

// Delete tombstones a permission. It refuses system permissions for
// non-elevated actors and anything with children or role attachments.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.IsSystem && !actor.Elevated {
			return fmt.Errorf("permissions: %q is a system permission: %w", current.Name, shared.ErrSystemProtected)
		}
		children, err := repo.CountChildren(ctx, id)
		if err != nil {
			return err
		}
		if children > 0 {
			return fmt.Errorf("permissions: %q has %d children: %w", current.Name, children, shared.ErrHasDependents)
		}
		attached, err := repo.CountRoleAttachments(ctx, id)
		if err != nil {
			return err
		}
		if attached > 0 {
			return fmt.Errorf("permissions: %q attached to %d roles: %w", current.Name, attached, shared.ErrHasDependents)
		}
		return repo.Tombstone(ctx, id)
	})
}

// ResolveTree returns permissions grouped by module with children nested,
// ordered by (module, group, sort_order, display_name). Pure read.
func (s *Service) ResolveTree(ctx context.Context) ([]ModuleGroup, error) {
	perms, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	nodes := make(map[int64]*TreeNode, len(perms))
	for i := range perms {
		nodes[perms[i].ID] = &TreeNode{Permission: perms[i]}
	}
	byModule := make(map[string][]*TreeNode)
	for _, node := range nodes {
		if node.ParentID != nil {
			if parent, ok := nodes[*node.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		byModule[node.Module] = append(byModule[node.Module], node)
	}

	for _, node := range nodes {
		s.sortSiblings(node.Children)
	}

	modules := make([]string, 0, len(byModule))
	for module := range byModule {
		modules = append(modules, module)
	}
	sort.Slice(modules, func(i, j int) bool {
		return s.collator.CompareString(modules[i], modules[j]) < 0
	})

	groups := make([]ModuleGroup, 0, len(modules))
	for _, module := range modules {
		roots := byModule[module]
		s.sortSiblings(roots)
		groups = append(groups, ModuleGroup{Module: module, Permissions: roots})
	}
	return groups, nil
}

func (s *Service) sortSiblings(nodes []*TreeNode) {
	sort.Slice(nodes, func(i, j int) bool {
		gi, gj := derefGroup(nodes[i].Group), derefGroup(nodes[j].Group)
		if gi != gj {
			return s.collator.CompareString(gi, gj) < 0
		}
		if nodes[i].SortOrder != nodes[j].SortOrder {
			return nodes[i].SortOrder < nodes[j].SortOrder
		}
		return s.collator.CompareString(nodes[i].DisplayName, nodes[j].DisplayName) < 0
	})
}

func derefGroup(g *string) string {
	if g == nil {
		return ""
	}
	return *g
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
