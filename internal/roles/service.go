package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/helmsman-admin/helmsman/internal/audit"
	"github.com/helmsman-admin/helmsman/internal/authz"
	"github.com/helmsman-admin/helmsman/internal/shared"
)

// Service is the role store and assignment engine. Every mutation runs in a
// single transaction; the cache cascade is issued only after commit, and its
// failure is logged rather than surfaced since the store is already correct.
type Service struct {
	repo        Repository
	invalidator *authz.Invalidator
	audit       *audit.Recorder
	logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(repo Repository, invalidator *authz.Invalidator, recorder *audit.Recorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, invalidator: invalidator, audit: recorder, logger: logger}
}

// List returns all roles ordered by level then name.
func (s *Service) List(ctx context.Context) ([]Role, error) {
	return s.repo.List(ctx)
}

// Get fetches a role by id.
func (s *Service) Get(ctx context.Context, id int64) (*Role, error) {
	if id <= 0 {
		return nil, shared.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// PermissionIDs returns the role's directly assigned permission ids.
func (s *Service) PermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	if _, err := s.repo.Get(ctx, roleID); err != nil {
		return nil, err
	}
	return s.repo.PermissionIDs(ctx, roleID)
}

// Create inserts a new role. User-created roles are never system roles.
func (s *Service) Create(ctx context.Context, actor shared.Actor, req CreateRoleRequest) (*Role, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errors.New("roles: name required")
	}
	status := StatusActive
	if req.Status != nil {
		status = Status(*req.Status)
	}
	role := Role{
		Name:        name,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Description: strings.TrimSpace(req.Description),
		Level:       req.Level,
		IsSystem:    false,
		IsDefault:   req.IsDefault,
		Status:      status,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if existing, err := repo.GetByName(ctx, name); err == nil && existing != nil {
			return fmt.Errorf("roles: name %q: %w", name, shared.ErrAlreadyExists)
		} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		id, err := repo.Create(ctx, role)
		if err != nil {
			return err
		}
		role.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, "role.create", role.ID, nil)
	return s.repo.Get(ctx, role.ID)
}

// Update applies a partial update. System roles require an elevated actor.
func (s *Service) Update(ctx context.Context, actor shared.Actor, id int64, req UpdateRoleRequest) (*Role, error) {
	var statusChanged bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.IsSystem && !actor.Elevated {
			return fmt.Errorf("roles: %q is a system role: %w", current.Name, shared.ErrAuthorizationDenied)
		}

		next := *current
		if req.Name != nil {
			next.Name = strings.TrimSpace(*req.Name)
		}
		if req.DisplayName != nil {
			next.DisplayName = strings.TrimSpace(*req.DisplayName)
		}
		if req.Description != nil {
			next.Description = strings.TrimSpace(*req.Description)
		}
		if req.Level != nil {
			next.Level = *req.Level
		}
		if req.IsDefault != nil {
			next.IsDefault = *req.IsDefault
		}
		if req.Status != nil {
			next.Status = Status(*req.Status)
		}

		if next.Name != current.Name {
			if existing, err := repo.GetByName(ctx, next.Name); err == nil && existing != nil && existing.ID != id {
				return fmt.Errorf("roles: name %q: %w", next.Name, shared.ErrAlreadyExists)
			} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
				return err
			}
		}

		statusChanged = next.Status != current.Status
		return repo.Update(ctx, next)
	})
	if err != nil {
		return nil, err
	}
	// Deactivating a role removes its grants from every holder's view.
	if statusChanged {
		s.cascade(ctx, id)
	}
	s.record(ctx, actor, "role.update", id, nil)
	return s.repo.Get(ctx, id)
}

// Delete tombstones a role. It refuses system roles for non-elevated actors
// and any role still held by a user.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.IsSystem && !actor.Elevated {
			return fmt.Errorf("roles: %q is a system role: %w", current.Name, shared.ErrSystemProtected)
		}
		holders, err := repo.CountUsers(ctx, id)
		if err != nil {
			return err
		}
		if holders > 0 {
			return fmt.Errorf("roles: %q held by %d users: %w", current.Name, holders, shared.ErrHasUsers)
		}
		return repo.Tombstone(ctx, id)
	})
	if err != nil {
		return err
	}
	s.cascade(ctx, id)
	s.record(ctx, actor, "role.delete", id, nil)
	return nil
}

// AssignPermission adds one permission to the role's set. Idempotent: a
// present permission is a no-op and triggers no cascade.
func (s *Service) AssignPermission(ctx context.Context, actor shared.Actor, roleID, permissionID int64) error {
	var attached int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := s.guardRole(ctx, repo, actor, roleID); err != nil {
			return err
		}
		if err := s.requireLivePermissions(ctx, repo, []int64{permissionID}); err != nil {
			return err
		}
		var err error
		attached, err = repo.AttachPermissions(ctx, roleID, []int64{permissionID})
		return err
	})
	if err != nil {
		return err
	}
	if attached > 0 {
		s.cascade(ctx, roleID)
		s.record(ctx, actor, "role.assign_permission", roleID, map[string]any{"permission_id": permissionID})
	}
	return nil
}

// RemovePermission removes one permission from the role's set. Idempotent.
func (s *Service) RemovePermission(ctx context.Context, actor shared.Actor, roleID, permissionID int64) error {
	var detached int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := s.guardRole(ctx, repo, actor, roleID); err != nil {
			return err
		}
		var err error
		detached, err = repo.DetachPermissions(ctx, roleID, []int64{permissionID})
		return err
	})
	if err != nil {
		return err
	}
	if detached > 0 {
		s.cascade(ctx, roleID)
		s.record(ctx, actor, "role.remove_permission", roleID, map[string]any{"permission_id": permissionID})
	}
	return nil
}

// BulkAssign adds the given permissions in one batch insert, cascading once
// at the end rather than per permission.
func (s *Service) BulkAssign(ctx context.Context, actor shared.Actor, roleID int64, permissionIDs []int64) error {
	ids := dedup(permissionIDs)
	var attached int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := s.guardRole(ctx, repo, actor, roleID); err != nil {
			return err
		}
		if err := s.requireLivePermissions(ctx, repo, ids); err != nil {
			return err
		}
		current, err := repo.PermissionIDs(ctx, roleID)
		if err != nil {
			return err
		}
		missing := difference(ids, current)
		attached, err = repo.AttachPermissions(ctx, roleID, missing)
		return err
	})
	if err != nil {
		return err
	}
	if attached > 0 {
		s.cascade(ctx, roleID)
		s.record(ctx, actor, "role.bulk_assign", roleID, map[string]any{"attached": attached})
	}
	return nil
}

// SyncPermissions replaces the role's permission set with exactly the given
// set. Additions and removals are computed together; an identical set is a
// no-op that triggers no cascade.
func (s *Service) SyncPermissions(ctx context.Context, actor shared.Actor, roleID int64, permissionIDs []int64) error {
	ids := dedup(permissionIDs)
	var changed int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := s.guardRole(ctx, repo, actor, roleID); err != nil {
			return err
		}
		if err := s.requireLivePermissions(ctx, repo, ids); err != nil {
			return err
		}
		current, err := repo.PermissionIDs(ctx, roleID)
		if err != nil {
			return err
		}
		adds := difference(ids, current)
		removes := difference(current, ids)
		attached, err := repo.AttachPermissions(ctx, roleID, adds)
		if err != nil {
			return err
		}
		detached, err := repo.DetachPermissions(ctx, roleID, removes)
		if err != nil {
			return err
		}
		changed = attached + detached
		return nil
	})
	if err != nil {
		return err
	}
	if changed > 0 {
		s.cascade(ctx, roleID)
		s.record(ctx, actor, "role.sync_permissions", roleID, map[string]any{"changed": changed})
	}
	return nil
}

// AssignRole grants a role to a user. Idempotent.
func (s *Service) AssignRole(ctx context.Context, actor shared.Actor, userID, roleID int64) error {
	var assigned int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := s.guardRole(ctx, repo, actor, roleID); err != nil {
			return err
		}
		var err error
		assigned, err = repo.AssignUser(ctx, userID, roleID)
		return err
	})
	if err != nil {
		return err
	}
	if assigned > 0 {
		s.invalidateUser(ctx, userID)
		s.record(ctx, actor, "role.assign_user", roleID, map[string]any{"user_id": userID})
	}
	return nil
}

// RemoveRole revokes a role from a user. Idempotent.
func (s *Service) RemoveRole(ctx context.Context, actor shared.Actor, userID, roleID int64) error {
	var removed int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := s.guardRole(ctx, repo, actor, roleID); err != nil {
			return err
		}
		var err error
		removed, err = repo.RemoveUser(ctx, userID, roleID)
		return err
	})
	if err != nil {
		return err
	}
	if removed > 0 {
		s.invalidateUser(ctx, userID)
		s.record(ctx, actor, "role.remove_user", roleID, map[string]any{"user_id": userID})
	}
	return nil
}

func (s *Service) guardRole(ctx context.Context, repo Repository, actor shared.Actor, roleID int64) error {
	role, err := repo.Get(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem && !actor.Elevated {
		return fmt.Errorf("roles: %q is a system role: %w", role.Name, shared.ErrAuthorizationDenied)
	}
	return nil
}

func (s *Service) requireLivePermissions(ctx context.Context, repo Repository, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	live, err := repo.CountLivePermissions(ctx, ids)
	if err != nil {
		return err
	}
	if live != len(ids) {
		return fmt.Errorf("roles: %d of %d permissions unknown or deleted: %w", len(ids)-live, len(ids), shared.ErrNotFound)
	}
	return nil
}

func (s *Service) cascade(ctx context.Context, roleID int64) {
	if err := s.invalidator.InvalidateUsersOfRole(ctx, roleID); err != nil {
		s.logger.Error("role cache cascade", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
}

func (s *Service) invalidateUser(ctx context.Context, userID int64) {
	if err := s.invalidator.InvalidateUser(ctx, userID); err != nil {
		s.logger.Error("user cache invalidate", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action string, roleID int64, meta map[string]any) {
	err := s.audit.Record(ctx, audit.Entry{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "role",
		EntityID: strconv.FormatInt(roleID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Error("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func dedup(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// difference returns the elements of a not present in b.
func difference(a, b []int64) []int64 {
	inB := make(map[int64]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}
	var out []int64
	for _, id := range a {
		if _, ok := inB[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
