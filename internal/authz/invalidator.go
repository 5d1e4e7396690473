package authz

import (
	"context"
	"fmt"

	"github.com/helmsman-admin/helmsman/internal/users"
)

// Invalidator runs the cascade that keeps derived authorization views
// coherent with the stores. Callers invoke it only after their transaction
// has committed; a crash in between leaves a stale entry that the cache TTL
// bounds.
type Invalidator struct {
	cache Cache
	users users.Repository
}

// NewInvalidator wires the cascade over a cache and the user-role boundary.
func NewInvalidator(cache Cache, users users.Repository) *Invalidator {
	return &Invalidator{cache: cache, users: users}
}

// InvalidateUser drops a single user's permission and menu views.
func (inv *Invalidator) InvalidateUser(ctx context.Context, userID int64) error {
	epoch, err := inv.MenuEpoch(ctx)
	if err != nil {
		return err
	}
	return inv.cache.Invalidate(ctx, UserKey(userID), UserMenuKey(userID, epoch))
}

// InvalidateUsersOfRole drops the role entry plus the permission and menu
// views of every user currently holding the role. Missing any of the three
// would leave stale authorization decisions, so the cascade is all-or-log.
func (inv *Invalidator) InvalidateUsersOfRole(ctx context.Context, roleID int64) error {
	userIDs, err := inv.users.UserIDsWithRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("authz: enumerate users of role %d: %w", roleID, err)
	}
	epoch, err := inv.MenuEpoch(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, 2*len(userIDs)+1)
	keys = append(keys, RoleKey(roleID))
	for _, id := range userIDs {
		keys = append(keys, UserKey(id), UserMenuKey(id, epoch))
	}
	return inv.cache.Invalidate(ctx, keys...)
}

// MenuEpoch returns the current menu view epoch, initialising it on first use.
func (inv *Invalidator) MenuEpoch(ctx context.Context) (int64, error) {
	var epoch int64
	ok, err := inv.cache.Get(ctx, menuEpochKey, &epoch)
	if err != nil {
		return 0, err
	}
	if !ok || epoch <= 0 {
		epoch = 1
		if err := inv.cache.Put(ctx, menuEpochKey, epoch); err != nil {
			return 0, err
		}
	}
	return epoch, nil
}

// BumpMenuEpoch retires every cached menu view at once. Structural menu
// changes affect all users, so enumerating them would be wasted work.
func (inv *Invalidator) BumpMenuEpoch(ctx context.Context) error {
	epoch, err := inv.MenuEpoch(ctx)
	if err != nil {
		return err
	}
	return inv.cache.Put(ctx, menuEpochKey, epoch+1)
}
