// Package authz owns the derived authorization state: the role and user
// cache entries, the invalidation cascade that keeps them coherent, and the
// resolver that recomputes them from the authoritative stores on a miss.
// The cache is advisory; the stores remain the source of truth.
package authz

import (
	"context"
	"fmt"
)

// Cache is the port the assignment and menu stores invalidate through.
// Entries are deleted, never updated in place.
type Cache interface {
	// Get loads the entry under key into dest, reporting whether it was present.
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Put stores value under key, subject to the implementation's TTL.
	Put(ctx context.Context, key string, value any) error
	// Invalidate removes the given keys. Missing keys are not an error.
	Invalidate(ctx context.Context, keys ...string) error
}

// RoleKey addresses a role's resolved effective permission set.
func RoleKey(roleID int64) string {
	return fmt.Sprintf("authz:role:%d", roleID)
}

// UserKey addresses a user's resolved permission view.
func UserKey(userID int64) string {
	return fmt.Sprintf("authz:user:%d", userID)
}

// UserMenuKey addresses a user's resolved menu view at a given epoch.
// Structural menu changes bump the epoch instead of enumerating users.
func UserMenuKey(userID, epoch int64) string {
	return fmt.Sprintf("authz:menu:user:%d:e%d", userID, epoch)
}

// menuEpochKey holds the current menu view epoch.
const menuEpochKey = "authz:menu:epoch"
