package authz

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"
)

// PermissionSource reads effective permission names from the authoritative
// role store.
type PermissionSource interface {
	// EffectivePermissionNames returns deduplicated active permission names
	// granted to the user through any of its roles.
	EffectivePermissionNames(ctx context.Context, userID int64) ([]string, error)
	// PermissionNamesOfRole returns active permission names attached to a role.
	PermissionNamesOfRole(ctx context.Context, roleID int64) ([]string, error)
}

// MetricsSink counts cache events. Implementations must be safe for
// concurrent use.
type MetricsSink interface {
	CacheEvent(event string)
}

// Resolver answers authorization checks from the cache, recomputing lazily
// from the stores on a miss. Concurrent misses for the same key collapse to
// one recomputation.
type Resolver struct {
	source  PermissionSource
	cache   Cache
	logger  *slog.Logger
	metrics MetricsSink
	group   singleflight.Group
}

// NewResolver builds a resolver over the permission source and cache.
func NewResolver(source PermissionSource, cache Cache, logger *slog.Logger) *Resolver {
	return &Resolver{source: source, cache: cache, logger: logger}
}

// SetMetrics attaches a sink for hit/miss counters. Call before serving.
func (r *Resolver) SetMetrics(sink MetricsSink) {
	r.metrics = sink
}

func (r *Resolver) count(event string) {
	if r.metrics != nil {
		r.metrics.CacheEvent(event)
	}
}

// EffectivePermissions returns the user's resolved permission set,
// repopulating the user cache entry when absent.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	key := UserKey(userID)
	var cached []string
	ok, err := r.cache.Get(ctx, key, &cached)
	if err != nil {
		// The cache is advisory: fall through to the stores.
		r.log("authz cache get", key, err)
	}
	if ok {
		r.count("hit")
		return cached, nil
	}
	r.count("miss")

	result, err, _ := r.group.Do(key, func() (any, error) {
		perms, err := r.source.EffectivePermissionNames(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("authz: resolve user %d: %w", userID, err)
		}
		if err := r.cache.Put(ctx, key, perms); err != nil {
			r.log("authz cache put", key, err)
		}
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// RolePermissions returns the role's resolved permission set, repopulating
// the role cache entry when absent.
func (r *Resolver) RolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	key := RoleKey(roleID)
	var cached []string
	ok, err := r.cache.Get(ctx, key, &cached)
	if err != nil {
		r.log("authz cache get", key, err)
	}
	if ok {
		r.count("hit")
		return cached, nil
	}
	r.count("miss")

	result, err, _ := r.group.Do(key, func() (any, error) {
		perms, err := r.source.PermissionNamesOfRole(ctx, roleID)
		if err != nil {
			return nil, fmt.Errorf("authz: resolve role %d: %w", roleID, err)
		}
		if err := r.cache.Put(ctx, key, perms); err != nil {
			r.log("authz cache put", key, err)
		}
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// HasPermission reports whether the user's effective set contains name.
func (r *Resolver) HasPermission(ctx context.Context, userID int64, name string) (bool, error) {
	perms, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == name {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) log(msg, key string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, slog.String("key", key), slog.Any("error", err))
	}
}
