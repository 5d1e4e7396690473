package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/helmsman-admin/helmsman/internal/authz"
	"github.com/helmsman-admin/helmsman/internal/roles"
	"github.com/helmsman-admin/helmsman/internal/users"
)

// RoleLister reads the role catalogue for warmup runs.
type RoleLister interface {
	List(ctx context.Context) ([]roles.Role, error)
}

// AuthzWarmupJob pre-populates the role and user permission caches so the
// first request after a deploy or cache flush does not pay the resolution
// cost.
type AuthzWarmupJob struct {
	Roles    RoleLister
	Users    users.Repository
	Resolver *authz.Resolver
	Logger   *slog.Logger
}

// NewAuthzWarmupJob wires dependencies for the warmup handler.
func NewAuthzWarmupJob(roleLister RoleLister, userRepo users.Repository, resolver *authz.Resolver, logger *slog.Logger) *AuthzWarmupJob {
	return &AuthzWarmupJob{Roles: roleLister, Users: userRepo, Resolver: resolver, Logger: logger}
}

// Handle processes authz warmup tasks.
func (j *AuthzWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Resolver == nil {
		return errors.New("authz warmup: handler not configured")
	}
	var payload AuthzWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Scope == "" {
		payload.Scope = "active"
	}

	logger := j.Logger.With(slog.String("scope", payload.Scope))
	logger.Info("starting authz warmup")
	start := time.Now()

	roleList, err := j.Roles.List(ctx)
	if err != nil {
		logger.Error("list roles", slog.Any("error", err))
		return err
	}

	warmedRoles := 0
	warmedUsers := make(map[int64]struct{})
	for _, role := range roleList {
		if payload.Scope == "active" && role.Status != roles.StatusActive {
			continue
		}
		if _, err := j.Resolver.RolePermissions(ctx, role.ID); err != nil {
			logger.Error("warm role", slog.Int64("role_id", role.ID), slog.Any("error", err))
			return err
		}
		warmedRoles++

		userIDs, err := j.Users.UserIDsWithRole(ctx, role.ID)
		if err != nil {
			logger.Error("enumerate role users", slog.Int64("role_id", role.ID), slog.Any("error", err))
			return err
		}
		for _, userID := range userIDs {
			if _, ok := warmedUsers[userID]; ok {
				continue
			}
			if _, err := j.Resolver.EffectivePermissions(ctx, userID); err != nil {
				logger.Error("warm user", slog.Int64("user_id", userID), slog.Any("error", err))
				return err
			}
			warmedUsers[userID] = struct{}{}
		}
	}

	logger.Info("completed authz warmup",
		slog.Int("roles", warmedRoles),
		slog.Int("users", len(warmedUsers)),
		slog.Duration("duration", time.Since(start)))
	return nil
}
