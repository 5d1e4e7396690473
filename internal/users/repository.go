// Package users is the read-only boundary to the user subsystem. The
// authorization core never mutates users; it only reads the user_role
// junction to resolve role membership and drive cache cascades.
package users

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads user-role membership.
type Repository interface {
	RoleIDsOfUser(ctx context.Context, userID int64) ([]int64, error)
	UserIDsWithRole(ctx context.Context, roleID int64) ([]int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// RoleIDsOfUser returns the ids of every role held by the user.
func (r *repository) RoleIDsOfUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id FROM user_role WHERE user_id = $1 ORDER BY role_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UserIDsWithRole returns the ids of every user currently holding the role.
func (r *repository) UserIDsWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_role WHERE role_id = $1 ORDER BY user_id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
