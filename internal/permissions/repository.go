package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helmsman-admin/helmsman/internal/hierarchy"
	"github.com/helmsman-admin/helmsman/internal/platform/db"
	"github.com/helmsman-admin/helmsman/internal/shared"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for permissions.
// Every query filters tombstoned rows explicitly.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Permission, error)
	GetByName(ctx context.Context, name string) (*Permission, error)
	List(ctx context.Context) ([]Permission, error)
	ParentMap(ctx context.Context) (hierarchy.Parents, error)
	Create(ctx context.Context, p Permission) (int64, error)
	Update(ctx context.Context, p Permission) error
	Tombstone(ctx context.Context, id int64) error
	CountChildren(ctx context.Context, id int64) (int, error)
	CountRoleAttachments(ctx context.Context, id int64) (int, error)
	RoleIDsAttached(ctx context.Context, id int64) ([]int64, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const permissionColumns = `id, name, display_name, module, action, resource, group_name, sort_order, is_system, status, conditions, parent_id, tombstoned, created_at, updated_at`

func scanPermission(row pgx.Row) (*Permission, error) {
	var p Permission
	var conditions []byte
	err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Module, &p.Action, &p.Resource, &p.Group,
		&p.SortOrder, &p.IsSystem, &p.Status, &conditions, &p.ParentID, &p.Tombstoned, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
			return nil, fmt.Errorf("permissions: decode conditions: %w", err)
		}
	}
	return &p, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Permission, error) {
	row := r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1 AND NOT tombstoned`, id)
	p, err := scanPermission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return p, err
}

func (r *repository) GetByName(ctx context.Context, name string) (*Permission, error) {
	row := r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1 AND NOT tombstoned`, name)
	p, err := scanPermission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return p, err
}

func (r *repository) List(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE NOT tombstoned ORDER BY module, sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, *p)
	}
	return perms, rows.Err()
}

func (r *repository) ParentMap(ctx context.Context) (hierarchy.Parents, error) {
	rows, err := r.db.Query(ctx, `SELECT id, COALESCE(parent_id, 0) FROM permissions WHERE NOT tombstoned`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	parents := make(hierarchy.Parents)
	for rows.Next() {
		var id, parent int64
		if err := rows.Scan(&id, &parent); err != nil {
			return nil, err
		}
		parents[id] = parent
	}
	return parents, rows.Err()
}

func (r *repository) Create(ctx context.Context, p Permission) (int64, error) {
	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO permissions (name, display_name, module, action, resource, group_name, sort_order, is_system, status, conditions, parent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		p.Name, p.DisplayName, p.Module, p.Action, p.Resource, p.Group, p.SortOrder, p.IsSystem, p.Status, conditions, p.ParentID,
	).Scan(&id)
	if err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, fmt.Errorf("permissions: name %q: %w", p.Name, shared.ErrAlreadyExists)
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) Update(ctx context.Context, p Permission) error {
	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE permissions
		SET name = $2, display_name = $3, module = $4, action = $5, resource = $6, group_name = $7,
		    sort_order = $8, status = $9, conditions = $10, parent_id = $11, updated_at = NOW()
		WHERE id = $1 AND NOT tombstoned`,
		p.ID, p.Name, p.DisplayName, p.Module, p.Action, p.Resource, p.Group, p.SortOrder, p.Status, conditions, p.ParentID,
	)
	if err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("permissions: name %q: %w", p.Name, shared.ErrAlreadyExists)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Tombstone(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE permissions SET tombstoned = TRUE, updated_at = NOW() WHERE id = $1 AND NOT tombstoned`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) CountChildren(ctx context.Context, id int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM permissions WHERE parent_id = $1 AND NOT tombstoned`, id).Scan(&count)
	return count, err
}

func (r *repository) CountRoleAttachments(ctx context.Context, id int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM role_permission WHERE permission_id = $1`, id).Scan(&count)
	return count, err
}

func (r *repository) RoleIDsAttached(ctx context.Context, id int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT role_id FROM role_permission WHERE permission_id = $1 ORDER BY role_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var roleID int64
		if err := rows.Scan(&roleID); err != nil {
			return nil, err
		}
		ids = append(ids, roleID)
	}
	return ids, rows.Err()
}
