package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helmsman-admin/helmsman/internal/platform/db"
	"github.com/helmsman-admin/helmsman/internal/shared"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for roles, their
// permission sets and user assignments. Every query filters tombstoned rows
// explicitly.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Role, error)
	GetByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
	Create(ctx context.Context, role Role) (int64, error)
	Update(ctx context.Context, role Role) error
	Tombstone(ctx context.Context, id int64) error
	PermissionIDs(ctx context.Context, roleID int64) ([]int64, error)
	AttachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) (int64, error)
	DetachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) (int64, error)
	CountLivePermissions(ctx context.Context, permissionIDs []int64) (int, error)
	CountUsers(ctx context.Context, roleID int64) (int, error)
	AssignUser(ctx context.Context, userID, roleID int64) (int64, error)
	RemoveUser(ctx context.Context, userID, roleID int64) (int64, error)
	EffectivePermissionNames(ctx context.Context, userID int64) ([]string, error)
	PermissionNamesOfRole(ctx context.Context, roleID int64) ([]string, error)
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

const roleColumns = `id, name, display_name, description, level, is_system, is_default, status, tombstoned, created_at, updated_at`

func scanRole(row pgx.Row) (*Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description, &role.Level,
		&role.IsSystem, &role.IsDefault, &role.Status, &role.Tombstoned, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Role, error) {
	row := r.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1 AND NOT tombstoned`, id)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return role, err
}

func (r *repository) GetByName(ctx context.Context, name string) (*Role, error) {
	row := r.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1 AND NOT tombstoned`, name)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return role, err
}

func (r *repository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.db.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE NOT tombstoned ORDER BY level, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *role)
	}
	return result, rows.Err()
}

func (r *repository) Create(ctx context.Context, role Role) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO roles (name, display_name, description, level, is_system, is_default, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		role.Name, role.DisplayName, role.Description, role.Level, role.IsSystem, role.IsDefault, role.Status,
	).Scan(&id)
	if err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, fmt.Errorf("roles: name %q: %w", role.Name, shared.ErrAlreadyExists)
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) Update(ctx context.Context, role Role) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE roles
		SET name = $2, display_name = $3, description = $4, level = $5, is_default = $6, status = $7, updated_at = NOW()
		WHERE id = $1 AND NOT tombstoned`,
		role.ID, role.Name, role.DisplayName, role.Description, role.Level, role.IsDefault, role.Status,
	)
	if err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("roles: name %q: %w", role.Name, shared.ErrAlreadyExists)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Tombstone soft-deletes the role and clears its permission junctions so
// tombstoned roles no longer count as dependents of a permission.
func (r *repository) Tombstone(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE roles SET tombstoned = TRUE, updated_at = NOW() WHERE id = $1 AND NOT tombstoned`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	_, err = r.db.Exec(ctx, `DELETE FROM role_permission WHERE role_id = $1`, id)
	return err
}

func (r *repository) PermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT permission_id FROM role_permission WHERE role_id = $1 ORDER BY permission_id`, roleID)
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

func (r *repository) AttachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) (int64, error) {
	if len(permissionIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO role_permission (role_id, permission_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING`, roleID, permissionIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repository) DetachPermissions(ctx context.Context, roleID int64, permissionIDs []int64) (int64, error) {
	if len(permissionIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM role_permission WHERE role_id = $1 AND permission_id = ANY($2)`, roleID, permissionIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repository) CountLivePermissions(ctx context.Context, permissionIDs []int64) (int, error) {
	if len(permissionIDs) == 0 {
		return 0, nil
	}
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM permissions WHERE id = ANY($1) AND NOT tombstoned`, permissionIDs).Scan(&count)
	return count, err
}

func (r *repository) CountUsers(ctx context.Context, roleID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM user_role WHERE role_id = $1`, roleID).Scan(&count)
	return count, err
}

func (r *repository) AssignUser(ctx context.Context, userID, roleID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `INSERT INTO user_role (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repository) RemoveUser(ctx context.Context, userID, roleID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_role WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repository) EffectivePermissionNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT p.name
		FROM permissions p
		JOIN role_permission rp ON rp.permission_id = p.id
		JOIN roles ro ON ro.id = rp.role_id AND NOT ro.tombstoned AND ro.status = 'active'
		JOIN user_role ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1 AND NOT p.tombstoned AND p.status = 'active'
		ORDER BY p.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *repository) PermissionNamesOfRole(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.name
		FROM permissions p
		JOIN role_permission rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1 AND NOT p.tombstoned AND p.status = 'active'
		ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
