package menus

import (
	"context"
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

// Repository provides PostgreSQL backed persistence for the menu tree and
// its role-visibility grants. Every query filters tombstoned rows explicitly.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Menu, error)
	GetByName(ctx context.Context, name string) (*Menu, error)
	List(ctx context.Context) ([]Menu, error)
	ParentMap(ctx context.Context) (hierarchy.Parents, error)
	Create(ctx context.Context, m Menu) (int64, error)
	Update(ctx context.Context, m Menu) error
	SetLevels(ctx context.Context, levels map[int64]int) error
	Tombstone(ctx context.Context, id int64) error
	MaxSiblingSortOrder(ctx context.Context, parentID *int64) (int, error)
	CountChildren(ctx context.Context, id int64) (int, error)
	Reorder(ctx context.Context, items []ReorderItem) error
	RoleIDs(ctx context.Context, menuID int64) ([]int64, error)
	SetRoleGrants(ctx context.Context, menuID int64, roleIDs []int64) error
	CopyRoleGrants(ctx context.Context, srcID, dstID int64) error
	VisibleForUser(ctx context.Context, userID int64) ([]Menu, error)
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

const menuColumns = `id, name, title, parent_id, level, sort_order, url, route_name, icon, target, type, is_external, is_active, is_system_menu, required_permission_id, tombstoned, created_at, updated_at`

func scanMenu(row pgx.Row) (*Menu, error) {
	var m Menu
	err := row.Scan(&m.ID, &m.Name, &m.Title, &m.ParentID, &m.Level, &m.SortOrder, &m.URL, &m.RouteName,
		&m.Icon, &m.Target, &m.Type, &m.IsExternal, &m.IsActive, &m.IsSystem, &m.RequiredPermissionID,
		&m.Tombstoned, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Menu, error) {
	row := r.db.QueryRow(ctx, `SELECT `+menuColumns+` FROM menus WHERE id = $1 AND NOT tombstoned`, id)
	m, err := scanMenu(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return m, err
}

func (r *repository) GetByName(ctx context.Context, name string) (*Menu, error) {
	row := r.db.QueryRow(ctx, `SELECT `+menuColumns+` FROM menus WHERE name = $1 AND NOT tombstoned`, name)
	m, err := scanMenu(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return m, err
}

func (r *repository) List(ctx context.Context) ([]Menu, error) {
	rows, err := r.db.Query(ctx, `SELECT `+menuColumns+` FROM menus WHERE NOT tombstoned ORDER BY level, sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var menus []Menu
	for rows.Next() {
		m, err := scanMenu(rows)
		if err != nil {
			return nil, err
		}
		menus = append(menus, *m)
	}
	return menus, rows.Err()
}

func (r *repository) ParentMap(ctx context.Context) (hierarchy.Parents, error) {
	rows, err := r.db.Query(ctx, `SELECT id, COALESCE(parent_id, 0) FROM menus WHERE NOT tombstoned`)
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

func (r *repository) Create(ctx context.Context, m Menu) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO menus (name, title, parent_id, level, sort_order, url, route_name, icon, target, type, is_external, is_active, is_system_menu, required_permission_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		m.Name, m.Title, m.ParentID, m.Level, m.SortOrder, m.URL, m.RouteName, m.Icon, m.Target,
		m.Type, m.IsExternal, m.IsActive, m.IsSystem, m.RequiredPermissionID,
	).Scan(&id)
	if err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, fmt.Errorf("menus: name %q: %w", m.Name, shared.ErrAlreadyExists)
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) Update(ctx context.Context, m Menu) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE menus
		SET name = $2, title = $3, parent_id = $4, level = $5, sort_order = $6, url = $7, route_name = $8,
		    icon = $9, target = $10, type = $11, is_external = $12, is_active = $13, required_permission_id = $14,
		    updated_at = NOW()
		WHERE id = $1 AND NOT tombstoned`,
		m.ID, m.Name, m.Title, m.ParentID, m.Level, m.SortOrder, m.URL, m.RouteName, m.Icon, m.Target,
		m.Type, m.IsExternal, m.IsActive, m.RequiredPermissionID,
	)
	if err != nil {
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("menus: name %q: %w", m.Name, shared.ErrAlreadyExists)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) SetLevels(ctx context.Context, levels map[int64]int) error {
	for id, level := range levels {
		if _, err := r.db.Exec(ctx, `UPDATE menus SET level = $2, updated_at = NOW() WHERE id = $1 AND NOT tombstoned`, id, level); err != nil {
			return err
		}
	}
	return nil
}

// Tombstone soft-deletes the node and clears its role grants.
func (r *repository) Tombstone(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE menus SET tombstoned = TRUE, updated_at = NOW() WHERE id = $1 AND NOT tombstoned`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	_, err = r.db.Exec(ctx, `DELETE FROM menu_role WHERE menu_id = $1`, id)
	return err
}

func (r *repository) MaxSiblingSortOrder(ctx context.Context, parentID *int64) (int, error) {
	var max int
	var err error
	if parentID == nil {
		err = r.db.QueryRow(ctx, `SELECT COALESCE(MAX(sort_order), -1) FROM menus WHERE parent_id IS NULL AND NOT tombstoned`).Scan(&max)
	} else {
		err = r.db.QueryRow(ctx, `SELECT COALESCE(MAX(sort_order), -1) FROM menus WHERE parent_id = $1 AND NOT tombstoned`, *parentID).Scan(&max)
	}
	return max, err
}

func (r *repository) CountChildren(ctx context.Context, id int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM menus WHERE parent_id = $1 AND NOT tombstoned`, id).Scan(&count)
	return count, err
}

func (r *repository) Reorder(ctx context.Context, items []ReorderItem) error {
	for _, item := range items {
		tag, err := r.db.Exec(ctx, `UPDATE menus SET sort_order = $2, updated_at = NOW() WHERE id = $1 AND NOT tombstoned`, item.ID, item.SortOrder)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("menus: reorder %d: %w", item.ID, shared.ErrNotFound)
		}
	}
	return nil
}

func (r *repository) RoleIDs(ctx context.Context, menuID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT role_id FROM menu_role WHERE menu_id = $1 ORDER BY role_id`, menuID)
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

func (r *repository) SetRoleGrants(ctx context.Context, menuID int64, roleIDs []int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM menu_role WHERE menu_id = $1`, menuID); err != nil {
		return err
	}
	if len(roleIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO menu_role (menu_id, role_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING`, menuID, roleIDs)
	return err
}

func (r *repository) CopyRoleGrants(ctx context.Context, srcID, dstID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO menu_role (menu_id, role_id)
		SELECT $2, role_id FROM menu_role WHERE menu_id = $1
		ON CONFLICT DO NOTHING`, srcID, dstID)
	return err
}

// VisibleForUser returns the active nodes whose grant set intersects the
// user's roles, or which carry no grant at all (unrestricted default), and
// whose required permission, when set, is granted through some role.
func (r *repository) VisibleForUser(ctx context.Context, userID int64) ([]Menu, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+menuColumns+`
		FROM menus m
		WHERE NOT m.tombstoned
		  AND m.is_active
		  AND (
			NOT EXISTS (SELECT 1 FROM menu_role mr WHERE mr.menu_id = m.id)
			OR EXISTS (
				SELECT 1 FROM menu_role mr
				JOIN user_role ur ON ur.role_id = mr.role_id
				JOIN roles r ON r.id = mr.role_id AND r.status = 'active' AND NOT r.tombstoned
				WHERE mr.menu_id = m.id AND ur.user_id = $1
			)
		  )
		  AND (
			m.required_permission_id IS NULL
			OR EXISTS (
				SELECT 1 FROM user_role ur
				JOIN roles ro ON ro.id = ur.role_id AND ro.status = 'active' AND NOT ro.tombstoned
				JOIN role_permission rp ON rp.role_id = ur.role_id
				JOIN permissions p ON p.id = rp.permission_id AND NOT p.tombstoned AND p.status = 'active'
				WHERE ur.user_id = $1 AND rp.permission_id = m.required_permission_id
			)
		  )
		ORDER BY m.level, m.sort_order, m.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var menus []Menu
	for rows.Next() {
		m, err := scanMenu(rows)
		if err != nil {
			return nil, err
		}
		menus = append(menus, *m)
	}
	return menus, rows.Err()
}
