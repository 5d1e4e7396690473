package menus

import "time"

// Type enumerates the rendering kinds a menu node can take.
type Type string

const (
	TypeLink      Type = "link"
	TypeDropdown  Type = "dropdown"
	TypeSeparator Type = "separator"
	TypeHeader    Type = "header"
)

// MaxLevel caps the menu tree at three levels (root = 0).
const MaxLevel = 2

// Menu is a navigation node whose visibility is gated by role grants.
// Level is computed from the parent chain, never supplied by callers.
type Menu struct {
	ID                   int64     `json:"id"`
	Name                 string    `json:"name"`
	Title                string    `json:"title"`
	ParentID             *int64    `json:"parent_id,omitempty"`
	Level                int       `json:"level"`
	SortOrder            int       `json:"sort_order"`
	URL                  *string   `json:"url,omitempty"`
	RouteName            *string   `json:"route_name,omitempty"`
	Icon                 *string   `json:"icon,omitempty"`
	Target               *string   `json:"target,omitempty"`
	Type                 Type      `json:"type"`
	IsExternal           bool      `json:"is_external"`
	IsActive             bool      `json:"is_active"`
	IsSystem             bool      `json:"is_system_menu"`
	RequiredPermissionID *int64    `json:"required_permission_id,omitempty"`
	Tombstoned           bool      `json:"-"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TreeNode is a menu with its nested children.
type TreeNode struct {
	Menu
	Children []*TreeNode `json:"children,omitempty"`
}

// ReorderItem assigns a new sort_order to a sibling.
type ReorderItem struct {
	ID        int64 `json:"id" validate:"required,gt=0"`
	SortOrder int   `json:"sort_order" validate:"gte=0"`
}
