package menus

// CreateMenuRequest captures a new menu node. Level is derived from the
// parent; SortOrder defaults to last among siblings when omitted.
type CreateMenuRequest struct {
	Name                 string  `json:"name" validate:"required,max=100"`
	Title                string  `json:"title" validate:"required,max=200"`
	ParentID             *int64  `json:"parent_id,omitempty" validate:"omitempty,gt=0"`
	SortOrder            *int    `json:"sort_order,omitempty" validate:"omitempty,gte=0"`
	URL                  *string `json:"url,omitempty" validate:"omitempty,max=500"`
	RouteName            *string `json:"route_name,omitempty" validate:"omitempty,max=200"`
	Icon                 *string `json:"icon,omitempty" validate:"omitempty,max=100"`
	Target               *string `json:"target,omitempty" validate:"omitempty,max=30"`
	Type                 *string `json:"type,omitempty" validate:"omitempty,oneof=link dropdown separator header"`
	IsExternal           bool    `json:"is_external"`
	IsActive             *bool   `json:"is_active,omitempty"`
	RequiredPermissionID *int64  `json:"required_permission_id,omitempty" validate:"omitempty,gt=0"`
}

// UpdateMenuRequest carries partial updates; nil fields are untouched.
type UpdateMenuRequest struct {
	Name                 *string `json:"name,omitempty" validate:"omitempty,max=100"`
	Title                *string `json:"title,omitempty" validate:"omitempty,max=200"`
	ParentID             *int64  `json:"parent_id,omitempty" validate:"omitempty,gt=0"`
	ClearParent          bool    `json:"clear_parent,omitempty"`
	SortOrder            *int    `json:"sort_order,omitempty" validate:"omitempty,gte=0"`
	URL                  *string `json:"url,omitempty"`
	RouteName            *string `json:"route_name,omitempty"`
	Icon                 *string `json:"icon,omitempty"`
	Target               *string `json:"target,omitempty"`
	Type                 *string `json:"type,omitempty" validate:"omitempty,oneof=link dropdown separator header"`
	IsExternal           *bool   `json:"is_external,omitempty"`
	IsActive             *bool   `json:"is_active,omitempty"`
	RequiredPermissionID *int64  `json:"required_permission_id,omitempty"`
	ClearRequiredPerm    bool    `json:"clear_required_permission,omitempty"`
}

// ReorderRequest batches sibling ordering updates.
type ReorderRequest struct {
	Items []ReorderItem `json:"items" validate:"required,min=1,dive"`
}

// RoleGrantsRequest replaces the set of roles a menu is visible to.
type RoleGrantsRequest struct {
	RoleIDs []int64 `json:"role_ids" validate:"dive,gt=0"`
}
