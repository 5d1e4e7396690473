package permissions

// CreatePermissionRequest captures a new permission. User-created entries are
// never system permissions regardless of input.
type CreatePermissionRequest struct {
	Name        string            `json:"name" validate:"required,max=150"`
	DisplayName string            `json:"display_name" validate:"required,max=200"`
	Module      string            `json:"module" validate:"required,max=100"`
	Action      string            `json:"action" validate:"required,max=100"`
	Resource    *string           `json:"resource,omitempty" validate:"omitempty,max=150"`
	Group       *string           `json:"group,omitempty" validate:"omitempty,max=100"`
	SortOrder   int               `json:"sort_order" validate:"gte=0"`
	Status      *string           `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
	Conditions  map[string]string `json:"conditions,omitempty"`
	ParentID    *int64            `json:"parent_id,omitempty" validate:"omitempty,gt=0"`
}

// UpdatePermissionRequest carries partial updates; nil fields are untouched.
type UpdatePermissionRequest struct {
	Name        *string           `json:"name,omitempty" validate:"omitempty,max=150"`
	DisplayName *string           `json:"display_name,omitempty" validate:"omitempty,max=200"`
	Module      *string           `json:"module,omitempty" validate:"omitempty,max=100"`
	Action      *string           `json:"action,omitempty" validate:"omitempty,max=100"`
	Resource    *string           `json:"resource,omitempty"`
	Group       *string           `json:"group,omitempty"`
	SortOrder   *int              `json:"sort_order,omitempty" validate:"omitempty,gte=0"`
	Status      *string           `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
	Conditions  map[string]string `json:"conditions,omitempty"`
	ParentID    *int64            `json:"parent_id,omitempty"`
	// ClearParent promotes the permission to a root; ParentID is ignored when set.
	ClearParent bool `json:"clear_parent,omitempty"`
}
