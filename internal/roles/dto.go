package roles

// CreateRoleRequest captures a new role.
type CreateRoleRequest struct {
	Name        string  `json:"name" validate:"required,max=100"`
	DisplayName string  `json:"display_name" validate:"required,max=200"`
	Description string  `json:"description" validate:"max=500"`
	Level       int     `json:"level" validate:"gte=0"`
	IsDefault   bool    `json:"is_default"`
	Status      *string `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
}

// UpdateRoleRequest carries partial updates; nil fields are untouched.
type UpdateRoleRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,max=100"`
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,max=200"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
	Level       *int    `json:"level,omitempty" validate:"omitempty,gte=0"`
	IsDefault   *bool   `json:"is_default,omitempty"`
	Status      *string `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
}

// PermissionSetRequest names permission ids for bulk-assign and sync.
type PermissionSetRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}
