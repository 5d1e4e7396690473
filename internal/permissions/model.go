package permissions

import "time"

// Status enumerates permission lifecycle states.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Permission is an atomic capability node in the permission tree. The tree
// nests permissions for UI grouping only; it is independent of roles.
type Permission struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name"`
	Module      string            `json:"module"`
	Action      string            `json:"action"`
	Resource    *string           `json:"resource,omitempty"`
	Group       *string           `json:"group,omitempty"`
	SortOrder   int               `json:"sort_order"`
	IsSystem    bool              `json:"is_system"`
	Status      Status            `json:"status"`
	Conditions  map[string]string `json:"conditions,omitempty"`
	ParentID    *int64            `json:"parent_id,omitempty"`
	Tombstoned  bool              `json:"-"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// TreeNode is a permission with its nested children, for UI consumption.
type TreeNode struct {
	Permission
	Children []*TreeNode `json:"children,omitempty"`
}

// ModuleGroup collects the root nodes of one module.
type ModuleGroup struct {
	Module      string      `json:"module"`
	Permissions []*TreeNode `json:"permissions"`
}
