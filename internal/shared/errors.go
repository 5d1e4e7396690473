package shared

import "errors"

var (
	// ErrNotFound indicates the referenced entity does not exist or is tombstoned.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a unique-name collision.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidHierarchy indicates a cycle or a reparent onto a descendant.
	ErrInvalidHierarchy = errors.New("invalid hierarchy")
	// ErrMaxDepthExceeded indicates a menu mutation would exceed three levels.
	ErrMaxDepthExceeded = errors.New("max depth exceeded")
	// ErrHasDependents indicates a permission delete blocked by children or role attachments.
	ErrHasDependents = errors.New("has dependents")
	// ErrHasChildren indicates a menu delete blocked by non-deleted children.
	ErrHasChildren = errors.New("has children")
	// ErrHasUsers indicates a role delete blocked by assigned users.
	ErrHasUsers = errors.New("has users")
	// ErrSystemProtected indicates the target is a seeded system entity.
	ErrSystemProtected = errors.New("system protected")
	// ErrAuthorizationDenied indicates the actor lacks the required privilege.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrStorageFailure indicates the transaction could not commit. The whole
	// operation is retryable since nothing partially applied.
	ErrStorageFailure = errors.New("storage failure")
)
