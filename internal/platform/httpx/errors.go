package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/helmsman-admin/helmsman/internal/shared"
)

// RespondError maps authorization-core error kinds to HTTP responses.
// Validation and hierarchy errors are deterministic and must not be retried;
// storage failures are retryable because nothing partially applied.
func RespondError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrAlreadyExists):
		Problem(w, http.StatusConflict, "Already Exists", err.Error())
	case errors.Is(err, shared.ErrInvalidHierarchy):
		Problem(w, http.StatusUnprocessableEntity, "Invalid Hierarchy", err.Error())
	case errors.Is(err, shared.ErrMaxDepthExceeded):
		Problem(w, http.StatusUnprocessableEntity, "Max Depth Exceeded", err.Error())
	case errors.Is(err, shared.ErrHasDependents),
		errors.Is(err, shared.ErrHasChildren),
		errors.Is(err, shared.ErrHasUsers):
		Problem(w, http.StatusConflict, "Delete Blocked", err.Error())
	case errors.Is(err, shared.ErrSystemProtected),
		errors.Is(err, shared.ErrAuthorizationDenied):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.As(err, &verrs):
		Problem(w, http.StatusBadRequest, "Validation Failed", verrs.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
