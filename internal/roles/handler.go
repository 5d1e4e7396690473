package roles

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helmsman-admin/helmsman/internal/authz"
	"github.com/helmsman-admin/helmsman/internal/platform/httpx"
	"github.com/helmsman-admin/helmsman/internal/shared"
)

// Handler exposes the role store and assignment engine over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	authz     authz.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw authz.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		authz:     mw,
	}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAny("roles.view"))
		r.Get("/roles", h.list)
		r.Get("/roles/{id}", h.get)
		r.Get("/roles/{id}/permissions", h.permissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireAll("roles.manage"))
		r.Post("/roles", h.create)
		r.Put("/roles/{id}", h.update)
		r.Delete("/roles/{id}", h.delete)
		r.Post("/roles/{id}/permissions/{permissionID}", h.assignPermission)
		r.Delete("/roles/{id}/permissions/{permissionID}", h.removePermission)
		r.Post("/roles/{id}/permissions:bulk", h.bulkAssign)
		r.Put("/roles/{id}/permissions", h.syncPermissions)
		r.Post("/roles/{id}/users/{userID}", h.assignUser)
		r.Delete("/roles/{id}/users/{userID}", h.removeUser)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	roleList, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roleList})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	role, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) permissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	ids, err := h.service.PermissionIDs(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permission_ids": ids})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.Create(r.Context(), shared.ActorFromContext(r.Context()), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req UpdateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.Update(r.Context(), shared.ActorFromContext(r.Context()), id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	if err := h.service.Delete(r.Context(), shared.ActorFromContext(r.Context()), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignPermission(w http.ResponseWriter, r *http.Request) {
	roleID, permissionID, err := pathPair(r, "id", "permissionID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	if err := h.service.AssignPermission(r.Context(), shared.ActorFromContext(r.Context()), roleID, permissionID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removePermission(w http.ResponseWriter, r *http.Request) {
	roleID, permissionID, err := pathPair(r, "id", "permissionID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	if err := h.service.RemovePermission(r.Context(), shared.ActorFromContext(r.Context()), roleID, permissionID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) bulkAssign(w http.ResponseWriter, r *http.Request) {
	h.permissionSetOp(w, r, h.service.BulkAssign)
}

func (h *Handler) syncPermissions(w http.ResponseWriter, r *http.Request) {
	h.permissionSetOp(w, r, h.service.SyncPermissions)
}

func (h *Handler) permissionSetOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actor shared.Actor, roleID int64, ids []int64) error) {
	id, err := pathInt64(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req PermissionSetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := op(r.Context(), shared.ActorFromContext(r.Context()), id, req.PermissionIDs); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignUser(w http.ResponseWriter, r *http.Request) {
	roleID, userID, err := pathPair(r, "id", "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	if err := h.service.AssignRole(r.Context(), shared.ActorFromContext(r.Context()), userID, roleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeUser(w http.ResponseWriter, r *http.Request) {
	roleID, userID, err := pathPair(r, "id", "userID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	if err := h.service.RemoveRole(r.Context(), shared.ActorFromContext(r.Context()), userID, roleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func pathPair(r *http.Request, first, second string) (int64, int64, error) {
	a, err := pathInt64(r, first)
	if err != nil {
		return 0, 0, err
	}
	b, err := pathInt64(r, second)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}
