package grants

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/roles"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Handler exposes grant management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   httpx.Guard
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard httpx.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers grant routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.RequireAny(shared.PermUsersView)).Get("/users/{id}/grants", h.listGrants)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAll(shared.PermUsersGrant))
		r.Post("/users/{id}/grant", h.grant)
		r.Post("/users/{id}/revoke", h.revoke)
		r.Delete("/users/{id}/custom", h.reset)
	})
}

type grantRequest struct {
	PermissionKey string     `json:"permissionKey" validate:"required"`
	Reason        string     `json:"reason" validate:"required,max=500"`
	ExpiresAt     *time.Time `json:"expiresAt"`
}

type revokeRequest struct {
	PermissionKey string `json:"permissionKey" validate:"required"`
	Reason        string `json:"reason" validate:"required,max=500"`
}

type resetRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) listGrants(w http.ResponseWriter, r *http.Request) {
	userID, err := UserIDParam(r)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	list, err := h.service.ListGrants(r.Context(), userID)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	actor, ok := roles.RequireActor(w, r)
	if !ok {
		return
	}
	userID, err := UserIDParam(r)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	var req grantRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	g, err := h.service.Grant(r.Context(), userID, req.PermissionKey, actor, req.Reason, req.ExpiresAt)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, g)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	actor, ok := roles.RequireActor(w, r)
	if !ok {
		return
	}
	userID, err := UserIDParam(r)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	var req revokeRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if err := h.service.Revoke(r.Context(), userID, req.PermissionKey, actor, req.Reason); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	actor, ok := roles.RequireActor(w, r)
	if !ok {
		return
	}
	userID, err := UserIDParam(r)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	var req resetRequest
	if err := httpx.DecodeOptionalJSON(r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	result, err := h.service.ResetCustom(r.Context(), userID, actor, req.Reason)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// UserIDParam parses the {id} route parameter.
func UserIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.E(shared.KindValidation, "user id must be a positive integer")
	}
	return id, nil
}
