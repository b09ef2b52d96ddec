package roles

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/users"
)

// UserCounter reports role membership for the role listing.
type UserCounter interface {
	CountByRole(ctx context.Context) (map[string]users.RoleCount, error)
}

// Handler manages role management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	counter UserCounter
	guard   httpx.Guard
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, counter UserCounter, guard httpx.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, counter: counter, guard: guard}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermRolesView))
		r.Get("/roles", h.listRoles)
		r.Get("/role/{key}", h.getRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAll(shared.PermRolesEdit))
		r.Put("/role/{key}", h.updateRole)
		r.Put("/role/{key}/categories/{category}", h.updateCategory)
	})
}

type roleSummary struct {
	Role
	PermissionCount int  `json:"permissionCount"`
	UserCount       int  `json:"userCount"`
	CanModify       bool `json:"canModify"`
}

type updateRoleRequest struct {
	Permissions []string `json:"permissions" validate:"required,dive,required"`
	Reason      string   `json:"reason" validate:"max=500"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	actor, ok := RequireActor(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListRoles(r.Context())
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	counts := map[string]users.RoleCount{}
	if h.counter != nil {
		if counts, err = h.counter.CountByRole(r.Context()); err != nil {
			httpx.Fail(w, r, h.logger, err)
			return
		}
	}
	out := make([]roleSummary, 0, len(list))
	for _, role := range list {
		out = append(out, roleSummary{
			Role:            role,
			PermissionCount: role.Permissions.Len(),
			UserCount:       counts[role.Key].Total,
			CanModify:       role.ModifiableBy(actor),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.GetRole(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := RequireActor(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	role, err := h.service.UpdateDefaultPermissions(r.Context(), chi.URLParam(r, "key"), req.Permissions, actor, req.Reason)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	actor, ok := RequireActor(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	role, err := h.service.UpdateCategoryPermissions(r.Context(),
		chi.URLParam(r, "key"), chi.URLParam(r, "category"), req.Permissions, actor, req.Reason)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

// RequireActor returns the request's actor or writes 401.
func RequireActor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return Actor{}, false
	}
	return actor, true
}
