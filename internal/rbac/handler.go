package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-access/internal/grants"
	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/roles"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Handler exposes effective permission lookups and cache control.
type Handler struct {
	logger   *slog.Logger
	resolver *Resolver
	guard    httpx.Guard
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, resolver *Resolver, guard httpx.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, resolver: resolver, guard: guard}
}

// MountRoutes registers permission lookup routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermUsersView))
		r.Get("/users/{id}", h.userPermissions)
		r.Get("/users/{id}/check", h.check)
	})
	r.With(h.guard.RequireAll(shared.PermCacheClear)).Post("/cache/clear", h.clearCache)
}

type checkResponse struct {
	Allowed     bool     `json:"allowed"`
	Mode        string   `json:"mode"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := grants.UserIDParam(r)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	detail, err := h.resolver.Detail(r.Context(), userID)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	userID, err := grants.UserIDParam(r)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	required := normalizePermissions(r.URL.Query()["permission"])
	if len(required) == 0 {
		httpx.RespondError(w, shared.E(shared.KindValidation, "at least one permission is required"))
		return
	}
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "all"
	}
	if mode != "all" && mode != "any" {
		httpx.RespondError(w, shared.E(shared.KindValidation, "mode must be all or any"))
		return
	}
	set, err := h.resolver.Resolve(r.Context(), userID)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	allowed := Authorize(set, required...)
	if mode == "any" {
		allowed = AuthorizeAny(set, required...)
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Allowed: allowed, Mode: mode, Permissions: required})
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	actor, ok := roles.RequireActor(w, r)
	if !ok {
		return
	}
	var scope ClearScope
	if err := httpx.DecodeOptionalJSON(r, &scope); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if err := httpx.Validate(scope); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if err := h.resolver.ClearCache(r.Context(), actor, scope); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}
