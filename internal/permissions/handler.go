package permissions

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Handler serves the read-only permission catalog.
type Handler struct {
	registry *Registry
	guard    httpx.Guard
}

// NewHandler builds Handler instance.
func NewHandler(registry *Registry, guard httpx.Guard) *Handler {
	return &Handler{registry: registry, guard: guard}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermPermissionsView))
		r.Get("/categories", h.listCategories)
		r.Get("/permissions", h.listPermissions)
	})
}

type permissionView struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type categoryView struct {
	CategoryName string           `json:"categoryName"`
	Permissions  []permissionView `json:"permissions"`
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]categoryView)
	for _, cat := range h.registry.ListCategories() {
		perms := make([]permissionView, 0, len(cat.Permissions))
		for _, p := range cat.Permissions {
			perms = append(perms, permissionView{Key: p.Key, Name: p.Name, Description: p.Description})
		}
		out[cat.Key] = categoryView{CategoryName: cat.Name, Permissions: perms}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.registry.ListPermissions())
}
