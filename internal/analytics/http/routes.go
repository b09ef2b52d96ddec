package analytichttp

import (
	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// MountRoutes registers analytics endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.With(h.guard.RequireAny(shared.PermAnalyticsView)).Get("/analytics/role-distribution", h.handleRoleDistribution)
}
