package analytichttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/analytics"
	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
)

const requestTimeout = 2 * time.Second

// AnalyticsService defines the statistics contract used by the handler.
type AnalyticsService interface {
	RoleDistribution(ctx context.Context) ([]analytics.RoleStat, error)
}

// Handler serves role distribution statistics.
type Handler struct {
	logger  *slog.Logger
	service AnalyticsService
	guard   httpx.Guard
}

// NewHandler constructs the analytics HTTP handler.
func NewHandler(logger *slog.Logger, service AnalyticsService, guard httpx.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: guard}
}

func (h *Handler) handleRoleDistribution(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	stats, err := h.service.RoleDistribution(ctx)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}
