package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

const dateOnly = "2006-01-02"

// AuditService defines the read contract of the audit log.
type AuditService interface {
	Query(ctx context.Context, f audit.Filters, page, limit int) (audit.Page, error)
	Get(ctx context.Context, id int64) (audit.Entry, error)
	Export(ctx context.Context, f audit.Filters) ([]audit.Entry, error)
}

// Handler serves audit queries and exports.
type Handler struct {
	logger      *slog.Logger
	service     AuditService
	guard       httpx.Guard
	exportLimit int
}

// NewHandler builds the audit HTTP handler.
func NewHandler(logger *slog.Logger, service AuditService, guard httpx.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: guard, exportLimit: defaultExportLimit}
}

type entryView struct {
	audit.Entry
	Diff *audit.Diff `json:"diff,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	page, err := intParam(r, "page")
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	result, err := h.service.Query(r.Context(), filters, page, limit)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, r, h.logger, shared.E(shared.KindValidation, "audit id must be a positive integer"))
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	view := entryView{Entry: entry}
	if audit.HasSetSnapshots(entry) {
		diff, err := audit.RoleDiff(entry)
		if err != nil {
			httpx.Fail(w, r, h.logger, err)
			return
		}
		view.Diff = &diff
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	entries, err := h.service.Export(r.Context(), filters)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-log.csv\"")
	if err := audit.WriteCSV(w, entries); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	var f audit.Filters
	var err error
	if f.ActionType, err = audit.ParseActionType(q.Get("actionType")); err != nil {
		return audit.Filters{}, err
	}
	if f.TargetType, err = audit.ParseTargetType(q.Get("targetType")); err != nil {
		return audit.Filters{}, err
	}
	f.TargetID = strings.TrimSpace(q.Get("targetId"))
	if v := strings.TrimSpace(q.Get("performedBy")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return audit.Filters{}, shared.E(shared.KindValidation, "performedBy must be a user id")
		}
		f.PerformedBy = &id
	}
	if f.StartDate, err = parseDate(q.Get("startDate"), "startDate", false); err != nil {
		return audit.Filters{}, err
	}
	if f.EndDate, err = parseDate(q.Get("endDate"), "endDate", true); err != nil {
		return audit.Filters{}, err
	}
	return f, nil
}

// parseDate accepts RFC 3339 or a bare date. A bare end date covers the whole day.
func parseDate(raw, field string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(dateOnly, raw)
	if err != nil {
		return nil, shared.E(shared.KindValidation, "%s must be RFC 3339 or YYYY-MM-DD", field)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func intParam(r *http.Request, name string) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, shared.E(shared.KindValidation, "%s must be a positive integer", name)
	}
	return n, nil
}
