package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/app"
)

type harness struct {
	container *app.Container
	router    http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &app.Config{
		AppEnv:              "test",
		AppRequestTimeout:   5 * time.Second,
		StoreDriver:         app.DriverMemory,
		CacheDriver:         app.DriverMemory,
		LockDriver:          app.DriverLocal,
		PermissionCacheTTL:  time.Minute,
		PermissionCacheSize: 100,
		AnalyticsCacheTTL:   time.Minute,
		AuthUserHeader:      "X-User-ID",
		RateLimitPerMinute:  10000,
	}
	ctx, cancel := context.WithCancel(context.Background())
	c, err := app.NewContainer(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		c.Close()
	})
	return &harness{container: c, router: c.Router()}
}

func (h *harness) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-User-ID", userID)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) metrics(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
