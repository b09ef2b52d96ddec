package httpx

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Guard gates routes on the caller's effective permissions.
type Guard interface {
	RequireAny(perms ...string) func(http.Handler) http.Handler
	RequireAll(perms ...string) func(http.Handler) http.Handler
}

// AllowAll is a Guard that lets every request through.
type AllowAll struct{}

// RequireAny implements Guard.
func (AllowAll) RequireAny(...string) func(http.Handler) http.Handler { return passthrough }

// RequireAll implements Guard.
func (AllowAll) RequireAll(...string) func(http.Handler) http.Handler { return passthrough }

func passthrough(next http.Handler) http.Handler { return next }

// Fail writes err as a problem response, logging it when it carries no domain kind.
func Fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if shared.KindOf(err) == "" && logger != nil {
		logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	RespondError(w, err)
}
