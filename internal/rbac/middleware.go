package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-access/internal/permissions"
	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/roles"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// DefaultUserHeader carries the authenticated user id set by the proxy.
const DefaultUserHeader = "X-User-ID"

// Middleware wires actor identification and permission guards for HTTP handlers.
type Middleware struct {
	resolver *Resolver
	header   string
	logger   *slog.Logger
}

// NewMiddleware builds the middleware reading the actor id from header.
func NewMiddleware(resolver *Resolver, header string, logger *slog.Logger) *Middleware {
	if strings.TrimSpace(header) == "" {
		header = DefaultUserHeader
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{resolver: resolver, header: header, logger: logger}
}

// Authenticate resolves the actor named by the user header. Missing, unknown
// and inactive users are rejected with 401.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(m.header))
		if raw == "" {
			unauthorized(w, "authentication required")
			return
		}
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			unauthorized(w, "invalid user id")
			return
		}
		u, err := m.resolver.users.GetUser(r.Context(), userID)
		if shared.IsKind(err, shared.KindNotFound) {
			unauthorized(w, "unknown user")
			return
		}
		if err != nil {
			httpx.Fail(w, r, m.logger, err)
			return
		}
		if !u.IsActive {
			unauthorized(w, "account is inactive")
			return
		}
		actor, err := m.resolver.actorFor(r.Context(), u)
		if err != nil {
			httpx.Fail(w, r, m.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(roles.ContextWithActor(r.Context(), actor)))
	})
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m *Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require(perms, AuthorizeAny)
}

// RequireAll ensures the current user has all required permissions.
func (m *Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require(perms, Authorize)
}

func (m *Middleware) require(perms []string, check func(permissions.Set, ...string) bool) func(http.Handler) http.Handler {
	required := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := roles.RequireActor(w, r)
			if !ok {
				return
			}
			granted, err := m.resolver.Resolve(r.Context(), actor.UserID)
			if err != nil {
				httpx.Fail(w, r, m.logger, err)
				return
			}
			if !check(granted, required...) {
				httpx.RespondError(w, shared.E(shared.KindAuthorization, "missing permission: %s", strings.Join(required, ", ")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, detail string) {
	httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", detail)
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
