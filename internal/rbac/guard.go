package rbac

import "github.com/odyssey-erp/odyssey-access/internal/permissions"

// Authorize reports whether effective holds every required key. No required
// keys always authorizes.
func Authorize(effective permissions.Set, required ...string) bool {
	return effective.ContainsAll(required...)
}

// AuthorizeAny reports whether effective holds at least one required key.
func AuthorizeAny(effective permissions.Set, required ...string) bool {
	return effective.ContainsAny(required...)
}
