package shared

// Administrative permissions guarding the authorization console itself.
const (
	PermUsersView  = "users.view"
	PermUsersGrant = "users.grant"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView = "permissions.view"
	PermAuditView       = "audit.view"
	PermAnalyticsView   = "analytics.view"
	PermCacheClear      = "cache.clear"
)

// CoreScopes lists all permissions related to the administration console.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersGrant,
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermAuditView,
		PermAnalyticsView,
		PermCacheClear,
	}
}
