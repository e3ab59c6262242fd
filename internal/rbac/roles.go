package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleSubscriber = "subscriber"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
	RoleService    = "service" // internal callers (voice agent, payment webhooks)
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsKnownRole(role string) bool {
	switch role {
	case RoleSubscriber, RoleAdmin, RoleSuperAdmin, RoleService:
		return true
	default:
		return false
	}
}
