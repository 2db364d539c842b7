package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"  // practice owner: calendar connections, reports
	RoleStaff      = "staff"  // front desk: calls, appointments, test analysis
	RoleViewer     = "viewer" // read-only
	RoleSuperAdmin = "super_admin"
	RoleSupport    = "support" // hidden role
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleSupport }

// Readers may view calls, transcripts and appointments.
var Readers = []string{RoleOwner, RoleStaff, RoleViewer}

// Operators may act on the tenant's pipeline.
var Operators = []string{RoleOwner, RoleStaff}
