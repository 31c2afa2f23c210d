package rbac

type Role string
type Action string

const (
	RoleViewer     Role = "viewer"
	RoleTechnician Role = "technician"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

const (
	ActionRead  Action = "read"
	ActionEdit  Action = "edit"
	ActionPool  Action = "pool"
	ActionSave  Action = "save"
	ActionAdmin Action = "admin"
)

// Can reports whether role may perform action. Technicians edit and pool
// locally; only supervisors push to the sample database.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleSupervisor:
		return action == ActionRead || action == ActionEdit || action == ActionPool || action == ActionSave
	case RoleTechnician:
		return action == ActionRead || action == ActionEdit || action == ActionPool
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleTechnician, RoleSupervisor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
