package rbac

type Role string
type Action string

const (
	RoleAdministrator Role = "administrator"
	RoleEditor        Role = "editor"
	RoleUser          Role = "user"
)

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionAdmin Action = "admin"
)

// Can reports whether role may perform action. Every signed-in role may read
// and write questions and templates; only administrators manage users and
// read the audit log.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdministrator:
		return true
	case RoleEditor, RoleUser:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

// Valid reports whether role is one of the known global roles.
func Valid(role string) bool {
	switch Role(role) {
	case RoleAdministrator, RoleEditor, RoleUser:
		return true
	default:
		return false
	}
}

// Normalize maps unknown or empty roles to RoleUser.
func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleUser
}
