package rbac

// Role names. Keep these stable; they are embedded in issued tokens.
const (
	RoleDispatcher = "dispatcher" // submit calls and read status
	RoleViewer     = "viewer"     // read status only
	RoleAdmin      = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// Valid reports whether role is one tokens may carry.
func Valid(role string) bool {
	switch role {
	case RoleDispatcher, RoleViewer, RoleAdmin:
		return true
	}
	return false
}
