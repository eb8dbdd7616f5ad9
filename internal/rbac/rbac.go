package rbac

// Role is a caller's relation to a group or to one of its change requests.
type Role string
type Action string

const (
	RoleOutsider  Role = "outsider"
	RoleRequester Role = "requester"
	RoleMember    Role = "member"
)

const (
	ActionViewRequest Action = "view_request"
	ActionViewHistory Action = "view_history"
)

// Can covers read access only. Voting, cancelling and resolving are checked
// by the workflow against the request's state.
func Can(role Role, action Action) bool {
	switch role {
	case RoleMember:
		return action == ActionViewRequest || action == ActionViewHistory
	case RoleRequester:
		return action == ActionViewRequest
	default:
		return false
	}
}

// For derives the role of a caller. A requester keeps access to their own
// request after leaving the group.
func For(isRequester, isActiveMember bool) Role {
	switch {
	case isRequester:
		return RoleRequester
	case isActiveMember:
		return RoleMember
	default:
		return RoleOutsider
	}
}
