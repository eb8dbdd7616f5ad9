package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "member views request", role: RoleMember, action: ActionViewRequest, allow: true},
		{name: "member views history", role: RoleMember, action: ActionViewHistory, allow: true},
		{name: "requester views request", role: RoleRequester, action: ActionViewRequest, allow: true},
		{name: "requester history", role: RoleRequester, action: ActionViewHistory, allow: false},
		{name: "outsider request", role: RoleOutsider, action: ActionViewRequest, allow: false},
		{name: "outsider history", role: RoleOutsider, action: ActionViewHistory, allow: false},
		{name: "unknown role", role: Role("admin"), action: ActionViewRequest, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestFor(t *testing.T) {
	if got := For(true, false); got != RoleRequester {
		t.Fatalf("expected requester who left the group to stay requester, got %q", got)
	}
	if got := For(false, true); got != RoleMember {
		t.Fatalf("expected member, got %q", got)
	}
	if got := For(false, false); got != RoleOutsider {
		t.Fatalf("expected outsider, got %q", got)
	}
}
