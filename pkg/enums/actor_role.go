package enums

import "fmt"

// ActorRole is the role attached to the authenticated principal by the
// external auth layer. The command dispatcher gates workflow commands on it.
type ActorRole string

const (
	ActorRoleAdmin       ActorRole = "admin"
	ActorRoleManager     ActorRole = "manager"
	ActorRoleCashier     ActorRole = "cashier"
	ActorRoleProcurement ActorRole = "procurement"
	ActorRoleSync        ActorRole = "sync"
)

var validActorRoles = []ActorRole{
	ActorRoleAdmin,
	ActorRoleManager,
	ActorRoleCashier,
	ActorRoleProcurement,
	ActorRoleSync,
}

// String implements fmt.Stringer.
func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ActorRole.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
