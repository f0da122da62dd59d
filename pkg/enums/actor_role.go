package enums

import "fmt"

// ActorRole is the permission role carried by a bearer token.
type ActorRole string

const (
	// ActorRoleService is an upstream system: order intake, refunds, gateway.
	ActorRoleService   ActorRole = "service"
	ActorRoleAdmin     ActorRole = "admin"
	ActorRoleReporting ActorRole = "reporting"
)

var validActorRoles = []ActorRole{
	ActorRoleService,
	ActorRoleAdmin,
	ActorRoleReporting,
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

// ParseActorRole converts raw input into a token role.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
