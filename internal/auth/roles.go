package auth

import "fmt"

// Role is the role claim of a token.
type Role string

const (
	RoleDevice   Role = "device"
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// humanRanks orders the roles people log in with. Device tokens are absent: they
// identify a button to its gateway and are matched only by an explicit device rule.
var humanRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// ParseRole validates a role claim.
func ParseRole(value string) (Role, error) {
	role := Role(value)
	if role == RoleDevice {
		return role, nil
	}
	if _, ok := humanRanks[role]; ok {
		return role, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, value)
}

// Human reports whether the role belongs to a person rather than a button.
func (r Role) Human() bool {
	_, ok := humanRanks[r]
	return ok
}

// Satisfies reports whether r meets required. Human roles are ranked; a device
// requirement is met only by a device token and a device token meets nothing else.
func (r Role) Satisfies(required Role) bool {
	if required == RoleDevice || r == RoleDevice {
		return r == required
	}
	have, ok := humanRanks[r]
	if !ok {
		return false
	}
	need, ok := humanRanks[required]
	return ok && have >= need
}
