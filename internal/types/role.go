package types

import "strings"

// Role identifies which of the two fixed room participants a caller claims
// to be. The zero value is RoleUnknown.
type Role int

const (
	RoleUnknown Role = iota
	RoleInitiator
	RoleResponder
)

// ParseRole maps an accountType string to a Role. Unrecognized values yield
// RoleUnknown.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "doctor", "initiator":
		return RoleInitiator
	case "client", "responder":
		return RoleResponder
	default:
		return RoleUnknown
	}
}

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "doctor"
	case RoleResponder:
		return "client"
	default:
		return "unknown"
	}
}
