package auth

import "strings"

// Permission is a capability granted to an API key.
type Permission string

const (
	PermissionRead       Permission = "read"
	PermissionWrite      Permission = "write"
	PermissionAdmin      Permission = "admin"
	PermissionManageKeys Permission = "manage_keys"
)

// AllPermissions lists the closed set of permissions in display order.
var AllPermissions = []Permission{PermissionRead, PermissionWrite, PermissionAdmin, PermissionManageKeys}

// String returns the string representation of the permission
func (p Permission) String() string {
	return string(p)
}

// IsValid checks if the permission is part of the closed set
func (p Permission) IsValid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionAdmin, PermissionManageKeys:
		return true
	default:
		return false
	}
}

// ParsePermissions converts raw strings into permissions, rejecting unknown values.
func ParsePermissions(raw []string) ([]Permission, bool) {
	out := make([]Permission, 0, len(raw))
	for _, s := range raw {
		p := Permission(s)
		if !p.IsValid() {
			return nil, false
		}
		out = append(out, p)
	}
	return out, true
}

// PermissionSet is the set of permissions held by a key.
type PermissionSet []Permission

// NewPermissionSet builds a set from stored strings, dropping unknown entries.
func NewPermissionSet(raw []string) PermissionSet {
	set := make(PermissionSet, 0, len(raw))
	for _, s := range raw {
		if p := Permission(s); p.IsValid() {
			set = append(set, p)
		}
	}
	return set
}

// Satisfies reports whether the set grants required. Admin grants everything.
func (s PermissionSet) Satisfies(required Permission) bool {
	for _, p := range s {
		if p == PermissionAdmin || p == required {
			return true
		}
	}
	return false
}

// SatisfiesAll reports whether every required permission is granted.
func (s PermissionSet) SatisfiesAll(required ...Permission) bool {
	for _, r := range required {
		if !s.Satisfies(r) {
			return false
		}
	}
	return true
}

// Strings returns the set as plain strings.
func (s PermissionSet) Strings() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = string(p)
	}
	return out
}

// JoinPermissions renders permissions as "a, b".
func JoinPermissions(perms []Permission) string {
	parts := make([]string, len(perms))
	for i, p := range perms {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}
