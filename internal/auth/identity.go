package auth

// Identity is attached to a request once the gate has admitted it.
// Anonymous requests passing optional authentication carry Authenticated=false.
type Identity struct {
	KeyID         string        `json:"keyId"`
	Permissions   PermissionSet `json:"permissions"`
	RateLimit     int           `json:"rateLimit"`
	Authenticated bool          `json:"authenticated"`
}

// Anonymous is the identity of an unauthenticated caller.
func Anonymous() *Identity {
	return &Identity{Permissions: PermissionSet{}}
}

// Can reports whether the identity holds the permission.
func (i *Identity) Can(p Permission) bool {
	return i != nil && i.Authenticated && i.Permissions.Satisfies(p)
}
