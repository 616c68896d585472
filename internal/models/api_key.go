package models

import "time"

// APIKey is a stored credential. HashedKey is "<saltHex>:<hashHex>"; the
// secret itself is never stored.
type APIKey struct {
	ID          int64      `db:"id"`
	KeyID       string     `db:"key_id"`
	HashedKey   string     `db:"hashed_key"`
	Name        string     `db:"name"`
	Permissions StringList `db:"permissions"`
	IsActive    bool       `db:"is_active"`
	CreatedAt   time.Time  `db:"created_at"`
	LastUsedAt  *time.Time `db:"last_used_at"`
	ExpiresAt   *time.Time `db:"expires_at"`
	RateLimit   int        `db:"rate_limit"`
	CreatedBy   *string    `db:"created_by"`
}

// IsExpired reports whether the key's expiry lies before now.
func (k *APIKey) IsExpired(now time.Time) bool {
	if k.ExpiresAt == nil {
		return false
	}
	return k.ExpiresAt.Before(now)
}

// IsUsable reports whether the key is active and not expired.
func (k *APIKey) IsUsable(now time.Time) bool {
	return k.IsActive && !k.IsExpired(now)
}

// APIKeyUpdate is a partial update. Nil fields are left unchanged.
// ClearExpiry removes the expiry and takes precedence over ExpiresAt.
type APIKeyUpdate struct {
	Name        *string
	Permissions StringList
	RateLimit   *int
	ExpiresAt   *time.Time
	ClearExpiry bool
	IsActive    *bool
}

// IsEmpty reports whether the update changes nothing.
func (u APIKeyUpdate) IsEmpty() bool {
	return u.Name == nil && u.Permissions == nil && u.RateLimit == nil &&
		u.ExpiresAt == nil && !u.ClearExpiry && u.IsActive == nil
}
