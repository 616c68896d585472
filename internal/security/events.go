package security

// EventType is the closed taxonomy of audit events. Nothing outside this set
// is ever written to or queried from the store.
type EventType string

const (
	EventAuthSuccess                 EventType = "auth_success"
	EventAuthMissing                 EventType = "auth_missing"
	EventAuthInvalidFormat           EventType = "auth_invalid_format"
	EventAuthKeyNotFound             EventType = "auth_key_not_found"
	EventAuthKeyInactive             EventType = "auth_key_inactive"
	EventAuthKeyExpired              EventType = "auth_key_expired"
	EventAuthInvalidSecret           EventType = "auth_invalid_secret"
	EventRateLimitExceeded           EventType = "rate_limit_exceeded"
	EventAuthInsufficientPermissions EventType = "auth_insufficient_permissions"
	EventAuthError                   EventType = "auth_error"
	EventSuspiciousRequest           EventType = "suspicious_request"
	EventSecurityEventsError         EventType = "security_events_error"
)

// AllEventTypes lists every accepted event type.
var AllEventTypes = []EventType{
	EventAuthSuccess,
	EventAuthMissing,
	EventAuthInvalidFormat,
	EventAuthKeyNotFound,
	EventAuthKeyInactive,
	EventAuthKeyExpired,
	EventAuthInvalidSecret,
	EventRateLimitExceeded,
	EventAuthInsufficientPermissions,
	EventAuthError,
	EventSuspiciousRequest,
	EventSecurityEventsError,
}

func (e EventType) String() string {
	return string(e)
}

// IsValid reports whether e is part of the taxonomy.
func (e EventType) IsValid() bool {
	for _, t := range AllEventTypes {
		if t == e {
			return true
		}
	}
	return false
}

// ParseEventType matches s exactly against the taxonomy.
func ParseEventType(s string) (EventType, bool) {
	t := EventType(s)
	if !t.IsValid() {
		return "", false
	}
	return t, true
}
