package registry

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"agentprobe_api/internal/auth"
	"agentprobe_api/internal/utils"
)

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < 1 || n > MaxNameLength {
		return "", utils.NewValidationError("INVALID_NAME", fmt.Sprintf("Name must be between 1 and %d characters", MaxNameLength))
	}
	return name, nil
}

// validatePermissions rejects empty sets and unknown values, and drops duplicates.
func validatePermissions(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, utils.NewValidationError("INVALID_PERMISSIONS", "At least one permission is required")
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if !auth.Permission(p).IsValid() {
			return nil, utils.NewValidationError("INVALID_PERMISSIONS",
				fmt.Sprintf("Invalid permission: %s (allowed: %s)", p, auth.JoinPermissions(auth.AllPermissions)))
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func validateRateLimit(limit int) error {
	if limit < MinRateLimit || limit > MaxRateLimit {
		return utils.NewValidationError("INVALID_RATE_LIMIT",
			fmt.Sprintf("Rate limit must be between %d and %d requests per hour", MinRateLimit, MaxRateLimit))
	}
	return nil
}

func validateExpiry(expiresAt, now time.Time) error {
	if !expiresAt.After(now) {
		return utils.NewValidationError("INVALID_EXPIRATION", "Expiration date must be in the future")
	}
	return nil
}
