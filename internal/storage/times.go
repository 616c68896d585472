package storage

import (
	"time"

	"agentprobe_api/internal/models"
)

// Drivers hand timestamps back in the process location. Everything read from
// the store is reported in UTC so values round-trip unchanged.

func utc(t *time.Time) {
	if t != nil && !t.IsZero() {
		*t = t.UTC()
	}
}

func utcKey(k *models.APIKey) {
	utc(&k.CreatedAt)
	utc(k.LastUsedAt)
	utc(k.ExpiresAt)
}

func utcWindow(w *models.RateLimitWindow) {
	utc(&w.WindowStart)
	utc(&w.LastRequest)
}

func utcResult(r *models.Result) {
	utc(&r.Timestamp)
	utc(&r.CreatedAt)
}

func utcEvent(e *models.SecurityEvent) {
	utc(&e.Timestamp)
}
