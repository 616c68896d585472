package middleware

import (
	"net/http"
	"regexp"

	"agentprobe_api/internal/security"
	"agentprobe_api/internal/utils"
)

var suspiciousPattern = regexp.MustCompile(`(?i)sqlmap|burp|nikto|nessus|/\.\.|<script|union.*select|drop.*table`)

// IPAllower decides whether an address may make another request
type IPAllower interface {
	Allow(ip string) bool
}

// IsSuspicious reports whether the user agent or path matches a known attack pattern
func IsSuspicious(r *http.Request) bool {
	return suspiciousPattern.MatchString(r.UserAgent()) || suspiciousPattern.MatchString(r.URL.Path)
}

// RequestGuard rejects scanner traffic and throttles by client IP before any
// key lookup happens.
func RequestGuard(limiter IPAllower, events EventRecorder) func(http.Handler) http.Handler {
	logger := utils.NewLogger("request-guard")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientInfo(r)

			if IsSuspicious(r) {
				logger.Warn("Suspicious request blocked", "ip", client.IPAddress, "endpoint", client.Endpoint)
				events.Record(r.Context(), security.EventSuspiciousRequest, "", client, map[string]interface{}{
					"reason": "suspicious_patterns",
				})
				utils.RespondWithErrorCode(w, r, http.StatusForbidden, "Forbidden", "Request blocked", "SUSPICIOUS_REQUEST")
				return
			}

			if limiter != nil && !limiter.Allow(client.IPAddress) {
				utils.RespondWithErrorCode(w, r, http.StatusTooManyRequests, "Too many requests",
					"Too many requests from this IP address", "IP_RATE_LIMIT")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
