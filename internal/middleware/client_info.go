package middleware

import (
	"net"
	"net/http"
	"strings"

	"agentprobe_api/internal/security"
)

// ClientIP resolves the caller's address from proxy headers, accepting each
// only when it parses as an IP, then from the connection itself.
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); isIP(ip) {
		return ip
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if isIP(first) {
			return first
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); isIP(ip) {
		return ip
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && isIP(host) {
		return host
	}
	if isIP(r.RemoteAddr) {
		return r.RemoteAddr
	}

	return "unknown"
}

// ClientInfo describes the caller for security events
func ClientInfo(r *http.Request) security.ClientInfo {
	ua := r.UserAgent()
	if ua == "" {
		ua = "unknown"
	}
	return security.ClientInfo{
		IPAddress: ClientIP(r),
		UserAgent: ua,
		Endpoint:  r.Method + " " + r.URL.Path,
	}
}

func isIP(s string) bool {
	return s != "" && net.ParseIP(s) != nil
}
