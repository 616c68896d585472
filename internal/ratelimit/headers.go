package ratelimit

import (
	"math"
	"net/http"
	"strconv"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// SetHeaders writes the rate limit headers for r. Retry-After is only set
// on denied results.
func SetHeaders(h http.Header, r Result) {
	h.Set(HeaderLimit, strconv.Itoa(r.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(r.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(int64(math.Ceil(float64(r.ResetAt.UnixMilli())/1000)), 10))
	if !r.Allowed && r.RetryAfter > 0 {
		h.Set(HeaderRetryAfter, strconv.Itoa(r.RetryAfter))
	}
}
