package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"agentprobe_api/internal/auth"
	"agentprobe_api/internal/clock"
	"agentprobe_api/internal/models"
	"agentprobe_api/internal/ratelimit"
	"agentprobe_api/internal/security"
	"agentprobe_api/internal/storage"
	"agentprobe_api/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// IdentityKey is the context key for the admitted caller's identity
	IdentityKey ContextKey = "identity"

	DefaultRealm = "AgentProbe API"
)

// KeyStore looks up keys and records their use
type KeyStore interface {
	GetByKeyID(ctx context.Context, keyID string) (*models.APIKey, error)
	TouchLastUsed(ctx context.Context, keyID string, at time.Time) error
}

// RateChecker consumes one request from a key's quota
type RateChecker interface {
	Check(ctx context.Context, keyID string, limit int) (ratelimit.Result, error)
}

// EventRecorder appends to the security audit trail
type EventRecorder interface {
	Record(ctx context.Context, eventType security.EventType, keyID string, client security.ClientInfo, details map[string]interface{})
}

// Gate authenticates API keys, enforces per-key rate limits and checks
// route permissions. Every rejection and every admission records exactly
// one security event.
type Gate struct {
	keys    KeyStore
	limiter RateChecker
	events  EventRecorder
	clock   clock.Clock
	realm   string
	logger  *utils.Logger
}

// NewGate creates an authentication gate
func NewGate(keys KeyStore, limiter RateChecker, events EventRecorder, clk clock.Clock, realm string) *Gate {
	if clk == nil {
		clk = clock.Real{}
	}
	if realm == "" {
		realm = DefaultRealm
	}
	return &Gate{
		keys:    keys,
		limiter: limiter,
		events:  events,
		clock:   clk,
		realm:   realm,
		logger:  utils.NewLogger("auth-gate"),
	}
}

// Require admits requests carrying a valid key that grants every permission in required
func (g *Gate) Require(required ...auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity, ok := g.authenticate(w, r, required); ok {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), IdentityKey, identity)))
			}
		})
	}
}

// Optional admits anonymous requests. A request that does present a key
// must pass the full gate.
func (g *Gate) Optional() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		strict := g.Require()(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if extractAPIKey(r) == "" {
				ctx := context.WithValue(r.Context(), IdentityKey, auth.Anonymous())
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			strict.ServeHTTP(w, r)
		})
	}
}

func (g *Gate) AdminOnly() func(http.Handler) http.Handler {
	return g.Require(auth.PermissionAdmin)
}

func (g *Gate) ReadOnly() func(http.Handler) http.Handler {
	return g.Require(auth.PermissionRead)
}

func (g *Gate) WriteAccess() func(http.Handler) http.Handler {
	return g.Require(auth.PermissionWrite)
}

func (g *Gate) KeyManagement() func(http.Handler) http.Handler {
	return g.Require(auth.PermissionManageKeys)
}

// authenticate runs the gate and writes the failure response itself
func (g *Gate) authenticate(w http.ResponseWriter, r *http.Request, required []auth.Permission) (*auth.Identity, bool) {
	ctx := r.Context()
	client := ClientInfo(r)

	apiKey := extractAPIKey(r)
	if apiKey == "" {
		g.events.Record(ctx, security.EventAuthMissing, "", client, nil)
		g.fail(w, r, http.StatusUnauthorized, "Authentication required",
			"API key is required. Please provide a valid API key in the Authorization header or X-API-Key header.",
			"AUTH_MISSING")
		return nil, false
	}

	if !auth.ValidateFormat(apiKey) {
		g.events.Record(ctx, security.EventAuthInvalidFormat, "", client, map[string]interface{}{
			"apiKey": auth.MaskKey(apiKey),
		})
		g.failInvalidFormat(w, r)
		return nil, false
	}

	keyID, okID := auth.ExtractKeyID(apiKey)
	secret, okSecret := auth.ExtractSecret(apiKey)
	if !okID || !okSecret {
		g.events.Record(ctx, security.EventAuthInvalidFormat, keyID, client, nil)
		g.failInvalidFormat(w, r)
		return nil, false
	}

	key, err := g.keys.GetByKeyID(ctx, keyID)
	if errors.Is(err, storage.ErrAPIKeyNotFound) {
		g.events.Record(ctx, security.EventAuthKeyNotFound, keyID, client, nil)
		g.failInvalidKey(w, r)
		return nil, false
	}
	if err != nil {
		g.authError(w, r, keyID, client, err)
		return nil, false
	}

	if !key.IsActive {
		g.events.Record(ctx, security.EventAuthKeyInactive, keyID, client, nil)
		g.fail(w, r, http.StatusUnauthorized, "API key inactive", "The provided API key has been deactivated.", "AUTH_INACTIVE")
		return nil, false
	}

	now := g.clock.Now()
	if key.IsExpired(now) {
		g.events.Record(ctx, security.EventAuthKeyExpired, keyID, client, nil)
		g.fail(w, r, http.StatusUnauthorized, "API key expired", "The provided API key has expired.", "AUTH_EXPIRED")
		return nil, false
	}

	if !auth.VerifySecret(secret, key.HashedKey) {
		g.events.Record(ctx, security.EventAuthInvalidSecret, keyID, client, nil)
		g.failInvalidKey(w, r)
		return nil, false
	}

	result, err := g.limiter.Check(ctx, keyID, key.RateLimit)
	if err != nil {
		g.authError(w, r, keyID, client, err)
		return nil, false
	}
	ratelimit.SetHeaders(w.Header(), result)

	if !result.Allowed {
		g.events.Record(ctx, security.EventRateLimitExceeded, keyID, client, map[string]interface{}{
			"limit":     result.Limit,
			"remaining": result.Remaining,
		})
		g.fail(w, r, http.StatusTooManyRequests, "Rate limit exceeded",
			fmt.Sprintf("API rate limit exceeded. Limit: %d requests per hour.", result.Limit),
			"RATE_LIMIT_EXCEEDED")
		return nil, false
	}

	perms := auth.NewPermissionSet(key.Permissions)
	if len(perms) == 0 {
		perms = auth.PermissionSet{auth.PermissionRead}
	}
	if !perms.SatisfiesAll(required...) {
		g.events.Record(ctx, security.EventAuthInsufficientPermissions, keyID, client, map[string]interface{}{
			"required": permissionStrings(required),
			"has":      perms.Strings(),
		})
		g.fail(w, r, http.StatusForbidden, "Insufficient permissions",
			"This operation requires permissions: "+auth.JoinPermissions(required),
			"AUTH_INSUFFICIENT_PERMISSIONS")
		return nil, false
	}

	if err := g.keys.TouchLastUsed(ctx, keyID, now); err != nil {
		g.logger.Warn("Failed to update last used timestamp", "key_id", keyID, "error", err)
	}

	g.events.Record(ctx, security.EventAuthSuccess, keyID, client, nil)

	return &auth.Identity{
		KeyID:         key.KeyID,
		Permissions:   perms,
		RateLimit:     key.RateLimit,
		Authenticated: true,
	}, true
}

func (g *Gate) authError(w http.ResponseWriter, r *http.Request, keyID string, client security.ClientInfo, err error) {
	g.logger.Error("Authentication error", "key_id", keyID, "error", err)
	g.events.Record(r.Context(), security.EventAuthError, keyID, client, map[string]interface{}{
		"error": err.Error(),
	})
	g.fail(w, r, http.StatusInternalServerError, "Authentication error", "An error occurred during authentication.", "AUTH_ERROR")
}

func (g *Gate) failInvalidFormat(w http.ResponseWriter, r *http.Request) {
	g.fail(w, r, http.StatusUnauthorized, "Invalid API key format", "The provided API key format is invalid.", "AUTH_INVALID_FORMAT")
}

func (g *Gate) failInvalidKey(w http.ResponseWriter, r *http.Request) {
	g.fail(w, r, http.StatusUnauthorized, "Invalid API key", "The provided API key is not valid.", "AUTH_INVALID")
}

func (g *Gate) fail(w http.ResponseWriter, r *http.Request, status int, errName, message, code string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", g.realm))
	utils.RespondWithErrorCode(w, r, status, errName, message, code)
}

// extractAPIKey reads "Authorization: Bearer <key>", then X-API-Key
func extractAPIKey(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		if key := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")); key != "" {
			return key
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func permissionStrings(perms []auth.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.String()
	}
	return out
}

// GetIdentity retrieves the caller's identity from the request context
func GetIdentity(ctx context.Context) (*auth.Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(*auth.Identity)
	return identity, ok
}
