// Package registry manages the lifecycle of API keys.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentprobe_api/internal/auth"
	"agentprobe_api/internal/clock"
	"agentprobe_api/internal/models"
	"agentprobe_api/internal/storage"
	"agentprobe_api/internal/utils"
)

const (
	DefaultRateLimit = 100
	MinRateLimit     = 1
	MaxRateLimit     = 10000
	MaxNameLength    = 100

	secretWarning = "This is the only time the secret key will be displayed. Please store it securely."
)

// Store is the key persistence the registry needs.
type Store interface {
	Create(ctx context.Context, key *models.APIKey) error
	GetByKeyID(ctx context.Context, keyID string) (*models.APIKey, error)
	List(ctx context.Context, activeOnly bool) ([]*models.APIKey, error)
	Update(ctx context.Context, keyID string, update models.APIKeyUpdate) (bool, error)
	Delete(ctx context.Context, keyID string) error
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// CreateRequest describes a new key. Nil permissions default to read and a
// zero rate limit defaults to DefaultRateLimit.
type CreateRequest struct {
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions,omitempty"`
	RateLimit   int        `json:"rateLimit,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// CreatedKey is returned once, at creation. SecretKey is the full key.
type CreatedKey struct {
	KeyID       string     `json:"keyId"`
	SecretKey   string     `json:"secretKey"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	RateLimit   int        `json:"rateLimit"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Warning     string     `json:"warning"`
}

// KeyInfo is key metadata without any secret material.
type KeyInfo struct {
	KeyID       string     `json:"keyId"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	IsActive    bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	RateLimit   int        `json:"rateLimit"`
	CreatedBy   string     `json:"createdBy,omitempty"`
}

// UpdateRequest is a partial update. Nil fields are left alone.
type UpdateRequest struct {
	Name        *string
	Permissions []string
	RateLimit   *int
	ExpiresAt   *time.Time
	ClearExpiry bool
	IsActive    *bool
}

// Registry creates, inspects and retires API keys.
type Registry struct {
	store  Store
	clock  clock.Clock
	logger *utils.Logger
}

func New(store Store, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Registry{store: store, clock: clk, logger: utils.NewLogger("registry")}
}

// Create validates req, stores a new key and returns its plaintext once.
func (r *Registry) Create(ctx context.Context, req CreateRequest, createdBy string) (*CreatedKey, error) {
	name, err := validateName(req.Name)
	if err != nil {
		return nil, err
	}

	perms := req.Permissions
	if perms == nil {
		perms = []string{auth.PermissionRead.String()}
	}
	perms, err = validatePermissions(perms)
	if err != nil {
		return nil, err
	}

	rateLimit := req.RateLimit
	if rateLimit == 0 {
		rateLimit = DefaultRateLimit
	}
	if err := validateRateLimit(rateLimit); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		if err := validateExpiry(*req.ExpiresAt, now); err != nil {
			return nil, err
		}
		t := req.ExpiresAt.UTC()
		expiresAt = &t
	}

	generated, err := auth.GenerateKey()
	if err != nil {
		return nil, utils.NewPersistenceError("API_KEY_CREATION_ERROR", "Failed to create API key", err)
	}
	hashed, err := auth.HashSecret(generated.Secret)
	if err != nil {
		return nil, utils.NewPersistenceError("API_KEY_CREATION_ERROR", "Failed to create API key", err)
	}

	key := &models.APIKey{
		KeyID:       generated.KeyID,
		HashedKey:   hashed,
		Name:        name,
		Permissions: models.StringList(perms),
		IsActive:    true,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		RateLimit:   rateLimit,
	}
	if createdBy != "" {
		key.CreatedBy = utils.StringPtr(createdBy)
	}

	if err := r.store.Create(ctx, key); err != nil {
		r.logger.Error("Failed to create API key", "error", err)
		return nil, utils.NewPersistenceError("API_KEY_CREATION_ERROR", "Failed to create API key", err)
	}

	r.logger.Info("API key created", "key_id", key.KeyID, "created_by", createdBy, "permissions", strings.Join(perms, ","))

	return &CreatedKey{
		KeyID:       key.KeyID,
		SecretKey:   generated.FullKey,
		Name:        name,
		Permissions: perms,
		RateLimit:   rateLimit,
		ExpiresAt:   expiresAt,
		Warning:     secretWarning,
	}, nil
}

// List returns key metadata newest first.
func (r *Registry) List(ctx context.Context, activeOnly bool) ([]KeyInfo, error) {
	keys, err := r.store.List(ctx, activeOnly)
	if err != nil {
		return nil, utils.NewPersistenceError("API_KEY_LIST_ERROR", "Failed to list API keys", err)
	}

	infos := make([]KeyInfo, 0, len(keys))
	for _, k := range keys {
		infos = append(infos, toInfo(k))
	}
	return infos, nil
}

// Get returns key metadata, or nil when the key does not exist.
func (r *Registry) Get(ctx context.Context, keyID string) (*KeyInfo, error) {
	key, err := r.store.GetByKeyID(ctx, keyID)
	if errors.Is(err, storage.ErrAPIKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewPersistenceError("API_KEY_FETCH_ERROR", "Failed to get API key", err)
	}
	info := toInfo(key)
	return &info, nil
}

// Update applies req. It returns false without touching the store when req
// is empty and a not_found error when the key does not exist.
func (r *Registry) Update(ctx context.Context, keyID string, req UpdateRequest) (bool, error) {
	update := models.APIKeyUpdate{
		RateLimit:   req.RateLimit,
		ClearExpiry: req.ClearExpiry,
		IsActive:    req.IsActive,
	}

	if req.Name != nil {
		name, err := validateName(*req.Name)
		if err != nil {
			return false, err
		}
		update.Name = &name
	}
	if req.Permissions != nil {
		perms, err := validatePermissions(req.Permissions)
		if err != nil {
			return false, err
		}
		update.Permissions = models.StringList(perms)
	}
	if req.RateLimit != nil {
		if err := validateRateLimit(*req.RateLimit); err != nil {
			return false, err
		}
	}
	if req.ExpiresAt != nil && !req.ClearExpiry {
		if err := validateExpiry(*req.ExpiresAt, r.clock.Now()); err != nil {
			return false, err
		}
		t := req.ExpiresAt.UTC()
		update.ExpiresAt = &t
	}

	if update.IsEmpty() {
		return false, nil
	}

	found, err := r.store.Update(ctx, keyID, update)
	if err != nil {
		return false, utils.NewPersistenceError("API_KEY_UPDATE_ERROR", "Failed to update API key", err)
	}
	if !found {
		return false, keyNotFound()
	}

	r.logger.Info("API key updated", "key_id", keyID)
	return true, nil
}

// Deactivate disables a key without removing it.
func (r *Registry) Deactivate(ctx context.Context, keyID string) (bool, error) {
	return r.Update(ctx, keyID, UpdateRequest{IsActive: utils.BoolPtr(false)})
}

// Reactivate re-enables a deactivated key.
func (r *Registry) Reactivate(ctx context.Context, keyID string) (bool, error) {
	return r.Update(ctx, keyID, UpdateRequest{IsActive: utils.BoolPtr(true)})
}

// Delete removes a key permanently. Deleting an absent key succeeds.
func (r *Registry) Delete(ctx context.Context, keyID string) error {
	if err := r.store.Delete(ctx, keyID); err != nil {
		return utils.NewPersistenceError("API_KEY_DELETE_ERROR", "Failed to delete API key", err)
	}
	r.logger.Info("API key deleted", "key_id", keyID)
	return nil
}

// CheckPermission reports whether keyID is active and grants permission.
func (r *Registry) CheckPermission(ctx context.Context, keyID string, permission auth.Permission) (bool, error) {
	key, err := r.store.GetByKeyID(ctx, keyID)
	if errors.Is(err, storage.ErrAPIKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, utils.NewPersistenceError("API_KEY_FETCH_ERROR", "Failed to check permission", err)
	}
	if !key.IsActive {
		return false, nil
	}
	return auth.NewPermissionSet(key.Permissions).Satisfies(permission), nil
}

// CleanupExpiredKeys deactivates active keys whose expiry has passed.
func (r *Registry) CleanupExpiredKeys(ctx context.Context) (int64, error) {
	n, err := r.store.DeactivateExpired(ctx, r.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired keys: %w", err)
	}
	if n > 0 {
		r.logger.Info("Deactivated expired API keys", "count", n)
	}
	return n, nil
}

func toInfo(k *models.APIKey) KeyInfo {
	info := KeyInfo{
		KeyID:       k.KeyID,
		Name:        k.Name,
		Permissions: []string(k.Permissions),
		IsActive:    k.IsActive,
		CreatedAt:   k.CreatedAt,
		LastUsedAt:  k.LastUsedAt,
		ExpiresAt:   k.ExpiresAt,
		RateLimit:   k.RateLimit,
		CreatedBy:   utils.StringPtrValue(k.CreatedBy),
	}
	if info.Permissions == nil {
		info.Permissions = []string{}
	}
	return info
}

func keyNotFound() error {
	return utils.NewNotFoundError("API_KEY_NOT_FOUND", "The specified API key was not found")
}
