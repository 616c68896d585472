package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"agentprobe_api/internal/models"
)

const apiKeyColumns = `id, key_id, hashed_key, name, permissions, is_active, created_at, last_used_at, expires_at, rate_limit, created_by`

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *DB
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{
		db: db,
	}
}

// Create inserts a new API key and fills in its ID
func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	query := r.db.q(`
		INSERT INTO api_keys (key_id, hashed_key, name, permissions, is_active, created_at, expires_at, rate_limit, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := r.db.conn.QueryRowContext(
		ctx, query,
		key.KeyID, key.HashedKey, key.Name, key.Permissions, key.IsActive, key.CreatedAt, key.ExpiresAt, key.RateLimit, key.CreatedBy,
	).Scan(&key.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKeyID
		}
		return fmt.Errorf("failed to create API key: %w", err)
	}

	return nil
}

// GetByKeyID retrieves an API key by its public key ID, using the key cache
func (r *APIKeyRepository) GetByKeyID(ctx context.Context, keyID string) (*models.APIKey, error) {
	if cached, ok := r.db.apiKeyCache.Get(keyID); ok {
		copied := *cached
		return &copied, nil
	}

	var key models.APIKey
	query := r.db.q(`SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_id = ?`)

	err := r.db.conn.GetContext(ctx, &key, query, keyID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}
	utcKey(&key)

	cached := key
	r.db.apiKeyCache.Set(keyID, &cached)
	return &key, nil
}

// List returns keys newest first, optionally only active ones
func (r *APIKeyRepository) List(ctx context.Context, activeOnly bool) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	var args []interface{}
	if activeOnly {
		query += ` WHERE is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	var keys []*models.APIKey
	if err := r.db.conn.SelectContext(ctx, &keys, r.db.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	for _, k := range keys {
		utcKey(k)
	}

	return keys, nil
}

// Update applies a partial update. It returns false when the key does not exist.
func (r *APIKeyRepository) Update(ctx context.Context, keyID string, update models.APIKeyUpdate) (bool, error) {
	var sets []string
	var args []interface{}

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Permissions != nil {
		sets = append(sets, "permissions = ?")
		args = append(args, update.Permissions)
	}
	if update.RateLimit != nil {
		sets = append(sets, "rate_limit = ?")
		args = append(args, *update.RateLimit)
	}
	if update.ClearExpiry {
		sets = append(sets, "expires_at = NULL")
	} else if update.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, *update.ExpiresAt)
	}
	if update.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *update.IsActive)
	}

	if len(sets) == 0 {
		return false, nil
	}

	query := `UPDATE api_keys SET ` + strings.Join(sets, ", ") + ` WHERE key_id = ?`
	args = append(args, keyID)

	result, err := r.db.conn.ExecContext(ctx, r.db.q(query), args...)
	r.db.apiKeyCache.Delete(keyID)
	if err != nil {
		return false, fmt.Errorf("failed to update API key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// TouchLastUsed records a successful authentication
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, keyID string, at time.Time) error {
	query := r.db.q(`UPDATE api_keys SET last_used_at = ? WHERE key_id = ?`)

	if _, err := r.db.conn.ExecContext(ctx, query, at, keyID); err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}

	r.db.apiKeyCache.Replace(keyID, func(k *models.APIKey) *models.APIKey {
		copied := *k
		copied.LastUsedAt = &at
		return &copied
	})
	return nil
}

// Delete removes a key permanently. Deleting a missing key is not an error.
func (r *APIKeyRepository) Delete(ctx context.Context, keyID string) error {
	query := r.db.q(`DELETE FROM api_keys WHERE key_id = ?`)

	_, err := r.db.conn.ExecContext(ctx, query, keyID)
	r.db.apiKeyCache.Delete(keyID)
	if err != nil {
		return fmt.Errorf("failed to delete API key: %w", err)
	}

	return nil
}

// DeactivateExpired deactivates active keys whose expiry lies before now
// and returns how many were changed
func (r *APIKeyRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	var keyIDs []string
	selectQuery := r.db.q(`SELECT key_id FROM api_keys WHERE is_active = ? AND expires_at IS NOT NULL AND expires_at < ?`)
	if err := r.db.conn.SelectContext(ctx, &keyIDs, selectQuery, true, now); err != nil {
		return 0, fmt.Errorf("failed to find expired API keys: %w", err)
	}

	query := r.db.q(`UPDATE api_keys SET is_active = ? WHERE is_active = ? AND expires_at IS NOT NULL AND expires_at < ?`)
	result, err := r.db.conn.ExecContext(ctx, query, false, true, now)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired API keys: %w", err)
	}

	for _, id := range keyIDs {
		r.db.apiKeyCache.Delete(id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// CountActiveWithPermission counts active keys holding a permission
func (r *APIKeyRepository) CountActiveWithPermission(ctx context.Context, permission string) (int, error) {
	var count int
	query := r.db.q(`SELECT COUNT(*) FROM api_keys WHERE is_active = ? AND permissions LIKE ?`)

	pattern := `%"` + permission + `"%`
	if err := r.db.conn.GetContext(ctx, &count, query, true, pattern); err != nil {
		return 0, fmt.Errorf("failed to count API keys: %w", err)
	}
	return count, nil
}
