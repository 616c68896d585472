package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeyPrefix marks every AgentProbe credential.
	KeyPrefix = "ap_"

	keyIDRandomBytes  = 16
	secretRandomBytes = 32
	saltBytes         = 16

	// PBKDF2Iterations is the work factor applied to every stored secret.
	PBKDF2Iterations = 100000
	pbkdf2KeyLength  = 32
)

var fullKeyPattern = regexp.MustCompile(`^ap_[a-f0-9]{32}_[a-f0-9]{64}$`)

// ErrMalformedHash is returned when a stored hash is not in "<salt>:<hash>" form.
var ErrMalformedHash = errors.New("malformed stored hash")

// GeneratedKey holds the three representations of a freshly minted credential.
// FullKey is shown to the caller once and never persisted.
type GeneratedKey struct {
	KeyID   string
	Secret  string
	FullKey string
}

// GenerateKey mints a new credential from the system CSPRNG.
func GenerateKey() (*GeneratedKey, error) {
	idPart, err := randomHex(keyIDRandomBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key id: %w", err)
	}
	secret, err := randomHex(secretRandomBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	keyID := KeyPrefix + idPart
	return &GeneratedKey{
		KeyID:   keyID,
		Secret:  secret,
		FullKey: keyID + "_" + secret,
	}, nil
}

// ValidateFormat reports whether s is a well-formed full key.
func ValidateFormat(s string) bool {
	return fullKeyPattern.MatchString(s)
}

// ExtractKeyID returns the public "ap_<32 hex>" part of a full key.
func ExtractKeyID(fullKey string) (string, bool) {
	if !ValidateFormat(fullKey) {
		return "", false
	}
	return fullKey[:len(KeyPrefix)+2*keyIDRandomBytes], true
}

// ExtractSecret returns the 64 hex character secret of a full key.
func ExtractSecret(fullKey string) (string, bool) {
	if !ValidateFormat(fullKey) {
		return "", false
	}
	return fullKey[len(KeyPrefix)+2*keyIDRandomBytes+1:], true
}

// HashSecret derives the stored form "<saltHex>:<hashHex>" using a fresh salt.
func HashSecret(secret string) (string, error) {
	salt, err := randomHex(saltBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt + ":" + derive(secret, salt), nil
}

// VerifySecret checks secret against a stored hash in constant time.
// Malformed stored values yield false.
func VerifySecret(secret, stored string) bool {
	salt, want, ok := strings.Cut(stored, ":")
	if !ok || salt == "" || want == "" {
		return false
	}
	if _, err := hex.DecodeString(want); err != nil {
		return false
	}
	got := derive(secret, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// MaskKey shortens a presented credential for audit records.
func MaskKey(presented string) string {
	if len(presented) <= 10 {
		return presented + "..."
	}
	return presented[:10] + "..."
}

// derive feeds the salt's hex text, not its decoded bytes, to PBKDF2.
func derive(secret, saltHex string) string {
	key := pbkdf2.Key([]byte(secret), []byte(saltHex), PBKDF2Iterations, pbkdf2KeyLength, sha256.New)
	return hex.EncodeToString(key)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
