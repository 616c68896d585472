package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ErrInvalidDownloadToken is returned for tokens that fail signature, expiry or claim checks.
var ErrInvalidDownloadToken = errors.New("invalid download token")

const downloadTokenPurpose = "export_download"

// GenerateDownloadToken signs a short-lived token naming one export.
func GenerateDownloadToken(exportID string, expiresAt time.Time, secret []byte) (string, error) {
	claims := jwt.MapClaims{
		"sub": exportID,
		"aud": downloadTokenPurpose,
		"exp": expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign download token: %w", err)
	}
	return signed, nil
}

// ValidateDownloadToken verifies the token and returns the export it names.
func ValidateDownloadToken(tokenString string, secret []byte) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidDownloadToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !claims.VerifyAudience(downloadTokenPurpose, true) {
		return "", ErrInvalidDownloadToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", ErrInvalidDownloadToken
	}
	return sub, nil
}
