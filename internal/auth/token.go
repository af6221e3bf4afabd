// ABOUTME: HS256 bearer tokens for the control-surface API
// ABOUTME: Auth is optional, an empty secret disables it entirely

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers malformed, mis-signed or expired
	// tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingToken means no bearer token was presented.
	ErrMissingToken = errors.New("missing token")
)

// DefaultTokenTTL is the issued token lifetime.
const DefaultTokenTTL = 24 * time.Hour

// Claims identify an operator of the control surface.
type Claims struct {
	Subject string
	Role    string
}

// GenerateToken issues a signed token for an operator.
func GenerateToken(secret []byte, subject, role string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %v", ttl)
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature and expiry and returns the claims.
func ValidateToken(secret []byte, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", errors.Join(ErrInvalidToken, err))
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" {
		return nil, fmt.Errorf("token without subject: %w", ErrInvalidToken)
	}
	return &Claims{Subject: sub, Role: role}, nil
}
