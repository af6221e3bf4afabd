// ABOUTME: Tests for token issue/verify and the HTTP middleware

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken(secret, "ops@clinic", "admin", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "ops@clinic", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken(secret, "ops@clinic", "admin", time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken([]byte("other"), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenExpired(t *testing.T) {
	// Signed with the right secret but already past its expiry.
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops@clinic",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	token, err := expired.SignedString(secret)
	require.NoError(t, err)

	_, err = ValidateToken(secret, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenNonPositiveTTLRejected(t *testing.T) {
	_, err := GenerateToken(secret, "ops@clinic", "admin", -time.Minute)
	assert.Error(t, err)

	_, err = GenerateToken(secret, "ops@clinic", "admin", 0)
	assert.Error(t, err)
}

func TestTokenMissing(t *testing.T) {
	_, err := ValidateToken(secret, "")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestMiddlewareEnforces(t *testing.T) {
	handler := Middleware(secret, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		require.True(t, ok)
		assert.Equal(t, "ops@clinic", claims.Subject)
		w.WriteHeader(http.StatusNoContent)
	}))

	// No token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token.
	token, err := GenerateToken(secret, "ops@clinic", "admin", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddlewareDisabledWithoutSecret(t *testing.T) {
	handler := Middleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
