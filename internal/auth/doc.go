// Package auth provides bearer-token authentication for the control
// surface.
//
// Tokens are JWTs signed with HS256 over a shared secret:
//
//	token, err := auth.GenerateToken(secret, "ops@clinic", "operator", ttl)
//	claims, err := auth.ValidateToken(secret, token)
//
// Middleware wraps an http.Handler and rejects requests without a
// valid Authorization: Bearer header; validated claims are placed on
// the request context for ClaimsFrom. A nil secret disables
// enforcement, which is how development setups run.
package auth
