package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

var ErrNoExpiry = errors.New("token has no exp claim")

// TokenIntrospection is what a client can learn about a bearer JWT without
// holding the issuer's key. Nothing here is verified; it is used to schedule
// refreshes, never to make authorization decisions.
type TokenIntrospection struct {
	Active bool     `json:"active"`          // exp is in the future
	Aud    []string `json:"aud,omitempty"`   // Audience
	Exp    *int64   `json:"exp,omitempty"`   // Expiration
	Iat    *int64   `json:"iat,omitempty"`   // Issued at time
	Iss    *string  `json:"iss,omitempty"`   // Issuer of the token
	Roles  []string `json:"roles,omitempty"` // Roles assigned to the User
	Sub    *string  `json:"sub,omitempty"`   // Users unique ID
}

// ExpiresAt returns the exp claim as an absolute time.
func (ti *TokenIntrospection) ExpiresAt() (time.Time, error) {
	if ti.Exp == nil {
		return time.Time{}, ErrNoExpiry
	}
	return time.Unix(*ti.Exp, 0), nil
}

// Introspect decodes the claims of rawToken without checking its signature.
// A token that is not a JWT (an opaque access token) returns an error.
func Introspect(rawToken string) (*TokenIntrospection, error) {
	if strings.TrimSpace(rawToken) == "" {
		return &TokenIntrospection{Active: false}, nil
	}

	token, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return &TokenIntrospection{Active: false}, fmt.Errorf("[jwt Introspect] failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return &TokenIntrospection{Active: false}, errors.New("[jwt Introspect] error extracting claims")
	}

	ti := &TokenIntrospection{}
	if iss, err := claims.GetIssuer(); err == nil && iss != "" {
		ti.Iss = ptr(iss)
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		ti.Sub = ptr(sub)
	}
	if aud, err := claims.GetAudience(); err == nil {
		ti.Aud = aud
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		ti.Iat = ptr(iat.Unix())
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		ti.Exp = ptr(exp.Unix())
	}
	if claimRoles, ok := claims["roles"].([]any); ok {
		ti.Roles = stringClaims(claimRoles)
	}

	ti.Active = ti.Exp != nil && NowTimeFunc().Unix() < *ti.Exp
	return ti, nil
}

// ExpiresAt reads the exp claim of an unverified JWT.
func ExpiresAt(rawToken string) (time.Time, error) {
	ti, err := Introspect(rawToken)
	if err != nil {
		return time.Time{}, err
	}
	return ti.ExpiresAt()
}

func ptr[T any](v T) *T {
	return &v
}

// stringClaims keeps the string members of a JSON array claim.
func stringClaims(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
