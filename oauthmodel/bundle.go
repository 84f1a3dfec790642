package oauthmodel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CredentialBundle is a directly issued token set. The backend has sent it in
// both camelCase and snake_case over time, so both spellings are accepted.
type CredentialBundle struct {
	AccessToken  string
	JWTToken     string
	RefreshToken string
	ExpiresAt    time.Time
	ExpiresIn    int
	IDToken      string
	User         json.RawMessage
}

type bundleJSON struct {
	AccessToken      string          `json:"access_token"`
	AccessTokenCamel string          `json:"accessToken"`
	JWTToken         string          `json:"jwt_token"`
	JWTTokenCamel    string          `json:"jwtToken"`
	RefreshToken     string          `json:"refresh_token"`
	RefreshCamel     string          `json:"refreshToken"`
	ExpiresAt        json.RawMessage `json:"expires_at"`
	ExpiresAtCamel   json.RawMessage `json:"expiresAt"`
	ExpiresIn        json.RawMessage `json:"expires_in"`
	IDToken          string          `json:"id_token"`
	User             json.RawMessage `json:"user"`
}

func (b *CredentialBundle) UnmarshalJSON(data []byte) error {
	var raw bundleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := CredentialBundle{
		AccessToken:  firstNonEmpty(raw.AccessToken, raw.AccessTokenCamel),
		JWTToken:     firstNonEmpty(raw.JWTToken, raw.JWTTokenCamel),
		RefreshToken: firstNonEmpty(raw.RefreshToken, raw.RefreshCamel),
		IDToken:      raw.IDToken,
	}

	expiresAt := raw.ExpiresAt
	if isNullJSON(expiresAt) {
		expiresAt = raw.ExpiresAtCamel
	}
	if !isNullJSON(expiresAt) {
		t, err := ParseTimestampJSON(expiresAt)
		if err != nil {
			return fmt.Errorf("[CredentialBundle UnmarshalJSON] expiresAt: %w", err)
		}
		out.ExpiresAt = t
	}

	if !isNullJSON(raw.ExpiresIn) {
		n, err := parseIntJSON(raw.ExpiresIn)
		if err != nil {
			return fmt.Errorf("[CredentialBundle UnmarshalJSON] expires_in: %w", err)
		}
		out.ExpiresIn = n
	}

	if !isNullJSON(raw.User) {
		out.User = append(json.RawMessage(nil), raw.User...)
	}

	*b = out
	return nil
}

// HasCredentials reports whether the bundle carries a usable bearer token.
func (b CredentialBundle) HasCredentials() bool {
	return b.Token() != ""
}

// Token returns the access token, falling back to the single-JWT form.
func (b CredentialBundle) Token() string {
	return firstNonEmpty(b.AccessToken, b.JWTToken)
}

// Expiry returns the absolute expiry, preferring ExpiresAt over ExpiresIn.
// The zero time means unknown.
func (b CredentialBundle) Expiry(now time.Time) time.Time {
	if !b.ExpiresAt.IsZero() {
		return b.ExpiresAt
	}
	if b.ExpiresIn > 0 {
		return now.Add(time.Duration(b.ExpiresIn) * time.Second)
	}
	return time.Time{}
}

func (s *StatusResponse) UnmarshalJSON(data []byte) error {
	var flag struct {
		IsAuthenticated bool `json:"isAuthenticated"`
	}
	if err := json.Unmarshal(data, &flag); err != nil {
		return err
	}
	var bundle CredentialBundle
	if err := bundle.UnmarshalJSON(data); err != nil {
		return err
	}
	s.IsAuthenticated = flag.IsAuthenticated
	s.CredentialBundle = bundle
	return nil
}

// ParseTimestampJSON accepts a JSON number or string holding unix seconds,
// unix milliseconds or an RFC3339 time.
func ParseTimestampJSON(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseTimestamp(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidTimestamp, string(raw))
	}
	return ParseTimestamp(n.String())
}

// ParseTimestamp parses unix seconds, unix milliseconds or RFC3339.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)), nil
	}
	return time.Unix(int64(f), 0), nil
}

func parseIntJSON(raw json.RawMessage) (int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return int(f), nil
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
