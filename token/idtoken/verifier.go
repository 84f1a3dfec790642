// Package idtoken turns a verified OpenID Connect id_token into the user
// profile blob kept by the session.
package idtoken

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Claims are the identity claims mapped into the profile.
type Claims struct {
	Sub        string `json:"sub"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

// Verifier checks id_token signatures and claims.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewVerifier discovers the issuer's keys over the network.
func NewVerifier(ctx context.Context, issuerURL, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("[idtoken NewVerifier] failed to create OIDC provider: %w", err)
	}
	return &Verifier{
		verifier: provider.Verifier(&oidc.Config{
			ClientID: clientID,
			Now:      NowTimeFunc,
		}),
	}, nil
}

// NewStaticVerifier verifies against a fixed set of public keys.
func NewStaticVerifier(issuer, clientID string, keys ...crypto.PublicKey) *Verifier {
	keySet := &oidc.StaticKeySet{PublicKeys: keys}
	return &Verifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{
			ClientID: clientID,
			Now:      NowTimeFunc,
		}),
	}
}

// Claims verifies rawIDToken and returns its identity claims.
func (v *Verifier) Claims(ctx context.Context, rawIDToken string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("[Verifier Claims] ID token verification failed: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("[Verifier Claims] failed to extract claims: %w", err)
	}
	return &claims, nil
}

// Profile verifies rawIDToken and renders the claims in the profile shape the
// backend uses for user_data.
func (v *Verifier) Profile(ctx context.Context, rawIDToken string) (json.RawMessage, error) {
	claims, err := v.Claims(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}
	return claims.Profile()
}

func (c *Claims) Profile() (json.RawMessage, error) {
	first, last := c.GivenName, c.FamilyName
	if first == "" && last == "" && c.Name != "" {
		parts := strings.SplitN(c.Name, " ", 2)
		first = parts[0]
		if len(parts) == 2 {
			last = parts[1]
		}
	}

	profile := struct {
		ID        string `json:"id"`
		FirstName string `json:"firstName,omitempty"`
		LastName  string `json:"lastName,omitempty"`
		Email     string `json:"email,omitempty"`
		ImageURL  string `json:"imageUrl,omitempty"`
	}{
		ID:        c.Sub,
		FirstName: first,
		LastName:  last,
		Email:     c.Email,
		ImageURL:  c.Picture,
	}
	return json.Marshal(profile)
}
