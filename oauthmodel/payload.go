package oauthmodel

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// ExchangePayload is what the browser surface hands back for one login
// attempt: a code to exchange, a credential bundle, or a provider error.
// It lives only for the duration of one flow.
type ExchangePayload struct {
	Code  string
	State string

	Error            string
	ErrorDescription string

	Credentials *CredentialBundle
}

// Kind classifies the payload. Errors take precedence, then credentials, then code.
func (p ExchangePayload) Kind() PayloadKind {
	switch {
	case p.Error != "":
		return PayloadError
	case p.Credentials != nil && p.Credentials.HasCredentials():
		return PayloadCredentials
	case p.Code != "":
		return PayloadCode
	}
	return PayloadInvalid
}

// authData is the loose JSON shape found in popup messages and data= params.
type authData struct {
	CredentialBundle
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

func (a *authData) UnmarshalJSON(data []byte) error {
	var extra struct {
		Code             string `json:"code"`
		State            string `json:"state"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	if err := a.CredentialBundle.UnmarshalJSON(data); err != nil {
		return err
	}
	a.Code = extra.Code
	a.State = extra.State
	a.Error = extra.Error
	a.ErrorDescription = extra.ErrorDescription
	return nil
}

func (a authData) payload() ExchangePayload {
	p := ExchangePayload{
		Code:             a.Code,
		State:            a.State,
		Error:            a.Error,
		ErrorDescription: a.ErrorDescription,
	}
	if a.CredentialBundle.HasCredentials() {
		bundle := a.CredentialBundle
		p.Credentials = &bundle
	}
	return p
}

// ParseAuthData decodes a JSON auth-data object (code flow or direct tokens).
func ParseAuthData(raw []byte) (ExchangePayload, error) {
	var a authData
	if err := json.Unmarshal(raw, &a); err != nil {
		return ExchangePayload{}, fmt.Errorf("[ParseAuthData] %w", err)
	}
	p := a.payload()
	if p.Kind() == PayloadInvalid {
		return ExchangePayload{}, ErrNoAuthData
	}
	return p, nil
}

// ParseMessage decodes a message posted by the popup window:
// {"type": "auth-complete", "authData": {...}}.
func ParseMessage(raw []byte) (ExchangePayload, error) {
	var msg struct {
		Type     string          `json:"type"`
		AuthData json.RawMessage `json:"authData"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ExchangePayload{}, fmt.Errorf("[ParseMessage] %w", err)
	}
	if msg.Type != MessageAuthComplete && msg.Type != MessageStravaAuthComplete {
		return ExchangePayload{}, fmt.Errorf("[ParseMessage] %w: %q", ErrUnknownMessageType, msg.Type)
	}
	if isNullJSON(msg.AuthData) {
		return ExchangePayload{}, ErrNoAuthData
	}
	return ParseAuthData(msg.AuthData)
}

// ParseRedirectURL extracts the payload from a redirect landing URL. The
// query string is checked first, then the fragment.
func ParseRedirectURL(rawURL string) (ExchangePayload, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ExchangePayload{}, fmt.Errorf("[ParseRedirectURL] %w: %v", ErrInvalidRedirectURL, err)
	}

	if p, err := ParseValues(u.Query()); err == nil {
		return p, nil
	}
	if u.Fragment == "" {
		return ExchangePayload{}, ErrNoAuthData
	}
	fragment, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return ExchangePayload{}, ErrNoAuthData
	}
	return ParseValues(fragment)
}

// ParseValues extracts the payload from redirect parameters, in this order:
// a JSON data= parameter, a provider error, direct tokens, an authorization code.
func ParseValues(v url.Values) (ExchangePayload, error) {
	if data := v.Get("data"); data != "" {
		if p, err := ParseAuthData([]byte(data)); err == nil {
			return p, nil
		}
	}

	if e := v.Get("error"); e != "" {
		return ExchangePayload{
			Error:            e,
			ErrorDescription: v.Get("error_description"),
			State:            v.Get("state"),
		}, nil
	}

	if v.Get("access_token") != "" || v.Get("jwt_token") != "" {
		bundle := CredentialBundle{
			AccessToken:  v.Get("access_token"),
			JWTToken:     v.Get("jwt_token"),
			RefreshToken: v.Get("refresh_token"),
			IDToken:      v.Get("id_token"),
		}
		if expiresAt := v.Get("expires_at"); expiresAt != "" {
			t, err := ParseTimestamp(expiresAt)
			if err != nil {
				return ExchangePayload{}, fmt.Errorf("[ParseValues] expires_at: %w", err)
			}
			bundle.ExpiresAt = t
		}
		if expiresIn := v.Get("expires_in"); expiresIn != "" {
			n, err := strconv.Atoi(expiresIn)
			if err != nil {
				return ExchangePayload{}, fmt.Errorf("[ParseValues] expires_in: %w", err)
			}
			bundle.ExpiresIn = n
		}
		if user := v.Get("user"); user != "" {
			if !json.Valid([]byte(user)) {
				return ExchangePayload{}, fmt.Errorf("[ParseValues] user is not valid JSON")
			}
			bundle.User = json.RawMessage(user)
		}
		return ExchangePayload{Credentials: &bundle, State: v.Get("state")}, nil
	}

	if code := v.Get("code"); code != "" {
		return ExchangePayload{Code: code, State: v.Get("state")}, nil
	}

	return ExchangePayload{}, ErrNoAuthData
}
