package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Credentials is the authenticated identity's token set.
// A zero ExpiresAt means the expiry is unknown and the access token is
// treated as already expired.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// AccessTokenValid reports whether the access token is present and not yet expired at now.
func (c Credentials) AccessTokenValid(now time.Time) bool {
	if c.AccessToken == "" || c.ExpiresAt.IsZero() {
		return false
	}
	return now.Before(c.ExpiresAt)
}

func (c Credentials) Equal(o Credentials) bool {
	return c.AccessToken == o.AccessToken && c.RefreshToken == o.RefreshToken && c.ExpiresAt.Equal(o.ExpiresAt)
}

// NeedsRefresh reports whether the access token is missing or expires within buffer of now.
func (c Credentials) NeedsRefresh(now time.Time, buffer time.Duration) bool {
	if c.AccessToken == "" || c.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(buffer).Before(c.ExpiresAt)
}

// Profile is the logged-in user as the backend describes them. The session
// stores and returns it as an opaque unit.
type Profile json.RawMessage

// ProfileSummary holds the few profile fields needed to show who is logged in.
type ProfileSummary struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	ImageURL  string
}

// DisplayName returns "First Last", falling back to the email or ID.
func (p ProfileSummary) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	switch {
	case name != "":
		return name
	case p.Email != "":
		return p.Email
	}
	return p.ID
}

// Summary decodes the common profile fields. The backend has used both "id"
// and "stravaId", as strings or numbers.
func (p Profile) Summary() (ProfileSummary, error) {
	var raw struct {
		ID        any    `json:"id"`
		StravaID  any    `json:"stravaId"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Firstname string `json:"firstname"`
		Lastname  string `json:"lastname"`
		Email     string `json:"email"`
		ImageURL  string `json:"imageUrl"`
		Profile   string `json:"profile"`
	}
	if len(p) == 0 {
		return ProfileSummary{}, nil
	}
	if err := json.Unmarshal(p, &raw); err != nil {
		return ProfileSummary{}, fmt.Errorf("[Profile Summary] %w", err)
	}

	s := ProfileSummary{
		ID:        idString(raw.StravaID),
		FirstName: firstNonEmpty(raw.FirstName, raw.Firstname),
		LastName:  firstNonEmpty(raw.LastName, raw.Lastname),
		Email:     raw.Email,
		ImageURL:  firstNonEmpty(raw.ImageURL, raw.Profile),
	}
	if s.ID == "" {
		s.ID = idString(raw.ID)
	}
	return s, nil
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// State is the aggregate the session owns.
type State struct {
	Credentials Credentials
	User        Profile
}

// IsAuthenticated is derived, never stored: a live access token or a refresh
// token to mint one.
func (s State) IsAuthenticated(now time.Time) bool {
	return s.Credentials.AccessTokenValid(now) || s.Credentials.RefreshToken != ""
}

func (s State) clone() State {
	c := s
	if s.User != nil {
		c.User = append(Profile(nil), s.User...)
	}
	return c
}
