// Package session owns "who is logged in": the credential set and user
// profile, mirrored to a kvstore.Store, with synchronous change notification.
//
// Nothing outside this package reads or writes the persisted keys.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-ride-session/kvstore"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Persisted key layout.
const (
	keyAccessToken  = "strava_access_token"
	keyJWTToken     = "jwt_token" // legacy single-token layout, read only
	keyRefreshToken = "strava_refresh_token"
	keyTokenExpiry  = "strava_token_expiry"
	keyUserData     = "user_data"
	keyAuthSession  = "strava_auth_session"
)

var persistedKeys = []string{keyAccessToken, keyJWTToken, keyRefreshToken, keyTokenExpiry, keyUserData, keyAuthSession}

// Listener receives the authentication flag after every Save and Clear.
// Listeners run synchronously on the mutating goroutine, in write order, after
// the write lock is released: they may read or Load the session but must not
// call Save, CompareAndSave or Clear themselves.
type Listener func(isAuthenticated bool)

type subscription struct {
	id uint64
	fn Listener
}

// Manager is the single owner of session state.
type Manager struct {
	store   kvstore.Store
	logger  zerolog.Logger
	nowFunc func() time.Time

	mu     sync.RWMutex // guards state and loaded
	state  State
	loaded bool

	writeMu  sync.Mutex // serialises Load, Save and Clear
	notifyMu sync.Mutex // keeps notifications in write order
	flowMu   sync.Mutex

	subsMu sync.Mutex
	subs   []subscription
	nextID uint64
}

type ManagerOption func(*Manager)

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func NewManager(store kvstore.Store, options ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		logger:  log.Logger,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "session").Logger()
	return m
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time {
	return m.nowFunc()
}

// Load reads the persisted keys into memory. Absent keys leave their field
// empty. On a storage fault the last known in-memory state is returned and the
// cache stays unloaded so a later accessor retries.
func (m *Manager) Load(ctx context.Context) State {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.loadLocked(ctx)
}

func (m *Manager) loadLocked(ctx context.Context) State {
	var next State
	var faulted bool

	read := func(key string) string {
		v, err := m.store.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, kvstore.ErrNotFound) {
				m.logger.Error().Err(err).Str("key", key).Msg("failed to read session key")
				faulted = true
			}
			return ""
		}
		return v
	}

	next.Credentials.AccessToken = read(keyAccessToken)
	if next.Credentials.AccessToken == "" {
		next.Credentials.AccessToken = read(keyJWTToken)
	}
	next.Credentials.RefreshToken = read(keyRefreshToken)
	if raw := read(keyTokenExpiry); raw != "" {
		expiry, err := parseExpiry(raw)
		if err != nil {
			m.logger.Warn().Err(err).Msg("ignoring unreadable token expiry")
		}
		next.Credentials.ExpiresAt = expiry
	}
	if raw := read(keyUserData); raw != "" {
		if json.Valid([]byte(raw)) {
			next.User = Profile(raw)
		} else {
			m.logger.Warn().Msg("ignoring corrupt user profile")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if faulted {
		return m.state.clone()
	}
	m.state = next
	m.loaded = true
	m.logger.Debug().
		Bool("access_token", next.Credentials.AccessToken != "").
		Bool("refresh_token", next.Credentials.RefreshToken != "").
		Msg("session loaded")
	return m.state.clone()
}

// Save persists next, replacing the whole state: present fields are written and
// empty ones deleted. The in-memory snapshot is swapped only after every write
// succeeded, then subscribers are notified in registration order.
func (m *Manager) Save(ctx context.Context, next State) error {
	m.writeMu.Lock()
	if err := m.saveLocked(ctx, next); err != nil {
		m.writeMu.Unlock()
		return err
	}
	m.unlockAndNotify(next.IsAuthenticated(m.nowFunc()))
	return nil
}

// CompareAndSave saves next only while the cached credentials still equal
// expected, so a slow refresh cannot resurrect a session that was cleared or
// replaced by a newer login in the meantime. It reports whether next was saved.
func (m *Manager) CompareAndSave(ctx context.Context, expected Credentials, next State) (bool, error) {
	m.writeMu.Lock()

	m.mu.RLock()
	loaded, current := m.loaded, m.state.Credentials
	m.mu.RUnlock()
	if !loaded {
		current = m.loadLocked(ctx).Credentials
	}

	if !current.Equal(expected) {
		m.writeMu.Unlock()
		m.logger.Info().Msg("credentials changed underneath, discarding update")
		return false, nil
	}
	if err := m.saveLocked(ctx, next); err != nil {
		m.writeMu.Unlock()
		return false, err
	}
	m.unlockAndNotify(next.IsAuthenticated(m.nowFunc()))
	return true, nil
}

func (m *Manager) saveLocked(ctx context.Context, next State) error {
	next = next.clone()
	var errs []error
	write := func(key, value string) {
		var err error
		if value == "" {
			err = m.store.Delete(ctx, key)
		} else {
			err = m.store.Set(ctx, key, value)
		}
		if err != nil {
			m.logger.Error().Err(err).Str("key", key).Msg("failed to persist session key")
			errs = append(errs, err)
		}
	}

	expiry := ""
	if !next.Credentials.ExpiresAt.IsZero() {
		expiry = next.Credentials.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	write(keyTokenExpiry, expiry)
	write(keyRefreshToken, next.Credentials.RefreshToken)
	write(keyUserData, string(next.User))
	write(keyJWTToken, "")
	write(keyAccessToken, next.Credentials.AccessToken)

	if len(errs) > 0 {
		return &SaveError{Errs: errs}
	}

	m.mu.Lock()
	m.state = next
	m.loaded = true
	m.mu.Unlock()
	return nil
}

// Clear logs out: every persisted key is deleted, the cache reset and
// subscribers told false. The in-memory reset happens even if the store fails.
func (m *Manager) Clear(ctx context.Context) error {
	m.writeMu.Lock()

	var errs []error
	for _, key := range persistedKeys {
		if err := m.store.Delete(ctx, key); err != nil {
			m.logger.Error().Err(err).Str("key", key).Msg("failed to delete session key")
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	m.state = State{}
	m.loaded = true
	m.mu.Unlock()

	m.unlockAndNotify(false)
	if len(errs) > 0 {
		return &SaveError{Errs: errs}
	}
	return nil
}

// IsAuthenticated loads the store on first use only.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	return m.ensureLoaded(ctx).IsAuthenticated(m.nowFunc())
}

// CurrentUser returns the cached profile, or nil when nobody is logged in.
func (m *Manager) CurrentUser(ctx context.Context) Profile {
	return m.ensureLoaded(ctx).User
}

// Credentials returns the cached credential set.
func (m *Manager) Credentials(ctx context.Context) Credentials {
	return m.ensureLoaded(ctx).Credentials
}

// Snapshot returns a copy of the whole cached state.
func (m *Manager) Snapshot(ctx context.Context) State {
	return m.ensureLoaded(ctx)
}

func (m *Manager) ensureLoaded(ctx context.Context) State {
	m.mu.RLock()
	if m.loaded {
		s := m.state.clone()
		m.mu.RUnlock()
		return s
	}
	m.mu.RUnlock()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	if m.loaded {
		s := m.state.clone()
		m.mu.RUnlock()
		return s
	}
	m.mu.RUnlock()
	return m.loadLocked(ctx)
}

// Subscribe registers fn and returns its disposer. Disposing twice is harmless.
func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			defer m.subsMu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// unlockAndNotify hands writeMu over to notifyMu, so listeners run outside the
// write lock while a later write still notifies after this one.
func (m *Manager) unlockAndNotify(isAuthenticated bool) {
	m.notifyMu.Lock()
	m.writeMu.Unlock()
	defer m.notifyMu.Unlock()
	m.notify(isAuthenticated)
}

func (m *Manager) notify(isAuthenticated bool) {
	m.subsMu.Lock()
	subs := make([]subscription, len(m.subs))
	copy(subs, m.subs)
	m.subsMu.Unlock()

	for _, s := range subs {
		s.fn(isAuthenticated)
	}
}

// BeginFlow creates and persists a correlation token for one login attempt.
func (m *Manager) BeginFlow(ctx context.Context) (string, error) {
	m.flowMu.Lock()
	defer m.flowMu.Unlock()

	token := uuid.NewString()
	if err := m.store.Set(ctx, keyAuthSession, token); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist auth correlation token")
		return "", err
	}
	return token, nil
}

// EndFlow removes the correlation token if it still belongs to this attempt;
// a newer attempt's token is left alone.
func (m *Manager) EndFlow(ctx context.Context, token string) {
	m.flowMu.Lock()
	defer m.flowMu.Unlock()

	current, err := m.store.Get(ctx, keyAuthSession)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			m.logger.Warn().Err(err).Msg("failed to read auth correlation token")
		}
		return
	}
	if current != token {
		return
	}
	if err := m.store.Delete(ctx, keyAuthSession); err != nil {
		m.logger.Warn().Err(err).Msg("failed to delete auth correlation token")
	}
}

// FlowToken returns the correlation token of the pending login attempt, or ""
// when none is pending.
func (m *Manager) FlowToken(ctx context.Context) (string, error) {
	m.flowMu.Lock()
	defer m.flowMu.Unlock()

	token, err := m.store.Get(ctx, keyAuthSession)
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", nil
	}
	return token, err
}

// SaveError collects the storage faults of one Save or Clear.
type SaveError struct {
	Errs []error
}

func (e *SaveError) Error() string {
	return "session persistence failed: " + errors.Join(e.Errs...).Error()
}

func (e *SaveError) Unwrap() []error {
	return e.Errs
}

// parseExpiry accepts RFC3339 or a unix timestamp in seconds or milliseconds.
func parseExpiry(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if n > 1e12 {
		return time.UnixMilli(n), nil
	}
	return time.Unix(n, 0), nil
}
