package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	kvstorefake "github.com/jrsteele09/go-ride-session/kvstore/repofake"
	"github.com/jrsteele09/go-ride-session/session"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupManager(t *testing.T) (*session.Manager, *kvstorefake.FakeStore) {
	t.Helper()
	store := kvstorefake.NewFakeStore()
	m := session.NewManager(store, session.WithNowFunc(func() time.Time { return testNow }))
	return m, store
}

func authenticatedState() session.State {
	return session.State{
		Credentials: session.Credentials{
			AccessToken:  "AT1",
			RefreshToken: "RT1",
			ExpiresAt:    testNow.Add(time.Hour),
		},
		User: session.Profile(`{"id":42,"firstName":"Ada","lastName":"Lovelace"}`),
	}
}

func TestSave_ThenClear(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t)

	require.NoError(t, m.Save(ctx, authenticatedState()))
	require.True(t, m.IsAuthenticated(ctx))

	require.NoError(t, m.Clear(ctx))
	require.False(t, m.IsAuthenticated(ctx))
}

func TestSave_SequenceKeepsLatest(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t)

	states := []session.State{
		authenticatedState(),
		{Credentials: session.Credentials{AccessToken: "AT2", ExpiresAt: testNow.Add(time.Minute)}},
		{Credentials: session.Credentials{AccessToken: "AT3", ExpiresAt: testNow.Add(2 * time.Hour), RefreshToken: "RT3"}},
	}
	for _, s := range states {
		require.NoError(t, m.Save(ctx, s))
		require.True(t, m.IsAuthenticated(ctx))
		require.Equal(t, s.Credentials.AccessToken, m.Credentials(ctx).AccessToken)
	}
}

func TestSave_RoundTripAfterRestart(t *testing.T) {
	ctx := context.Background()
	m, store := setupManager(t)
	want := authenticatedState()
	require.NoError(t, m.Save(ctx, want))

	restarted := session.NewManager(store, session.WithNowFunc(func() time.Time { return testNow }))
	got := restarted.Load(ctx)

	require.Equal(t, want.Credentials.AccessToken, got.Credentials.AccessToken)
	require.Equal(t, want.Credentials.RefreshToken, got.Credentials.RefreshToken)
	require.True(t, want.Credentials.ExpiresAt.Equal(got.Credentials.ExpiresAt))
	require.JSONEq(t, string(want.User), string(got.User))
}

func TestSave_OmittedFieldsAreDeleted(t *testing.T) {
	ctx := context.Background()
	m, store := setupManager(t)
	require.NoError(t, m.Save(ctx, authenticatedState()))

	require.NoError(t, m.Save(ctx, session.State{
		Credentials: session.Credentials{AccessToken: "AT2", ExpiresAt: testNow.Add(time.Hour)},
	}))

	values := store.Snapshot()
	require.Equal(t, "AT2", values["strava_access_token"])
	require.NotContains(t, values, "strava_refresh_token")
	require.NotContains(t, values, "user_data")
}

func TestClear_RemovesAllKeys(t *testing.T) {
	ctx := context.Background()
	m, store := setupManager(t)
	require.NoError(t, m.Save(ctx, authenticatedState()))
	_, err := m.BeginFlow(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Clear(ctx))

	require.False(t, m.IsAuthenticated(ctx))
	require.Nil(t, m.CurrentUser(ctx))
	values := store.Snapshot()
	for _, key := range []string{"strava_access_token", "strava_refresh_token", "strava_token_expiry", "user_data", "strava_auth_session"} {
		require.NotContains(t, values, key)
	}
}

func TestClear_IsIdempotentWithOneNotificationPerCall(t *testing.T) {
	ctx := context.Background()
	m, store := setupManager(t)
	require.NoError(t, m.Save(ctx, authenticatedState()))

	var notifications []bool
	m.Subscribe(func(isAuth bool) { notifications = append(notifications, isAuth) })

	require.NoError(t, m.Clear(ctx))
	afterOnce := store.Snapshot()
	require.NoError(t, m.Clear(ctx))

	require.Equal(t, afterOnce, store.Snapshot())
	require.Equal(t, []bool{false, false}, notifications)
	require.False(t, m.IsAuthenticated(ctx))
}

func TestSubscribe_OrderAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t)

	var calls []string
	m.Subscribe(func(bool) { calls = append(calls, "first") })
	unsubscribe := m.Subscribe(func(bool) { calls = append(calls, "second") })
	m.Subscribe(func(bool) { calls = append(calls, "third") })

	require.NoError(t, m.Save(ctx, authenticatedState()))
	require.Equal(t, []string{"first", "second", "third"}, calls)

	unsubscribe()
	unsubscribe()
	calls = nil
	require.NoError(t, m.Clear(ctx))
	require.Equal(t, []string{"first", "third"}, calls)
}

func TestSubscribe_DeliveredBeforeSaveReturns(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t)

	var seen *bool
	m.Subscribe(func(isAuth bool) {
		seen = &isAuth
		// listeners may read state re-entrantly
		require.True(t, m.IsAuthenticated(ctx))
	})

	require.NoError(t, m.Save(ctx, authenticatedState()))
	require.NotNil(t, seen)
	require.True(t, *seen)
}

func TestSubscribe_ListenerMayLoad(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t)

	var loaded []string
	m.Subscribe(func(bool) {
		loaded = append(loaded, m.Load(ctx).Credentials.AccessToken)
	})

	done := make(chan error, 1)
	go func() {
		done <- errors.Join(m.Save(ctx, authenticatedState()), m.Clear(ctx))
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener calling Load blocked the write")
	}
	require.Equal(t, []string{"AT1", ""}, loaded)
}

func TestFlowToken(t *testing.T) {
	ctx := context.Background()
	m, store := setupManager(t)

	token, err := m.FlowToken(ctx)
	require.NoError(t, err)
	require.Empty(t, token)

	started, err := m.BeginFlow(ctx)
	require.NoError(t, err)
	token, err = m.FlowToken(ctx)
	require.NoError(t, err)
	require.Equal(t, started, token)

	store.FailOn("get", errors.New("keychain locked"))
	_, err = m.FlowToken(ctx)
	require.Error(t, err)
}

func TestIsAuthenticated_LoadsOnlyOnce(t *testing.T) {
	ctx := context.Background()
	m, store := setupManager(t)
	require.NoError(t, store.Set(ctx, "strava_access_token", "AT1"))
	require.NoError(t, store.Set(ctx, "strava_token_expiry", testNow.Add(time.Hour).Format(time.RFC3339)))

	require.True(t, m.IsAuthenticated(ctx))
	reads := store.Calls("get")
	require.True(t, m.IsAuthenticated(ctx))
	require.NotNil(t, m.Credentials(ctx))
	require.Equal(t, reads, store.Calls("get"))
}

func TestIsAuthenticated_Derivation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		creds session.Credentials
		want  bool
	}{
		{"empty", session.Credentials{}, false},
		{"live access token", session.Credentials{AccessToken: "AT", ExpiresAt: testNow.Add(time.Minute)}, true},
		{"expired access token", session.Credentials{AccessToken: "AT", ExpiresAt: testNow.Add(-time.Minute)}, false},
		{"access token without expiry", session.Credentials{AccessToken: "AT"}, false},
		{"expired access with refresh", session.Credentials{AccessToken: "AT", RefreshToken: "RT", ExpiresAt: testNow.Add(-time.Minute)}, true},
		{"refresh only", session.Credentials{RefreshToken: "RT"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := setupManager(t)
			require.NoError(t, m.Save(ctx, session.State{Credentials: tt.creds}))
			require.Equal(t, tt.want, m.IsAuthenticated(ctx))
		})
	}
}

func TestLoad_ToleratesMissingAndLegacyKeys(t *testing.T) {
	ctx := context.Background()
	m, store := setupManager(t)
	require.NoError(t, store.Set(ctx, "jwt_token", "JWT1"))
	require.NoError(t, store.Set(ctx, "strava_token_expiry", "1772370000"))
	require.NoError(t, store.Set(ctx, "user_data", "{not json"))

	state := m.Load(ctx)

	require.Equal(t, "JWT1", state.Credentials.AccessToken)
	require.Equal(t, time.Unix(1772370000, 0).Unix(), state.Credentials.ExpiresAt.Unix())
	require.Empty(t, state.Credentials.RefreshToken)
	require.Nil(t, state.User)
}

func TestLoad_StoreFailureKeepsLastKnownState(t *testing.T) {
	ctx := context.Background()
	m, store := setupManager(t)
	require.NoError(t, m.Save(ctx, authenticatedState()))

	store.FailOn("get", errors.New("keychain locked"))
	state := m.Load(ctx)

	require.Equal(t, "AT1", state.Credentials.AccessToken)
	require.True(t, m.IsAuthenticated(ctx))
}

func TestLoad_StoreFailureOnStartupIsUnauthenticated(t *testing.T) {
	ctx := context.Background()
	m, store := setupManager(t)
	store.FailOn("get", errors.New("keychain locked"))

	require.False(t, m.IsAuthenticated(ctx))
	require.Nil(t, m.CurrentUser(ctx))

	// the next accessor retries once storage recovers
	store.FailOn("get", nil)
	require.NoError(t, store.Set(ctx, "strava_refresh_token", "RT1"))
	require.True(t, m.IsAuthenticated(ctx))
}

func TestSave_WriteFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	m, store := setupManager(t)

	notified := 0
	m.Subscribe(func(bool) { notified++ })

	store.FailOn("set", errors.New("disk full"))
	err := m.Save(ctx, authenticatedState())

	var saveErr *session.SaveError
	require.ErrorAs(t, err, &saveErr)
	require.False(t, m.IsAuthenticated(ctx))
	require.Zero(t, notified)
}

func TestClear_StoreFailureStillLogsOut(t *testing.T) {
	ctx := context.Background()
	m, store := setupManager(t)
	require.NoError(t, m.Save(ctx, authenticatedState()))

	store.FailOn("delete", errors.New("keychain locked"))
	require.Error(t, m.Clear(ctx))
	require.False(t, m.IsAuthenticated(ctx))
}

func TestCurrentUser_Summary(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t)
	require.NoError(t, m.Save(ctx, authenticatedState()))

	summary, err := m.CurrentUser(ctx).Summary()
	require.NoError(t, err)
	require.Equal(t, "42", summary.ID)
	require.Equal(t, "Ada Lovelace", summary.DisplayName())
}

func TestFlowCorrelation(t *testing.T) {
	ctx := context.Background()
	m, store := setupManager(t)

	first, err := m.BeginFlow(ctx)
	require.NoError(t, err)
	second, err := m.BeginFlow(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// an older attempt must not remove a newer attempt's token
	m.EndFlow(ctx, first)
	require.Equal(t, second, store.Snapshot()["strava_auth_session"])

	m.EndFlow(ctx, second)
	require.NotContains(t, store.Snapshot(), "strava_auth_session")
}

func TestTokenSource(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t)

	_, err := m.TokenSource(ctx).Token()
	require.Error(t, err)

	require.NoError(t, m.Save(ctx, authenticatedState()))
	tok, err := m.TokenSource(ctx).Token()
	require.NoError(t, err)
	require.Equal(t, "AT1", tok.AccessToken)
	require.Equal(t, "Bearer", tok.Type())
}

func TestCompareAndSave(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t)
	start := authenticatedState()
	require.NoError(t, m.Save(ctx, start))

	next := start
	next.Credentials.AccessToken = "AT2"
	saved, err := m.CompareAndSave(ctx, start.Credentials, next)
	require.NoError(t, err)
	require.True(t, saved)
	require.Equal(t, "AT2", m.Credentials(ctx).AccessToken)

	// a logout in between wins over a stale update
	require.NoError(t, m.Clear(ctx))
	saved, err = m.CompareAndSave(ctx, next.Credentials, next)
	require.NoError(t, err)
	require.False(t, saved)
	require.False(t, m.IsAuthenticated(ctx))
}
