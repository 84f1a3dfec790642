package refresh_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-ride-session/backend"
	"github.com/jrsteele09/go-ride-session/internal/config"
	rideerrors "github.com/jrsteele09/go-ride-session/internal/errors"
	kvstorefake "github.com/jrsteele09/go-ride-session/kvstore/repofake"
	"github.com/jrsteele09/go-ride-session/oauthmodel"
	"github.com/jrsteele09/go-ride-session/session"
	"github.com/jrsteele09/go-ride-session/token/refresh"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	calls   atomic.Int32
	refresh func(call int, refreshToken string) (*oauthmodel.RefreshResponse, error)

	// honorCtx fails the call when ctx ended meanwhile, as an HTTP client would
	honorCtx bool
}

func (f *fakeBackend) Refresh(ctx context.Context, refreshToken string) (*oauthmodel.RefreshResponse, error) {
	call := int(f.calls.Add(1))
	resp, err := f.refresh(call, refreshToken)
	if f.honorCtx && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return resp, err
}

type testFixture struct {
	sessions *session.Manager
	backend  *fakeBackend
	manager  *refresh.Manager
}

func setupTestFixture(t *testing.T, creds session.Credentials) *testFixture {
	t.Helper()
	refresh.NowTimeFunc = func() time.Time { return testNow }
	t.Cleanup(func() { refresh.NowTimeFunc = time.Now })

	sessions := session.NewManager(kvstorefake.NewFakeStore(), session.WithNowFunc(func() time.Time { return testNow }))
	require.NoError(t, sessions.Save(context.Background(), session.State{
		Credentials: creds,
		User:        session.Profile(`{"id":42}`),
	}))

	fb := &fakeBackend{refresh: func(int, string) (*oauthmodel.RefreshResponse, error) {
		return &oauthmodel.RefreshResponse{AccessToken: "AT2", ExpiresIn: 3600}, nil
	}}
	return &testFixture{
		sessions: sessions,
		backend:  fb,
		manager:  refresh.NewManager(fb, sessions, config.OAuth{}),
	}
}

func TestEnsureValid_SafetyBuffer(t *testing.T) {
	tests := []struct {
		name        string
		expiresIn   time.Duration
		wantRefresh bool
	}{
		{"expires in 4 minutes", 4 * time.Minute, true},
		{"expires in 1 hour", time.Hour, false},
		{"already expired", -time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestFixture(t, session.Credentials{
				AccessToken:  "AT1",
				RefreshToken: "RT1",
				ExpiresAt:    testNow.Add(tt.expiresIn),
			})

			require.True(t, f.manager.EnsureValid(context.Background()))
			if tt.wantRefresh {
				require.EqualValues(t, 1, f.backend.calls.Load())
				require.Equal(t, "AT2", f.sessions.Credentials(context.Background()).AccessToken)
			} else {
				require.Zero(t, f.backend.calls.Load())
			}
		})
	}
}

func TestRefresh_SavesNewCredentials(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t, session.Credentials{AccessToken: "AT1", RefreshToken: "RT1", ExpiresAt: testNow})
	f.backend.refresh = func(_ int, rt string) (*oauthmodel.RefreshResponse, error) {
		require.Equal(t, "RT1", rt)
		return &oauthmodel.RefreshResponse{AccessToken: "AT2", RefreshToken: "RT2", ExpiresIn: 600}, nil
	}

	require.True(t, f.manager.Refresh(ctx))

	state := f.sessions.Snapshot(ctx)
	require.Equal(t, "AT2", state.Credentials.AccessToken)
	require.Equal(t, "RT2", state.Credentials.RefreshToken)
	require.True(t, testNow.Add(10*time.Minute).Equal(state.Credentials.ExpiresAt))
	require.JSONEq(t, `{"id":42}`, string(state.User))
}

func TestRefresh_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t, session.Credentials{AccessToken: "AT1", RefreshToken: "RT1", ExpiresAt: testNow})

	require.True(t, f.manager.Refresh(ctx))
	require.Equal(t, "RT1", f.sessions.Credentials(ctx).RefreshToken)
}

func TestRefresh_NetworkFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	before := session.Credentials{AccessToken: "AT1", RefreshToken: "RT1", ExpiresAt: testNow.Add(time.Minute)}
	f := setupTestFixture(t, before)
	f.backend.refresh = func(int, string) (*oauthmodel.RefreshResponse, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	err := f.manager.RefreshErr(ctx)
	require.Error(t, err)
	require.EqualValues(t, 2, f.backend.calls.Load())
	require.True(t, before.Equal(f.sessions.Credentials(ctx)))
	require.True(t, f.sessions.IsAuthenticated(ctx))
}

func TestRefresh_RetriesNetworkFailureOnce(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t, session.Credentials{AccessToken: "AT1", RefreshToken: "RT1", ExpiresAt: testNow})
	f.backend.refresh = func(call int, _ string) (*oauthmodel.RefreshResponse, error) {
		if call == 1 {
			return nil, errors.New("i/o timeout")
		}
		return &oauthmodel.RefreshResponse{AccessToken: "AT2", ExpiresIn: 60}, nil
	}

	require.True(t, f.manager.Refresh(ctx))
	require.EqualValues(t, 2, f.backend.calls.Load())
}

func TestRefresh_RejectedIsNotRetriedOrCleared(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t, session.Credentials{AccessToken: "AT1", RefreshToken: "RT1", ExpiresAt: testNow})
	f.backend.refresh = func(int, string) (*oauthmodel.RefreshResponse, error) {
		return nil, &backend.StatusError{Endpoint: backend.PathRefresh, StatusCode: http.StatusUnauthorized}
	}

	err := f.manager.RefreshErr(ctx)
	require.ErrorIs(t, err, rideerrors.ErrRefreshRejected)
	require.EqualValues(t, 1, f.backend.calls.Load())
	require.Equal(t, "RT1", f.sessions.Credentials(ctx).RefreshToken)
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t, session.Credentials{AccessToken: "AT1", ExpiresAt: testNow})

	require.ErrorIs(t, f.manager.RefreshErr(ctx), rideerrors.ErrNoRefreshToken)
	require.False(t, f.manager.EnsureValid(ctx))
	require.Zero(t, f.backend.calls.Load())
}

func TestEnsureValid_FailedRefreshKeepsUnexpiredToken(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t, session.Credentials{AccessToken: "AT1", RefreshToken: "RT1", ExpiresAt: testNow.Add(2 * time.Minute)})
	f.backend.refresh = func(int, string) (*oauthmodel.RefreshResponse, error) {
		return nil, &backend.StatusError{Endpoint: backend.PathRefresh, StatusCode: http.StatusBadGateway}
	}

	require.True(t, f.manager.EnsureValid(ctx))
	require.Equal(t, "AT1", f.sessions.Credentials(ctx).AccessToken)
}

func TestRefresh_LogoutDuringRefreshWins(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t, session.Credentials{AccessToken: "AT1", RefreshToken: "RT1", ExpiresAt: testNow})
	f.backend.refresh = func(int, string) (*oauthmodel.RefreshResponse, error) {
		require.NoError(t, f.sessions.Clear(ctx))
		return &oauthmodel.RefreshResponse{AccessToken: "AT2", ExpiresIn: 3600}, nil
	}

	require.ErrorIs(t, f.manager.RefreshErr(ctx), refresh.ErrSuperseded)
	require.False(t, f.sessions.IsAuthenticated(ctx))
}

func TestRefresh_ConcurrentCallersShareOneCall(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t, session.Credentials{AccessToken: "AT1", RefreshToken: "RT1", ExpiresAt: testNow})
	release := make(chan struct{})
	f.backend.refresh = func(int, string) (*oauthmodel.RefreshResponse, error) {
		<-release
		return &oauthmodel.RefreshResponse{AccessToken: "AT2", ExpiresIn: 3600}, nil
	}

	const callers = 5
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.manager.Refresh(ctx)
		}()
	}

	// let every caller reach the shared call before it completes
	require.Eventually(t, func() bool { return f.backend.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for ok := range results {
		require.True(t, ok)
	}
	require.EqualValues(t, 1, f.backend.calls.Load())
}

func TestRefresh_CancelledCallerDoesNotFailOthers(t *testing.T) {
	f := setupTestFixture(t, session.Credentials{AccessToken: "AT1", RefreshToken: "RT1", ExpiresAt: testNow})
	f.backend.honorCtx = true
	release := make(chan struct{})
	f.backend.refresh = func(int, string) (*oauthmodel.RefreshResponse, error) {
		<-release
		return &oauthmodel.RefreshResponse{AccessToken: "AT2", ExpiresIn: 3600}, nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- f.manager.RefreshErr(firstCtx) }()
	require.Eventually(t, func() bool { return f.backend.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- f.manager.RefreshErr(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-first:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(release)
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("shared refresh never finished")
	}
	require.EqualValues(t, 1, f.backend.calls.Load())
	require.Equal(t, "AT2", f.sessions.Credentials(context.Background()).AccessToken)
}
