package jwt_test

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-ride-session/token/jwt"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signedToken(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("someone else's secret"))
	require.NoError(t, err)
	return raw
}

func TestIntrospect(t *testing.T) {
	jwt.NowTimeFunc = func() time.Time { return testNow }
	t.Cleanup(func() { jwt.NowTimeFunc = time.Now })

	raw := signedToken(t, jwtlib.MapClaims{
		"sub":   "athlete-42",
		"iss":   "ride-backend",
		"aud":   "ride-app",
		"iat":   testNow.Add(-time.Minute).Unix(),
		"exp":   testNow.Add(time.Hour).Unix(),
		"roles": []string{"rider", "captain"},
	})

	ti, err := jwt.Introspect(raw)
	require.NoError(t, err)
	require.True(t, ti.Active)
	require.Equal(t, "athlete-42", *ti.Sub)
	require.Equal(t, "ride-backend", *ti.Iss)
	require.Equal(t, []string{"ride-app"}, ti.Aud)
	require.Equal(t, []string{"rider", "captain"}, ti.Roles)

	exp, err := ti.ExpiresAt()
	require.NoError(t, err)
	require.Equal(t, testNow.Add(time.Hour).Unix(), exp.Unix())
}

func TestIntrospect_Expired(t *testing.T) {
	jwt.NowTimeFunc = func() time.Time { return testNow }
	t.Cleanup(func() { jwt.NowTimeFunc = time.Now })

	ti, err := jwt.Introspect(signedToken(t, jwtlib.MapClaims{"exp": testNow.Add(-time.Second).Unix()}))
	require.NoError(t, err)
	require.False(t, ti.Active)
}

func TestExpiresAt(t *testing.T) {
	_, err := jwt.ExpiresAt(signedToken(t, jwtlib.MapClaims{"sub": "x"}))
	require.ErrorIs(t, err, jwt.ErrNoExpiry)

	_, err = jwt.ExpiresAt("opaque-strava-token")
	require.Error(t, err)

	ti, err := jwt.Introspect("  ")
	require.NoError(t, err)
	require.False(t, ti.Active)
}
