package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret", time.Hour)
	require.NoError(t, err)
	return ts
}

func TestTokenService_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, exp, err := ts.Sign(Subject{UserID: "u-1", WrVid: "1234567", LoginMode: LoginModeVerified})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := ts.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "1234567", claims.WrVid)
	assert.Equal(t, LoginModeVerified, claims.LoginMode)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenService_DefaultTTL(t *testing.T) {
	ts, err := NewTokenService("s", 0)
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, ts.TTL())

	_, err = NewTokenService("", time.Hour)
	assert.Error(t, err)
}

func TestTokenService_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	good, _, err := ts.Sign(Subject{UserID: "u-1"})
	require.NoError(t, err)

	other, err := NewTokenService("other-secret", time.Hour)
	require.NoError(t, err)
	foreign, _, err := other.Sign(Subject{UserID: "u-1"})
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"empty", "", "no_token"},
		{"garbage", "not-a-token", "invalid_token"},
		{"wrong key", foreign, "invalid_token"},
		{"alg none", unsigned, "invalid_token"},
		{"tampered", good + "x", "invalid_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.Parse(tt.token)
			var tokErr *TokenError
			require.True(t, errors.As(err, &tokErr))
			assert.Equal(t, tt.code, tokErr.Code)
		})
	}
}

func TestTokenService_Expired(t *testing.T) {
	ts := newTestTokenService(t)
	issued := time.Now().Add(-2 * time.Hour)
	ts.now = func() time.Time { return issued }
	token, _, err := ts.Sign(Subject{UserID: "u-1"})
	require.NoError(t, err)

	ts.now = time.Now
	_, err = ts.Parse(token)
	var tokErr *TokenError
	require.True(t, errors.As(err, &tokErr))
	assert.True(t, tokErr.Expired())
}
