package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drallgood/weread-shelf-sync/internal/database"
)

type fakeUsers map[string]*database.User

func (f fakeUsers) GetUser(_ context.Context, id string) (*database.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, database.ErrNotFound
}

func TestMiddleware_RequireAuth(t *testing.T) {
	ts, err := NewTokenService("test-secret", time.Hour)
	require.NoError(t, err)
	users := fakeUsers{"u-1": {ID: "u-1", WrVid: "1234567"}}
	mw := NewMiddleware(ts, users)

	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		require.True(t, ok)
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, user.ID, claims.UserID)
		w.WriteHeader(http.StatusNoContent)
	}))

	valid, _, err := ts.Sign(Subject{UserID: "u-1", WrVid: "1234567"})
	require.NoError(t, err)
	orphan, _, err := ts.Sign(Subject{UserID: "u-2"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) }, http.StatusNoContent},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: valid}) }, http.StatusNoContent},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"unknown user", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+orphan) }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/books", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				var body map[string]interface{}
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, false, body["success"])
				assert.Equal(t, true, body["requires_login"])
			}
		})
	}
}

func TestTokenError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &TokenError{Code: "invalid_token", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "invalid_token: boom", err.Error())
}
