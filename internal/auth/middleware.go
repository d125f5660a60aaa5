package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/drallgood/weread-shelf-sync/internal/database"
	"github.com/drallgood/weread-shelf-sync/internal/logger"
)

type contextKey string

const (
	userContextKey   contextKey = "user"
	claimsContextKey contextKey = "claims"
)

// CookieName is the HttpOnly cookie the login handler sets alongside the
// bearer token.
const CookieName = "weread_token"

// UserLookup resolves the user a token was issued for.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*database.User, error)
}

// Middleware authenticates API requests with bearer tokens.
type Middleware struct {
	tokens *TokenService
	users  UserLookup
}

func NewMiddleware(tokens *TokenService, users UserLookup) *Middleware {
	return &Middleware{tokens: tokens, users: users}
}

// RequireAuth rejects requests without a valid token for an active user and
// stores the user in the request context.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		claims, err := m.tokens.Parse(TokenFromRequest(r))
		if err != nil {
			log.Debug("Authentication failed", map[string]interface{}{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			writeUnauthorized(w, "认证失败，请重新登录")
			return
		}

		user, err := m.users.GetUser(r.Context(), claims.UserID)
		if err != nil {
			log.Debug("Token user not found", map[string]interface{}{
				"path":    r.URL.Path,
				"user_id": claims.UserID,
				"error":   err.Error(),
			})
			writeUnauthorized(w, "用户不存在或已停用")
			return
		}

		ctx := WithClaims(WithUser(r.Context(), user), claims)
		ctx = logger.WithLogger(ctx, log.With(map[string]interface{}{"user_id": user.ID}))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenFromRequest reads the bearer token, falling back to the session
// cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	response := map[string]interface{}{
		"success":        false,
		"message":        message,
		"error":          "authentication_required",
		"requires_login": true,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Get().Error("Failed to encode middleware error response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// UserFromContext returns the authenticated user.
func UserFromContext(ctx context.Context) (*database.User, bool) {
	user, ok := ctx.Value(userContextKey).(*database.User)
	return user, ok
}

// ClaimsFromContext returns the verified token claims.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok
}

// WithUser stores user in ctx.
func WithUser(ctx context.Context, user *database.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// WithClaims stores verified claims in ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
