package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer   = "weread-shelf-sync"
	DefaultTokenTTL = 30 * 24 * time.Hour
)

// Login modes recorded in the token.
const (
	LoginModeVerified = "verified"
	LoginModeDev      = "dev"
)

// TokenError is returned for tokens that are missing, malformed, expired or
// signed with the wrong key.
type TokenError struct {
	Code string
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// Expired reports whether the token was rejected only because it expired.
func (e *TokenError) Expired() bool {
	return errors.Is(e.Err, jwt.ErrTokenExpired)
}

// Claims identify a local user and the WeRead identity bound to it.
type Claims struct {
	UserID    string `json:"user_id"`
	WrVid     string `json:"wr_vid"`
	LoginMode string `json:"login_mode,omitempty"`
	jwt.RegisteredClaims
}

// Subject is what a token is issued for.
type Subject struct {
	UserID    string
	WrVid     string
	LoginMode string
}

// TokenService signs and verifies HS256 API tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), issuer: DefaultIssuer, ttl: ttl, now: time.Now}, nil
}

// TTL is the lifetime of issued tokens.
func (ts *TokenService) TTL() time.Duration {
	return ts.ttl
}

// Sign issues a token for sub and returns it with its expiry.
func (ts *TokenService) Sign(sub Subject) (string, time.Time, error) {
	now := ts.now()
	exp := now.Add(ts.ttl)

	claims := Claims{
		UserID:    sub.UserID,
		WrVid:     sub.WrVid,
		LoginMode: sub.LoginMode,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   sub.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(ts.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return s, exp, nil
}

// Parse verifies a token and returns its claims.
func (ts *TokenService) Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, &TokenError{Code: "no_token"}
	}
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		// enforce HS256
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secret, nil
	},
		jwt.WithIssuer(ts.issuer),
		jwt.WithTimeFunc(ts.now),
	)
	if err != nil {
		return nil, &TokenError{Code: "invalid_token", Err: err}
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid || claims.Subject == "" {
		return nil, &TokenError{Code: "invalid_token", Err: errors.New("invalid token claims")}
	}
	return claims, nil
}
