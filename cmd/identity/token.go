package identity

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated caller attached to a request or session.
type Principal struct {
	UserID   int64
	Username string
}

// Claims is the access token body. The subject carries the numeric user id.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuthenticator issues and verifies HS256 access tokens.
//
// Tokens are resolved against the Directory on every Authenticate call, so a
// removed user is rejected even while its token is still unexpired.
type TokenAuthenticator struct {
	dir    Directory
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures a TokenAuthenticator.
type TokenOption func(*TokenAuthenticator)

// WithIssuer sets the iss claim written and required by the authenticator.
func WithIssuer(iss string) TokenOption {
	return func(a *TokenAuthenticator) { a.issuer = strings.TrimSpace(iss) }
}

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(a *TokenAuthenticator) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) TokenOption {
	return func(a *TokenAuthenticator) {
		if now != nil {
			a.now = now
		}
	}
}

const minSigningKeyLen = 32

// NewTokenAuthenticator returns an authenticator that signs with key.
// The key must be at least 32 bytes.
func NewTokenAuthenticator(dir Directory, key []byte, opts ...TokenOption) (*TokenAuthenticator, error) {
	const op = "identity.NewTokenAuthenticator"

	if dir == nil {
		return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil directory"}
	}
	if len(key) < minSigningKeyLen {
		return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "signing key must be at least 32 bytes"}
	}

	a := &TokenAuthenticator{
		dir: dir,
		key: append([]byte(nil), key...),
		ttl: 24 * time.Hour,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// IssueToken returns a signed access token for u and its expiry.
func (a *TokenAuthenticator) IssueToken(u User) (string, time.Time, error) {
	const op = "identity.IssueToken"

	if u.ID <= 0 {
		return "", time.Time{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "user id is required"}
	}

	now := a.now().UTC()
	exp := now.Add(a.ttl)

	claims := Claims{
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Authenticate verifies raw and resolves its subject to a known user.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, raw string) (Principal, error) {
	const op = "identity.Authenticate"

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Principal{}, unauthenticated(op, "missing token")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, unauthenticated(op, "token expired")
		}
		return Principal{}, unauthenticated(op, "invalid token")
	}
	if !tok.Valid {
		return Principal{}, unauthenticated(op, "invalid token")
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, unauthenticated(op, "invalid subject")
	}

	u, err := a.dir.UserByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return Principal{}, unauthenticated(op, "unknown user")
		}
		return Principal{}, err
	}

	return Principal{UserID: u.ID, Username: u.Username}, nil
}

// TokenFromRequest extracts a bearer token from the Authorization header,
// falling back to the access_token query parameter (browsers cannot set
// headers on WebSocket upgrades).
func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h != "" {
		scheme, rest, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

type principalCtxKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(Principal)
	return p, ok && p.UserID > 0
}
