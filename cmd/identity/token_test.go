package identity_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"parley/cmd/identity"
	"parley/cmd/identity/mocks"
)

var testKey = []byte(strings.Repeat("k", 32))

func TestNewTokenAuthenticator_Validation(t *testing.T) {
	t.Parallel()

	dir := identity.NewInMemoryDirectory()

	_, err := identity.NewTokenAuthenticator(nil, testKey)
	require.ErrorIs(t, err, identity.ErrInvalidInput)

	_, err = identity.NewTokenAuthenticator(dir, []byte("short"))
	require.ErrorIs(t, err, identity.ErrInvalidInput)
}

func TestTokenAuthenticator_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := identity.NewInMemoryDirectory()
	alice, err := dir.Add("alice", "alice@example.com")
	require.NoError(t, err)

	a, err := identity.NewTokenAuthenticator(dir, testKey, identity.WithIssuer("parley"))
	require.NoError(t, err)

	tok, exp, err := a.IssueToken(alice)
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))

	p, err := a.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, identity.Principal{UserID: alice.ID, Username: "alice"}, p)
}

func TestTokenAuthenticator_Rejects(t *testing.T) {
	t.Parallel()

	dir := identity.NewInMemoryDirectory()
	alice, err := dir.Add("alice", "")
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer, err := identity.NewTokenAuthenticator(dir, testKey,
		identity.WithIssuer("parley"),
		identity.WithTokenTTL(time.Minute),
		identity.WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	tok, _, err := issuer.IssueToken(alice)
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := issuer.Authenticate(context.Background(), " ")
		require.True(t, identity.IsNotAuthenticated(err))
	})

	t.Run("expired", func(t *testing.T) {
		later, err := identity.NewTokenAuthenticator(dir, testKey,
			identity.WithIssuer("parley"),
			identity.WithClock(func() time.Time { return now.Add(2 * time.Minute) }),
		)
		require.NoError(t, err)

		_, err = later.Authenticate(context.Background(), tok)
		require.True(t, identity.IsNotAuthenticated(err))
		require.Contains(t, err.Error(), "expired")
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := identity.NewTokenAuthenticator(dir, []byte(strings.Repeat("x", 32)),
			identity.WithIssuer("parley"),
			identity.WithClock(func() time.Time { return now }),
		)
		require.NoError(t, err)

		_, err = other.Authenticate(context.Background(), tok)
		require.True(t, identity.IsNotAuthenticated(err))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := identity.NewTokenAuthenticator(dir, testKey,
			identity.WithIssuer("someone-else"),
			identity.WithClock(func() time.Time { return now }),
		)
		require.NoError(t, err)

		_, err = other.Authenticate(context.Background(), tok)
		require.True(t, identity.IsNotAuthenticated(err))
	})

	t.Run("alg none", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   "1",
			Issuer:    "parley",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}
		raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = issuer.Authenticate(context.Background(), raw)
		require.True(t, identity.IsNotAuthenticated(err))
	})

	t.Run("removed user", func(t *testing.T) {
		bob, err := dir.Add("bob", "")
		require.NoError(t, err)
		bobTok, _, err := issuer.IssueToken(bob)
		require.NoError(t, err)

		dir.Remove(bob.ID)

		_, err = issuer.Authenticate(context.Background(), bobTok)
		require.True(t, identity.IsNotAuthenticated(err))
	})
}

func TestTokenAuthenticator_DirectoryFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)

	a, err := identity.NewTokenAuthenticator(dir, testKey)
	require.NoError(t, err)

	tok, _, err := a.IssueToken(identity.User{ID: 7, Username: "g"})
	require.NoError(t, err)

	boom := errors.New("db down")
	dir.EXPECT().UserByID(gomock.Any(), int64(7)).Return(identity.User{}, boom)

	_, err = a.Authenticate(context.Background(), tok)
	require.ErrorIs(t, err, boom)
	require.False(t, identity.IsNotAuthenticated(err))
}

func TestIssueToken_RequiresID(t *testing.T) {
	t.Parallel()

	a, err := identity.NewTokenAuthenticator(identity.NewInMemoryDirectory(), testKey)
	require.NoError(t, err)

	_, _, err = a.IssueToken(identity.User{})
	require.ErrorIs(t, err, identity.ErrInvalidInput)
}

func TestTokenFromRequest(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header string
		url    string
		want   string
	}{
		{name: "bearer", header: "Bearer abc", url: "/", want: "abc"},
		{name: "bearer lowercase", header: "bearer  abc ", url: "/", want: "abc"},
		{name: "other scheme", header: "Basic abc", url: "/?access_token=q", want: ""},
		{name: "query", url: "/ws?access_token=q", want: "q"},
		{name: "none", url: "/", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tc.url, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			require.Equal(t, tc.want, identity.TokenFromRequest(r))
		})
	}
}

func TestPrincipalContext(t *testing.T) {
	t.Parallel()

	_, ok := identity.PrincipalFrom(context.Background())
	require.False(t, ok)

	ctx := identity.WithPrincipal(context.Background(), identity.Principal{UserID: 3, Username: "c"})
	p, ok := identity.PrincipalFrom(ctx)
	require.True(t, ok)
	require.Equal(t, int64(3), p.UserID)
}
