package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"parley/cmd/internal/storage/storagetest"
)

type seededDirectory interface {
	Directory
	Seeder
}

func directoryBackends(t *testing.T) map[string]func(t *testing.T) seededDirectory {
	t.Helper()

	return map[string]func(t *testing.T) seededDirectory{
		"memory": func(t *testing.T) seededDirectory { return NewInMemoryDirectory() },
		"sqlite": func(t *testing.T) seededDirectory {
			d, err := NewSQLiteDirectory(storagetest.OpenSQLite(t))
			require.NoError(t, err)
			return d
		},
		"postgres": func(t *testing.T) seededDirectory {
			pool := storagetest.OpenPostgres(t)
			schema := storagetest.PostgresSchema(t, pool)
			d, err := NewPostgresDirectory(pool, WithSchema(schema))
			require.NoError(t, err)
			return d
		},
	}
}

func TestDirectory_Conformance(t *testing.T) {
	t.Parallel()

	for name, open := range directoryBackends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			d := open(t)

			alice, err := d.EnsureUser(ctx, "alice", "alice@example.com")
			require.NoError(t, err)
			require.Positive(t, alice.ID)
			require.Equal(t, "alice", alice.Username)
			require.False(t, alice.Online)
			require.Nil(t, alice.LastSeen)

			again, err := d.EnsureUser(ctx, "alice", "alice@example.com")
			require.NoError(t, err)
			require.Equal(t, alice.ID, again.ID)

			bob, err := d.EnsureUser(ctx, "bob", "")
			require.NoError(t, err)
			require.NotEqual(t, alice.ID, bob.ID)
			require.Empty(t, bob.Email)

			got, err := d.UserByID(ctx, alice.ID)
			require.NoError(t, err)
			require.Equal(t, "alice@example.com", got.Email)

			got, err = d.UserByUsername(ctx, "bob")
			require.NoError(t, err)
			require.Equal(t, bob.ID, got.ID)

			_, err = d.UserByID(ctx, 999999)
			require.True(t, IsNotFound(err), "got %v", err)

			_, err = d.UserByUsername(ctx, "nobody")
			require.True(t, IsNotFound(err), "got %v", err)

			at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			require.NoError(t, d.SetPresence(ctx, alice.ID, true, at))

			got, err = d.UserByID(ctx, alice.ID)
			require.NoError(t, err)
			require.True(t, got.Online)
			require.NotNil(t, got.LastSeen)
			require.True(t, got.LastSeen.Equal(at))

			// Unknown ids are ignored.
			require.NoError(t, d.SetPresence(ctx, 999999, true, at))
		})
	}
}

func TestDirectory_EnsureUser_RequiresUsername(t *testing.T) {
	t.Parallel()

	for name, open := range directoryBackends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := open(t).EnsureUser(context.Background(), "  ", "x@example.com")
			require.True(t, IsInvalidInput(err), "got %v", err)
		})
	}
}

func TestInMemoryDirectory_AddConflicts(t *testing.T) {
	t.Parallel()

	d := NewInMemoryDirectory()
	_, err := d.Add("alice", "a@example.com")
	require.NoError(t, err)

	_, err = d.Add("alice", "other@example.com")
	var ce ConflictError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, "username", ce.Field)

	_, err = d.Add("carol", "a@example.com")
	require.True(t, errors.As(err, &ce))
	require.Equal(t, "email", ce.Field)
	require.True(t, IsConflict(err))
	require.ErrorIs(t, err, ErrConflict)
}

func TestInMemoryDirectory_Remove(t *testing.T) {
	t.Parallel()

	d := NewInMemoryDirectory()
	u, err := d.Add("alice", "")
	require.NoError(t, err)

	d.Remove(u.ID)

	_, err = d.UserByID(context.Background(), u.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryDirectory_CanceledContext(t *testing.T) {
	t.Parallel()

	d := NewInMemoryDirectory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.UserByID(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewPostgresDirectory_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresDirectory(nil)
	require.Error(t, err)

	_, err = NewPostgresDirectory(nil, WithSchema("bad-schema"))
	require.Error(t, err)
}

func TestOpError_Format(t *testing.T) {
	t.Parallel()

	err := OpError{Op: "identity.X", Kind: ErrInvalidInput, Msg: "boom"}
	require.Equal(t, "identity.X: invalid_input: boom", err.Error())
	require.ErrorIs(t, err, ErrInvalidInput)

	nf := NotFoundError{Op: "identity.Y", Resource: "user"}
	require.Equal(t, "identity.Y: not_found: user", nf.Error())
}
