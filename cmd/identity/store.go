//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_directory.go -package=mocks
package identity

import (
	"context"
	"time"
)

// User is the chat core's read view of an account.
type User struct {
	ID       int64
	Username string
	Email    string
	Online   bool
	LastSeen *time.Time
}

// Directory is the user lookup boundary used by the chat core.
//
// Lookups return a NotFoundError (errors.Is(err, ErrNotFound)) when the user does not exist.
type Directory interface {
	UserByID(ctx context.Context, id int64) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)

	// SetPresence records the online flag and last-seen time for a user.
	// Missing users are ignored.
	SetPresence(ctx context.Context, id int64, online bool, at time.Time) error
}

// Seeder creates users for local development. Production registration is external.
type Seeder interface {
	EnsureUser(ctx context.Context, username, email string) (User, error)
}
