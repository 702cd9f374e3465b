package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryDirectory is a dev/test Directory. Ids are assigned sequentially from 1.
type InMemoryDirectory struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]User
}

// NewInMemoryDirectory constructs an empty in-memory directory.
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{byID: make(map[int64]User)}
}

// Add registers a new user. Username and email must be unique.
func (d *InMemoryDirectory) Add(username, email string) (User, error) {
	const op = "identity.Add"

	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "username is required"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range d.byID {
		if u.Username == username {
			return User{}, ConflictError{Op: op, Field: "username"}
		}
		if email != "" && u.Email == email {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
	}

	d.nextID++
	u := User{ID: d.nextID, Username: username, Email: email}
	d.byID[u.ID] = u
	return u, nil
}

// Remove deletes a user without touching anything that references it.
func (d *InMemoryDirectory) Remove(id int64) {
	d.mu.Lock()
	delete(d.byID, id)
	d.mu.Unlock()
}

// EnsureUser returns the user named username, creating it when absent.
func (d *InMemoryDirectory) EnsureUser(ctx context.Context, username, email string) (User, error) {
	if u, err := d.UserByUsername(ctx, username); err == nil {
		return u, nil
	}
	return d.Add(username, email)
}

// UserByID implements Directory.
func (d *InMemoryDirectory) UserByID(ctx context.Context, id int64) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	d.mu.RLock()
	u, ok := d.byID[id]
	d.mu.RUnlock()

	if !ok {
		return User{}, NotFoundError{Op: "identity.UserByID", Resource: "user"}
	}
	return u, nil
}

// UserByUsername implements Directory.
func (d *InMemoryDirectory) UserByUsername(ctx context.Context, username string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	username = strings.TrimSpace(username)

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, u := range d.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, NotFoundError{Op: "identity.UserByUsername", Resource: "user"}
}

// SetPresence implements Directory.
func (d *InMemoryDirectory) SetPresence(ctx context.Context, id int64, online bool, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.byID[id]
	if !ok {
		return nil
	}
	seen := at.UTC()
	u.Online = online
	u.LastSeen = &seen
	d.byID[id] = u
	return nil
}
