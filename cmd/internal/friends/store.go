// Package friends keeps the symmetric friend graph: two directed edges per
// friendship, always written and removed together.
package friends

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidInput   = errors.New("friends: invalid input")
	ErrUnknownUser    = errors.New("friends: unknown user")
	ErrSelfFriend     = errors.New("friends: cannot add yourself")
	ErrAlreadyFriends = errors.New("friends: already friends")
	ErrNotFriends     = errors.New("friends: not friends")
)

// Edge is one directed friendship row: UserID considers FriendID a friend.
type Edge struct {
	UserID    int64
	FriendID  int64
	CreatedAt time.Time
	Category  string // empty means no label
}

// Reader answers friend graph queries.
type Reader interface {
	// FriendIDs returns every FriendID with an edge from userID, oldest first.
	// It returns an empty slice, not an error, when there are none.
	FriendIDs(ctx context.Context, userID int64) ([]int64, error)
}

// Writer mutates directed edges.
type Writer interface {
	// Save upserts one edge. An existing pair keeps its CreatedAt and only
	// has its Category replaced.
	Save(ctx context.Context, e Edge) error
	// Insert creates one edge and fails with ErrAlreadyFriends when the pair
	// already exists, including one committed by a concurrent transaction.
	Insert(ctx context.Context, e Edge) error
	// Delete removes one directed edge; absent edges are a no-op.
	Delete(ctx context.Context, userID, friendID int64) error
}

// Tx is the view of the store available inside a transaction.
type Tx interface {
	Reader
	Writer
}

// Store persists friend edges. Operations outside InTx run in their own
// implicit transaction.
type Store interface {
	Tx
	// InTx runs fn in one transaction. If fn returns an error nothing fn
	// wrote is visible afterwards.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
