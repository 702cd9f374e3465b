package chat

import (
	"context"
	"time"
)

// MessageStore persists and queries messages.
//
// Requirements:
//   - Save inserts when ID is zero and assigns a monotonically increasing id.
//   - Save with a non-zero ID rewrites that row or fails with ErrNotFound.
//   - Listing methods return rows in storage (id) order; callers sort.
//   - FindAllOlderThan only returns rows with a non-nil SentAt strictly before cutoff.
type MessageStore interface {
	FindByPair(ctx context.Context, senderID, receiverID int64) ([]Message, error)
	FindBySender(ctx context.Context, senderID int64) ([]Message, error)
	FindByReceiver(ctx context.Context, receiverID int64) ([]Message, error)
	FindByID(ctx context.Context, id int64) (Message, error)
	FindAllOlderThan(ctx context.Context, cutoff time.Time) ([]Message, error)
	Save(ctx context.Context, m Message) (Message, error)
	DeleteByID(ctx context.Context, id int64) error
}
