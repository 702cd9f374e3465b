// Package chat implements direct-message persistence and the conversation
// service that orders, sends and purges messages between two users.
package chat

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidInput marks a request rejected before reaching the store.
	ErrInvalidInput = errors.New("chat: invalid input")
	// ErrNotFound is returned by FindByID and Save(update) for unknown ids.
	ErrNotFound = errors.New("chat: message not found")
	// ErrUnorderedTimestamp is returned when a listing that requires every
	// message to carry SentAt meets one that does not.
	ErrUnorderedTimestamp = errors.New("chat: message has no sent_at")
	// ErrNotPermitted is returned when a send policy refuses the pair.
	ErrNotPermitted = errors.New("chat: sender may not message receiver")
)

// Message is one stored direct message.
//
// ID is zero until the message is persisted. SentAt is nil only for rows
// written by older clients; Send always sets it.
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Content    string
	SentAt     *time.Time
	Delivered  bool
}

// clone copies m so callers never share the SentAt pointer with a store.
func (m Message) clone() Message {
	if m.SentAt != nil {
		ts := *m.SentAt
		m.SentAt = &ts
	}
	return m
}

// ValidateContent rejects blank message bodies.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.Join(ErrInvalidInput, errors.New("content must not be empty"))
	}
	return nil
}
