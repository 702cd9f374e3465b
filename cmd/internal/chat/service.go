package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"

	"parley/cmd/internal/metrics"
)

// DefaultRetention is the purge window used when PurgeOld gets a non-positive retention.
const DefaultRetention = 7 * 24 * time.Hour

// SendPolicy decides whether sender may message receiver. A refusal should
// wrap ErrNotPermitted.
type SendPolicy interface {
	AllowSend(ctx context.Context, senderID, receiverID int64) error
}

// Service is the conversation service: the only writer of the message store.
type Service struct {
	store   MessageStore
	policy  SendPolicy
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source used for SentAt defaults and purge cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSendPolicy gates Send. Without a policy any pair may exchange messages.
func WithSendPolicy(p SendPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// NewService constructs a Service over store.
func NewService(store MessageStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("chat: nil store")
	}
	s := &Service{
		store: store,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Send persists m and returns the stored record.
//
// SentAt defaults to the current time and Delivered is always true. Content
// is not validated here; callers reject blank content with ValidateContent.
func (s *Service) Send(ctx context.Context, m Message) (Message, error) {
	if s.policy != nil {
		if err := s.policy.AllowSend(ctx, m.SenderID, m.ReceiverID); err != nil {
			return Message{}, err
		}
	}

	m.ID = 0
	if m.SentAt == nil {
		now := s.now()
		m.SentAt = &now
	}
	m.Delivered = true

	stored, err := s.store.Save(ctx, m)
	if err != nil {
		s.metrics.PersistFailed()
		return Message{}, fmt.Errorf("chat: send: %w", err)
	}
	s.metrics.MessagePersisted()
	s.log.Debug("chat.send.ok",
		"message_id", stored.ID,
		"sender_id", stored.SenderID,
		"receiver_id", stored.ReceiverID,
	)
	return stored, nil
}

// History returns the messages sent from senderID to receiverID in storage order.
func (s *Service) History(ctx context.Context, senderID, receiverID int64) ([]Message, error) {
	out, err := s.store.FindByPair(ctx, senderID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("chat: history: %w", err)
	}
	return out, nil
}

// ConversationHistory merges both directions between a and b, ordered by
// SentAt ascending. Messages without SentAt sort after all others and keep
// their relative order.
func (s *Service) ConversationHistory(ctx context.Context, a, b int64) ([]Message, error) {
	ab, err := s.store.FindByPair(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("chat: conversation history: %w", err)
	}

	all := ab
	if a != b {
		ba, err := s.store.FindByPair(ctx, b, a)
		if err != nil {
			return nil, fmt.Errorf("chat: conversation history: %w", err)
		}
		all = append(all, ba...)
	}

	slices.SortStableFunc(all, compareSentAtNilLast)
	return all, nil
}

// AllMessagesForUser returns every message userID sent or received ordered by
// SentAt. Unlike ConversationHistory it has no rule for missing timestamps:
// when two or more messages are listed and any lacks SentAt the call fails
// with ErrUnorderedTimestamp.
func (s *Service) AllMessagesForUser(ctx context.Context, userID int64) ([]Message, error) {
	sent, err := s.store.FindBySender(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat: all messages: %w", err)
	}
	received, err := s.store.FindByReceiver(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat: all messages: %w", err)
	}

	all := lo.UniqBy(append(sent, received...), func(m Message) int64 { return m.ID })
	if len(all) > 1 && lo.SomeBy(all, func(m Message) bool { return m.SentAt == nil }) {
		return nil, ErrUnorderedTimestamp
	}

	slices.SortStableFunc(all, func(x, y Message) int { return x.SentAt.Compare(*y.SentAt) })
	return all, nil
}

// PurgeOld deletes, one id at a time, every message whose SentAt is older
// than now minus retention. It returns how many messages were deleted; on a
// delete failure the count covers the deletions that succeeded.
func (s *Service) PurgeOld(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := s.now().Add(-retention)

	candidates, err := s.store.FindAllOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("chat: purge: %w", err)
	}
	expired := lo.Filter(candidates, func(m Message, _ int) bool {
		return m.SentAt != nil && m.SentAt.Before(cutoff)
	})

	deleted := 0
	for _, m := range expired {
		if err := s.store.DeleteByID(ctx, m.ID); err != nil {
			s.metrics.MessagesPurged(deleted)
			s.log.Error("chat.purge.fail", "message_id", m.ID, "deleted", deleted, "err", err)
			return deleted, fmt.Errorf("chat: purge message %d: %w", m.ID, err)
		}
		deleted++
	}

	s.metrics.MessagesPurged(deleted)
	s.log.Info("chat.purge.done", "cutoff", cutoff, "deleted", deleted)
	return deleted, nil
}

// MarkAsDelivered sets Delivered on each existing message. Unknown ids are skipped.
func (s *Service) MarkAsDelivered(ctx context.Context, ids []int64) error {
	for _, id := range lo.Uniq(ids) {
		m, err := s.store.FindByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("chat: mark delivered: %w", err)
		}
		if m.Delivered {
			continue
		}
		m.Delivered = true
		if _, err := s.store.Save(ctx, m); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("chat: mark delivered: %w", err)
		}
	}
	return nil
}

func compareSentAtNilLast(x, y Message) int {
	switch {
	case x.SentAt == nil && y.SentAt == nil:
		return 0
	case x.SentAt == nil:
		return 1
	case y.SentAt == nil:
		return -1
	}
	return x.SentAt.Compare(*y.SentAt)
}
