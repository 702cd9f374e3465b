package friends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"

	"parley/cmd/identity"
	"parley/cmd/internal/chat"
	"parley/cmd/internal/metrics"
)

// MaxCategoryLen bounds a friend category label, in runes.
const MaxCategoryLen = 64

// Service is the only writer of the friend graph.
type Service struct {
	store   Store
	dir     identity.Directory
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

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

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, dir identity.Directory, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("friends: nil store")
	}
	if dir == nil {
		return nil, errors.New("friends: nil directory")
	}
	s := &Service{
		store: store,
		dir:   dir,
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

// AddFriend makes requester and target friends by writing both directed
// edges in one transaction. A nil error means the friendship now exists and
// was created by this call.
func (s *Service) AddFriend(ctx context.Context, requesterUsername, targetUsername string) error {
	requester, err := s.resolve(ctx, requesterUsername)
	if err != nil {
		return err
	}
	target, err := s.resolve(ctx, targetUsername)
	if err != nil {
		return err
	}
	if requester.ID == target.ID {
		return ErrSelfFriend
	}

	// The lower id's edge is always inserted first so concurrent adds of the
	// same pair, in either direction, contend on the same row and the loser
	// sees ErrAlreadyFriends instead of deadlocking.
	first, second := requester.ID, target.ID
	if first > second {
		first, second = second, first
	}
	created := s.now()
	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.Insert(ctx, Edge{UserID: first, FriendID: second, CreatedAt: created}); err != nil {
			return err
		}
		return tx.Insert(ctx, Edge{UserID: second, FriendID: first, CreatedAt: created})
	})
	if err != nil {
		if !errors.Is(err, ErrAlreadyFriends) {
			s.log.Error("friends.add.fail", "user_id", requester.ID, "friend_id", target.ID, "err", err)
		}
		return fmt.Errorf("friends: add: %w", err)
	}

	s.metrics.FriendshipAdded()
	s.log.Info("friends.add.ok", "user_id", requester.ID, "friend_id", target.ID)
	return nil
}

// AreFriends reports whether b is in a's friend list. Edges are symmetric,
// so one direction is enough.
func (s *Service) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	ids, err := s.store.FriendIDs(ctx, a)
	if err != nil {
		return false, fmt.Errorf("friends: lookup: %w", err)
	}
	return lo.Contains(ids, b), nil
}

// GetFriends resolves userID's friends. Edges pointing at users the
// directory no longer knows are skipped.
func (s *Service) GetFriends(ctx context.Context, userID int64) ([]identity.User, error) {
	ids, err := s.store.FriendIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("friends: list: %w", err)
	}

	out := make([]identity.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.dir.UserByID(ctx, id)
		if identity.IsNotFound(err) {
			s.log.Debug("friends.list.stale_edge", "user_id", userID, "friend_id", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("friends: resolve %d: %w", id, err)
		}
		out = append(out, u)
	}
	return out, nil
}

// RemoveFriend deletes both directed edges in one transaction. Removing a
// friendship that does not exist succeeds.
func (s *Service) RemoveFriend(ctx context.Context, userID, friendID int64) error {
	err := s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.Delete(ctx, userID, friendID); err != nil {
			return err
		}
		return tx.Delete(ctx, friendID, userID)
	})
	if err != nil {
		s.log.Error("friends.remove.fail", "user_id", userID, "friend_id", friendID, "err", err)
		return fmt.Errorf("friends: remove: %w", err)
	}

	s.metrics.FriendshipRemoved()
	s.log.Info("friends.remove.ok", "user_id", userID, "friend_id", friendID)
	return nil
}

// SetCategory labels userID's edge to friendID. Only that direction changes;
// an empty category clears the label.
func (s *Service) SetCategory(ctx context.Context, userID, friendID int64, category string) error {
	category = strings.TrimSpace(category)
	if utf8.RuneCountInString(category) > MaxCategoryLen {
		return fmt.Errorf("%w: category longer than %d characters", ErrInvalidInput, MaxCategoryLen)
	}

	err := s.store.InTx(ctx, func(tx Tx) error {
		ids, err := tx.FriendIDs(ctx, userID)
		if err != nil {
			return err
		}
		if !lo.Contains(ids, friendID) {
			return ErrNotFriends
		}
		return tx.Save(ctx, Edge{UserID: userID, FriendID: friendID, Category: category})
	})
	if err != nil {
		return fmt.Errorf("friends: set category: %w", err)
	}
	return nil
}

// AllowSend refuses messages between users who are not friends. Plugged
// into the conversation service when sending requires friendship.
func (s *Service) AllowSend(ctx context.Context, senderID, receiverID int64) error {
	ok, err := s.AreFriends(ctx, senderID, receiverID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %w", chat.ErrNotPermitted, ErrNotFriends)
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, username string) (identity.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return identity.User{}, fmt.Errorf("%w: empty username", ErrInvalidInput)
	}
	u, err := s.dir.UserByUsername(ctx, username)
	if identity.IsNotFound(err) {
		return identity.User{}, fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}
	if err != nil {
		return identity.User{}, fmt.Errorf("friends: resolve %q: %w", username, err)
	}
	return u, nil
}
