package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a dev-only MessageStore used when no database is configured.
type InMemoryStore struct {
	mu     sync.Mutex
	nextID int64
	msgs   []Message // ordered by id
}

// NewInMemoryStore constructs an empty in-memory MessageStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{msgs: make([]Message, 0, 256)}
}

func (s *InMemoryStore) FindByPair(ctx context.Context, senderID, receiverID int64) ([]Message, error) {
	return s.filter(ctx, func(m Message) bool {
		return m.SenderID == senderID && m.ReceiverID == receiverID
	})
}

func (s *InMemoryStore) FindBySender(ctx context.Context, senderID int64) ([]Message, error) {
	return s.filter(ctx, func(m Message) bool { return m.SenderID == senderID })
}

func (s *InMemoryStore) FindByReceiver(ctx context.Context, receiverID int64) ([]Message, error) {
	return s.filter(ctx, func(m Message) bool { return m.ReceiverID == receiverID })
}

func (s *InMemoryStore) FindAllOlderThan(ctx context.Context, cutoff time.Time) ([]Message, error) {
	return s.filter(ctx, func(m Message) bool {
		return m.SentAt != nil && m.SentAt.Before(cutoff)
	})
}

func (s *InMemoryStore) FindByID(ctx context.Context, id int64) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return Message{}, ErrNotFound
	}
	return s.msgs[i].clone(), nil
}

func (s *InMemoryStore) Save(ctx context.Context, m Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	m = m.clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == 0 {
		s.nextID++
		m.ID = s.nextID
		s.msgs = append(s.msgs, m)
		return m.clone(), nil
	}

	i := s.indexOf(m.ID)
	if i < 0 {
		return Message{}, ErrNotFound
	}
	s.msgs[i] = m
	return m.clone(), nil
}

func (s *InMemoryStore) DeleteByID(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(id); i >= 0 {
		s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	}
	return nil
}

func (s *InMemoryStore) filter(ctx context.Context, keep func(Message) bool) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, 0)
	for _, m := range s.msgs {
		if keep(m) {
			out = append(out, m.clone())
		}
	}
	return out, nil
}

// indexOf binary-searches the id-ordered slice. Caller holds s.mu.
func (s *InMemoryStore) indexOf(id int64) int {
	i := sort.Search(len(s.msgs), func(i int) bool { return s.msgs[i].ID >= id })
	if i < len(s.msgs) && s.msgs[i].ID == id {
		return i
	}
	return -1
}
