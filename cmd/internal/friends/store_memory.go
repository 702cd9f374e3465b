package friends

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a dev/test Store. InTx works on a copy of the graph and
// swaps it in only when fn succeeds; transactions are serialized.
type InMemoryStore struct {
	mu    sync.Mutex
	edges memGraph
}

// memGraph maps user id to its outgoing edges in insertion order.
type memGraph map[int64][]Edge

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{edges: make(memGraph)}
}

func (s *InMemoryStore) FriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edges.friendIDs(userID), nil
}

func (s *InMemoryStore) Save(ctx context.Context, e Edge) error {
	return s.InTx(ctx, func(tx Tx) error { return tx.Save(ctx, e) })
}

func (s *InMemoryStore) Insert(ctx context.Context, e Edge) error {
	return s.InTx(ctx, func(tx Tx) error { return tx.Insert(ctx, e) })
}

func (s *InMemoryStore) Delete(ctx context.Context, userID, friendID int64) error {
	return s.InTx(ctx, func(tx Tx) error { return tx.Delete(ctx, userID, friendID) })
}

func (s *InMemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.edges.clone()
	if err := fn(&memTx{g: work}); err != nil {
		return err
	}
	s.edges = work
	return nil
}

type memTx struct {
	g memGraph
}

func (t *memTx) FriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.g.friendIDs(userID), nil
}

func (t *memTx) Save(ctx context.Context, e Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := t.g[e.UserID]
	for i := range out {
		if out[i].FriendID == e.FriendID {
			out[i].Category = e.Category
			return nil
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	t.g[e.UserID] = append(out, e)
	return nil
}

func (t *memTx) Insert(ctx context.Context, e Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, cur := range t.g[e.UserID] {
		if cur.FriendID == e.FriendID {
			return ErrAlreadyFriends
		}
	}
	return t.Save(ctx, e)
}

func (t *memTx) Delete(ctx context.Context, userID, friendID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := t.g[userID]
	for i := range out {
		if out[i].FriendID == friendID {
			t.g[userID] = append(out[:i:i], out[i+1:]...)
			return nil
		}
	}
	return nil
}

func (g memGraph) friendIDs(userID int64) []int64 {
	edges := g[userID]
	out := make([]int64, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.FriendID)
	}
	return out
}

func (g memGraph) clone() memGraph {
	out := make(memGraph, len(g))
	for k, v := range g {
		out[k] = append([]Edge(nil), v...)
	}
	return out
}
