package realtime

import (
	"log/slog"
	"sync"

	"parley/cmd/internal/metrics"
	v1 "parley/shared/contracts/realtime/v1"
)

// Topic is an in-memory subscription set with broadcast fanout. Every
// subscriber receives every published envelope; there is no per-recipient
// routing.
//
// Concurrency guarantees:
// - Subscribe/Unsubscribe are safe under concurrent Publish.
// - Publish never blocks (drops under backpressure).
// - Publish is panic-safe because Client.Send is never closed by the server.
type Topic struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	Name    string

	mu          sync.RWMutex
	subscribers map[string]*Client
}

// NewTopic constructs an empty topic.
func NewTopic(log *slog.Logger, m *metrics.Metrics, name string) *Topic {
	if log == nil {
		log = slog.Default()
	}
	return &Topic{
		log:         log,
		metrics:     m,
		Name:        name,
		subscribers: make(map[string]*Client),
	}
}

// Subscribe adds a client to the topic.
func (t *Topic) Subscribe(client *Client) {
	if t == nil || client == nil || client.SessionID == "" {
		return
	}

	t.mu.Lock()
	t.subscribers[client.SessionID] = client
	t.mu.Unlock()

	t.log.Info("topic.subscribe", "topic", t.Name, "session_id", client.SessionID, "user_id", client.UserID)
}

// Unsubscribe removes a client and signals shutdown for it.
func (t *Topic) Unsubscribe(sessionID string) {
	if t == nil || sessionID == "" {
		return
	}

	t.mu.Lock()
	cl := t.subscribers[sessionID]
	delete(t.subscribers, sessionID)
	t.mu.Unlock()

	// Signal client shutdown after removing from the set so no publisher
	// still holds it while its goroutines are torn down.
	if cl != nil {
		cl.Close()
	}

	t.log.Info("topic.unsubscribe", "topic", t.Name, "session_id", sessionID)
}

// Len returns the current subscriber count.
func (t *Topic) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscribers)
}

// Publish fans env out to all subscribers and reports how many queues
// accepted it. A full queue drops the envelope for that subscriber only.
func (t *Topic) Publish(env v1.Envelope) (delivered, dropped int) {
	if t == nil {
		return 0, 0
	}
	if env.Topic == "" {
		env.Topic = t.Name
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, s := range t.subscribers {
		if s == nil {
			continue
		}

		select {
		case <-s.Done():
			continue
		default:
		}

		select {
		case s.Send <- env:
			delivered++
			t.metrics.BroadcastDelivered()
		default:
			dropped++
			t.metrics.BroadcastDropped()
			t.log.Warn("topic.publish.drop", "topic", t.Name, "session_id", s.SessionID)
		}
	}
	return delivered, dropped
}
