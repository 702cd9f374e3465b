package realtime

import (
	"log/slog"
	"sync"

	"parley/cmd/internal/metrics"
	v1 "parley/shared/contracts/realtime/v1"
)

// Hub owns in-memory topics and provides stable topic handles.
// Persistence lives behind the conversation service.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	topics map[string]*Topic
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		metrics: m,
		topics:  make(map[string]*Topic),
	}
}

// Topic returns a stable handle for name, creating it on first use.
func (h *Hub) Topic(name string) *Topic {
	h.mu.RLock()
	t, ok := h.topics[name]
	h.mu.RUnlock()
	if ok {
		return t
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.topics[name]; ok {
		return t
	}
	t = NewTopic(h.log, h.metrics, name)
	h.topics[name] = t
	return t
}

// Messages is the shared chat topic every session subscribes to.
func (h *Hub) Messages() *Topic {
	return h.Topic(v1.TopicMessages)
}
