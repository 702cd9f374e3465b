package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"parley/cmd/internal/metrics"
	v1 "parley/shared/contracts/realtime/v1"
)

func TestTopic_PublishFansOutToEverySubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil, nil)
	topic := hub.Messages()
	require.Same(t, topic, hub.Topic(v1.TopicMessages))

	a := NewClient(1, "s-a", 4)
	b := NewClient(2, "s-b", 4)
	c := NewClient(0, "s-c", 4)
	for _, cl := range []*Client{a, b, c} {
		topic.Subscribe(cl)
	}
	require.Equal(t, 3, topic.Len())

	delivered, dropped := topic.Publish(v1.Envelope{V: v1.Version, Type: v1.TypeChatMessage, ID: "e1"})
	require.Equal(t, 3, delivered)
	require.Zero(t, dropped)

	for _, cl := range []*Client{a, b, c} {
		env := <-cl.Send
		require.Equal(t, "e1", env.ID)
		require.Equal(t, v1.TopicMessages, env.Topic)
	}
}

func TestTopic_FullQueueDropsWithoutBlocking(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	topic := NewTopic(nil, m, v1.TopicMessages)

	slow := NewClient(1, "slow", 1)
	fast := NewClient(2, "fast", 8)
	topic.Subscribe(slow)
	topic.Subscribe(fast)

	for i := 0; i < 3; i++ {
		topic.Publish(v1.Envelope{V: v1.Version, Type: v1.TypeChatMessage})
	}

	require.Len(t, slow.Send, 1)
	require.Len(t, fast.Send, 3)
	require.Equal(t, 4.0, counterValue(t, m, "parley_broadcast_delivered_total"))
	require.Equal(t, 2.0, counterValue(t, m, "parley_broadcast_dropped_total"))
}

func TestTopic_UnsubscribeClosesClient(t *testing.T) {
	t.Parallel()

	topic := NewTopic(nil, nil, "t")
	cl := NewClient(1, "s1", 1)
	topic.Subscribe(cl)
	topic.Unsubscribe("s1")

	require.Zero(t, topic.Len())
	select {
	case <-cl.Done():
	default:
		t.Fatal("client not closed")
	}

	delivered, dropped := topic.Publish(v1.Envelope{V: v1.Version, Type: v1.TypeChatMessage})
	require.Zero(t, delivered)
	require.Zero(t, dropped)

	// Closing twice and nil receivers are safe.
	cl.Close()
	var nilTopic *Topic
	nilTopic.Unsubscribe("s1")
	require.Zero(t, nilTopic.Len())
}

func TestTopic_ConcurrentSubscribeAndPublish(t *testing.T) {
	t.Parallel()

	topic := NewTopic(nil, nil, "t")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			cl := NewClient(int64(i), NewSessionID(), 2)
			topic.Subscribe(cl)
			topic.Unsubscribe(cl.SessionID)
		}(i)
		go func() {
			defer wg.Done()
			topic.Publish(v1.Envelope{V: v1.Version, Type: v1.TypeChatMessage})
		}()
	}
	wg.Wait()
	require.Zero(t, topic.Len())
}

func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()

	mfs, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name && len(mf.GetMetric()) == 1 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
