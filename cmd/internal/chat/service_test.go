package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

func newTestService(t *testing.T, st MessageStore, opts ...Option) (*Service, *fixedClock) {
	t.Helper()

	clock := &fixedClock{t: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)}
	svc, err := NewService(st, append([]Option{WithClock(clock.now)}, opts...)...)
	require.NoError(t, err)
	return svc, clock
}

// failingStore wraps a store and fails selected operations.
type failingStore struct {
	MessageStore
	saveErr   error
	deleteErr error
	failAfter int
	deletes   int
}

func (f *failingStore) Save(ctx context.Context, m Message) (Message, error) {
	if f.saveErr != nil {
		return Message{}, f.saveErr
	}
	return f.MessageStore.Save(ctx, m)
}

func (f *failingStore) DeleteByID(ctx context.Context, id int64) error {
	if f.deleteErr != nil && f.deletes >= f.failAfter {
		return f.deleteErr
	}
	f.deletes++
	return f.MessageStore.DeleteByID(ctx, id)
}

func TestSend_DefaultsTimestampAndDelivered(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	svc, clock := newTestService(t, st)

	got, err := svc.Send(context.Background(), Message{SenderID: 1, ReceiverID: 2, Content: "hi"})
	require.NoError(t, err)
	require.Positive(t, got.ID)
	require.True(t, got.Delivered)
	require.NotNil(t, got.SentAt)
	require.True(t, got.SentAt.Equal(clock.t))

	explicit := clock.t.Add(-time.Hour)
	got, err = svc.Send(context.Background(), Message{SenderID: 1, ReceiverID: 2, Content: "old", SentAt: &explicit, ID: 99})
	require.NoError(t, err)
	require.True(t, got.SentAt.Equal(explicit))
	require.NotEqual(t, int64(99), got.ID, "send always inserts")
}

func TestSend_PersistFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	svc, _ := newTestService(t, &failingStore{MessageStore: NewInMemoryStore(), saveErr: boom})

	_, err := svc.Send(context.Background(), Message{SenderID: 1, ReceiverID: 2, Content: "hi"})
	require.ErrorIs(t, err, boom)
}

type denyAll struct{}

func (denyAll) AllowSend(context.Context, int64, int64) error {
	return ErrNotPermitted
}

func TestSend_PolicyRefusal(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	svc, _ := newTestService(t, st, WithSendPolicy(denyAll{}))

	_, err := svc.Send(context.Background(), Message{SenderID: 1, ReceiverID: 2, Content: "hi"})
	require.ErrorIs(t, err, ErrNotPermitted)

	all, err := st.FindBySender(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestValidateContent(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateContent("hi"))
	require.ErrorIs(t, ValidateContent(""), ErrInvalidInput)
	require.ErrorIs(t, ValidateContent(" \n\t"), ErrInvalidInput)
}

func TestConversationHistory_AliceBobScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, clock := newTestService(t, NewInMemoryStore())

	hi, err := svc.Send(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "hi"})
	require.NoError(t, err)
	require.Equal(t, int64(1), hi.SenderID)
	require.Equal(t, int64(2), hi.ReceiverID)
	require.Equal(t, "hi", hi.Content)
	require.True(t, hi.Delivered)

	hist, err := svc.ConversationHistory(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, hi.ID, hist[0].ID)

	clock.t = clock.t.Add(time.Second)
	_, err = svc.Send(ctx, Message{SenderID: 2, ReceiverID: 1, Content: "hey"})
	require.NoError(t, err)

	hist, err = svc.ConversationHistory(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, "hi", hist[0].Content)
	require.Equal(t, "hey", hist[1].Content)

	rev, err := svc.ConversationHistory(ctx, 2, 1)
	require.NoError(t, err)
	require.ElementsMatch(t, hist, rev)
}

func TestConversationHistory_NilTimestampsSortLast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	svc, _ := newTestService(t, st)

	save := func(sender, receiver int64, content string, ts *time.Time) {
		t.Helper()
		_, err := st.Save(ctx, Message{SenderID: sender, ReceiverID: receiver, Content: content, SentAt: ts})
		require.NoError(t, err)
	}

	save(1, 2, "nil-a", nil)
	save(1, 2, "late", at(30))
	save(2, 1, "early", at(10))
	save(2, 1, "nil-b", nil)
	save(1, 2, "mid", at(20))
	save(3, 1, "other pair", at(1))

	hist, err := svc.ConversationHistory(ctx, 1, 2)
	require.NoError(t, err)

	var got []string
	for _, m := range hist {
		got = append(got, m.Content)
	}
	// A->B rows come before B->A rows, so the two nils keep that order.
	require.Equal(t, []string{"early", "mid", "late", "nil-a", "nil-b"}, got)
}

func TestConversationHistory_SelfConversationNotDuplicated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestService(t, NewInMemoryStore())

	_, err := svc.Send(ctx, Message{SenderID: 4, ReceiverID: 4, Content: "note to self"})
	require.NoError(t, err)

	hist, err := svc.ConversationHistory(ctx, 4, 4)
	require.NoError(t, err)
	require.Len(t, hist, 1)
}

func TestHistory_OneDirection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestService(t, NewInMemoryStore())

	_, err := svc.Send(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "a"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, Message{SenderID: 2, ReceiverID: 1, Content: "b"})
	require.NoError(t, err)

	h, err := svc.History(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, h, 1)
	require.Equal(t, "a", h[0].Content)
}

func TestAllMessagesForUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	svc, _ := newTestService(t, st)

	_, err := st.Save(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "b", SentAt: at(2)})
	require.NoError(t, err)
	_, err = st.Save(ctx, Message{SenderID: 3, ReceiverID: 1, Content: "a", SentAt: at(1)})
	require.NoError(t, err)
	_, err = st.Save(ctx, Message{SenderID: 1, ReceiverID: 1, Content: "c", SentAt: at(3)})
	require.NoError(t, err)
	_, err = st.Save(ctx, Message{SenderID: 2, ReceiverID: 3, Content: "unrelated", SentAt: at(0)})
	require.NoError(t, err)

	all, err := svc.AllMessagesForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, all, 3, "self message listed once")
	require.Equal(t, "a", all[0].Content)
	require.Equal(t, "b", all[1].Content)
	require.Equal(t, "c", all[2].Content)
}

func TestAllMessagesForUser_NilTimestampFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	svc, _ := newTestService(t, st)

	_, err := st.Save(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "no ts"})
	require.NoError(t, err)

	// A single message needs no comparison.
	all, err := svc.AllMessagesForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, all, 1)

	_, err = st.Save(ctx, Message{SenderID: 2, ReceiverID: 1, Content: "ts", SentAt: at(1)})
	require.NoError(t, err)

	_, err = svc.AllMessagesForUser(ctx, 1)
	require.ErrorIs(t, err, ErrUnorderedTimestamp)

	// The conversation view tolerates the same data.
	hist, err := svc.ConversationHistory(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, "ts", hist[0].Content)
}

func TestPurgeOld(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	svc, clock := newTestService(t, st)

	retention := 7 * 24 * time.Hour
	cutoff := clock.t.Add(-retention)

	tooOld := cutoff.Add(-time.Nanosecond)
	exactly := cutoff
	fresh := cutoff.Add(time.Minute)

	old, err := st.Save(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "old", SentAt: &tooOld})
	require.NoError(t, err)
	_, err = st.Save(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "boundary", SentAt: &exactly})
	require.NoError(t, err)
	_, err = st.Save(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "fresh", SentAt: &fresh})
	require.NoError(t, err)
	_, err = st.Save(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "undated"})
	require.NoError(t, err)

	n, err := svc.PurgeOld(ctx, retention)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = st.FindByID(ctx, old.ID)
	require.ErrorIs(t, err, ErrNotFound)

	left, err := st.FindByPair(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, left, 3)
}

func TestPurgeOld_DefaultRetention(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	svc, clock := newTestService(t, st)

	sixDays := clock.t.Add(-6 * 24 * time.Hour)
	eightDays := clock.t.Add(-8 * 24 * time.Hour)
	_, err := st.Save(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "6d", SentAt: &sixDays})
	require.NoError(t, err)
	_, err = st.Save(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "8d", SentAt: &eightDays})
	require.NoError(t, err)

	n, err := svc.PurgeOld(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPurgeOld_ReportsPartialProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := NewInMemoryStore()
	boom := errors.New("locked")
	st := &failingStore{MessageStore: inner, deleteErr: boom, failAfter: 1}
	svc, clock := newTestService(t, st)

	old := clock.t.Add(-30 * 24 * time.Hour)
	for i := 0; i < 3; i++ {
		_, err := inner.Save(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "x", SentAt: &old})
		require.NoError(t, err)
	}

	n, err := svc.PurgeOld(ctx, time.Hour)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, n)
}

func TestMarkAsDelivered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()
	svc, _ := newTestService(t, st)

	m, err := st.Save(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "pending", SentAt: at(0)})
	require.NoError(t, err)
	require.False(t, m.Delivered)

	require.NoError(t, svc.MarkAsDelivered(ctx, []int64{m.ID, 9999, m.ID}))

	got, err := st.FindByID(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, got.Delivered)
	require.Equal(t, "pending", got.Content)

	require.NoError(t, svc.MarkAsDelivered(ctx, nil))
}

func TestNewService_NilStore(t *testing.T) {
	t.Parallel()

	_, err := NewService(nil)
	require.Error(t, err)
}
