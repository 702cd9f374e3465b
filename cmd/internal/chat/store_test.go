package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"parley/cmd/internal/storage/storagetest"
)

func storeBackends() map[string]func(t *testing.T) MessageStore {
	return map[string]func(t *testing.T) MessageStore{
		"memory": func(t *testing.T) MessageStore { return NewInMemoryStore() },
		"sqlite": func(t *testing.T) MessageStore {
			st, err := NewSQLiteStore(storagetest.OpenSQLite(t))
			require.NoError(t, err)
			return st
		},
		"postgres": func(t *testing.T) MessageStore {
			pool := storagetest.OpenPostgres(t)
			schema := storagetest.PostgresSchema(t, pool)
			st, err := NewPostgresStore(pool, WithSchema(schema))
			require.NoError(t, err)
			return st
		},
	}
}

func at(minute int) *time.Time {
	ts := time.Date(2026, 2, 1, 10, minute, 0, 0, time.UTC)
	return &ts
}

func TestMessageStore_Conformance(t *testing.T) {
	t.Parallel()

	for name, open := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			st := open(t)

			m1, err := st.Save(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "hi", SentAt: at(0), Delivered: true})
			require.NoError(t, err)
			require.Positive(t, m1.ID)

			m2, err := st.Save(ctx, Message{SenderID: 2, ReceiverID: 1, Content: "hey", SentAt: at(1)})
			require.NoError(t, err)
			require.Greater(t, m2.ID, m1.ID)

			m3, err := st.Save(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "no ts"})
			require.NoError(t, err)
			require.Greater(t, m3.ID, m2.ID)
			require.Nil(t, m3.SentAt)

			pair, err := st.FindByPair(ctx, 1, 2)
			require.NoError(t, err)
			require.Len(t, pair, 2)
			require.Equal(t, m1.ID, pair[0].ID)
			require.Equal(t, "hi", pair[0].Content)
			require.True(t, pair[0].SentAt.Equal(*at(0)))
			require.True(t, pair[0].Delivered)
			require.Nil(t, pair[1].SentAt)

			none, err := st.FindByPair(ctx, 5, 6)
			require.NoError(t, err)
			require.Empty(t, none)

			sent, err := st.FindBySender(ctx, 2)
			require.NoError(t, err)
			require.Len(t, sent, 1)

			recv, err := st.FindByReceiver(ctx, 2)
			require.NoError(t, err)
			require.Len(t, recv, 2)

			older, err := st.FindAllOlderThan(ctx, *at(1))
			require.NoError(t, err)
			require.Len(t, older, 1, "strictly older, nil sent_at excluded")
			require.Equal(t, m1.ID, older[0].ID)

			got, err := st.FindByID(ctx, m2.ID)
			require.NoError(t, err)
			require.False(t, got.Delivered)

			got.Delivered = true
			_, err = st.Save(ctx, got)
			require.NoError(t, err)

			got, err = st.FindByID(ctx, m2.ID)
			require.NoError(t, err)
			require.True(t, got.Delivered)
			require.Equal(t, "hey", got.Content)

			_, err = st.Save(ctx, Message{ID: 424242, SenderID: 1, ReceiverID: 2, Content: "x"})
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, st.DeleteByID(ctx, m1.ID))
			require.NoError(t, st.DeleteByID(ctx, m1.ID), "delete is a no-op when absent")

			_, err = st.FindByID(ctx, m1.ID)
			require.ErrorIs(t, err, ErrNotFound)

			// Ids never go backwards after a delete.
			m4, err := st.Save(ctx, Message{SenderID: 3, ReceiverID: 4, Content: "later", SentAt: at(5)})
			require.NoError(t, err)
			require.Greater(t, m4.ID, m3.ID)
		})
	}
}

func TestMessageStore_SaveMatchesReadBack(t *testing.T) {
	t.Parallel()

	for name, open := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			st := open(t)
			ts := time.Date(2026, 2, 1, 10, 0, 0, 123456789, time.UTC)

			saved, err := st.Save(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "precise", SentAt: &ts, Delivered: true})
			require.NoError(t, err)

			got, err := st.FindByID(ctx, saved.ID)
			require.NoError(t, err)
			require.True(t, saved.SentAt.Equal(*got.SentAt), "saved=%s read=%s", saved.SentAt, got.SentAt)

			updated, err := st.Save(ctx, got)
			require.NoError(t, err)
			require.True(t, updated.SentAt.Equal(*got.SentAt))
		})
	}
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewInMemoryStore()

	ts := *at(0)
	m, err := st.Save(ctx, Message{SenderID: 1, ReceiverID: 2, Content: "hi", SentAt: &ts})
	require.NoError(t, err)

	ts = ts.Add(time.Hour)
	*m.SentAt = m.SentAt.Add(time.Hour)

	got, err := st.FindByID(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, got.SentAt.Equal(*at(0)))
}

func TestNewPostgresStore_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresStore(nil)
	require.Error(t, err)

	_, err = NewPostgresStore(nil, WithSchema("no spaces"))
	require.Error(t, err)

	_, err = NewSQLiteStore(nil)
	require.Error(t, err)
}
