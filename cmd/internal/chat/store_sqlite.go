package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore is a MessageStore on the embedded SQLite database.
// sent_at is stored as unix nanoseconds; the *sql.DB is owned by the caller.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore constructs a SQLite-backed MessageStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("chat: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMessageSelect = `SELECT id, sender_id, receiver_id, content, sent_at, delivered FROM messages`

func (s *SQLiteStore) FindByPair(ctx context.Context, senderID, receiverID int64) ([]Message, error) {
	return s.query(ctx, sqliteMessageSelect+` WHERE sender_id = ? AND receiver_id = ? ORDER BY id`, senderID, receiverID)
}

func (s *SQLiteStore) FindBySender(ctx context.Context, senderID int64) ([]Message, error) {
	return s.query(ctx, sqliteMessageSelect+` WHERE sender_id = ? ORDER BY id`, senderID)
}

func (s *SQLiteStore) FindByReceiver(ctx context.Context, receiverID int64) ([]Message, error) {
	return s.query(ctx, sqliteMessageSelect+` WHERE receiver_id = ? ORDER BY id`, receiverID)
}

func (s *SQLiteStore) FindAllOlderThan(ctx context.Context, cutoff time.Time) ([]Message, error) {
	return s.query(ctx,
		sqliteMessageSelect+` WHERE sent_at IS NOT NULL AND sent_at < ? ORDER BY id`,
		cutoff.UTC().UnixNano(),
	)
}

func (s *SQLiteStore) FindByID(ctx context.Context, id int64) (Message, error) {
	m, err := sqliteScanMessage(s.db.QueryRowContext(ctx, sqliteMessageSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

func (s *SQLiteStore) Save(ctx context.Context, m Message) (Message, error) {
	m = m.clone()

	if m.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO messages (sender_id, receiver_id, content, sent_at, delivered) VALUES (?, ?, ?, ?, ?)`,
			m.SenderID, m.ReceiverID, m.Content, nanosOrNull(m.SentAt), m.Delivered,
		)
		if err != nil {
			return Message{}, fmt.Errorf("insert message: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return Message{}, err
		}
		m.ID = id
		return m, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET sender_id = ?, receiver_id = ?, content = ?, sent_at = ?, delivered = ? WHERE id = ?`,
		m.SenderID, m.ReceiverID, m.Content, nanosOrNull(m.SentAt), m.Delivered, m.ID,
	)
	if err != nil {
		return Message{}, fmt.Errorf("update message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Message{}, err
	}
	if n == 0 {
		return Message{}, ErrNotFound
	}
	return m, nil
}

func (s *SQLiteStore) DeleteByID(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		m, err := sqliteScanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func sqliteScanMessage(row rowScanner) (Message, error) {
	var (
		m      Message
		sentAt sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &sentAt, &m.Delivered); err != nil {
		return Message{}, err
	}
	if sentAt.Valid {
		ts := time.Unix(0, sentAt.Int64).UTC()
		m.SentAt = &ts
	}
	return m, nil
}

func nanosOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}
