package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parley/cmd/internal/storage"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "parley").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !storage.ValidSchema(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: storage.DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

const pgMessageColumns = `id, sender_id, receiver_id, content, sent_at, delivered`

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "messages"}.Sanitize()
}

func (s *PostgresStore) FindByPair(ctx context.Context, senderID, receiverID int64) ([]Message, error) {
	return s.query(ctx,
		`SELECT `+pgMessageColumns+` FROM `+s.table()+`
		  WHERE sender_id = $1 AND receiver_id = $2
		  ORDER BY id ASC`,
		senderID, receiverID,
	)
}

func (s *PostgresStore) FindBySender(ctx context.Context, senderID int64) ([]Message, error) {
	return s.query(ctx,
		`SELECT `+pgMessageColumns+` FROM `+s.table()+` WHERE sender_id = $1 ORDER BY id ASC`,
		senderID,
	)
}

func (s *PostgresStore) FindByReceiver(ctx context.Context, receiverID int64) ([]Message, error) {
	return s.query(ctx,
		`SELECT `+pgMessageColumns+` FROM `+s.table()+` WHERE receiver_id = $1 ORDER BY id ASC`,
		receiverID,
	)
}

func (s *PostgresStore) FindAllOlderThan(ctx context.Context, cutoff time.Time) ([]Message, error) {
	return s.query(ctx,
		`SELECT `+pgMessageColumns+` FROM `+s.table()+`
		  WHERE sent_at IS NOT NULL AND sent_at < $1
		  ORDER BY id ASC`,
		cutoff.UTC(),
	)
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgMessageColumns+` FROM `+s.table()+` WHERE id = $1`,
		id,
	)
	m, err := pgScanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) Save(ctx context.Context, m Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	m = m.clone()

	// sent_at is read back so the result carries the stored (microsecond)
	// precision, matching later reads.
	if m.ID == 0 {
		if err := s.pool.QueryRow(ctx,
			`INSERT INTO `+s.table()+` (sender_id, receiver_id, content, sent_at, delivered)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, sent_at`,
			m.SenderID, m.ReceiverID, m.Content, utcPtr(m.SentAt), m.Delivered,
		).Scan(&m.ID, &m.SentAt); err != nil {
			return Message{}, fmt.Errorf("insert message: %w", err)
		}
		m.SentAt = utcPtr(m.SentAt)
		return m, nil
	}

	err := s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET sender_id = $2, receiver_id = $3, content = $4, sent_at = $5, delivered = $6
		  WHERE id = $1
		  RETURNING sent_at`,
		m.ID, m.SenderID, m.ReceiverID, m.Content, utcPtr(m.SentAt), m.Delivered,
	).Scan(&m.SentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("update message: %w", err)
	}
	m.SentAt = utcPtr(m.SentAt)
	return m, nil
}

func (s *PostgresStore) DeleteByID(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		m, err := pgScanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func pgScanMessage(row pgx.Row) (Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.SentAt, &m.Delivered); err != nil {
		return Message{}, err
	}
	m.SentAt = utcPtr(m.SentAt)
	return m, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
