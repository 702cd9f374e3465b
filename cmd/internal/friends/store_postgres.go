package friends

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"parley/cmd/internal/storage"
)

// PostgresStore is a Store backed by PostgreSQL. It does not own the pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	pgOps
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "parley").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("friends: empty schema")
		}
		if !storage.ValidSchema(schema) {
			return errors.New("friends: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
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
		return nil, errors.New("friends: nil pool")
	}
	st.pgOps = pgOps{q: pool, table: pgx.Identifier{st.schema, "friends"}.Sanitize()}
	return st, nil
}

// InTx runs fn inside a READ COMMITTED transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(pgOps{q: tx, table: s.table}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgOps struct {
	q     pgQuerier
	table string
}

func (o pgOps) FriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := o.q.Query(ctx,
		`SELECT friend_id FROM `+o.table+` WHERE user_id = $1 ORDER BY created_at ASC, friend_id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

func (o pgOps) Save(ctx context.Context, e Edge) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := o.q.Exec(ctx,
		`INSERT INTO `+o.table+` (user_id, friend_id, created_at, category)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, friend_id) DO UPDATE SET category = EXCLUDED.category`,
		e.UserID, e.FriendID, created.UTC(), nullIfEmpty(e.Category),
	)
	return err
}

func (o pgOps) Insert(ctx context.Context, e Edge) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	tag, err := o.q.Exec(ctx,
		`INSERT INTO `+o.table+` (user_id, friend_id, created_at, category)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, friend_id) DO NOTHING`,
		e.UserID, e.FriendID, created.UTC(), nullIfEmpty(e.Category),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyFriends
	}
	return nil
}

func (o pgOps) Delete(ctx context.Context, userID, friendID int64) error {
	_, err := o.q.Exec(ctx,
		`DELETE FROM `+o.table+` WHERE user_id = $1 AND friend_id = $2`,
		userID, friendID,
	)
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
