package friends

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLiteStore is a Store on the embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
	sqliteOps
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("friends: nil db")
	}
	return &SQLiteStore{db: db, sqliteOps: sqliteOps{q: db}}, nil
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(sqliteOps{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqliteOps struct {
	q sqlQuerier
}

func (o sqliteOps) FriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT friend_id FROM friends WHERE user_id = ? ORDER BY created_at, friend_id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (o sqliteOps) Save(ctx context.Context, e Edge) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO friends (user_id, friend_id, created_at, category) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, friend_id) DO UPDATE SET category = excluded.category`,
		e.UserID, e.FriendID, created.UTC().UnixNano(), nullIfEmpty(e.Category),
	)
	return err
}

func (o sqliteOps) Insert(ctx context.Context, e Edge) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := o.q.ExecContext(ctx,
		`INSERT INTO friends (user_id, friend_id, created_at, category) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, friend_id) DO NOTHING`,
		e.UserID, e.FriendID, created.UTC().UnixNano(), nullIfEmpty(e.Category),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyFriends
	}
	return nil
}

func (o sqliteOps) Delete(ctx context.Context, userID, friendID int64) error {
	_, err := o.q.ExecContext(ctx, `DELETE FROM friends WHERE user_id = ? AND friend_id = ?`, userID, friendID)
	return err
}
