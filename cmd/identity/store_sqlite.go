package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteDirectory implements Directory over the embedded users table.
// The *sql.DB is owned by the caller.
type SQLiteDirectory struct {
	db *sql.DB
}

// NewSQLiteDirectory constructs a SQLiteDirectory.
func NewSQLiteDirectory(db *sql.DB) (*SQLiteDirectory, error) {
	if db == nil {
		return nil, fmt.Errorf("identity: nil db")
	}
	return &SQLiteDirectory{db: db}, nil
}

const sqliteUserSelect = `SELECT id, username, COALESCE(email, ''), is_online, last_seen FROM users`

// UserByID implements Directory.
func (d *SQLiteDirectory) UserByID(ctx context.Context, id int64) (User, error) {
	row := d.db.QueryRowContext(ctx, sqliteUserSelect+` WHERE id = ?`, id)
	return sqliteScanUser("identity.UserByID", row)
}

// UserByUsername implements Directory.
func (d *SQLiteDirectory) UserByUsername(ctx context.Context, username string) (User, error) {
	row := d.db.QueryRowContext(ctx, sqliteUserSelect+` WHERE username = ?`, strings.TrimSpace(username))
	return sqliteScanUser("identity.UserByUsername", row)
}

// SetPresence implements Directory.
func (d *SQLiteDirectory) SetPresence(ctx context.Context, id int64, online bool, at time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?`,
		online, at.UTC().UnixNano(), id,
	)
	return err
}

// EnsureUser implements Seeder.
func (d *SQLiteDirectory) EnsureUser(ctx context.Context, username, email string) (User, error) {
	const op = "identity.EnsureUser"

	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "username is required"}
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO users (username, email) VALUES (?, ?) ON CONFLICT (username) DO NOTHING`,
		username, nullIfEmpty(email),
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		return User{}, err
	}
	return d.UserByUsername(ctx, username)
}

func sqliteScanUser(op string, row *sql.Row) (User, error) {
	var (
		u        User
		lastSeen sql.NullInt64
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Online, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, err
	}
	if lastSeen.Valid {
		ts := time.Unix(0, lastSeen.Int64).UTC()
		u.LastSeen = &ts
	}
	return u, nil
}
