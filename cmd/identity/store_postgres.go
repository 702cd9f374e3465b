package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory implements Directory over the users table.
//
// Design notes:
//   - The pgx pool is owned by the caller; this directory must NOT close it.
//   - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
//   - Only presence columns are written; the credential columns belong to registration.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the directory.
type PostgresOption func(*PostgresDirectory) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the directory (default "parley").
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{
		pool:   pool,
		schema: "parley",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return d, nil
}

const pgUserColumns = `id, username, COALESCE(email, ''), is_online, last_seen`

// UserByID implements Directory.
func (d *PostgresDirectory) UserByID(ctx context.Context, id int64) (User, error) {
	const op = "identity.UserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if id <= 0 {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}

	row := d.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM `+pgIdent(d.schema, "users")+` WHERE id = $1`,
		id,
	)
	return pgScanUser(op, row)
}

// UserByUsername implements Directory.
func (d *PostgresDirectory) UserByUsername(ctx context.Context, username string) (User, error) {
	const op = "identity.UserByUsername"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}

	row := d.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM `+pgIdent(d.schema, "users")+` WHERE username = $1`,
		username,
	)
	return pgScanUser(op, row)
}

// SetPresence implements Directory.
func (d *PostgresDirectory) SetPresence(ctx context.Context, id int64, online bool, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.pool.Exec(ctx,
		`UPDATE `+pgIdent(d.schema, "users")+` SET is_online = $2, last_seen = $3 WHERE id = $1`,
		id, online, at.UTC(),
	)
	return err
}

// EnsureUser implements Seeder.
func (d *PostgresDirectory) EnsureUser(ctx context.Context, username, email string) (User, error) {
	const op = "identity.EnsureUser"

	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "username is required"}
	}

	_, err := d.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(d.schema, "users")+` (username, email)
		 VALUES ($1, $2)
		 ON CONFLICT (username) DO NOTHING`,
		username, nullIfEmpty(email),
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}
	return d.UserByUsername(ctx, username)
}

func pgScanUser(op string, row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Online, &u.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	switch strings.ToLower(strings.TrimSpace(pgErr.ConstraintName)) {
	case "uq_users_username":
		return "username", true
	case "uq_users_email":
		return "email", true
	default:
		return "", true
	}
}

func nullIfEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
