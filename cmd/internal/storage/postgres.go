// Package storage owns the persisted table layout shared by the chat,
// friends and identity stores, for both Postgres and SQLite.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the Postgres schema used when none is configured.
const DefaultSchema = "parley"

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidSchema reports whether schema is a plain, unquoted Postgres identifier.
func ValidSchema(schema string) bool {
	return pgIdentRe.MatchString(strings.TrimSpace(schema))
}

// PostgresDDL returns the idempotent DDL for schema. The schema itself is
// created as part of the script.
func PostgresDDL(schema string) string {
	s := pgx.Identifier{schema}.Sanitize()
	users := pgx.Identifier{schema, "users"}.Sanitize()
	messages := pgx.Identifier{schema, "messages"}.Sanitize()
	friends := pgx.Identifier{schema, "friends"}.Sanitize()

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[2]s (
  id BIGSERIAL PRIMARY KEY,
  username TEXT NOT NULL,
  email TEXT NULL,
  password_hash TEXT NOT NULL DEFAULT '',
  is_online BOOLEAN NOT NULL DEFAULT FALSE,
  last_seen TIMESTAMPTZ NULL,

  CONSTRAINT uq_users_username UNIQUE (username),
  CONSTRAINT uq_users_email UNIQUE (email)
);

CREATE TABLE IF NOT EXISTS %[3]s (
  id BIGSERIAL PRIMARY KEY,
  sender_id BIGINT NOT NULL,
  receiver_id BIGINT NOT NULL,
  content TEXT NOT NULL,
  sent_at TIMESTAMPTZ NULL,
  delivered BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_messages_pair
  ON %[3]s (sender_id, receiver_id);

CREATE INDEX IF NOT EXISTS idx_messages_receiver
  ON %[3]s (receiver_id);

CREATE INDEX IF NOT EXISTS idx_messages_sent_at
  ON %[3]s (sent_at);

CREATE TABLE IF NOT EXISTS %[4]s (
  user_id BIGINT NOT NULL,
  friend_id BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  category TEXT NULL,

  PRIMARY KEY (user_id, friend_id),
  CONSTRAINT chk_friends_not_self CHECK (user_id <> friend_id)
);
`, s, users, messages, friends)
}

// MigratePostgres applies PostgresDDL for schema.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if pool == nil {
		return fmt.Errorf("storage: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if !ValidSchema(schema) {
		return fmt.Errorf("storage: invalid schema identifier %q", schema)
	}
	if _, err := pool.Exec(ctx, PostgresDDL(schema)); err != nil {
		return fmt.Errorf("storage: migrate postgres: %w", err)
	}
	return nil
}
