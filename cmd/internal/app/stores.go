package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"parley/cmd/identity"
	"parley/cmd/internal/chat"
	"parley/cmd/internal/friends"
	"parley/cmd/internal/storage"
)

// Directory is what the runtime needs from the user store.
type Directory interface {
	identity.Directory
	identity.Seeder
}

// Stores bundles the persistence backends for one driver.
// The pool or sql.DB (when present) is owned here.
type Stores struct {
	Driver    string
	Directory Directory
	Messages  chat.MessageStore
	Friends   friends.Store

	pool  *pgxpool.Pool
	sqlDB *sql.DB
}

// OpenStores connects the configured driver, applies migrations when
// cfg.AutoMigrate is set, and builds the three stores on one connection.
func OpenStores(ctx context.Context, cfg Config, log Logger) (*Stores, error) {
	switch cfg.Store {
	case StorePostgres:
		return openPostgresStores(ctx, cfg, log)
	case StoreSQLite:
		return openSQLiteStores(ctx, cfg, log)
	case StoreMemory, "":
		log.Info("store.open", "driver", StoreMemory)
		return &Stores{
			Driver:    StoreMemory,
			Directory: identity.NewInMemoryDirectory(),
			Messages:  chat.NewInMemoryStore(),
			Friends:   friends.NewInMemoryStore(),
		}, nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Store)
	}
}

func openPostgresStores(ctx context.Context, cfg Config, log Logger) (*Stores, error) {
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}

	st, err := buildPostgresStores(ctx, pool, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("store.open", "driver", StorePostgres, "schema", cfg.DBSchema, "migrated", cfg.AutoMigrate)
	return st, nil
}

func buildPostgresStores(ctx context.Context, pool *pgxpool.Pool, cfg Config) (*Stores, error) {
	if cfg.AutoMigrate {
		if err := storage.MigratePostgres(ctx, pool, cfg.DBSchema); err != nil {
			return nil, err
		}
	}

	dir, err := identity.NewPostgresDirectory(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		return nil, err
	}
	msgs, err := chat.NewPostgresStore(pool, chat.WithSchema(cfg.DBSchema))
	if err != nil {
		return nil, err
	}
	fr, err := friends.NewPostgresStore(pool, friends.WithSchema(cfg.DBSchema))
	if err != nil {
		return nil, err
	}

	return &Stores{
		Driver:    StorePostgres,
		Directory: dir,
		Messages:  msgs,
		Friends:   fr,
		pool:      pool,
	}, nil
}

func openSQLiteStores(ctx context.Context, cfg Config, log Logger) (*Stores, error) {
	db, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	st, err := buildSQLiteStores(ctx, db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("store.open", "driver", StoreSQLite, "path", cfg.SQLitePath, "migrated", cfg.AutoMigrate)
	return st, nil
}

func buildSQLiteStores(ctx context.Context, db *sql.DB, cfg Config) (*Stores, error) {
	if cfg.AutoMigrate {
		if err := storage.MigrateSQLite(ctx, db); err != nil {
			return nil, err
		}
	}

	dir, err := identity.NewSQLiteDirectory(db)
	if err != nil {
		return nil, err
	}
	msgs, err := chat.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	fr, err := friends.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}

	return &Stores{
		Driver:    StoreSQLite,
		Directory: dir,
		Messages:  msgs,
		Friends:   fr,
		sqlDB:     db,
	}, nil
}

// Persistent reports whether the stores survive a restart.
func (s *Stores) Persistent() bool {
	return s != nil && (s.pool != nil || s.sqlDB != nil)
}

// Ping checks the backing database within timeout. The memory driver is always ready.
func (s *Stores) Ping(ctx context.Context, timeout time.Duration) error {
	switch {
	case s == nil:
		return fmt.Errorf("store: not open")
	case s.pool != nil:
		return PingDB(ctx, s.pool, timeout)
	case s.sqlDB != nil:
		pctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return s.sqlDB.PingContext(pctx)
	default:
		return nil
	}
}

// Seed creates any configured users that do not exist yet.
func (s *Stores) Seed(ctx context.Context, cfg Config, log Logger) error {
	for _, pair := range cfg.seedUsers() {
		u, err := s.Directory.EnsureUser(ctx, pair[0], pair[1])
		if err != nil {
			return fmt.Errorf("store: seed %q: %w", pair[0], err)
		}
		log.Debug("store.seed.user", "user_id", u.ID, "username", u.Username)
	}
	return nil
}

// Close releases the database handle.
func (s *Stores) Close() error {
	if s == nil {
		return nil
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.sqlDB != nil {
		return s.sqlDB.Close()
	}
	return nil
}
