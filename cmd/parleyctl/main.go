// Command parleyctl runs maintenance tasks against a parley store.
//
//	parleyctl purge [-retention 168h]   delete messages older than the retention window
//	parleyctl token -user alice          mint an access token for a user
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parley/cmd/identity"
	"parley/cmd/internal/app"
	"parley/cmd/internal/chat"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "parleyctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: parleyctl <purge|token> [flags]")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

	switch args[0] {
	case "purge":
		fs := flag.NewFlagSet("purge", flag.ContinueOnError)
		retention := fs.Duration("retention", cfg.Retention, "delete messages sent before now minus this window")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return purge(ctx, cfg, log, *retention, out)

	case "token":
		fs := flag.NewFlagSet("token", flag.ContinueOnError)
		user := fs.String("user", "", "username to mint a token for")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return mintToken(ctx, cfg, log, *user, out)

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func purge(ctx context.Context, cfg app.Config, log app.Logger, retention time.Duration, out io.Writer) error {
	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	svc, err := chat.NewService(stores.Messages, chat.WithLogger(log))
	if err != nil {
		return err
	}
	n, err := svc.PurgeOld(ctx, retention)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "purged %d messages older than %s\n", n, retention)
	return err
}

func mintToken(ctx context.Context, cfg app.Config, log app.Logger, username string, out io.Writer) error {
	if username == "" {
		return errors.New("token: -user is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("token: PARLEY_JWT_SECRET must be set so the server accepts the token")
	}

	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	auth, err := identity.NewTokenAuthenticator(stores.Directory, []byte(cfg.JWTSecret),
		identity.WithIssuer(cfg.JWTIssuer),
		identity.WithTokenTTL(cfg.TokenTTL),
	)
	if err != nil {
		return err
	}

	u, err := stores.Directory.UserByUsername(ctx, username)
	if err != nil {
		return err
	}
	tok, exp, err := auth.IssueToken(u)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n# user_id=%d expires=%s\n", tok, u.ID, exp.Format(time.RFC3339))
	return err
}
