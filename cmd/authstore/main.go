// Command authstore provisions an authentication storage backend and inspects
// the users kept in it. The backend is chosen with AUTHSTORE_BACKEND.
//
//	authstore provision
//	authstore user -email a@b.com
//	authstore user -id u1
//	authstore delete-user -id u1
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/panyam/authadapters/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(ctx, cfg, logger, os.Args[1:], os.Stdout); err != nil {
		logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.LogDev {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

var errUsage = errors.New("usage: authstore provision | user (-email E | -id I) | delete-user -id I")

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "provision":
		return provisionCommand(ctx, cfg, logger)
	case "user":
		return userCommand(ctx, cfg, logger, args[1:], out)
	case "delete-user":
		return deleteUserCommand(ctx, cfg, logger, args[1:])
	}
	return fmt.Errorf("unknown command %q\n%w", args[0], errUsage)
}

func provisionCommand(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	return withBackend(ctx, cfg, logger, func(b *backend) error {
		if b.Provision == nil {
			logger.Info("nothing to provision")
			return nil
		}
		if err := b.Provision(ctx); err != nil {
			return fmt.Errorf("failed to provision %s: %w", cfg.Backend, err)
		}
		logger.Info("provisioned")
		return nil
	})
}

func userCommand(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("user", flag.ContinueOnError)
	email := fs.String("email", "", "Look the user up by email")
	id := fs.String("id", "", "Look the user up by id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*email == "") == (*id == "") {
		return errors.New("exactly one of -email or -id is required")
	}

	return withBackend(ctx, cfg, logger, func(b *backend) error {
		var (
			u   any
			err error
		)
		if *email != "" {
			u, err = b.Adapter.GetUserByEmail(ctx, *email)
		} else {
			u, err = b.Adapter.GetUser(ctx, *id)
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(u)
	})
}

func deleteUserCommand(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("delete-user", flag.ContinueOnError)
	id := fs.String("id", "", "Id of the user to delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}
	return withBackend(ctx, cfg, logger, func(b *backend) error {
		if err := b.Adapter.DeleteUser(ctx, *id); err != nil {
			return err
		}
		logger.Info("deleted user", zap.String("user_id", *id))
		return nil
	})
}
