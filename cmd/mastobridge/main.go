package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	sqliteadapter "github.com/ericfisherdev/mastobridge/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/mastobridge/internal/config"
	"github.com/ericfisherdev/mastobridge/internal/log"
)

func main() {
	cmd := &cli.Command{
		Name:  "mastobridge",
		Usage: "relay Mastodon accounts into Matrix conversations",
		Commands: []*cli.Command{
			runCommand(),
			migrateCommand(),
			accountsCommand(),
		},
		DefaultCommand: "run",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// setup loads configuration, installs the process logger as the slog
// default and returns a context carrying it.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, *config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return ctx, nil, err
	}

	level, _ := cfg.SlogLevel() // validated by Load
	logger := log.New("mastobridge", level)
	slog.SetDefault(logger)

	return log.IntoContext(ctx, logger.With("command", cmd.Name)), cfg, nil
}

// openDB opens the database and brings its schema up to date. The caller
// closes it.
func openDB(cfg *config.Config) (*sqliteadapter.DB, error) {
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	key, err := cfg.SecretKeyBytes()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if key != nil {
		if err := db.SetSecretKey(key); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func closeDB(db *sqliteadapter.DB) {
	if err := db.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply pending schema migrations and exit",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cfg, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			logger := log.FromContext(ctx)

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			version, dirty, err := sqliteadapter.SchemaVersion(db.Writer)
			if err != nil {
				return err
			}
			if dirty {
				return fmt.Errorf("schema version %d is dirty", version)
			}

			logger.Info("migrations complete", "path", cfg.DBPath, "version", version)
			return nil
		},
	}
}
