package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/ericfisherdev/mastobridge/internal/adapter/driven/audio"
	mastoadapter "github.com/ericfisherdev/mastobridge/internal/adapter/driven/mastodon"
	matrixadapter "github.com/ericfisherdev/mastobridge/internal/adapter/driven/matrix"
	"github.com/ericfisherdev/mastobridge/internal/adapter/driven/prommetrics"
	sqliteadapter "github.com/ericfisherdev/mastobridge/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/mastobridge/internal/adapter/driving/http"
	"github.com/ericfisherdev/mastobridge/internal/application"
	"github.com/ericfisherdev/mastobridge/internal/config"
	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/log"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run the bridge until interrupted",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cfg, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := log.FromContext(ctx)

	// 1. The chat account is only needed when actually bridging.
	if err := cfg.ValidateMatrix(); err != nil {
		return err
	}
	level, _ := cfg.SlogLevel()
	logger.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"poll_delay", cfg.Sync.PollDelay,
		"matrix_user", cfg.Matrix.UserID,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM). A fatal listener
	// error cancels it with a cause.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// 3. Open database and apply migrations.
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)
	logger.Info("database ready", "path", cfg.DBPath)

	avatar, err := loadAvatar(cfg.AvatarPath)
	if err != nil {
		return err
	}
	blocklist, err := application.LoadBlocklist(cfg.BlocklistFile)
	if err != nil {
		return err
	}

	// 4. Wire stores.
	accountStore := sqliteadapter.NewAccountRepo(db)
	contactStore := sqliteadapter.NewContactRepo(db)
	instanceStore := sqliteadapter.NewInstanceRepo(db)
	pendingStore := sqliteadapter.NewPendingLoginRepo(db)
	directStore := sqliteadapter.NewDirectChatRepo(db)

	// 5. Remote and chat adapters.
	remote := mastoadapter.NewClient(mastoadapter.Options{
		AppName:        cfg.AppName,
		Website:        cfg.Website,
		RequestTimeout: cfg.Sync.RequestTimeout,
		InstanceRate:   cfg.Sync.InstanceRate,
		UserAgent:      "mastobridge",
	})

	matrixClient, err := matrixadapter.NewClient(
		cfg.Matrix.Homeserver,
		cfg.Matrix.UserID,
		cfg.Matrix.AccessToken,
		log.Zerolog("matrix", level),
	)
	if err != nil {
		return err
	}
	chat := matrixadapter.NewTransport(matrixClient, directStore, remote)

	metrics := prommetrics.New()

	// 6. Application services.
	sessions := application.NewSessionFactory(remote, instanceStore)
	classifier := application.NewClassifier(blocklist)
	renderer := application.NewRenderer(cfg.CmdPrefix)
	mapper := application.NewContactMapper(contactStore, chat, remote)
	relay := application.NewRelay(sessions, audio.NewFFmpeg(cfg.FFmpegPath), metrics)

	accountSvc := application.NewAccountService(
		accountStore,
		contactStore,
		pendingStore,
		sessions,
		chat,
		application.Limits{
			MaxAccounts:    cfg.Limits.MaxAccounts,
			MaxPerInstance: cfg.Limits.MaxAccountsPerInstance,
		},
		avatar,
	)

	syncSvc := application.NewSyncService(
		accountStore,
		sessions,
		classifier,
		renderer,
		mapper,
		chat,
		metrics,
		application.SyncConfig{
			Delay:          cfg.Sync.PollDelay,
			MinSleep:       cfg.Sync.MinSleep,
			AccountTimeout: cfg.Sync.AccountTimeout,
		},
	)

	commands := application.NewCommandHandler(
		accountStore,
		contactStore,
		accountSvc,
		sessions,
		relay,
		mapper,
		renderer,
		chat,
		syncSvc,
		cfg.CmdPrefix,
	)

	listener := matrixadapter.NewListener(matrixClient, commands, accountSvc, directStore, matrixadapter.ListenerConfig{})

	// 7. Start the loops.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		syncSvc.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := listener.Run(ctx); err != nil {
			cancel(fmt.Errorf("matrix listener: %w", err))
		}
	}()

	// 8. Admin API.
	var srv *http.Server
	if cfg.ListenAddr != "" {
		apiHandler := httphandler.NewHandler(accountStore, syncSvc, metrics.Handler(), cfg.HealthStaleAfter, logger)
		srv = &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           httphandler.NewServeMux(apiHandler, log.SubLogger(logger, "http")),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			// Manual syncs wait for the loop to finish sleeping.
			WriteTimeout: 3 * time.Minute,
			IdleTimeout:  120 * time.Second,
		}

		go func() {
			logger.Info("http server starting", "addr", cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				cancel(fmt.Errorf("http server: %w", err))
			}
		}()
	}

	logger.Info("mastobridge started",
		"matrix_user", cfg.Matrix.UserID,
		"poll_delay", cfg.Sync.PollDelay,
		"prefix", cfg.CmdPrefix,
	)

	// 9. Wait for a shutdown signal or a fatal error.
	<-ctx.Done()
	logger.Info("shutting down")

	if srv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}

	wg.Wait()
	logger.Info("shutdown complete")

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// loadAvatar reads the optional conversation avatar. An empty path yields
// nil.
func loadAvatar(path string) (*model.MediaFile, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read avatar: %w", err)
	}

	return &model.MediaFile{
		Name:        filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Data:        data,
	}, nil
}
