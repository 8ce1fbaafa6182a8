// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/jason-s-yu/memory-match/internal/auth"
	"github.com/jason-s-yu/memory-match/internal/cache"
	"github.com/jason-s-yu/memory-match/internal/config"
	"github.com/jason-s-yu/memory-match/internal/database"
	"github.com/jason-s-yu/memory-match/internal/handlers"
	"github.com/jason-s-yu/memory-match/internal/housekeeping"
	"github.com/jason-s-yu/memory-match/internal/results"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds how long in-flight requests get after a signal.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	var privateKeyPath, publicKeyPath string
	var skipSchema bool

	flagSet := pflag.NewFlagSet("memory-match", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	flagSet.StringVar(&privateKeyPath, "private-key", "", "ed25519 private key file (default: generate at startup)")
	flagSet.StringVar(&publicKeyPath, "public-key", "", "ed25519 public key file")
	flagSet.BoolVar(&skipSchema, "skip-schema", false, "do not create missing tables on startup")
	verbose := flagSet.BoolP("verbose", "v", false, "enable debug logging")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetLevel(cfg.LogLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if privateKeyPath != "" || publicKeyPath != "" {
		if err := auth.InitFromPath(privateKeyPath, publicKeyPath, cfg.TokenExpire); err != nil {
			return err
		}
	} else if err := auth.Init(cfg.TokenExpire); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.ConnectDB(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()
	if !skipSchema {
		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}
	}
	store := database.NewStore(pool)

	rdb, err := cache.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	recorder := results.NewRecorder(store, logger)
	gs := handlers.NewGameServer(handlers.Options{
		BoardPairs:       cfg.BoardPairs,
		PresenceDebounce: cfg.PresenceDebounce,
		PresenceLeaseTTL: cfg.PresenceLeaseTTL,
		Results:          recorder,
		Profiles:         store,
		Journal:          cache.NewJournal(rdb, cfg.Redis.QueueName, logger),
		Logger:           logger,
	})

	janitor := &housekeeping.Janitor{
		Sessions:    gs.Sessions,
		Presence:    gs.Presence,
		Archiver:    store,
		Forgetter:   recorder,
		Results:     recorder,
		Retention:   cfg.SessionRetention,
		IdleTimeout: cfg.SessionIdleTimeout,
		Interval:    cfg.HousekeepingInterval,
		Logger:      logger,
	}
	sched, err := janitor.Start(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			logger.WithError(err).Warn("scheduler shutdown failed")
		}
	}()

	server := &http.Server{
		Addr:        net.JoinHostPort("", cfg.Port),
		Handler:     gs.Routes(logger),
		ReadTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Running on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server exited: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return gs.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
