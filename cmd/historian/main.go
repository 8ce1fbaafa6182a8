// cmd/historian/main.go drains the session action queue from Redis into Postgres.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/jason-s-yu/memory-match/internal/cache"
	"github.com/jason-s-yu/memory-match/internal/config"
	"github.com/jason-s-yu/memory-match/internal/database"
	"github.com/jason-s-yu/memory-match/internal/historian"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

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

	flagSet := pflag.NewFlagSet("memory-match-historian", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Redis.QueueName, "queue", cfg.Redis.QueueName, "Redis list to drain")
	flagSet.IntVar(&cfg.HistorianBatchSize, "batch-size", cfg.HistorianBatchSize, "actions per database write")
	flagSet.DurationVar(&cfg.HistorianFlush, "flush", cfg.HistorianFlush, "maximum delay before a partial batch is written")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.ConnectDB(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	rdb, err := cache.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	svc := historian.NewService(rdb, cfg.Redis.QueueName, database.NewStore(pool), cfg.HistorianBatchSize, cfg.HistorianFlush, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	return g.Wait()
}
