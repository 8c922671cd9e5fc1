package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/bramble-social/bramble/internal/setup"
	"github.com/bramble-social/bramble/internal/worker/reindex"
)

func main() {
	concurrency := flag.Int("concurrency", 8, "maximum in-flight rewrites")
	flag.Parse()

	app, err := setup.InitializeApp(context.Background(), false)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.Cleanup(context.Background())

	// Cancel the run on interrupt so a partial rewrite stops cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	worker := reindex.New(app.Store, *concurrency, app.Logger)

	stats, err := worker.Run(ctx)
	if err != nil {
		app.Logger.Error("Reindex failed",
			zap.Int64("scanned", stats.Scanned),
			zap.Int64("rewritten", stats.Rewritten),
			zap.Error(err))
		os.Exit(1)
	}
}
