// Command load syncs unprocessed snapshot objects from the coin bucket
// into the Postgres star schema. Intended to run as the second step of a
// scheduled pipeline, after extract.
package main

import (
	"context"

	"go.uber.org/zap"

	"coinetl/config"
	"coinetl/internal/objstore"
	"coinetl/internal/warehouse"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	ctx := context.Background()

	sess, err := objstore.NewSession(cfg.Minio)
	if err != nil {
		logger.Fatal("object store session failed", zap.Error(err))
	}
	store := objstore.New(sess, cfg.Pipeline.Bucket, logger)

	pool, err := warehouse.Connect(ctx, cfg.DB.ConnString())
	if err != nil {
		logger.Fatal("warehouse connection failed", zap.Error(err))
	}
	defer pool.Close()

	ledger := warehouse.NewLedger(cfg.DB.ConnString(), cfg.Pipeline.LedgerFailOpen, logger)
	loader := warehouse.NewLoader(store, ledger, warehouse.New(pool, logger), logger)

	// A failed run is logged, not fatal: objects left unprocessed are
	// picked up by the next scheduled run.
	if err := loader.Run(ctx); err != nil {
		logger.Error("loader run aborted", zap.Error(err))
	}
}
