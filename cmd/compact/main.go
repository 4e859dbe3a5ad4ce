// Command compact rolls already-ingested daily CSV snapshots into parquet
// files in the archive bucket. It can run on any schedule independent of
// the extract/load pipeline.
package main

import (
	"context"

	"go.uber.org/zap"

	"coinetl/config"
	"coinetl/internal/archive"
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
	source := objstore.New(sess, cfg.Pipeline.Bucket, logger)
	target := objstore.New(sess, cfg.Pipeline.ArchiveBucket, logger)

	// Fail-closed: compacting against a stale ledger view would archive
	// days that are not fully ingested yet.
	ledger := warehouse.NewLedger(cfg.DB.ConnString(), false, logger)

	compactor, err := archive.NewCompactor(source, target, ledger, logger)
	if err != nil {
		logger.Fatal("compactor setup failed", zap.Error(err))
	}
	defer compactor.Cleanup()

	if err := compactor.Run(ctx); err != nil {
		logger.Fatal("compaction failed", zap.Error(err))
	}
}
