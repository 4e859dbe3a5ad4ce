// Command extract fetches one market snapshot from CoinGecko and uploads
// it to the coin bucket under a time-partitioned key. Intended to run as
// the first step of a scheduled pipeline.
package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"coinetl/config"
	"coinetl/internal/extract"
	"coinetl/internal/objstore"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	ctx := context.Background()

	client := extract.NewClient(cfg.API.BaseURL, logger)
	if err := client.FetchToFile(ctx, cfg.Pipeline.OutputPath); err != nil {
		logger.Fatal("extract failed", zap.Error(err))
	}

	// A non-200 API response produces no file; there is nothing to upload.
	if _, err := os.Stat(cfg.Pipeline.OutputPath); err != nil {
		logger.Warn("no snapshot file produced, skipping upload",
			zap.String("path", cfg.Pipeline.OutputPath))
		return
	}

	sess, err := objstore.NewSession(cfg.Minio)
	if err != nil {
		logger.Fatal("object store session failed", zap.Error(err))
	}
	store := objstore.New(sess, cfg.Pipeline.Bucket, logger)

	if err := store.EnsureBucket(ctx); err != nil {
		logger.Fatal("ensure bucket failed", zap.Error(err))
	}

	key := objstore.ObjectKey(time.Now())
	if err := store.Upload(ctx, cfg.Pipeline.OutputPath, key, "text/csv"); err != nil {
		logger.Fatal("upload failed", zap.Error(err))
	}

	logger.Info("uploaded market snapshot",
		zap.String("bucket", cfg.Pipeline.Bucket),
		zap.String("key", key))
}
