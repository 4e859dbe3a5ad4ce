// Package archive compacts already-ingested snapshot CSVs into daily
// snappy-compressed parquet files in a separate archive bucket.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"coinetl/internal/models"
	"coinetl/internal/objstore"
)

// ParquetRow is the archived shape of one snapshot row.
type ParquetRow struct {
	CoinID            string   `parquet:"name=coin_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol            string   `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name              string   `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	CurrentPrice      *float64 `parquet:"name=current_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	MarketCap         *float64 `parquet:"name=market_cap, type=DOUBLE, repetitiontype=OPTIONAL"`
	MarketCapRank     *int64   `parquet:"name=market_cap_rank, type=INT64, repetitiontype=OPTIONAL"`
	TotalVolume       *float64 `parquet:"name=total_volume, type=DOUBLE, repetitiontype=OPTIONAL"`
	High24h           *float64 `parquet:"name=high_24h, type=DOUBLE, repetitiontype=OPTIONAL"`
	Low24h            *float64 `parquet:"name=low_24h, type=DOUBLE, repetitiontype=OPTIONAL"`
	CirculatingSupply *float64 `parquet:"name=circulating_supply, type=DOUBLE, repetitiontype=OPTIONAL"`
	LastUpdated       string   `parquet:"name=last_updated, type=BYTE_ARRAY, convertedtype=UTF8"`
	SourceFile        string   `parquet:"name=source_file, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type sourceBucket interface {
	ListKeys(ctx context.Context) ([]string, error)
	Download(ctx context.Context, key string) ([]byte, error)
}

type archiveBucket interface {
	EnsureBucket(ctx context.Context) error
	UploadWithMetadata(ctx context.Context, localPath, key, contentType string, metadata map[string]*string) error
}

type ingestionLedger interface {
	Processed(ctx context.Context) (map[string]struct{}, error)
}

// Compactor rolls each fully-ingested day of CSV objects into one parquet
// file. Source objects are never deleted and the warehouse is never
// touched; re-running overwrites the same archive objects.
type Compactor struct {
	source  sourceBucket
	archive archiveBucket
	ledger  ingestionLedger
	workers int
	tempDir string
	logger  *zap.Logger
}

func NewCompactor(source sourceBucket, archive archiveBucket, ledger ingestionLedger, logger *zap.Logger) (*Compactor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tempDir, err := os.MkdirTemp("", "coinetl-compact-")
	if err != nil {
		return nil, errors.Wrap(err, "create temp dir")
	}
	return &Compactor{
		source:  source,
		archive: archive,
		ledger:  ledger,
		workers: 4,
		tempDir: tempDir,
		logger:  logger,
	}, nil
}

func (c *Compactor) Cleanup() {
	if err := os.RemoveAll(c.tempDir); err != nil {
		c.logger.Warn("failed to remove temp dir", zap.String("dir", c.tempDir), zap.Error(err))
	}
}

// Run archives every complete day of ingested snapshots. The current day
// is skipped since it may still be receiving uploads.
func (c *Compactor) Run(ctx context.Context) error {
	processed, err := c.ledger.Processed(ctx)
	if err != nil {
		return errors.Wrap(err, "read ingestion ledger")
	}

	keys, err := c.source.ListKeys(ctx)
	if err != nil {
		return errors.Wrap(err, "list source bucket")
	}

	groups := GroupByDay(keys, processed, objstore.DayPrefix(time.Now()))
	if len(groups) == 0 {
		c.logger.Info("nothing to compact")
		return nil
	}

	if err := c.archive.EnsureBucket(ctx); err != nil {
		return err
	}

	semaphore := make(chan struct{}, c.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	compacted := 0
	failed := 0

	for day, dayKeys := range groups {
		wg.Add(1)
		go func(day string, dayKeys []string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := c.compactDay(ctx, day, dayKeys); err != nil {
				c.logger.Error("failed to compact day", zap.String("day", day), zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			mu.Lock()
			compacted++
			mu.Unlock()
		}(day, dayKeys)
	}
	wg.Wait()

	c.logger.Info("compaction complete", zap.Int("days_compacted", compacted), zap.Int("days_failed", failed))
	if failed > 0 {
		return errors.Errorf("%d of %d day groups failed", failed, len(groups))
	}
	return nil
}

func (c *Compactor) compactDay(ctx context.Context, day string, keys []string) error {
	targetKey, err := ArchiveKey(day)
	if err != nil {
		return err
	}

	var rows []ParquetRow
	for _, key := range keys {
		data, err := c.source.Download(ctx, key)
		if err != nil {
			return err
		}
		snaps, err := models.ParseCSV(data)
		if err != nil {
			return errors.Wrapf(err, "parse %s", key)
		}
		for _, s := range snaps {
			rows = append(rows, ParquetRow{
				CoinID:            s.ID,
				Symbol:            s.Symbol,
				Name:              s.Name,
				CurrentPrice:      nullDecimalToFloat(s.CurrentPrice),
				MarketCap:         nullDecimalToFloat(s.MarketCap),
				MarketCapRank:     s.MarketCapRank,
				TotalVolume:       nullDecimalToFloat(s.TotalVolume),
				High24h:           nullDecimalToFloat(s.High24h),
				Low24h:            nullDecimalToFloat(s.Low24h),
				CirculatingSupply: nullDecimalToFloat(s.CirculatingSupply),
				LastUpdated:       s.LastUpdated,
				SourceFile:        key,
			})
		}
	}

	localPath := filepath.Join(c.tempDir, strings.ReplaceAll(day, "/", "-")+".parquet")
	if err := writeParquet(localPath, rows); err != nil {
		return err
	}
	defer os.Remove(localPath)

	metadata := map[string]*string{
		"record-count": aws.String(fmt.Sprintf("%d", len(rows))),
		"source-files": aws.String(fmt.Sprintf("%d", len(keys))),
	}
	if err := c.archive.UploadWithMetadata(ctx, localPath, targetKey, "application/octet-stream", metadata); err != nil {
		return err
	}

	c.logger.Info("archived day",
		zap.String("day", day),
		zap.String("key", targetKey),
		zap.Int("rows", len(rows)),
		zap.Int("source_files", len(keys)))
	return nil
}

func writeParquet(path string, rows []ParquetRow) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}

	pw, err := writer.NewParquetWriter(fw, new(ParquetRow), 4)
	if err != nil {
		fw.Close()
		return errors.Wrap(err, "create parquet writer")
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			fw.Close()
			return errors.Wrap(err, "write parquet row")
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return errors.Wrap(err, "finalize parquet file")
	}
	return errors.Wrapf(fw.Close(), "close %s", path)
}

// GroupByDay buckets ingested CSV keys by their {year}/{MM}/{DD} prefix.
// Keys outside the partition layout, not yet ingested, or from the current
// day are left alone.
func GroupByDay(keys []string, processed map[string]struct{}, today string) map[string][]string {
	groups := make(map[string][]string)
	for _, key := range keys {
		if !strings.HasSuffix(key, ".csv") {
			continue
		}
		if _, ok := processed[key]; !ok {
			continue
		}
		parts := strings.Split(key, "/")
		if len(parts) != 4 {
			continue
		}
		day := strings.Join(parts[:3], "/")
		if day == today {
			continue
		}
		groups[day] = append(groups[day], key)
	}
	return groups
}

// ArchiveKey maps a {year}/{MM}/{DD} day prefix to its archive object key
// {year}/q{quarter}/{YYYY-MM-DD}.parquet.
func ArchiveKey(day string) (string, error) {
	t, err := time.Parse("2006/01/02", day)
	if err != nil {
		return "", errors.Wrapf(err, "bad day prefix %q", day)
	}
	quarter := (int(t.Month())-1)/3 + 1
	return fmt.Sprintf("%d/q%d/%s.parquet", t.Year(), quarter, t.Format("2006-01-02")), nil
}

func nullDecimalToFloat(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f, _ := d.Decimal.Float64()
	return &f
}
