package warehouse

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"coinetl/internal/models"
)

type objectStore interface {
	ListKeys(ctx context.Context) ([]string, error)
	Download(ctx context.Context, key string) ([]byte, error)
}

type ingestionLedger interface {
	Processed(ctx context.Context) (map[string]struct{}, error)
	MarkProcessed(ctx context.Context, key string) error
}

type snapshotWriter interface {
	LoadSnapshots(ctx context.Context, rows []models.CoinSnapshot) (int, error)
}

// Loader syncs new snapshot objects from the bucket into the warehouse.
type Loader struct {
	store  objectStore
	ledger ingestionLedger
	wh     snapshotWriter
	logger *zap.Logger
}

func NewLoader(store objectStore, ledger ingestionLedger, wh snapshotWriter, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: store, ledger: ledger, wh: wh, logger: logger}
}

// Run loads every .csv object that is not yet in the ledger. The ledger
// snapshot is taken once at the start, not refreshed mid-run. Download and
// parse failures skip the object (it stays unprocessed and is retried next
// run); a warehouse failure aborts the whole run, leaving the failing
// object and everything after it for the next run. Objects committed
// earlier in the run stay committed and marked.
func (l *Loader) Run(ctx context.Context) error {
	processed, err := l.ledger.Processed(ctx)
	if err != nil {
		return errors.Wrap(err, "read ingestion ledger")
	}

	keys, err := l.store.ListKeys(ctx)
	if err != nil {
		return errors.Wrap(err, "list bucket")
	}

	loaded := 0
	for _, key := range keys {
		if !strings.HasSuffix(key, ".csv") {
			continue
		}
		if _, ok := processed[key]; ok {
			continue
		}

		data, err := l.store.Download(ctx, key)
		if err != nil {
			l.logger.Error("failed to download object, will retry next run",
				zap.String("key", key), zap.Error(err))
			continue
		}

		rows, err := models.ParseCSV(data)
		if err != nil {
			l.logger.Error("failed to parse object, will retry next run",
				zap.String("key", key), zap.Error(err))
			continue
		}

		n, err := l.wh.LoadSnapshots(ctx, rows)
		if err != nil {
			return errors.Wrapf(err, "load %s", key)
		}

		if err := l.ledger.MarkProcessed(ctx, key); err != nil {
			return errors.Wrapf(err, "mark %s processed", key)
		}

		l.logger.Info("ingested object", zap.String("key", key), zap.Int("rows", n))
		loaded++
	}

	l.logger.Info("sync complete", zap.Int("objects_loaded", loaded))
	return nil
}
