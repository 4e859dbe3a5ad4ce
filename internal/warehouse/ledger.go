package warehouse

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const createProcessedFiles = `
	CREATE TABLE IF NOT EXISTS processed_files (
		file_name TEXT PRIMARY KEY
	)`

// Ledger is the durable set of object keys that have already been ingested.
// Each call opens and closes its own connection.
//
// With failOpen set, read errors degrade to "nothing processed yet" and
// write errors are swallowed, so a warehouse outage causes re-ingestion
// (duplicate facts) instead of halting the pipeline. With failOpen unset,
// ledger errors abort the run.
type Ledger struct {
	connString string
	failOpen   bool
	logger     *zap.Logger
}

func NewLedger(connString string, failOpen bool, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{connString: connString, failOpen: failOpen, logger: logger}
}

// Processed ensures the ledger table exists and returns all known keys.
func (l *Ledger) Processed(ctx context.Context) (map[string]struct{}, error) {
	set, err := l.fetch(ctx)
	if err != nil {
		if l.failOpen {
			l.logger.Error("ledger read failed, treating every object as unprocessed", zap.Error(err))
			return map[string]struct{}{}, nil
		}
		return nil, err
	}
	return set, nil
}

func (l *Ledger) fetch(ctx context.Context) (map[string]struct{}, error) {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return nil, errors.Wrap(err, "connect to warehouse")
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, createProcessedFiles); err != nil {
		return nil, errors.Wrap(err, "create processed_files")
	}

	rows, err := conn.Query(ctx, "SELECT file_name FROM processed_files")
	if err != nil {
		return nil, errors.Wrap(err, "select processed_files")
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan file_name")
		}
		set[name] = struct{}{}
	}
	return set, errors.Wrap(rows.Err(), "iterate processed_files")
}

// MarkProcessed records a key, a no-op when it is already present.
func (l *Ledger) MarkProcessed(ctx context.Context, key string) error {
	if err := l.insert(ctx, key); err != nil {
		if l.failOpen {
			l.logger.Error("failed to mark object processed", zap.String("key", key), zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

func (l *Ledger) insert(ctx context.Context, key string) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return errors.Wrap(err, "connect to warehouse")
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx,
		"INSERT INTO processed_files (file_name) VALUES ($1) ON CONFLICT DO NOTHING", key)
	return errors.Wrapf(err, "insert processed file %s", key)
}
