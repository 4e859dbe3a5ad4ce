// Package warehouse loads market snapshots into the star schema
// (dim_coin, dim_time, fact_coin_measurements) and tracks ingested
// objects in the processed_files ledger.
package warehouse

import (
	"context"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"coinetl/internal/models"
)

// Connect opens the warehouse connection pool. Decimal values are encoded
// as numeric on every pooled connection.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse warehouse config")
	}
	poolConfig.MaxConns = 5
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	return pool, errors.Wrap(err, "create warehouse pool")
}

// Warehouse writes snapshot rows into the star schema.
type Warehouse struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func New(pool *pgxpool.Pool, logger *zap.Logger) *Warehouse {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warehouse{pool: pool, logger: logger}
}

type factRow struct {
	snap models.CoinSnapshot
	ts   time.Time
}

var factColumns = []string{
	"coin_key", "time_key", "current_price", "market_cap", "market_cap_rank",
	"fully_diluted_valuation", "total_volume", "high_24h", "low_24h",
	"price_change_24h", "price_change_percentage_24h", "market_cap_change_24h",
	"market_cap_change_percentage_24h", "circulating_supply", "ath",
	"ath_change_percentage", "atl", "atl_change_percentage",
}

// LoadSnapshots stages the distinct coin and time natural keys of one
// object, resolves or creates their dimension rows, and appends one fact
// row per snapshot, all in a single transaction. Rows whose last_updated
// field does not parse are skipped; everything else either commits whole
// or rolls back. Returns the number of fact rows written.
func (w *Warehouse) LoadSnapshots(ctx context.Context, rows []models.CoinSnapshot) (int, error) {
	facts := make([]factRow, 0, len(rows))
	for _, row := range rows {
		ts, err := parseLastUpdated(row.LastUpdated)
		if err != nil {
			w.logger.Error("skipping row with unparseable last_updated",
				zap.String("coin_id", row.ID),
				zap.String("last_updated", row.LastUpdated),
				zap.Error(err))
			continue
		}
		facts = append(facts, factRow{snap: row, ts: ts})
	}
	if len(facts) == 0 {
		return 0, nil
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	coinKeys, err := ensureCoins(ctx, tx, facts)
	if err != nil {
		return 0, err
	}
	timeKeys, err := ensureTimes(ctx, tx, facts)
	if err != nil {
		return 0, err
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"fact_coin_measurements"},
		factColumns,
		pgx.CopyFromSlice(len(facts), func(i int) ([]any, error) {
			f := facts[i]
			return []any{
				coinKeys[f.snap.ID], timeKeys[f.ts], f.snap.CurrentPrice, f.snap.MarketCap, f.snap.MarketCapRank,
				f.snap.FullyDilutedValuation, f.snap.TotalVolume, f.snap.High24h, f.snap.Low24h,
				f.snap.PriceChange24h, f.snap.PriceChangePercentage24h, f.snap.MarketCapChange24h,
				f.snap.MarketCapChangePercentage24h, f.snap.CirculatingSupply, f.snap.ATH,
				f.snap.ATHChangePercentage, f.snap.ATL, f.snap.ATLChangePercentage,
			}, nil
		}))
	if err != nil {
		return 0, errors.Wrap(err, "copy fact rows")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit")
	}
	return len(facts), nil
}

// ensureCoins resolves coin_id -> coin_key for every distinct coin in the
// batch, inserting unseen coins with the attributes of their first row.
// ON CONFLICT DO NOTHING plus a re-select keeps the natural-key uniqueness
// invariant even under a concurrent writer.
func ensureCoins(ctx context.Context, tx pgx.Tx, facts []factRow) (map[string]int64, error) {
	firstSeen := make(map[string]models.CoinSnapshot)
	var ids []string
	for _, f := range facts {
		if _, ok := firstSeen[f.snap.ID]; !ok {
			firstSeen[f.snap.ID] = f.snap
			ids = append(ids, f.snap.ID)
		}
	}

	keys, err := selectCoinKeys(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	batch := &pgx.Batch{}
	queued := 0
	for _, id := range ids {
		if _, ok := keys[id]; ok {
			continue
		}
		c := firstSeen[id]
		batch.Queue(`INSERT INTO dim_coin (coin_id, symbol, name, image, total_supply, max_supply)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (coin_id) DO NOTHING`,
			c.ID, c.Symbol, c.Name, c.Image, c.TotalSupply, c.MaxSupply)
		queued++
	}
	if queued > 0 {
		if err := sendBatch(ctx, tx, batch, queued); err != nil {
			return nil, errors.Wrap(err, "insert dim_coin")
		}
		if keys, err = selectCoinKeys(ctx, tx, ids); err != nil {
			return nil, err
		}
	}

	for _, id := range ids {
		if _, ok := keys[id]; !ok {
			return nil, errors.Errorf("dim_coin row for %q missing after insert", id)
		}
	}
	return keys, nil
}

func selectCoinKeys(ctx context.Context, tx pgx.Tx, ids []string) (map[string]int64, error) {
	rows, err := tx.Query(ctx,
		"SELECT coin_id, coin_key FROM dim_coin WHERE coin_id = ANY($1)", ids)
	if err != nil {
		return nil, errors.Wrap(err, "select dim_coin keys")
	}
	defer rows.Close()

	keys := make(map[string]int64, len(ids))
	for rows.Next() {
		var id string
		var key int64
		if err := rows.Scan(&id, &key); err != nil {
			return nil, errors.Wrap(err, "scan dim_coin key")
		}
		keys[id] = key
	}
	return keys, errors.Wrap(rows.Err(), "iterate dim_coin keys")
}

// ensureTimes resolves full_timestamp -> time_key for every distinct
// timestamp in the batch, inserting unseen ones with decomposed calendar
// fields.
func ensureTimes(ctx context.Context, tx pgx.Tx, facts []factRow) (map[time.Time]int64, error) {
	seen := make(map[time.Time]struct{})
	var stamps []time.Time
	for _, f := range facts {
		if _, ok := seen[f.ts]; !ok {
			seen[f.ts] = struct{}{}
			stamps = append(stamps, f.ts)
		}
	}

	keys, err := selectTimeKeys(ctx, tx, stamps)
	if err != nil {
		return nil, err
	}

	batch := &pgx.Batch{}
	queued := 0
	for _, ts := range stamps {
		if _, ok := keys[ts]; ok {
			continue
		}
		p := decomposeTime(ts)
		batch.Queue(`INSERT INTO dim_time (full_timestamp, date, year, month, day, hour, minute, second, day_of_week, quarter)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (full_timestamp) DO NOTHING`,
			ts, p.Date, p.Year, p.Month, p.Day, p.Hour, p.Minute, p.Second, p.DayOfWeek, p.Quarter)
		queued++
	}
	if queued > 0 {
		if err := sendBatch(ctx, tx, batch, queued); err != nil {
			return nil, errors.Wrap(err, "insert dim_time")
		}
		if keys, err = selectTimeKeys(ctx, tx, stamps); err != nil {
			return nil, err
		}
	}

	for _, ts := range stamps {
		if _, ok := keys[ts]; !ok {
			return nil, errors.Errorf("dim_time row for %s missing after insert", ts)
		}
	}
	return keys, nil
}

func selectTimeKeys(ctx context.Context, tx pgx.Tx, stamps []time.Time) (map[time.Time]int64, error) {
	rows, err := tx.Query(ctx,
		"SELECT full_timestamp, time_key FROM dim_time WHERE full_timestamp = ANY($1)", stamps)
	if err != nil {
		return nil, errors.Wrap(err, "select dim_time keys")
	}
	defer rows.Close()

	keys := make(map[time.Time]int64, len(stamps))
	for rows.Next() {
		var ts time.Time
		var key int64
		if err := rows.Scan(&ts, &key); err != nil {
			return nil, errors.Wrap(err, "scan dim_time key")
		}
		keys[ts.UTC()] = key
	}
	return keys, errors.Wrap(rows.Err(), "iterate dim_time keys")
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, n int) error {
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}
