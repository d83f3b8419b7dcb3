package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"marketpulse/config"
	"marketpulse/logger"
	"marketpulse/models"
)

// PostgresStore persists ingest cycle output. All writes happen inside a
// transaction opened by the ingest loop via Begin; reads are not served
// here, the dashboard layer queries the store on its own.
type PostgresStore struct {
	db  *sql.DB
	log *logger.Log
}

// Open connects to postgres and verifies the connection.
func Open(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{db: db, log: logger.GetLogger()}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS assets (
			symbol TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT,
			market_cap DOUBLE PRECISION,
			circulating_supply DOUBLE PRECISION,
			max_supply DOUBLE PRECISION,
			ts_updated TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS market_snapshots (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			volume_24h DOUBLE PRECISION,
			open_interest DOUBLE PRECISION,
			funding_rate DOUBLE PRECISION,
			price_change_24h DOUBLE PRECISION,
			ts_created TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_market_snapshots_ts ON market_snapshots (timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_market_snapshots_symbol ON market_snapshots (symbol, timestamp)`,
		`CREATE TABLE IF NOT EXISTS liquidations (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			value_usd DOUBLE PRECISION NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			origin TEXT NOT NULL,
			ts_created TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_liquidations_ts ON liquidations (timestamp)`,
		`CREATE TABLE IF NOT EXISTS trades_large (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			value_usd DOUBLE PRECISION NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			origin TEXT NOT NULL,
			ts_created TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_large_ts ON trades_large (timestamp)`,
		`CREATE TABLE IF NOT EXISTS bubble_outliers (
			symbol TEXT PRIMARY KEY,
			z_score DOUBLE PRECISION NOT NULL,
			current_price DOUBLE PRECISION NOT NULL,
			baseline_price DOUBLE PRECISION,
			percent_deviation DOUBLE PRECISION,
			direction TEXT,
			lookback_days INTEGER,
			ts_updated TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertAssets writes asset metadata, updating existing rows by symbol.
func (s *PostgresStore) UpsertAssets(ctx context.Context, tx *sql.Tx, assets []models.Asset) error {
	if len(assets) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO assets (symbol, name, category, market_cap, circulating_supply, max_supply, ts_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			market_cap = EXCLUDED.market_cap,
			circulating_supply = EXCLUDED.circulating_supply,
			max_supply = EXCLUDED.max_supply,
			ts_updated = EXCLUDED.ts_updated`)
	if err != nil {
		return fmt.Errorf("prepare asset upsert: %w", err)
	}
	defer stmt.Close()

	for _, a := range assets {
		if _, err := stmt.ExecContext(ctx, a.Symbol, a.Name, nullStr(a.Category),
			a.MarketCap, nullFloat(a.CirculatingSupply, a.CirculatingSupply > 0),
			nullFloat(a.MaxSupply, a.MaxSupply > 0),
			a.Updated.UTC()); err != nil {
			return fmt.Errorf("upsert asset %s: %w", a.Symbol, err)
		}
	}
	return nil
}

// InsertMarketSnapshots appends the cycle's market observations. The
// composite id makes re-inserting the same snapshot a no-op.
func (s *PostgresStore) InsertMarketSnapshots(ctx context.Context, tx *sql.Tx, snaps []models.MarketSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO market_snapshots (id, symbol, timestamp, price, volume_24h, open_interest, funding_rate, price_change_24h, ts_created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, snap := range snaps {
		if _, err := stmt.ExecContext(ctx, snap.ID, snap.Symbol, snap.Timestamp.UTC(),
			snap.Price, snap.Volume24h, snap.OpenInterest,
			snap.FundingRate, snap.PriceChange24h, now); err != nil {
			return fmt.Errorf("insert snapshot %s: %w", snap.ID, err)
		}
	}
	return nil
}

// InsertLiquidations appends normalized liquidation events.
func (s *PostgresStore) InsertLiquidations(ctx context.Context, tx *sql.Tx, events []models.Event) error {
	return s.insertEvents(ctx, tx, "liquidations", events)
}

// InsertTrades appends normalized large-trade events.
func (s *PostgresStore) InsertTrades(ctx context.Context, tx *sql.Tx, events []models.Event) error {
	return s.insertEvents(ctx, tx, "trades_large", events)
}

func (s *PostgresStore) insertEvents(ctx context.Context, tx *sql.Tx, table string, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (symbol, side, price, quantity, value_usd, timestamp, origin, ts_created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, table))
	if err != nil {
		return fmt.Errorf("prepare %s insert: %w", table, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, ev.Symbol, string(ev.Side), ev.Price,
			ev.Quantity, ev.ValueUSD, ev.Timestamp.UTC(), string(ev.Origin), now); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return nil
}

// UpsertBubbleOutliers writes per-symbol deviation rows, updating by symbol.
func (s *PostgresStore) UpsertBubbleOutliers(ctx context.Context, tx *sql.Tx, outliers []models.BubbleOutlier) error {
	if len(outliers) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bubble_outliers (symbol, z_score, current_price, baseline_price, percent_deviation, direction, lookback_days, ts_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol) DO UPDATE SET
			z_score = EXCLUDED.z_score,
			current_price = EXCLUDED.current_price,
			baseline_price = EXCLUDED.baseline_price,
			percent_deviation = EXCLUDED.percent_deviation,
			direction = EXCLUDED.direction,
			lookback_days = EXCLUDED.lookback_days,
			ts_updated = EXCLUDED.ts_updated`)
	if err != nil {
		return fmt.Errorf("prepare outlier upsert: %w", err)
	}
	defer stmt.Close()

	for _, o := range outliers {
		if _, err := stmt.ExecContext(ctx, o.Symbol, o.ZScore, o.CurrentPrice,
			o.BaselinePrice, o.PercentDeviation, nullStr(o.Direction),
			o.LookbackDays, o.Updated.UTC()); err != nil {
			return fmt.Errorf("upsert outlier %s: %w", o.Symbol, err)
		}
	}
	return nil
}

// PurgeResult reports rows removed per table by one purge pass.
type PurgeResult struct {
	MarketSnapshots int64
	Liquidations    int64
	Trades          int64
}

// Purge deletes rows strictly older than each retention cutoff. A row whose
// timestamp equals the cutoff exactly is retained. Deleting by cutoff makes
// the pass idempotent: a second run with no new data removes nothing.
func (s *PostgresStore) Purge(ctx context.Context, tx *sql.Tx, retention config.RetentionConfig, now time.Time) (PurgeResult, error) {
	var res PurgeResult

	purge := func(table string, days int, out *int64) error {
		r, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE timestamp < $1`, table), purgeCutoff(now, days))
		if err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return err
		}
		*out = n
		return nil
	}

	if err := purge("market_snapshots", retention.MarketSnapshotDays, &res.MarketSnapshots); err != nil {
		return res, err
	}
	if err := purge("liquidations", retention.LiquidationDays, &res.Liquidations); err != nil {
		return res, err
	}
	if err := purge("trades_large", retention.TradeDays, &res.Trades); err != nil {
		return res, err
	}
	return res, nil
}

// purgeCutoff is the oldest timestamp a table keeps. Rows strictly older
// are deleted; a row landing exactly on the cutoff survives.
func purgeCutoff(now time.Time, days int) time.Time {
	return now.UTC().AddDate(0, 0, -days)
}

// nullFloat carries an optional numeric column. Validity is decided by the
// caller, never inferred from the value, so a legitimate zero is storable.
func nullFloat(v float64, valid bool) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: valid}
}

func nullStr(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
