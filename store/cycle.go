package store

import (
	"context"
	"fmt"
	"time"

	"marketpulse/config"
	"marketpulse/logger"
	"marketpulse/models"
)

// CycleBatch is everything one ingest cycle produced. Empty slices are
// valid; a source that failed this cycle simply contributes nothing.
type CycleBatch struct {
	Assets       []models.Asset
	Snapshots    []models.MarketSnapshot
	Liquidations []models.Event
	Trades       []models.Event
	Outliers     []models.BubbleOutlier
}

// Rows reports the total row count in the batch.
func (b CycleBatch) Rows() int {
	return len(b.Assets) + len(b.Snapshots) + len(b.Liquidations) + len(b.Trades) + len(b.Outliers)
}

// CommitCycle writes one cycle's batch and runs the retention purge inside a
// single transaction. Any failure rolls the whole cycle back; the next cycle
// starts fresh.
func (s *PostgresStore) CommitCycle(ctx context.Context, batch CycleBatch, retention config.RetentionConfig, now time.Time) (PurgeResult, error) {
	var res PurgeResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin cycle transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.UpsertAssets(ctx, tx, batch.Assets); err != nil {
		return res, err
	}
	if err := s.InsertMarketSnapshots(ctx, tx, batch.Snapshots); err != nil {
		return res, err
	}
	if err := s.InsertLiquidations(ctx, tx, batch.Liquidations); err != nil {
		return res, err
	}
	if err := s.InsertTrades(ctx, tx, batch.Trades); err != nil {
		return res, err
	}
	if err := s.UpsertBubbleOutliers(ctx, tx, batch.Outliers); err != nil {
		return res, err
	}

	res, err = s.Purge(ctx, tx, retention, now)
	if err != nil {
		return PurgeResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return PurgeResult{}, fmt.Errorf("commit cycle transaction: %w", err)
	}

	logger.IncrementStoreWrite(batch.Rows())
	return res, nil
}
