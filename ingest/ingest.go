package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"marketpulse/config"
	"marketpulse/logger"
	"marketpulse/models"
	"marketpulse/source"
	"marketpulse/store"
)

// Store commits one cycle's batch transactionally and purges expired rows.
type Store interface {
	CommitCycle(ctx context.Context, batch store.CycleBatch, retention config.RetentionConfig, now time.Time) (store.PurgeResult, error)
}

// MarketSource provides per-symbol market metrics.
type MarketSource interface {
	FetchMetrics(ctx context.Context) (map[string]models.MarketMetrics, error)
}

// EnrichmentSource provides market-cap data keyed by coin id.
type EnrichmentSource interface {
	FetchMarkets(ctx context.Context) (map[string]source.CoinData, error)
}

// FundingSource provides mark price and funding rate per symbol.
type FundingSource interface {
	FetchFunding(ctx context.Context) (map[string]source.FundingSnapshot, error)
}

// EventFeed is the tracker surface the ingest loop reads.
type EventFeed interface {
	Snapshot() []models.Event
	RecentLiquidations() *models.LiquidationsReport
	RecentTrades() []models.Event
}

// Cache receives the assembled dashboard payload after each commit.
type Cache interface {
	SetDashboard(ctx context.Context, payload *models.DashboardPayload) error
}

// Archiver receives the cycle's events for cold storage.
type Archiver interface {
	ArchiveLiquidations(events []models.Event)
	ArchiveTrades(events []models.Event)
}

// Ingestor runs the fixed-interval ingest cycle: fetch REST sources, pull
// tracker snapshots, commit one transaction, purge, publish the dashboard
// payload. Every source failure is contained to that source; a cycle never
// aborts because one input went missing.
type Ingestor struct {
	config *config.Config
	store  Store
	log    *logger.Log

	market  MarketSource
	enrich  EnrichmentSource
	funding FundingSource

	liquidations EventFeed
	trades       EventFeed

	cache    Cache
	archiver Archiver

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool

	// Persistence cursors so a buffered event is written once, not on every
	// cycle it remains in the ring. Cursors track the per-feed sequence
	// stamped at push time because exchange timestamps are millisecond
	// resolution and collide under load.
	liqCursor   uint64
	tradeCursor uint64
}

// Options carries the ingestor's collaborators. Market, enrichment, funding,
// cache and archiver are optional; the store and both feeds are not.
type Options struct {
	Store        Store
	Market       MarketSource
	Enrichment   EnrichmentSource
	Funding      FundingSource
	Liquidations EventFeed
	Trades       EventFeed
	Cache        Cache
	Archiver     Archiver
}

func NewIngestor(cfg *config.Config, opts Options) (*Ingestor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("ingestor requires a store")
	}
	if opts.Liquidations == nil || opts.Trades == nil {
		return nil, fmt.Errorf("ingestor requires both event feeds")
	}

	return &Ingestor{
		config:       cfg,
		store:        opts.Store,
		log:          logger.GetLogger(),
		market:       opts.Market,
		enrich:       opts.Enrichment,
		funding:      opts.Funding,
		liquidations: opts.Liquidations,
		trades:       opts.Trades,
		cache:        opts.Cache,
		archiver:     opts.Archiver,
	}, nil
}

// Start launches the cycle loop.
func (i *Ingestor) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running {
		return fmt.Errorf("ingestor already running")
	}
	i.running = true
	i.ctx, i.cancel = context.WithCancel(ctx)

	i.wg.Add(1)
	go i.loop()

	i.log.WithComponent("ingestor").WithFields(logger.Fields{
		"interval": i.config.Ingest.Interval.String(),
	}).Info("ingest loop started")
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to finish or roll
// back. No transaction is left open.
func (i *Ingestor) Stop() {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return
	}
	i.running = false
	i.cancel()
	i.mu.Unlock()

	i.wg.Wait()
	i.log.WithComponent("ingestor").Info("ingest loop stopped")
}

func (i *Ingestor) loop() {
	defer i.wg.Done()

	interval := i.config.Ingest.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
			i.RunCycle(i.ctx)
		}
	}
}

// RunCycle executes one full ingest cycle. Exported so the composition root
// can prime the store immediately at startup instead of waiting a full
// interval.
func (i *Ingestor) RunCycle(ctx context.Context) {
	started := time.Now()
	log := i.log.WithComponent("ingestor")

	metrics := i.collectMarket(ctx)
	batch, liqHigh, tradeHigh := i.buildBatch(metrics, started)

	result, err := i.store.CommitCycle(ctx, batch, i.config.Ingest.Retention, started)
	if err != nil {
		log.WithError(err).Error("cycle commit failed, retrying next interval")
		return
	}
	i.advanceCursors(liqHigh, tradeHigh)

	if i.archiver != nil {
		i.archiver.ArchiveLiquidations(batch.Liquidations)
		i.archiver.ArchiveTrades(batch.Trades)
	}

	i.publish(ctx, metrics)

	logger.LogPerformanceEntry(log, "ingestor", "cycle", time.Since(started), logger.Fields{
		"rows":             batch.Rows(),
		"purged_snapshots": result.MarketSnapshots,
		"purged_liqs":      result.Liquidations,
		"purged_trades":    result.Trades,
	})
}

// collectMarket merges the REST sources into per-symbol metrics. Each
// source's failure is logged and skipped.
func (i *Ingestor) collectMarket(ctx context.Context) map[string]models.MarketMetrics {
	log := i.log.WithComponent("ingestor")
	metrics := make(map[string]models.MarketMetrics)

	if i.market != nil && i.config.Sources.Hyperliquid.Enabled {
		if m, err := i.market.FetchMetrics(ctx); err != nil {
			log.WithError(err).Warn("market metrics fetch failed, contributing nothing")
		} else {
			for sym, v := range m {
				metrics[sym] = v
			}
		}
	}

	if i.funding != nil && i.config.Sources.Binance.Enabled {
		if funding, err := i.funding.FetchFunding(ctx); err != nil {
			log.WithError(err).Warn("funding fetch failed, contributing nothing")
		} else {
			for sym, f := range funding {
				m := metrics[sym]
				m.Symbol = sym
				m.MarkPrice = f.MarkPrice
				m.FundingRate = f.FundingRate
				if m.Price == 0 {
					m.Price = f.MarkPrice
				}
				metrics[sym] = m
			}
		}
	}

	if i.enrich != nil && i.config.Sources.CoinGecko.Enabled {
		if coins, err := i.enrich.FetchMarkets(ctx); err != nil {
			log.WithError(err).Warn("enrichment fetch failed, contributing nothing")
		} else {
			for id, coin := range coins {
				sym := source.CoinSymbol(id)
				m := metrics[sym]
				m.Symbol = sym
				m.MarketCap = coin.MarketCapUSD
				if m.Price == 0 {
					m.Price = coin.PriceUSD
				}
				if m.Volume24h == 0 {
					m.Volume24h = coin.Volume24hUSD
				}
				if m.PriceChange24h == 0 {
					m.PriceChange24h = coin.Change24hPct
				}
				metrics[sym] = m
			}
		}
	}

	return metrics
}

// buildBatch assembles the persistence batch from the merged metrics and the
// tracker snapshots, returning the high-water sequences of the event slices.
func (i *Ingestor) buildBatch(metrics map[string]models.MarketMetrics, now time.Time) (store.CycleBatch, uint64, uint64) {
	var batch store.CycleBatch

	ts := now.UTC().Truncate(time.Second)
	for sym, m := range metrics {
		if m.Price <= 0 {
			continue
		}
		batch.Snapshots = append(batch.Snapshots, models.MarketSnapshot{
			ID:             SnapshotID(sym, ts),
			Symbol:         sym,
			Timestamp:      ts,
			Price:          m.Price,
			Volume24h:      m.Volume24h,
			OpenInterest:   m.OpenInterest,
			FundingRate:    m.FundingRate,
			PriceChange24h: m.PriceChange24h,
		})
		if m.MarketCap > 0 {
			batch.Assets = append(batch.Assets, models.Asset{
				Symbol:    sym,
				Name:      assetName(sym),
				Category:  "crypto",
				MarketCap: m.MarketCap,
				Updated:   ts,
			})
		}
	}
	batch.Outliers = computeOutliers(metrics, ts)

	i.mu.Lock()
	liqMark, tradeMark := i.liqCursor, i.tradeCursor
	i.mu.Unlock()

	var liqHigh, tradeHigh uint64
	batch.Liquidations, liqHigh = eventsSince(i.liquidations.Snapshot(), liqMark)
	batch.Trades, tradeHigh = eventsSince(i.trades.Snapshot(), tradeMark)

	return batch, liqHigh, tradeHigh
}

func (i *Ingestor) advanceCursors(liqHigh, tradeHigh uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if liqHigh > i.liqCursor {
		i.liqCursor = liqHigh
	}
	if tradeHigh > i.tradeCursor {
		i.tradeCursor = tradeHigh
	}
}

// publish assembles the dashboard payload and writes it to the cache.
func (i *Ingestor) publish(ctx context.Context, metrics map[string]models.MarketMetrics) {
	if i.cache == nil {
		return
	}

	payload := &models.DashboardPayload{
		Market:       metrics,
		Liquidations: *i.liquidations.RecentLiquidations(),
		Trades:       i.trades.RecentTrades(),
		GeneratedAt:  time.Now().UTC(),
	}

	if err := i.cache.SetDashboard(ctx, payload); err != nil {
		i.log.WithComponent("ingestor").WithError(err).Warn("dashboard cache write failed")
	}
}

// eventsSince filters events whose sequence is above the persisted cursor and
// reports the highest sequence seen. Comparing sequences rather than
// timestamps keeps events sharing one exchange millisecond distinct.
func eventsSince(events []models.Event, cursor uint64) ([]models.Event, uint64) {
	out := make([]models.Event, 0, len(events))
	high := cursor
	for _, ev := range events {
		if ev.Seq <= cursor {
			continue
		}
		out = append(out, ev)
		if ev.Seq > high {
			high = ev.Seq
		}
	}
	return out, high
}

// SnapshotID builds the composite snapshot key.
func SnapshotID(symbol string, ts time.Time) string {
	return fmt.Sprintf("%s_%s", symbol, ts.UTC().Format(time.RFC3339))
}

func assetName(symbol string) string {
	switch symbol {
	case "BTC":
		return "Bitcoin"
	case "ETH":
		return "Ethereum"
	case "SOL":
		return "Solana"
	case "BNB":
		return "BNB"
	case "LTC":
		return "Litecoin"
	default:
		return strings.ToUpper(symbol)
	}
}
