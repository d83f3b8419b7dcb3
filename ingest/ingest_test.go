package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketpulse/config"
	"marketpulse/models"
	"marketpulse/store"
)

type fakeStore struct {
	batches []store.CycleBatch
	err     error
}

func (f *fakeStore) CommitCycle(ctx context.Context, batch store.CycleBatch, retention config.RetentionConfig, now time.Time) (store.PurgeResult, error) {
	if f.err != nil {
		return store.PurgeResult{}, f.err
	}
	f.batches = append(f.batches, batch)
	return store.PurgeResult{}, nil
}

type fakeMarket struct {
	metrics map[string]models.MarketMetrics
	err     error
}

func (f *fakeMarket) FetchMetrics(ctx context.Context) (map[string]models.MarketMetrics, error) {
	return f.metrics, f.err
}

type fakeFeed struct {
	events []models.Event
	seq    uint64
}

// add stamps the event with the feed's next sequence, mirroring what the
// tracker does at push time.
func (f *fakeFeed) add(ev models.Event) {
	f.seq++
	ev.Seq = f.seq
	f.events = append(f.events, ev)
}

func (f *fakeFeed) Snapshot() []models.Event { return f.events }
func (f *fakeFeed) RecentLiquidations() *models.LiquidationsReport {
	return &models.LiquidationsReport{BySymbol: map[string]*models.SymbolLiquidations{}}
}
func (f *fakeFeed) RecentTrades() []models.Event { return f.events }

type fakeCache struct {
	payloads []*models.DashboardPayload
	err      error
}

func (f *fakeCache) SetDashboard(ctx context.Context, p *models.DashboardPayload) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, p)
	return nil
}

func ingestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Ingest.Interval = time.Minute
	cfg.Ingest.Retention = config.RetentionConfig{
		MarketSnapshotDays: 14,
		LiquidationDays:    90,
		TradeDays:          90,
	}
	cfg.Sources.Hyperliquid.Enabled = true
	return cfg
}

func liveEvent(sym string, value float64, ts time.Time) models.Event {
	return models.Event{
		Symbol:    sym,
		Side:      models.SideSell,
		Price:     value,
		Quantity:  1,
		ValueUSD:  value,
		Timestamp: ts,
		Origin:    models.OriginLive,
	}
}

func TestCyclePersistsEventsWhenMarketFails(t *testing.T) {
	st := &fakeStore{}
	now := time.Now().UTC()
	liq := &fakeFeed{}
	liq.add(liveEvent("BTC", 10000, now))
	trd := &fakeFeed{}
	trd.add(liveEvent("ETH", 5000, now))

	ing, err := NewIngestor(ingestConfig(), Options{
		Store:        st,
		Market:       &fakeMarket{err: errors.New("upstream down")},
		Liquidations: liq,
		Trades:       trd,
	})
	if err != nil {
		t.Fatal(err)
	}

	ing.RunCycle(context.Background())

	if len(st.batches) != 1 {
		t.Fatalf("committed %d batches, want 1", len(st.batches))
	}
	batch := st.batches[0]
	if len(batch.Liquidations) != 1 || len(batch.Trades) != 1 {
		t.Errorf("events = %d liq / %d trades, want 1/1", len(batch.Liquidations), len(batch.Trades))
	}
	if len(batch.Snapshots) != 0 {
		t.Errorf("snapshots = %d, want 0 when market source fails", len(batch.Snapshots))
	}
}

func TestCycleCursorPreventsReinsert(t *testing.T) {
	st := &fakeStore{}
	now := time.Now().UTC()
	liq := &fakeFeed{}
	liq.add(liveEvent("BTC", 10000, now))
	trd := &fakeFeed{}

	ing, err := NewIngestor(ingestConfig(), Options{Store: st, Liquidations: liq, Trades: trd})
	if err != nil {
		t.Fatal(err)
	}

	ing.RunCycle(context.Background())
	ing.RunCycle(context.Background())

	if len(st.batches) != 2 {
		t.Fatalf("committed %d batches, want 2", len(st.batches))
	}
	if n := len(st.batches[1].Liquidations); n != 0 {
		t.Errorf("second cycle re-inserted %d events, want 0", n)
	}

	// A newer event is picked up by the next cycle.
	liq.add(liveEvent("BTC", 20000, now.Add(time.Second)))
	ing.RunCycle(context.Background())
	if n := len(st.batches[2].Liquidations); n != 1 {
		t.Errorf("third cycle persisted %d events, want 1", n)
	}
}

func TestCycleCursorPersistsEqualTimestampEvent(t *testing.T) {
	st := &fakeStore{}
	now := time.Now().UTC()
	liq := &fakeFeed{}
	liq.add(liveEvent("BTC", 10000, now))

	ing, err := NewIngestor(ingestConfig(), Options{Store: st, Liquidations: liq, Trades: &fakeFeed{}})
	if err != nil {
		t.Fatal(err)
	}

	ing.RunCycle(context.Background())

	// A second event lands in the buffer carrying the identical exchange
	// millisecond. It must still be persisted by the next cycle.
	liq.add(liveEvent("BTC", 20000, now))
	ing.RunCycle(context.Background())

	if len(st.batches) != 2 {
		t.Fatalf("committed %d batches, want 2", len(st.batches))
	}
	got := st.batches[1].Liquidations
	if len(got) != 1 || got[0].ValueUSD != 20000 {
		t.Fatalf("second cycle persisted %+v, want the equal-timestamp event", got)
	}
}

func TestCycleCommitFailureKeepsCursor(t *testing.T) {
	st := &fakeStore{err: errors.New("connection lost")}
	now := time.Now().UTC()
	liq := &fakeFeed{}
	liq.add(liveEvent("BTC", 10000, now))

	ing, err := NewIngestor(ingestConfig(), Options{Store: st, Liquidations: liq, Trades: &fakeFeed{}})
	if err != nil {
		t.Fatal(err)
	}

	ing.RunCycle(context.Background())

	// Store recovers; the event must now be persisted, not lost.
	st.err = nil
	ing.RunCycle(context.Background())

	if len(st.batches) != 1 {
		t.Fatalf("committed %d batches, want 1", len(st.batches))
	}
	if n := len(st.batches[0].Liquidations); n != 1 {
		t.Errorf("recovered cycle persisted %d events, want 1", n)
	}
}

func TestCycleBuildsSnapshotsAndPublishes(t *testing.T) {
	st := &fakeStore{}
	cacheSink := &fakeCache{}
	metrics := map[string]models.MarketMetrics{
		"BTC": {Symbol: "BTC", Price: 82000, MarketCap: 1.6e12, PriceChange24h: 2.5},
		"ETH": {Symbol: "ETH", Price: 1620, MarketCap: 1.9e11, PriceChange24h: -1.0},
	}

	ing, err := NewIngestor(ingestConfig(), Options{
		Store:        st,
		Market:       &fakeMarket{metrics: metrics},
		Liquidations: &fakeFeed{},
		Trades:       &fakeFeed{},
		Cache:        cacheSink,
	})
	if err != nil {
		t.Fatal(err)
	}

	ing.RunCycle(context.Background())

	batch := st.batches[0]
	if len(batch.Snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(batch.Snapshots))
	}
	if len(batch.Assets) != 2 {
		t.Errorf("assets = %d, want 2", len(batch.Assets))
	}
	for _, snap := range batch.Snapshots {
		if snap.ID != SnapshotID(snap.Symbol, snap.Timestamp) {
			t.Errorf("snapshot id %q not composite", snap.ID)
		}
	}

	if len(cacheSink.payloads) != 1 {
		t.Fatalf("published %d payloads, want 1", len(cacheSink.payloads))
	}
	if cacheSink.payloads[0].Market["BTC"].Price != 82000 {
		t.Error("payload missing BTC market data")
	}
}

func TestCycleCacheFailureDoesNotAbort(t *testing.T) {
	st := &fakeStore{}
	ing, err := NewIngestor(ingestConfig(), Options{
		Store:        st,
		Liquidations: &fakeFeed{},
		Trades:       &fakeFeed{},
		Cache:        &fakeCache{err: errors.New("redis down")},
	})
	if err != nil {
		t.Fatal(err)
	}

	ing.RunCycle(context.Background())
	if len(st.batches) != 1 {
		t.Error("cycle must commit even when the cache write fails")
	}
}

func TestNewIngestorRequiresStoreAndFeeds(t *testing.T) {
	if _, err := NewIngestor(ingestConfig(), Options{Liquidations: &fakeFeed{}, Trades: &fakeFeed{}}); err == nil {
		t.Error("missing store must be rejected")
	}
	if _, err := NewIngestor(ingestConfig(), Options{Store: &fakeStore{}}); err == nil {
		t.Error("missing feeds must be rejected")
	}
}

func TestComputeOutliers(t *testing.T) {
	ts := time.Now().UTC()
	metrics := map[string]models.MarketMetrics{
		"BTC": {Price: 82000, PriceChange24h: 1.0},
		"ETH": {Price: 1620, PriceChange24h: 1.2},
		"SOL": {Price: 145, PriceChange24h: 0.8},
		"LTC": {Price: 85, PriceChange24h: 25.0},
	}

	outliers := computeOutliers(metrics, ts)
	if len(outliers) != 1 {
		t.Fatalf("got %d outliers, want 1", len(outliers))
	}
	o := outliers[0]
	if o.Symbol != "LTC" || o.Direction != "up" {
		t.Errorf("outlier = %+v", o)
	}
	if o.ZScore <= outlierZThreshold {
		t.Errorf("z-score = %v, want > %v", o.ZScore, outlierZThreshold)
	}
}

func TestComputeOutliersTooFewSamples(t *testing.T) {
	metrics := map[string]models.MarketMetrics{
		"BTC": {Price: 82000, PriceChange24h: 1.0},
		"ETH": {Price: 1620, PriceChange24h: 50.0},
	}
	if out := computeOutliers(metrics, time.Now()); out != nil {
		t.Errorf("got %d outliers from 2 samples, want none", len(out))
	}
}

func TestEventsSince(t *testing.T) {
	now := time.Now().UTC()
	feed := &fakeFeed{}
	feed.add(liveEvent("BTC", 1, now.Add(-2*time.Minute)))
	feed.add(liveEvent("BTC", 2, now))
	feed.add(liveEvent("BTC", 3, now)) // same millisecond as the previous

	out, high := eventsSince(feed.events, 0)
	if len(out) != 3 {
		t.Fatalf("events since 0 = %d, want 3", len(out))
	}
	if high != 3 {
		t.Errorf("high sequence = %d, want 3", high)
	}

	// Cursor at 2 admits only the third event even though it shares a
	// timestamp with the second.
	out, high = eventsSince(feed.events, 2)
	if len(out) != 1 || out[0].ValueUSD != 3 {
		t.Fatalf("events since 2 = %+v", out)
	}
	if high != 3 {
		t.Errorf("high sequence = %d, want 3", high)
	}

	// Cursor at the high sequence yields nothing and holds position.
	out, high = eventsSince(feed.events, 3)
	if len(out) != 0 || high != 3 {
		t.Errorf("events since 3 = %d events, high %d", len(out), high)
	}
}
