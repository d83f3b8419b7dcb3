package tracker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"marketpulse/config"
	"marketpulse/models"
)

type fakeConn struct {
	status models.ConnStatus
	last   time.Time
}

func (f *fakeConn) Status() models.ConnStatus { return f.status }
func (f *fakeConn) LastMessageAt() time.Time  { return f.last }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Streams.Symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	cfg.Trackers.Liquidations = config.TrackerConfig{
		BufferSize:  1000,
		MinValueUSD: 500,
		Window:      48 * time.Hour,
	}
	cfg.Trackers.Trades = config.TrackerConfig{
		BufferSize:  1000,
		MinValueUSD: 1000,
		Window:      24 * time.Hour,
	}
	cfg.Fallback = config.FallbackConfig{
		Enabled:          false,
		SilenceThreshold: 30 * time.Second,
		CheckInterval:    30 * time.Second,
		MinInterval:      25 * time.Second,
		MaxEvents:        5,
	}
	return cfg
}

func forceOrderMsg(symbol, side, price, qty string, ts time.Time) models.RawStreamMessage {
	data := fmt.Sprintf(`{"e":"forceOrder","E":%d,"o":{"s":%q,"S":%q,"p":%q,"q":%q}}`,
		ts.UnixMilli(), symbol, side, price, qty)
	return models.RawStreamMessage{
		Exchange: "binance",
		Feed:     models.FeedLiquidations,
		Data:     []byte(data),
		Received: ts,
	}
}

func TestTrackerIngestsLiveEvents(t *testing.T) {
	source := make(chan models.RawStreamMessage, 8)
	tr := NewLiquidationTracker(testConfig(), source, &fakeConn{status: models.StatusConnected})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()

	source <- forceOrderMsg("BTCUSDT", "SELL", "50000", "0.5", time.Now())
	source <- forceOrderMsg("ETHUSDT", "BUY", "1600", "10", time.Now())
	// Below the $500 threshold, must be filtered.
	source <- forceOrderMsg("BTCUSDT", "SELL", "100", "1", time.Now())

	deadline := time.After(2 * time.Second)
	for len(tr.Snapshot()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out, buffer has %d events", len(tr.Snapshot()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	events := tr.Snapshot()
	if len(events) != 2 {
		t.Fatalf("buffer has %d events, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Origin != models.OriginLive {
			t.Errorf("event origin = %q, want live", ev.Origin)
		}
		if ev.Seq == 0 {
			t.Error("buffered event missing its sequence stamp")
		}
	}
	// Snapshot is most recent first, so sequences descend.
	if events[0].Seq <= events[1].Seq {
		t.Errorf("sequences not monotonic: %d then %d", events[0].Seq, events[1].Seq)
	}

	rejects := tr.Rejections()
	if rejects["below_threshold"] != 1 {
		t.Errorf("below_threshold rejections = %d, want 1", rejects["below_threshold"])
	}
}

func TestTrackerFallbackFiresOnSilence(t *testing.T) {
	cfg := testConfig()
	cfg.Fallback.Enabled = true
	cfg.Fallback.SilenceThreshold = 50 * time.Millisecond
	cfg.Fallback.CheckInterval = 25 * time.Millisecond
	cfg.Fallback.MinInterval = 10 * time.Millisecond

	source := make(chan models.RawStreamMessage)
	tr := NewLiquidationTracker(cfg, source, &fakeConn{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()

	deadline := time.After(2 * time.Second)
	for {
		events := tr.Snapshot()
		if len(events) > 0 {
			if !events[0].Synthetic() {
				t.Fatalf("origin = %q, want synthetic", events[0].Origin)
			}
			if events[0].ValueUSD < cfg.Trackers.Liquidations.MinValueUSD {
				t.Fatalf("synthetic value %v below threshold", events[0].ValueUSD)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("no synthetic events generated within deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTrackerFallbackDisabledStaysQuiet(t *testing.T) {
	cfg := testConfig()
	cfg.Fallback.Enabled = false
	cfg.Fallback.SilenceThreshold = 10 * time.Millisecond
	cfg.Fallback.CheckInterval = 10 * time.Millisecond

	source := make(chan models.RawStreamMessage)
	tr := NewLiquidationTracker(cfg, source, &fakeConn{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()

	time.Sleep(100 * time.Millisecond)
	if n := len(tr.Snapshot()); n != 0 {
		t.Errorf("buffer has %d events with fallback disabled, want 0", n)
	}
}

func TestRecentLiquidationsGrouping(t *testing.T) {
	tr := NewLiquidationTracker(testConfig(), nil, &fakeConn{})
	now := time.Now().UTC()

	push := func(sym string, side models.Side, value float64, age time.Duration) {
		tr.buffer.Push(models.Event{
			Symbol:    sym,
			Side:      side,
			Price:     value,
			Quantity:  1,
			ValueUSD:  value,
			Timestamp: now.Add(-age),
			Origin:    models.OriginLive,
		})
	}

	push("BTC", models.SideSell, 10000, 30*time.Minute) // long liq, in 1h window
	push("BTC", models.SideBuy, 5000, 2*time.Hour)      // short liq, in 6h window
	push("BTC", models.SideSell, 2000, 30*time.Hour)    // in 48h window only
	push("ETH", models.SideBuy, 3000, 10*time.Minute)
	push("ETH", models.SideSell, 1000, 72*time.Hour) // outside window, excluded

	report := tr.RecentLiquidations()
	if report.WindowHours != 48 {
		t.Errorf("window hours = %d, want 48", report.WindowHours)
	}

	btc := report.BySymbol["BTC"]
	if btc == nil {
		t.Fatal("missing BTC group")
	}
	if len(btc.Longs) != 2 || len(btc.Shorts) != 1 {
		t.Errorf("BTC longs/shorts = %d/%d, want 2/1", len(btc.Longs), len(btc.Shorts))
	}
	if btc.TotalValue != 17000 {
		t.Errorf("BTC total = %v, want 17000", btc.TotalValue)
	}
	if btc.Last1hUSD != 10000 {
		t.Errorf("BTC 1h = %v, want 10000", btc.Last1hUSD)
	}
	if btc.Last6hUSD != 15000 {
		t.Errorf("BTC 6h = %v, want 15000", btc.Last6hUSD)
	}
	if btc.Last24hUSD != 15000 {
		t.Errorf("BTC 24h = %v, want 15000", btc.Last24hUSD)
	}

	eth := report.BySymbol["ETH"]
	if eth == nil {
		t.Fatal("missing ETH group")
	}
	if len(eth.Longs) != 0 || len(eth.Shorts) != 1 {
		t.Errorf("ETH longs/shorts = %d/%d, want 0/1", len(eth.Longs), len(eth.Shorts))
	}
}

func TestRecentTradesWindow(t *testing.T) {
	cfg := testConfig()
	tr := NewTradeTracker(cfg, nil, &fakeConn{})
	now := time.Now().UTC()

	tr.buffer.Push(models.Event{Symbol: "BTC", ValueUSD: 2000, Timestamp: now.Add(-time.Hour)})
	tr.buffer.Push(models.Event{Symbol: "ETH", ValueUSD: 3000, Timestamp: now.Add(-48 * time.Hour)})
	tr.buffer.Push(models.Event{Symbol: "SOL", ValueUSD: 4000, Timestamp: now.Add(-time.Minute)})

	trades := tr.RecentTrades()
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2 inside the 24h window", len(trades))
	}
	// Snapshot order is most recent push first.
	if trades[0].Symbol != "SOL" || trades[1].Symbol != "BTC" {
		t.Errorf("order = %s,%s want SOL,BTC", trades[0].Symbol, trades[1].Symbol)
	}
}

func TestTrackerStatusFollowsReader(t *testing.T) {
	conn := &fakeConn{status: models.StatusConnecting}
	tr := NewTradeTracker(testConfig(), nil, conn)

	if tr.Status() != models.StatusConnecting {
		t.Errorf("status = %v, want connecting", tr.Status())
	}
	conn.status = models.StatusConnected
	if tr.Status() != models.StatusConnected {
		t.Errorf("status = %v, want connected", tr.Status())
	}
}
