package processor

import (
	"fmt"
	"math"
	"testing"
	"time"

	"marketpulse/models"
)

var tracked = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

func forceOrderJSON(symbol, side, price, qty string, ts int64) []byte {
	return []byte(fmt.Sprintf(
		`{"e":"forceOrder","E":%d,"o":{"s":%q,"S":%q,"p":%q,"q":%q}}`,
		ts, symbol, side, price, qty))
}

func tradeJSON(symbol, price, qty string, buyerIsMaker bool, ts int64) []byte {
	return []byte(fmt.Sprintf(
		`{"e":"trade","s":%q,"p":%q,"q":%q,"m":%t,"T":%d}`,
		symbol, price, qty, buyerIsMaker, ts))
}

func TestNormalizeLiquidationRoundTrip(t *testing.T) {
	n := NewNormalizer(500, 1000, tracked)
	raw := forceOrderJSON("BTCUSDT", "SELL", "50000.00", "0.5", 1700000000000)

	ev, rej := n.NormalizeLiquidation(raw, time.Now())
	if rej != RejectNone {
		t.Fatalf("rejected: %v", rej)
	}
	if ev.Symbol != "BTC" {
		t.Errorf("symbol = %q, want BTC", ev.Symbol)
	}
	if ev.Side != models.SideSell {
		t.Errorf("side = %q, want sell", ev.Side)
	}
	if ev.Price != 50000.0 || ev.Quantity != 0.5 {
		t.Errorf("price/qty = %v/%v", ev.Price, ev.Quantity)
	}
	if math.Abs(ev.ValueUSD-25000.0) > 1e-9 {
		t.Errorf("value = %v, want 25000", ev.ValueUSD)
	}
	if ev.Origin != models.OriginLive {
		t.Errorf("origin = %q, want live", ev.Origin)
	}
	if got := ev.Timestamp; got != time.UnixMilli(1700000000000).UTC() {
		t.Errorf("timestamp = %v", got)
	}
}

func TestNormalizeTradeTakerSide(t *testing.T) {
	n := NewNormalizer(500, 1000, tracked)

	// Buyer is not the maker, so the taker bought.
	ev, rej := n.NormalizeTrade(tradeJSON("ETHUSDT", "1600", "2", false, 1700000000000), time.Now())
	if rej != RejectNone {
		t.Fatalf("rejected: %v", rej)
	}
	if ev.Side != models.SideBuy {
		t.Errorf("side = %q, want buy", ev.Side)
	}

	ev, rej = n.NormalizeTrade(tradeJSON("ETHUSDT", "1600", "2", true, 1700000000000), time.Now())
	if rej != RejectNone {
		t.Fatalf("rejected: %v", rej)
	}
	if ev.Side != models.SideSell {
		t.Errorf("side = %q, want sell", ev.Side)
	}
}

func TestNormalizeRejections(t *testing.T) {
	n := NewNormalizer(500, 1000, tracked)
	now := time.Now()

	cases := []struct {
		name string
		data []byte
		feed models.Feed
		want Rejection
	}{
		{"malformed json", []byte(`{not json`), models.FeedLiquidations, RejectParse},
		{"wrong event type", []byte(`{"e":"kline"}`), models.FeedLiquidations, RejectWrongEventType},
		{"unknown symbol", forceOrderJSON("DOGEUSDT", "SELL", "0.1", "100000", 0), models.FeedLiquidations, RejectUnknownSymbol},
		{"non-positive price", forceOrderJSON("BTCUSDT", "SELL", "0", "1", 0), models.FeedLiquidations, RejectNonPositive},
		{"unparseable quantity", forceOrderJSON("BTCUSDT", "BUY", "50000", "abc", 0), models.FeedLiquidations, RejectParse},
		{"below liquidation threshold", forceOrderJSON("BTCUSDT", "BUY", "400", "1", 0), models.FeedLiquidations, RejectBelowThreshold},
		{"below trade threshold", tradeJSON("BTCUSDT", "900", "1", false, 0), models.FeedTrades, RejectBelowThreshold},
		{"bad side", forceOrderJSON("BTCUSDT", "HOLD", "50000", "1", 0), models.FeedLiquidations, RejectParse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, rej := n.Normalize(models.RawStreamMessage{Feed: tc.feed, Data: tc.data, Received: now})
			if rej != tc.want {
				t.Errorf("rejection = %v, want %v", rej, tc.want)
			}
		})
	}
}

func TestNormalizeCombinedStreamEnvelope(t *testing.T) {
	n := NewNormalizer(500, 1000, tracked)
	inner := forceOrderJSON("SOLUSDT", "BUY", "150", "100", 1700000000000)
	wrapped := []byte(fmt.Sprintf(`{"stream":"solusdt@forceOrder","data":%s}`, inner))

	ev, rej := n.NormalizeLiquidation(wrapped, time.Now())
	if rej != RejectNone {
		t.Fatalf("rejected: %v", rej)
	}
	if ev.Symbol != "SOL" || ev.ValueUSD != 15000 {
		t.Errorf("event = %+v", ev)
	}
}

func TestNormalizeFallsBackToReceivedTime(t *testing.T) {
	n := NewNormalizer(500, 1000, tracked)
	received := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev, rej := n.NormalizeTrade(tradeJSON("BTCUSDT", "80000", "1", false, 0), received)
	if rej != RejectNone {
		t.Fatalf("rejected: %v", rej)
	}
	if !ev.Timestamp.Equal(received) {
		t.Errorf("timestamp = %v, want received %v", ev.Timestamp, received)
	}
}

func TestNormalizeNoTrackedSetAcceptsAnySymbol(t *testing.T) {
	n := NewNormalizer(500, 1000, nil)

	ev, rej := n.NormalizeLiquidation(forceOrderJSON("DOGEUSDT", "SELL", "0.1", "100000", 0), time.Now())
	if rej != RejectNone {
		t.Fatalf("rejected: %v", rej)
	}
	if ev.Symbol != "DOGE" {
		t.Errorf("symbol = %q, want DOGE", ev.Symbol)
	}
}
