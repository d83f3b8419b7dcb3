package writer

import (
	"strings"
	"testing"
	"time"

	"marketpulse/config"
	"marketpulse/models"
)

func sampleEvents() []models.Event {
	now := time.Now().UTC()
	return []models.Event{
		{Symbol: "BTC", Side: models.SideSell, Price: 82000, Quantity: 0.5, ValueUSD: 41000, Timestamp: now, Origin: models.OriginLive},
		{Symbol: "ETH", Side: models.SideBuy, Price: 1620, Quantity: 2, ValueUSD: 3240, Timestamp: now, Origin: models.OriginSynthetic},
	}
}

func TestBuildParquet(t *testing.T) {
	data, err := buildParquet(models.FeedLiquidations, sampleEvents())
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("empty parquet output")
	}
	// Parquet files end with the PAR1 magic.
	if !strings.HasSuffix(string(data), "PAR1") {
		t.Error("output missing parquet magic footer")
	}
}

func TestNewArchiveWriterDisabled(t *testing.T) {
	if _, err := NewArchiveWriter(config.ArchiveConfig{Enabled: false}); err == nil {
		t.Error("disabled archive must be rejected")
	}
	if _, err := NewArchiveWriter(config.ArchiveConfig{Enabled: true, Bucket: "  "}); err == nil {
		t.Error("missing bucket must be rejected")
	}
}

func TestObjectKeyLayout(t *testing.T) {
	w := &ArchiveWriter{cfg: config.ArchiveConfig{Prefix: "/cold/"}}
	ts := time.Date(2026, 3, 1, 14, 30, 5, 0, time.UTC)

	key := w.objectKey(models.FeedTrades, ts)
	if !strings.HasPrefix(key, "cold/trades/2026/03/01/143005_") {
		t.Errorf("key = %q", key)
	}
	if !strings.HasSuffix(key, ".parquet") {
		t.Errorf("key = %q", key)
	}

	w.cfg.Prefix = ""
	key = w.objectKey(models.FeedLiquidations, ts)
	if !strings.HasPrefix(key, "liquidations/2026/03/01/") {
		t.Errorf("key = %q", key)
	}
}
