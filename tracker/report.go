package tracker

import (
	"time"

	"marketpulse/models"
)

// RecentLiquidations groups the buffered liquidations by symbol with rolling
// USD totals. Events older than the tracker window are excluded. Liquidated
// longs are the sell-side orders the exchange reports; liquidated shorts are
// the buy side.
func (t *Tracker) RecentLiquidations() *models.LiquidationsReport {
	now := time.Now().UTC()
	cutoff := now.Add(-t.window)

	report := &models.LiquidationsReport{
		BySymbol:    make(map[string]*models.SymbolLiquidations),
		LastUpdate:  t.LastUpdate(),
		WindowHours: int(t.window.Hours()),
	}

	for _, ev := range t.buffer.Snapshot() {
		if ev.Timestamp.Before(cutoff) {
			continue
		}

		group := report.BySymbol[ev.Symbol]
		if group == nil {
			group = &models.SymbolLiquidations{}
			report.BySymbol[ev.Symbol] = group
		}

		if ev.Side == models.SideSell {
			group.Longs = append(group.Longs, ev)
		} else {
			group.Shorts = append(group.Shorts, ev)
		}
		group.TotalValue += ev.ValueUSD

		age := now.Sub(ev.Timestamp)
		if age <= time.Hour {
			group.Last1hUSD += ev.ValueUSD
		}
		if age <= 6*time.Hour {
			group.Last6hUSD += ev.ValueUSD
		}
		if age <= 12*time.Hour {
			group.Last12hUSD += ev.ValueUSD
		}
		if age <= 24*time.Hour {
			group.Last24hUSD += ev.ValueUSD
		}
	}

	return report
}

// RecentTrades returns the buffered trades most recent first, excluding
// events older than the tracker window.
func (t *Tracker) RecentTrades() []models.Event {
	cutoff := time.Now().UTC().Add(-t.window)

	events := t.buffer.Snapshot()
	out := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, ev)
	}
	return out
}
