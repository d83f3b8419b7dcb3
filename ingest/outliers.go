package ingest

import (
	"math"
	"time"

	"marketpulse/models"
)

// outlierZThreshold is the minimum absolute z-score for a symbol's 24h move
// to be recorded as an outlier.
const outlierZThreshold = 1.0

// computeOutliers flags symbols whose 24h price change deviates from the
// cross-symbol mean by more than the z-score threshold. With fewer than
// three symbols there is no meaningful distribution and nothing is flagged.
func computeOutliers(metrics map[string]models.MarketMetrics, ts time.Time) []models.BubbleOutlier {
	type sample struct {
		symbol string
		price  float64
		change float64
	}

	samples := make([]sample, 0, len(metrics))
	for sym, m := range metrics {
		if m.Price <= 0 {
			continue
		}
		samples = append(samples, sample{symbol: sym, price: m.Price, change: m.PriceChange24h})
	}
	if len(samples) < 3 {
		return nil
	}

	var sum float64
	for _, s := range samples {
		sum += s.change
	}
	mean := sum / float64(len(samples))

	var variance float64
	for _, s := range samples {
		d := s.change - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(samples)))
	if std == 0 {
		return nil
	}

	var outliers []models.BubbleOutlier
	for _, s := range samples {
		z := (s.change - mean) / std
		if math.Abs(z) < outlierZThreshold {
			continue
		}

		direction := "up"
		if z < 0 {
			direction = "down"
		}

		baseline := s.price / (1 + s.change/100)
		outliers = append(outliers, models.BubbleOutlier{
			Symbol:           s.symbol,
			ZScore:           z,
			CurrentPrice:     s.price,
			BaselinePrice:    baseline,
			PercentDeviation: s.change,
			Direction:        direction,
			LookbackDays:     1,
			Updated:          ts,
		})
	}
	return outliers
}
