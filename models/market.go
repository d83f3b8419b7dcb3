package models

import "time"

// MarketMetrics is the per-symbol market state assembled from the REST
// sources each ingest cycle. Fields that a source did not provide stay
// zero and are persisted as NULL by the store.
type MarketMetrics struct {
	Symbol         string  `json:"symbol"`
	Price          float64 `json:"price"`
	MarkPrice      float64 `json:"mark_price"`
	Volume24h      float64 `json:"volume_24h"`
	OpenInterest   float64 `json:"open_interest"`
	FundingRate    float64 `json:"funding_rate"`
	MarketCap      float64 `json:"market_cap"`
	PriceChange24h float64 `json:"price_change_24h"`
}

// Asset is the slowly-changing per-symbol metadata row, upserted on
// conflict by symbol.
type Asset struct {
	Symbol            string
	Name              string
	Category          string
	MarketCap         float64
	CirculatingSupply float64
	MaxSupply         float64
	Updated           time.Time
}

// MarketSnapshot is one persisted point-in-time market observation.
// ID is the composite symbol_timestamp key.
type MarketSnapshot struct {
	ID             string
	Symbol         string
	Timestamp      time.Time
	Price          float64
	Volume24h      float64
	OpenInterest   float64
	FundingRate    float64
	PriceChange24h float64
}

// BubbleOutlier is a per-symbol price-deviation record, upserted on
// conflict by symbol.
type BubbleOutlier struct {
	Symbol           string
	ZScore           float64
	CurrentPrice     float64
	BaselinePrice    float64
	PercentDeviation float64
	Direction        string
	LookbackDays     int
	Updated          time.Time
}

// DashboardPayload is the combined snapshot written to the cache each
// ingest cycle. The read layer serves this verbatim.
type DashboardPayload struct {
	Market       map[string]MarketMetrics `json:"market"`
	Liquidations LiquidationsReport       `json:"liquidations"`
	Trades       []Event                  `json:"trades"`
	GeneratedAt  time.Time                `json:"generated_at"`
}
