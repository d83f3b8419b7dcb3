package models

import (
	"time"
)

// Feed identifies which stream a raw message came from.
type Feed string

const (
	FeedLiquidations Feed = "liquidations"
	FeedTrades       Feed = "trades"
)

// Side is the taker side of a trade, or the side of the liquidated
// position as reported by the exchange.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Origin marks whether an event was received from a live feed or
// fabricated by the fallback generator. Synthetic events are never
// allowed to masquerade as live ones.
type Origin string

const (
	OriginLive      Origin = "live"
	OriginSynthetic Origin = "synthetic"
)

// ConnStatus describes the state of a stream connection.
type ConnStatus int32

const (
	StatusDisconnected ConnStatus = iota
	StatusConnecting
	StatusConnected
)

func (s ConnStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// RawStreamMessage is a container for one raw websocket payload before
// normalization.
type RawStreamMessage struct {
	Exchange string
	Feed     Feed
	Data     []byte
	Received time.Time
}

// Event is the canonical normalized record shared by the liquidation and
// trade trackers. ValueUSD is always recomputed as Price*Quantity at the
// normalization boundary, never trusted from the source payload.
type Event struct {
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	ValueUSD  float64   `json:"value_usd"`
	Timestamp time.Time `json:"timestamp"`
	Origin    Origin    `json:"origin"`

	// Seq is a per-feed counter assigned when the event enters the buffer.
	// Exchange timestamps are millisecond resolution and collide under load,
	// so persistence cursors advance on Seq, not Timestamp.
	Seq uint64 `json:"-"`
}

// Synthetic reports whether the event was produced by the fallback
// generator rather than received from the exchange.
func (e Event) Synthetic() bool {
	return e.Origin == OriginSynthetic
}

// SymbolLiquidations groups recent liquidations for one display symbol
// with rolling USD totals over the dashboard windows.
type SymbolLiquidations struct {
	Longs      []Event `json:"longs"`
	Shorts     []Event `json:"shorts"`
	TotalValue float64 `json:"total_value"`
	Last1hUSD  float64 `json:"last_1h_value"`
	Last6hUSD  float64 `json:"last_6h_value"`
	Last12hUSD float64 `json:"last_12h_value"`
	Last24hUSD float64 `json:"last_24h_value"`
}

// LiquidationsReport is the accessor payload handed to the read layer.
type LiquidationsReport struct {
	BySymbol    map[string]*SymbolLiquidations `json:"liquidations"`
	LastUpdate  time.Time                      `json:"last_update"`
	WindowHours int                            `json:"window_hours"`
}
