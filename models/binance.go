package models

import "encoding/json"

// ForceOrderEvent is the Binance futures forceOrder stream payload.
// Numeric fields arrive as strings and are parsed at the normalization
// boundary.
type ForceOrderEvent struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Order     ForceOrderOrder `json:"o"`
}

// ForceOrderOrder is the nested order object of a forceOrder event.
type ForceOrderOrder struct {
	Symbol   string `json:"s"`
	Side     string `json:"S"`
	Price    string `json:"p"`
	Quantity string `json:"q"`
}

// TradeEvent is the Binance futures trade stream payload. BuyerIsMaker
// reports whether the buyer was the maker: when false the taker bought.
type TradeEvent struct {
	EventType    string `json:"e"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	BuyerIsMaker bool   `json:"m"`
	TradeTime    int64  `json:"T"`
}

// StreamEnvelope wraps combined-stream messages: {"stream":...,"data":{...}}.
// Single-stream connections deliver the event object directly.
type StreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}
