package processor

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"marketpulse/internal/symbols"
	"marketpulse/models"
)

// Rejection classifies why a raw message produced no event. Rejections are
// filtered data, not errors; callers count them but do not propagate them.
type Rejection int

const (
	RejectNone Rejection = iota
	RejectParse
	RejectWrongEventType
	RejectUnknownSymbol
	RejectNonPositive
	RejectBelowThreshold
)

func (r Rejection) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectParse:
		return "parse"
	case RejectWrongEventType:
		return "wrong_event_type"
	case RejectUnknownSymbol:
		return "unknown_symbol"
	case RejectNonPositive:
		return "non_positive"
	case RejectBelowThreshold:
		return "below_threshold"
	default:
		return "unknown"
	}
}

// Normalizer converts raw exchange messages into canonical events. It is a
// pure transformation: no I/O, no shared state beyond its configuration.
type Normalizer struct {
	minLiquidationUSD float64
	minTradeUSD       float64
	tracked           symbols.Set
}

// NewNormalizer builds a normalizer enforcing the given USD thresholds. An
// empty pair list disables the symbol membership check.
func NewNormalizer(minLiquidationUSD, minTradeUSD float64, pairs []string) *Normalizer {
	var tracked symbols.Set
	if len(pairs) > 0 {
		tracked = symbols.NewSet(pairs...)
	}
	return &Normalizer{
		minLiquidationUSD: minLiquidationUSD,
		minTradeUSD:       minTradeUSD,
		tracked:           tracked,
	}
}

// Normalize dispatches a raw stream message by feed.
func (n *Normalizer) Normalize(msg models.RawStreamMessage) (models.Event, Rejection) {
	switch msg.Feed {
	case models.FeedLiquidations:
		return n.NormalizeLiquidation(msg.Data, msg.Received)
	case models.FeedTrades:
		return n.NormalizeTrade(msg.Data, msg.Received)
	default:
		return models.Event{}, RejectWrongEventType
	}
}

// NormalizeLiquidation parses a forceOrder message. The side recorded is the
// order side the exchange reports for the liquidated position.
func (n *Normalizer) NormalizeLiquidation(data []byte, received time.Time) (models.Event, Rejection) {
	data = unwrapEnvelope(data)

	var ev models.ForceOrderEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.Event{}, RejectParse
	}
	if ev.EventType != "forceOrder" {
		return models.Event{}, RejectWrongEventType
	}

	side, ok := parseSide(ev.Order.Side)
	if !ok {
		return models.Event{}, RejectParse
	}

	return n.build(ev.Order.Symbol, side, ev.Order.Price, ev.Order.Quantity,
		ev.EventTime, received, n.minLiquidationUSD)
}

// NormalizeTrade parses a trade message. The taker is buying when the buyer
// is not the maker, so the recorded side follows the taker.
func (n *Normalizer) NormalizeTrade(data []byte, received time.Time) (models.Event, Rejection) {
	data = unwrapEnvelope(data)

	var ev models.TradeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.Event{}, RejectParse
	}
	if ev.EventType != "trade" {
		return models.Event{}, RejectWrongEventType
	}

	side := models.SideBuy
	if ev.BuyerIsMaker {
		side = models.SideSell
	}

	return n.build(ev.Symbol, side, ev.Price, ev.Quantity,
		ev.TradeTime, received, n.minTradeUSD)
}

func (n *Normalizer) build(pair string, side models.Side, priceStr, qtyStr string,
	epochMillis int64, received time.Time, minValue float64) (models.Event, Rejection) {

	pair = strings.ToUpper(strings.TrimSpace(pair))
	if pair == "" {
		return models.Event{}, RejectParse
	}
	if n.tracked != nil && !n.tracked.Contains(pair) {
		return models.Event{}, RejectUnknownSymbol
	}

	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return models.Event{}, RejectParse
	}
	qty, err := strconv.ParseFloat(qtyStr, 64)
	if err != nil {
		return models.Event{}, RejectParse
	}
	if price <= 0 || qty <= 0 {
		return models.Event{}, RejectNonPositive
	}

	value := price * qty
	if value < minValue {
		return models.Event{}, RejectBelowThreshold
	}

	ts := received.UTC()
	if epochMillis > 0 {
		ts = time.UnixMilli(epochMillis).UTC()
	}

	return models.Event{
		Symbol:    symbols.Display(pair),
		Side:      side,
		Price:     price,
		Quantity:  qty,
		ValueUSD:  value,
		Timestamp: ts,
		Origin:    models.OriginLive,
	}, RejectNone
}

// unwrapEnvelope strips the combined-stream wrapper when present so both the
// single-stream and combined-stream payload shapes parse identically.
func unwrapEnvelope(data []byte) []byte {
	var env models.StreamEnvelope
	if err := json.Unmarshal(data, &env); err == nil && len(env.Data) > 0 {
		return env.Data
	}
	return data
}

func parseSide(s string) (models.Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return models.SideBuy, true
	case "SELL":
		return models.SideSell, true
	default:
		return "", false
	}
}
