package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"marketpulse/config"
	"marketpulse/logger"
	"marketpulse/models"
)

// HyperliquidClient fetches perpetuals market metrics from the Hyperliquid
// info endpoint. One POST returns the asset universe and the per-asset
// contexts (mark price, funding, open interest, 24h notional volume).
type HyperliquidClient struct {
	url    string
	client *http.Client
	log    *logger.Log
}

type hlInfoRequest struct {
	Type string `json:"type"`
}

type hlMeta struct {
	Universe []struct {
		Name string `json:"name"`
	} `json:"universe"`
}

type hlAssetCtx struct {
	MarkPx       string `json:"markPx"`
	MidPx        string `json:"midPx"`
	Funding      string `json:"funding"`
	OpenInterest string `json:"openInterest"`
	DayNtlVlm    string `json:"dayNtlVlm"`
	PrevDayPx    string `json:"prevDayPx"`
}

func NewHyperliquidClient(cfg config.SourcesConfig) *HyperliquidClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HyperliquidClient{
		url:    cfg.Hyperliquid.URL,
		client: &http.Client{Timeout: timeout},
		log:    logger.GetLogger(),
	}
}

// FetchMetrics returns market metrics keyed by asset symbol. Assets whose
// context fails to parse are skipped, not fatal.
func (h *HyperliquidClient) FetchMetrics(ctx context.Context) (map[string]models.MarketMetrics, error) {
	body, err := json.Marshal(hlInfoRequest{Type: "metaAndAssetCtxs"})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hyperliquid status %d", resp.StatusCode)
	}

	// The response is a two-element array: [meta, assetCtxs].
	var payload []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode hyperliquid response: %w", err)
	}
	if len(payload) < 2 {
		return nil, fmt.Errorf("hyperliquid response has %d elements, want 2", len(payload))
	}

	var meta hlMeta
	if err := json.Unmarshal(payload[0], &meta); err != nil {
		return nil, fmt.Errorf("decode universe: %w", err)
	}
	var ctxs []hlAssetCtx
	if err := json.Unmarshal(payload[1], &ctxs); err != nil {
		return nil, fmt.Errorf("decode asset contexts: %w", err)
	}

	metrics := make(map[string]models.MarketMetrics)
	for i, asset := range meta.Universe {
		if i >= len(ctxs) {
			break
		}
		m, ok := h.parseCtx(asset.Name, ctxs[i])
		if !ok {
			continue
		}
		metrics[asset.Name] = m
	}
	return metrics, nil
}

func (h *HyperliquidClient) parseCtx(symbol string, ctx hlAssetCtx) (models.MarketMetrics, bool) {
	mark, err := strconv.ParseFloat(ctx.MarkPx, 64)
	if err != nil || mark <= 0 {
		return models.MarketMetrics{}, false
	}

	price := mark
	if mid, err := strconv.ParseFloat(ctx.MidPx, 64); err == nil && mid > 0 {
		price = mid
	}

	m := models.MarketMetrics{
		Symbol:    symbol,
		Price:     price,
		MarkPrice: mark,
	}
	if v, err := strconv.ParseFloat(ctx.DayNtlVlm, 64); err == nil {
		m.Volume24h = v
	}
	if v, err := strconv.ParseFloat(ctx.OpenInterest, 64); err == nil {
		m.OpenInterest = v
	}
	if v, err := strconv.ParseFloat(ctx.Funding, 64); err == nil {
		m.FundingRate = v
	}
	if prev, err := strconv.ParseFloat(ctx.PrevDayPx, 64); err == nil && prev > 0 {
		m.PriceChange24h = (price - prev) / prev * 100
	}
	return m, true
}
