package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"marketpulse/config"
	"marketpulse/logger"
)

// CoinData is one coin's market standing as reported by CoinGecko.
type CoinData struct {
	PriceUSD     float64 `json:"usd"`
	MarketCapUSD float64 `json:"usd_market_cap"`
	Volume24hUSD float64 `json:"usd_24h_vol"`
	Change24hPct float64 `json:"usd_24h_change"`
	LastUpdated  int64   `json:"last_updated_at"`
}

// CoinGeckoClient fetches market-cap enrichment data. The free tier rate
// limits hard, so every request goes through a shared limiter.
type CoinGeckoClient struct {
	baseURL string
	ids     []string
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func NewCoinGeckoClient(cfg config.SourcesConfig) *CoinGeckoClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	rpm := cfg.CoinGecko.RequestsPerMinute
	if rpm <= 0 {
		rpm = 10
	}

	return &CoinGeckoClient{
		baseURL: strings.TrimRight(cfg.CoinGecko.URL, "/"),
		ids:     cfg.CoinGecko.IDs,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		log:     logger.GetLogger(),
	}
}

// FetchMarkets returns per-coin market data keyed by CoinGecko coin id,
// e.g. "bitcoin". Blocks on the rate limiter before issuing the request.
func (c *CoinGeckoClient) FetchMarkets(ctx context.Context) (map[string]CoinData, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("ids", strings.Join(c.ids, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_market_cap", "true")
	q.Set("include_24hr_vol", "true")
	q.Set("include_24hr_change", "true")
	q.Set("include_last_updated_at", "true")

	endpoint := fmt.Sprintf("%s/simple/price?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("coingecko rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko status %d", resp.StatusCode)
	}

	var out map[string]CoinData
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode coingecko response: %w", err)
	}
	return out, nil
}

// CoinSymbol maps a CoinGecko coin id to the display symbol used elsewhere.
func CoinSymbol(id string) string {
	switch id {
	case "bitcoin":
		return "BTC"
	case "ethereum":
		return "ETH"
	case "solana":
		return "SOL"
	case "binancecoin":
		return "BNB"
	case "litecoin":
		return "LTC"
	default:
		return strings.ToUpper(id)
	}
}
