package source

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"

	"marketpulse/config"
	"marketpulse/internal/symbols"
	"marketpulse/logger"
)

// FundingSnapshot is one perpetual's mark price and funding rate.
type FundingSnapshot struct {
	Symbol      string
	MarkPrice   float64
	FundingRate float64
}

// premiumIndexAPI is the slice of the futures client the fetcher needs.
type premiumIndexAPI interface {
	fetch(ctx context.Context, symbol string) ([]*futures.PremiumIndex, error)
}

type binancePremiumIndex struct {
	client *futures.Client
}

func (b *binancePremiumIndex) fetch(ctx context.Context, symbol string) ([]*futures.PremiumIndex, error) {
	svc := b.client.NewPremiumIndexService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	return svc.Do(ctx)
}

// FundingClient fetches mark price and funding rate per tracked symbol from
// the Binance futures premium index endpoint. Public data, so the client
// needs no credentials.
type FundingClient struct {
	api     premiumIndexAPI
	symbols []string
	log     *logger.Log
}

func NewFundingClient(cfg config.SourcesConfig) *FundingClient {
	return &FundingClient{
		api:     &binancePremiumIndex{client: futures.NewClient("", "")},
		symbols: cfg.Binance.Symbols,
		log:     logger.GetLogger(),
	}
}

// FetchFunding returns funding snapshots keyed by display symbol. A symbol
// missing from the response is simply absent from the result.
func (f *FundingClient) FetchFunding(ctx context.Context) (map[string]FundingSnapshot, error) {
	indexes, err := f.api.fetch(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("fetch premium index: %w", err)
	}

	wanted := symbols.NewSet(f.symbols...)
	out := make(map[string]FundingSnapshot, len(f.symbols))
	for _, idx := range indexes {
		if idx == nil || !wanted.Contains(idx.Symbol) {
			continue
		}

		mark, err := strconv.ParseFloat(idx.MarkPrice, 64)
		if err != nil {
			f.log.WithComponent("funding-source").WithFields(logger.Fields{
				"symbol": idx.Symbol,
			}).Warn("unparseable mark price, skipping")
			continue
		}
		rate, err := strconv.ParseFloat(idx.LastFundingRate, 64)
		if err != nil {
			rate = 0
		}

		out[symbols.Display(idx.Symbol)] = FundingSnapshot{
			Symbol:      symbols.Display(idx.Symbol),
			MarkPrice:   mark,
			FundingRate: rate,
		}
	}
	return out, nil
}
