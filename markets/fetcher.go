package markets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/limitless-exchange/limitless-go/api"
)

// Fetcher reads market data through the shared transport. Every call runs
// under the configured retry policy.
type Fetcher struct {
	transport *api.Client
	retry     api.RetryPolicy
	logger    logrus.FieldLogger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p api.RetryPolicy) FetcherOption {
	return func(f *Fetcher) { f.retry = p }
}

// WithLogger sets the structured logger.
func WithLogger(logger logrus.FieldLogger) FetcherOption {
	return func(f *Fetcher) { f.logger = logger }
}

// NewFetcher creates a Fetcher on top of the given transport.
func NewFetcher(transport *api.Client, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		transport: transport,
		retry:     api.DefaultRetryPolicy(),
		logger:    api.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// get wraps a transport GET in the retry policy.
func (f *Fetcher) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return api.WithRetry(ctx, f.retry, f.logger, func(ctx context.Context) ([]byte, error) {
		return f.transport.Get(ctx, path, query)
	})
}

// Market fetches a single market by slug or address.
func (f *Fetcher) Market(ctx context.Context, slug string) (*Market, error) {
	body, err := f.get(ctx, "/markets/"+slug, nil)
	if err != nil {
		return nil, err
	}

	var m Market
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode market %s: %w", slug, err)
	}
	m.Raw = body
	return &m, nil
}

// Markets fetches the full market listing.
func (f *Fetcher) Markets(ctx context.Context) ([]Market, error) {
	body, err := f.get(ctx, "/markets", nil)
	if err != nil {
		return nil, err
	}

	var out []Market
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	return out, nil
}

// ActiveMarkets fetches one page of the active-market listing.
func (f *Fetcher) ActiveMarkets(ctx context.Context, page, limit int) (*ActiveMarketsPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	body, err := f.get(ctx, "/markets/active", query)
	if err != nil {
		return nil, err
	}

	var out ActiveMarketsPage
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode active markets page %d: %w", page, err)
	}
	return &out, nil
}

// AllActiveMarkets walks every page of the active-market listing.
func (f *Fetcher) AllActiveMarkets(ctx context.Context) ([]Market, error) {
	const pageSize = 10

	first, err := f.ActiveMarkets(ctx, 1, pageSize)
	if err != nil {
		return nil, err
	}

	all := first.Data
	for page := 2; len(all) < first.TotalMarketsCount; page++ {
		next, err := f.ActiveMarkets(ctx, page, pageSize)
		if err != nil {
			return nil, err
		}
		if len(next.Data) == 0 {
			break
		}
		all = append(all, next.Data...)
	}
	return all, nil
}

// Orderbook fetches the current orderbook for a market.
func (f *Fetcher) Orderbook(ctx context.Context, slug string) (*Orderbook, error) {
	body, err := f.get(ctx, "/markets/"+slug+"/orderbook", nil)
	if err != nil {
		return nil, err
	}

	var out Orderbook
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode orderbook %s: %w", slug, err)
	}
	return &out, nil
}

// HistoricalPrices fetches a market's price history for the given interval
// ("1m", "5m", "15m", "30m", "12h" or "all"). The payload is returned raw.
func (f *Fetcher) HistoricalPrices(ctx context.Context, slug, interval string) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("interval", interval)
	return f.get(ctx, "/markets/"+slug+"/historical-price", query)
}
