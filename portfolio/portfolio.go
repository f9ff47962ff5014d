// Package portfolio reads the authenticated account's positions and trade
// history.
package portfolio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/limitless-exchange/limitless-go/api"
)

// Position is one conditional-token holding.
type Position struct {
	MarketSlug   string  `json:"marketSlug"`
	TokenID      string  `json:"tokenId"`
	Outcome      string  `json:"outcome"`
	Size         float64 `json:"size"`
	AveragePrice float64 `json:"averagePrice"`

	Raw json.RawMessage `json:"-"`
}

// Client reads portfolio endpoints through the shared transport.
type Client struct {
	transport *api.Client
	retry     api.RetryPolicy
	logger    logrus.FieldLogger
}

// Option configures a portfolio Client.
type Option func(*Client)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p api.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the structured logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a portfolio client on top of the given transport.
func NewClient(transport *api.Client, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		retry:     api.DefaultRetryPolicy(),
		logger:    api.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.transport.RequireAuth(); err != nil {
		return nil, err
	}
	return api.WithRetry(ctx, c.retry, c.logger, func(ctx context.Context) ([]byte, error) {
		return c.transport.Get(ctx, path, query)
	})
}

// Positions returns the account's open positions.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	body, err := c.get(ctx, "/portfolio/positions", nil)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	out := make([]Position, 0, len(raws))
	for i, r := range raws {
		var p Position
		if err := json.Unmarshal(r, &p); err != nil {
			return nil, fmt.Errorf("decode position %d: %w", i, err)
		}
		p.Raw = r
		out = append(out, p)
	}
	return out, nil
}

// HistoryPage is one page of the account's action history. Entries cover
// CLOB and AMM trades, splits, merges, and NegRisk conversions; they are
// heterogeneous and returned raw.
type HistoryPage struct {
	Data       []json.RawMessage `json:"data"`
	TotalCount int               `json:"totalCount"`
}

// History returns one page of the account's action history.
func (c *Client) History(ctx context.Context, page, limit int) (*HistoryPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/portfolio/history", query)
	if err != nil {
		return nil, err
	}

	var out HistoryPage
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode history page %d: %w", page, err)
	}
	return &out, nil
}
