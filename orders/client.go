package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/limitless-exchange/limitless-go/api"
	"github.com/limitless-exchange/limitless-go/markets"
	"github.com/limitless-exchange/limitless-go/signer"
)

// Default EIP-712 domain parameters for the venue contracts.
const (
	DefaultDomainName    = "Limitless CTF Exchange"
	DefaultDomainVersion = "1"
)

// ErrNoSigner is returned by CreateOrder on a client built without a signer.
var ErrNoSigner = errors.New("orders: no signer configured")

// Client places and manages orders. It combines the REST transport, the
// EIP-712 signer, and the venue cache; the signing domain's verifying
// contract is resolved per market through the cache.
type Client struct {
	transport *api.Client
	signer    signer.Signer
	venues    *markets.VenueCache
	retry     api.RetryPolicy
	logger    logrus.FieldLogger

	domainName    string
	domainVersion string
	chainID       *big.Int
	feeRateBps    int

	// profile is fetched once per client instance and reused for every
	// order. InvalidateProfile drops it.
	profileMu sync.Mutex
	profile   *Profile
}

// ClientOption configures an order Client.
type ClientOption func(*Client)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p api.RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the structured logger.
func WithLogger(logger logrus.FieldLogger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithDomain overrides the EIP-712 domain name and version.
func WithDomain(name, version string) ClientOption {
	return func(c *Client) {
		c.domainName = name
		c.domainVersion = version
	}
}

// WithChainID overrides the signing chain ID.
func WithChainID(chainID int64) ClientOption {
	return func(c *Client) { c.chainID = big.NewInt(chainID) }
}

// WithFeeRateBps sets the fee rate applied when a request does not override
// it.
func WithFeeRateBps(bps int) ClientOption {
	return func(c *Client) { c.feeRateBps = bps }
}

// NewClient creates an order client. The signer may be nil for clients that
// only cancel or query; venues may be nil, in which case a fresh cache is
// built over the transport.
func NewClient(transport *api.Client, sig signer.Signer, venues *markets.VenueCache, opts ...ClientOption) *Client {
	c := &Client{
		transport:     transport,
		signer:        sig,
		venues:        venues,
		retry:         api.DefaultRetryPolicy(),
		logger:        api.DiscardLogger(),
		domainName:    DefaultDomainName,
		domainVersion: DefaultDomainVersion,
		chainID:       big.NewInt(signer.DefaultChainID),
		feeRateBps:    defaultFeeRateBps,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.venues == nil {
		c.venues = markets.NewVenueCache(markets.NewFetcher(transport, markets.WithRetryPolicy(c.retry)), c.logger)
	}
	return c
}

// CreateOrder validates, signs, and submits an order. Validation failures
// surface as *ValidationError before any network or signing activity; the
// signature's verifying contract is the market's venue exchange address.
// A client built without a signer returns ErrNoSigner.
func (c *Client) CreateOrder(ctx context.Context, req Request) (*Result, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}
	if c.signer == nil {
		return nil, ErrNoSigner
	}
	if err := c.transport.RequireAuth(); err != nil {
		return nil, err
	}

	venue, err := c.venues.Resolve(ctx, req.MarketSlug)
	if err != nil {
		return nil, fmt.Errorf("resolve venue for %s: %w", req.MarketSlug, err)
	}

	profile, err := c.ensureProfile(ctx)
	if err != nil {
		return nil, err
	}

	feeRate := req.FeeRateBps
	if feeRate == 0 {
		feeRate = c.feeRateBps
	}

	salt, err := newSalt()
	if err != nil {
		return nil, err
	}

	data, err := buildOrderData(&req, c.signer.Address(), salt, feeRate)
	if err != nil {
		return nil, err
	}

	domain := signer.Domain{
		Name:              c.domainName,
		Version:           c.domainVersion,
		ChainID:           c.chainID,
		VerifyingContract: venue.ExchangeAddress,
	}

	sig, err := c.signer.SignTypedData(domain, data)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}

	body := createOrderBody{
		Order:      wireOrder(&req, data, sig),
		OwnerID:    profile.ID,
		OrderType:  wireOrderType(req.Type),
		MarketSlug: req.MarketSlug,
	}

	c.logger.WithFields(logrus.Fields{
		"market":     req.MarketSlug,
		"side":       req.Side.String(),
		"order_type": body.OrderType,
		"token_id":   req.TokenID,
	}).Info("submitting order")

	raw, err := api.WithRetry(ctx, c.retry, c.logger, func(ctx context.Context) ([]byte, error) {
		return c.transport.Post(ctx, "/orders", body)
	})
	if err != nil {
		return nil, err
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	res.Raw = raw
	return &res, nil
}

// Cancel cancels a single order by its exchange ID.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	if err := c.transport.RequireAuth(); err != nil {
		return err
	}
	_, err := api.WithRetry(ctx, c.retry, c.logger, func(ctx context.Context) ([]byte, error) {
		return c.transport.Delete(ctx, "/orders/"+orderID)
	})
	return err
}

// CancelBatch cancels several orders in one call.
func (c *Client) CancelBatch(ctx context.Context, orderIDs []string) error {
	if err := c.transport.RequireAuth(); err != nil {
		return err
	}
	if len(orderIDs) == 0 {
		return nil
	}
	body := struct {
		OrderIDs []string `json:"orderIds"`
	}{OrderIDs: orderIDs}

	_, err := api.WithRetry(ctx, c.retry, c.logger, func(ctx context.Context) ([]byte, error) {
		return c.transport.Post(ctx, "/orders/cancel-batch", body)
	})
	return err
}

// CancelAll cancels every open order on a market.
func (c *Client) CancelAll(ctx context.Context, marketSlug string) error {
	if err := c.transport.RequireAuth(); err != nil {
		return err
	}
	_, err := api.WithRetry(ctx, c.retry, c.logger, func(ctx context.Context) ([]byte, error) {
		return c.transport.Delete(ctx, "/orders/all/"+marketSlug)
	})
	return err
}

// UserOrders returns the caller's open orders on a market, raw.
func (c *Client) UserOrders(ctx context.Context, marketSlug string) (json.RawMessage, error) {
	if err := c.transport.RequireAuth(); err != nil {
		return nil, err
	}
	return api.WithRetry(ctx, c.retry, c.logger, func(ctx context.Context) ([]byte, error) {
		return c.transport.Get(ctx, "/markets/"+marketSlug+"/user-orders", url.Values{})
	})
}

// Profile returns the authenticated account's profile, fetching it on first
// use and caching it for the lifetime of the client.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	if err := c.transport.RequireAuth(); err != nil {
		return nil, err
	}
	return c.ensureProfile(ctx)
}

// InvalidateProfile drops the cached profile so the next order re-fetches it.
func (c *Client) InvalidateProfile() {
	c.profileMu.Lock()
	c.profile = nil
	c.profileMu.Unlock()
}

func (c *Client) ensureProfile(ctx context.Context) (*Profile, error) {
	c.profileMu.Lock()
	defer c.profileMu.Unlock()

	if c.profile != nil {
		return c.profile, nil
	}

	raw, err := api.WithRetry(ctx, c.retry, c.logger, func(ctx context.Context) ([]byte, error) {
		return c.transport.Get(ctx, "/profile", nil)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}

	c.profile = &p
	c.logger.WithField("owner_id", p.ID).Debug("profile cached")
	return c.profile, nil
}
