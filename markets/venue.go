package markets

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/limitless-exchange/limitless-go/api"
)

// VenueRecord maps a market to the contract addresses its orders are signed
// against. Records are immutable once stored; a re-fetch replaces the whole
// record.
type VenueRecord struct {
	MarketSlug      string
	ExchangeAddress common.Address

	// AdapterAddress is set only for NegRisk markets, which require
	// approvals against a second contract.
	AdapterAddress *common.Address
}

// VenueCache lazily resolves market slugs to venue metadata. Entries have no
// TTL: venue addresses are immutable per market, so a record lives until an
// explicit Refresh or Clear. Concurrent resolves of the same uncached slug may
// each fetch, but readers always observe complete records.
type VenueCache struct {
	fetcher *Fetcher
	logger  logrus.FieldLogger

	mu      sync.Mutex
	records map[string]VenueRecord
}

// NewVenueCache creates an empty cache backed by the given fetcher.
func NewVenueCache(fetcher *Fetcher, logger logrus.FieldLogger) *VenueCache {
	if logger == nil {
		logger = api.DiscardLogger()
	}
	return &VenueCache{
		fetcher: fetcher,
		logger:  logger,
		records: make(map[string]VenueRecord),
	}
}

// Resolve returns the venue record for a market, fetching and caching it on
// first use.
func (vc *VenueCache) Resolve(ctx context.Context, slug string) (VenueRecord, error) {
	vc.mu.Lock()
	rec, ok := vc.records[slug]
	vc.mu.Unlock()

	if ok {
		vc.logger.WithField("slug", slug).Debug("venue cache hit")
		return rec, nil
	}

	return vc.fetch(ctx, slug)
}

// Refresh re-fetches a market's venue metadata, overwriting any stored record.
func (vc *VenueCache) Refresh(ctx context.Context, slug string) (VenueRecord, error) {
	return vc.fetch(ctx, slug)
}

func (vc *VenueCache) fetch(ctx context.Context, slug string) (VenueRecord, error) {
	vc.logger.WithField("slug", slug).Debug("venue cache miss, fetching market")

	market, err := vc.fetcher.Market(ctx, slug)
	if err != nil {
		return VenueRecord{}, err
	}

	rec, err := recordFromMarket(market)
	if err != nil {
		return VenueRecord{}, err
	}

	vc.mu.Lock()
	vc.records[slug] = rec
	size := len(vc.records)
	vc.mu.Unlock()

	vc.logger.WithFields(logrus.Fields{
		"slug":       slug,
		"exchange":   rec.ExchangeAddress.Hex(),
		"cache_size": size,
	}).Debug("venue cache populated")

	return rec, nil
}

// Clear drops every cached record.
func (vc *VenueCache) Clear() {
	vc.mu.Lock()
	vc.records = make(map[string]VenueRecord)
	vc.mu.Unlock()
}

// Len returns the number of cached records.
func (vc *VenueCache) Len() int {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return len(vc.records)
}

func recordFromMarket(m *Market) (VenueRecord, error) {
	if !common.IsHexAddress(m.Venue.Exchange) {
		return VenueRecord{}, fmt.Errorf("market %s: invalid venue exchange address %q", m.Slug, m.Venue.Exchange)
	}

	rec := VenueRecord{
		MarketSlug:      m.Slug,
		ExchangeAddress: common.HexToAddress(m.Venue.Exchange),
	}

	if m.Venue.Adapter != "" {
		if !common.IsHexAddress(m.Venue.Adapter) {
			return VenueRecord{}, fmt.Errorf("market %s: invalid venue adapter address %q", m.Slug, m.Venue.Adapter)
		}
		adapter := common.HexToAddress(m.Venue.Adapter)
		rec.AdapterAddress = &adapter
	}

	return rec, nil
}
