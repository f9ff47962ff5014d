package stream

// Channel names accepted by the feed.
const (
	ChannelMarketPrices = "subscribe_market_prices"
	ChannelPositions    = "subscribe_positions"
	ChannelTransactions = "subscribe_transactions"
)

// marketSelector is the payload for market-scoped channels.
type marketSelector struct {
	MarketSlugs []string `json:"marketSlugs"`
}

// SubscribeMarketPrices subscribes to price updates for the given markets.
func (s *Session) SubscribeMarketPrices(slugs ...string) error {
	return s.Subscribe(ChannelMarketPrices, marketSelector{MarketSlugs: slugs})
}

// SubscribePositions subscribes to the authenticated account's position
// updates on the given markets.
func (s *Session) SubscribePositions(slugs ...string) error {
	return s.Subscribe(ChannelPositions, marketSelector{MarketSlugs: slugs})
}

// SubscribeTransactions subscribes to the trade feed for the given markets.
func (s *Session) SubscribeTransactions(slugs ...string) error {
	return s.Subscribe(ChannelTransactions, marketSelector{MarketSlugs: slugs})
}
