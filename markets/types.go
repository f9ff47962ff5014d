package markets

import "encoding/json"

// Venue is the exchange/adapter contract-address pair a market's orders are
// signed against. NegRisk markets carry an adapter address in addition to the
// exchange; plain CLOB markets leave it empty.
type Venue struct {
	Exchange string `json:"exchange"`
	Adapter  string `json:"adapter,omitempty"`
}

// Tokens holds the conditional-token IDs for a binary market's outcomes.
type Tokens struct {
	Yes string `json:"yes"`
	No  string `json:"no"`
}

// Market is the subset of the exchange's market representation the SDK
// itself needs. The full payload is preserved in Raw for callers that want
// fields not modelled here.
type Market struct {
	Slug      string `json:"slug"`
	Address   string `json:"address"`
	Title     string `json:"title"`
	NegRisk   bool   `json:"negRiskRequested"`
	Tokens    Tokens `json:"tokens"`
	Venue     Venue  `json:"venue"`
	Deadline  string `json:"deadline"`
	Collateral struct {
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"collateralToken"`

	Raw json.RawMessage `json:"-"`
}

// ActiveMarketsPage is one page of the paginated active-markets listing.
type ActiveMarketsPage struct {
	Data              []Market `json:"data"`
	TotalMarketsCount int      `json:"totalMarketsCount"`
}

// Level is a single orderbook price level. Prices are per-share in the 0-1
// range; sizes are in shares.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Orderbook is a market's resting liquidity snapshot.
type Orderbook struct {
	Bids             []Level `json:"bids"`
	Asks             []Level `json:"asks"`
	TokenID          string  `json:"tokenId"`
	AdjustedMidpoint float64 `json:"adjustedMidpoint"`
	MaxSpread        float64 `json:"maxSpread"`
	MinSize          float64 `json:"minSize"`
}
