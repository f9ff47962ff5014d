package orders

import "encoding/json"

// Side is the direction of an order. Wire values match the on-chain enum.
type Side uint8

const (
	Buy  Side = 0
	Sell Side = 1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "unknown"
	}
}

// OrderType selects the execution semantics.
type OrderType string

const (
	// GTC rests in the book until matched or cancelled. Requires Price and
	// Size.
	GTC OrderType = "GTC"

	// FOK executes immediately and fully or not at all. Requires
	// MakerAmount; Price and Size must be unset.
	FOK OrderType = "FOK"
)

// SignatureType identifies how the maker's signature is produced.
type SignatureType uint8

const (
	SignatureEOA SignatureType = 0
)

// Request describes an order to be placed. Exactly one of (Price & Size) or
// MakerAmount must be populated, matching the order type.
type Request struct {
	// TokenID is the conditional-token ID of the outcome being traded.
	TokenID string

	Side Side
	Type OrderType

	// Price and Size are required for GTC orders. Price is per share in
	// the 0-1 range, Size in shares.
	Price float64
	Size  float64

	// MakerAmount is required for FOK orders. Its meaning depends on the
	// side: for BUY it is the collateral (USDC) amount offered, for SELL
	// the share quantity offered.
	MakerAmount float64

	// MarketSlug identifies the market whose venue the order is signed
	// against.
	MarketSlug string

	// Expiration is an optional unix timestamp after which the order is
	// void. Zero means no expiry.
	Expiration int64

	// Nonce is the on-chain cancellation nonce. Usually zero.
	Nonce int64

	// FeeRateBps overrides the client's fee rate when non-zero.
	FeeRateBps int
}

// WireOrder is the signed order payload exactly as the exchange accepts it.
type WireOrder struct {
	Salt          int64         `json:"salt"`
	Maker         string        `json:"maker"`
	Signer        string        `json:"signer"`
	Taker         string        `json:"taker"`
	TokenID       string        `json:"tokenId"`
	MakerAmount   string        `json:"makerAmount"`
	TakerAmount   string        `json:"takerAmount"`
	Expiration    int64         `json:"expiration"`
	Nonce         int64         `json:"nonce"`
	Price         string        `json:"price,omitempty"`
	FeeRateBps    int           `json:"feeRateBps"`
	Side          Side          `json:"side"`
	Signature     string        `json:"signature"`
	SignatureType SignatureType `json:"signatureType"`
}

// createOrderBody is the POST /orders envelope. GTC maps to LIMIT and FOK to
// MARKET on the wire.
type createOrderBody struct {
	Order      WireOrder `json:"order"`
	OwnerID    int       `json:"ownerId,omitempty"`
	OrderType  string    `json:"orderType"`
	MarketSlug string    `json:"marketSlug"`
}

// Ack is the typed sliver of the exchange's order acknowledgement.
type Ack struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Price  string `json:"price"`
}

// Result carries the exchange's authoritative response to a created order.
// Raw is the untouched response body; Order and MakerMatches are decoded
// views over it.
type Result struct {
	Order        Ack               `json:"order"`
	MakerMatches []json.RawMessage `json:"makerMatches"`

	Raw json.RawMessage `json:"-"`
}

// Profile is the authenticated account metadata needed to build orders.
// Fetched once per client instance and reused.
type Profile struct {
	ID      int    `json:"id"`
	Account string `json:"account"`
}
