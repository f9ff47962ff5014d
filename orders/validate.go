package orders

import (
	"fmt"
	"math"
	"math/big"
)

// ValidationError reports a rejected order request. Validation runs entirely
// in-process, before any network or signing activity.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// validate checks a request against the rules of its order type. GTC orders
// carry price and size; FOK orders carry a maker amount. Mixing the two is
// rejected rather than guessed at.
func validate(req *Request) error {
	if req.TokenID == "" {
		return invalid("tokenId", "required")
	}
	if _, ok := parseTokenID(req.TokenID); !ok {
		return invalid("tokenId", "must be a positive integer, got %q", req.TokenID)
	}
	if req.MarketSlug == "" {
		return invalid("marketSlug", "required")
	}
	if req.Side != Buy && req.Side != Sell {
		return invalid("side", "must be BUY or SELL")
	}
	if req.Expiration < 0 {
		return invalid("expiration", "must not be negative")
	}
	if req.Nonce < 0 {
		return invalid("nonce", "must not be negative")
	}
	if req.FeeRateBps < 0 {
		return invalid("feeRateBps", "must not be negative")
	}

	switch req.Type {
	case GTC:
		if req.MakerAmount != 0 {
			return invalid("makerAmount", "not allowed for GTC orders; use price and size")
		}
		if req.Price <= 0 || req.Price > 1 {
			return invalid("price", "must be in (0, 1], got %g", req.Price)
		}
		if req.Size <= 0 {
			return invalid("size", "must be positive, got %g", req.Size)
		}
	case FOK:
		if req.Price != 0 || req.Size != 0 {
			return invalid("price", "not allowed for FOK orders; use makerAmount")
		}
		if req.MakerAmount <= 0 {
			return invalid("makerAmount", "must be positive, got %g", req.MakerAmount)
		}
		if !atMostTwoDecimals(req.MakerAmount) {
			return invalid("makerAmount", "at most 2 decimal places, got %g", req.MakerAmount)
		}
	default:
		return invalid("type", "must be GTC or FOK, got %q", string(req.Type))
	}

	return nil
}

// parseTokenID parses a decimal token ID. IDs are uint256-scale values, so
// they travel as strings and are parsed into big.Int.
func parseTokenID(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() <= 0 {
		return nil, false
	}
	return n, true
}

func atMostTwoDecimals(v float64) bool {
	scaled := v * 100
	return math.Abs(scaled-math.Round(scaled)) < 1e-9
}
