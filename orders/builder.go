package orders

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/limitless-exchange/limitless-go/signer"
)

// collateralDecimals is the fixed-point scale of the venue's collateral
// (USDC, 6 decimals).
const collateralDecimals = 1e6

// defaultFeeRateBps is applied when the request does not override it.
const defaultFeeRateBps = 30

// maxSalt bounds the random salt so it survives a round trip through JSON
// number parsing.
var maxSalt = big.NewInt(math.MaxInt64)

// toFixed converts a decimal amount to the collateral's integer fixed-point
// representation, rounding half away from zero.
func toFixed(v float64) *big.Int {
	return big.NewInt(int64(math.Round(v * collateralDecimals)))
}

// amounts computes the fixed-point maker/taker amounts for a request.
//
// For GTC the maker side of the trade is determined by direction: a buyer
// offers collateral (price*size) against shares (size), a seller the reverse.
// For FOK the caller supplies the maker amount directly and the taker amount
// is left zero; the matching engine fills at whatever the book offers.
func amounts(req *Request) (maker, taker *big.Int, err error) {
	switch req.Type {
	case GTC:
		collateral := toFixed(req.Price * req.Size)
		shares := toFixed(req.Size)
		if collateral.Sign() == 0 || shares.Sign() == 0 {
			return nil, nil, invalid("size", "order too small: amounts round to zero")
		}
		if req.Side == Buy {
			return collateral, shares, nil
		}
		return shares, collateral, nil
	case FOK:
		maker = toFixed(req.MakerAmount)
		if maker.Sign() == 0 {
			return nil, nil, invalid("makerAmount", "order too small: amount rounds to zero")
		}
		return maker, big.NewInt(0), nil
	default:
		return nil, nil, invalid("type", "must be GTC or FOK, got %q", string(req.Type))
	}
}

// newSalt draws a random order salt from crypto/rand.
func newSalt() (*big.Int, error) {
	salt, err := rand.Int(rand.Reader, maxSalt)
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// buildOrderData assembles the struct that gets hashed and signed. The maker
// and signer are the same address for EOA signatures; the taker is open
// (zero address).
func buildOrderData(req *Request, maker common.Address, salt *big.Int, feeRateBps int) (*signer.OrderData, error) {
	tokenID, ok := parseTokenID(req.TokenID)
	if !ok {
		return nil, invalid("tokenId", "must be a positive integer, got %q", req.TokenID)
	}

	makerAmt, takerAmt, err := amounts(req)
	if err != nil {
		return nil, err
	}

	return &signer.OrderData{
		Salt:          salt,
		Maker:         maker,
		Signer:        maker,
		Taker:         common.Address{},
		TokenID:       tokenID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Expiration:    big.NewInt(req.Expiration),
		Nonce:         big.NewInt(req.Nonce),
		FeeRateBps:    big.NewInt(int64(feeRateBps)),
		Side:          uint8(req.Side),
		SignatureType: uint8(SignatureEOA),
	}, nil
}

// wireOrder renders the signed order for the REST API. Numeric uint256 fields
// travel as decimal strings; GTC orders additionally carry the human price.
func wireOrder(req *Request, data *signer.OrderData, sig []byte) WireOrder {
	w := WireOrder{
		Salt:          data.Salt.Int64(),
		Maker:         data.Maker.Hex(),
		Signer:        data.Signer.Hex(),
		Taker:         data.Taker.Hex(),
		TokenID:       data.TokenID.String(),
		MakerAmount:   data.MakerAmount.String(),
		TakerAmount:   data.TakerAmount.String(),
		Expiration:    data.Expiration.Int64(),
		Nonce:         data.Nonce.Int64(),
		FeeRateBps:    int(data.FeeRateBps.Int64()),
		Side:          Side(data.Side),
		Signature:     "0x" + common.Bytes2Hex(sig),
		SignatureType: SignatureType(data.SignatureType),
	}
	if req.Type == GTC {
		w.Price = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	return w
}

// wireOrderType maps the SDK order type to the exchange's envelope value.
func wireOrderType(t OrderType) string {
	if t == FOK {
		return "MARKET"
	}
	return "LIMIT"
}
