package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultChainID is Base mainnet, where the venue contracts live.
const DefaultChainID = 8453

// EIP-712 type hashes (pre-computed keccak256 of the type strings).
var (
	// keccak256("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)")
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))

	// keccak256("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)")
	orderTypeHash = crypto.Keccak256Hash([]byte(
		"Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)",
	))
)

// Domain holds the EIP-712 domain separator fields. VerifyingContract is the
// venue exchange address resolved per market.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// OrderData holds the fields hashed into the EIP-712 Order struct hash. Field
// order and types mirror the on-chain Order struct exactly.
type OrderData struct {
	Salt          *big.Int
	Maker         common.Address
	Signer        common.Address
	Taker         common.Address
	TokenID       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          uint8
	SignatureType uint8
}

// HashDomain computes the EIP-712 domain separator hash.
func HashDomain(d Domain) common.Hash {
	return crypto.Keccak256Hash(
		eip712DomainTypeHash.Bytes(),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		common.LeftPadBytes(d.ChainID.Bytes(), 32),
		common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
	)
}

// HashOrder computes the EIP-712 struct hash for an Order.
func HashOrder(o *OrderData) common.Hash {
	return crypto.Keccak256Hash(
		orderTypeHash.Bytes(),
		common.LeftPadBytes(o.Salt.Bytes(), 32),
		common.LeftPadBytes(o.Maker.Bytes(), 32),
		common.LeftPadBytes(o.Signer.Bytes(), 32),
		common.LeftPadBytes(o.Taker.Bytes(), 32),
		common.LeftPadBytes(o.TokenID.Bytes(), 32),
		common.LeftPadBytes(o.MakerAmount.Bytes(), 32),
		common.LeftPadBytes(o.TakerAmount.Bytes(), 32),
		common.LeftPadBytes(o.Expiration.Bytes(), 32),
		common.LeftPadBytes(o.Nonce.Bytes(), 32),
		common.LeftPadBytes(o.FeeRateBps.Bytes(), 32),
		common.LeftPadBytes(big.NewInt(int64(o.Side)).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(int64(o.SignatureType)).Bytes(), 32),
	)
}

// Digest computes the final EIP-712 signing digest:
// keccak256("\x19\x01" || domainSeparator || structHash)
func Digest(domain Domain, order *OrderData) common.Hash {
	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		HashDomain(domain).Bytes(),
		HashOrder(order).Bytes(),
	)
}
