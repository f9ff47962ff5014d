// Package signer produces EIP-712 structured-data signatures over order
// payloads. The Signer interface is the SDK's signing boundary: the order
// client only ever asks for a signature over a domain and an order, so the
// key can live anywhere (in-process, HSM, remote service).
package signer

import "github.com/ethereum/go-ethereum/common"

// Signer signs EIP-712 order digests.
type Signer interface {
	// Address returns the address the signatures recover to.
	Address() common.Address

	// SignTypedData returns a 65-byte (r || s || v) signature over the
	// EIP-712 digest of the order within the given domain.
	SignTypedData(domain Domain, order *OrderData) ([]byte, error)
}
