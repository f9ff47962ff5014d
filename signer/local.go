package signer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSignerDestroyed is returned when signing is attempted after Destroy.
var ErrSignerDestroyed = errors.New("signer: key destroyed")

// LocalSigner signs with an in-process secp256k1 key. The key bytes are
// sealed in a memguard Enclave (encrypted at rest) and only opened for the
// duration of a single Sign call.
type LocalSigner struct {
	mu      sync.Mutex
	enclave *memguard.Enclave
	address common.Address
}

// NewLocalSigner parses a hex private key (0x prefix optional), derives the
// signing address, and seals the key bytes into locked memory.
func NewLocalSigner(privateKeyHex string) (*LocalSigner, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("signer: decode private key: %w", err)
	}

	// Derive the address before sealing the key.
	privKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(privKey.PublicKey)

	// NewEnclave wipes keyBytes after sealing.
	return &LocalSigner{
		enclave: memguard.NewEnclave(keyBytes),
		address: addr,
	}, nil
}

// Address returns the address derived from the sealed key.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// SignTypedData opens the enclave momentarily, signs the EIP-712 digest with
// ECDSA, and returns a 65-byte signature with v adjusted to 27/28.
func (s *LocalSigner) SignTypedData(domain Domain, order *OrderData) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enclave == nil {
		return nil, ErrSignerDestroyed
	}

	digest := Digest(domain, order)

	buf, err := s.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("signer: open enclave: %w", err)
	}

	privKey, err := crypto.ToECDSA(buf.Bytes())
	buf.Destroy()
	if err != nil {
		return nil, fmt.Errorf("signer: parse private key: %w", err)
	}

	sig, err := crypto.Sign(digest[:], privKey)
	if err != nil {
		return nil, fmt.Errorf("signer: ecdsa sign: %w", err)
	}

	// Adjust v for Ethereum compatibility (0/1 -> 27/28).
	sig[64] += 27

	return sig, nil
}

// Destroy wipes the sealed key. The signer is unusable afterwards.
func (s *LocalSigner) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enclave = nil
}
