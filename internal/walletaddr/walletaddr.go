// Package walletaddr validates and normalizes Solana base58 wallet and
// token addresses used as discovery-record and store keys.
package walletaddr

import (
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	minDecodedLen = 32
	maxDecodedLen = 32
)

// Validate decodes a base58 address and checks it is exactly 32 bytes,
// the length of a Solana ed25519 public key.
func Validate(address string) error {
	if address == "" {
		return fmt.Errorf("walletaddr: empty address")
	}
	decoded, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("walletaddr: decode %q: %w", address, err)
	}
	if len(decoded) < minDecodedLen || len(decoded) > maxDecodedLen {
		return fmt.Errorf("walletaddr: %q decodes to %d bytes, want %d", address, len(decoded), minDecodedLen)
	}
	return nil
}

// Normalize re-encodes an address through decode/encode to canonicalize
// its base58 representation, returning an error for anything that does
// not validate.
func Normalize(address string) (string, error) {
	decoded, err := base58.Decode(address)
	if err != nil {
		return "", fmt.Errorf("walletaddr: decode %q: %w", address, err)
	}
	if len(decoded) != minDecodedLen {
		return "", fmt.Errorf("walletaddr: %q decodes to %d bytes, want %d", address, len(decoded), minDecodedLen)
	}
	return base58.Encode(decoded), nil
}
