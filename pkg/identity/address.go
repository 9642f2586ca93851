// Package identity provides parsing and validation for the identity claims used by
// Sign-In-With-Agent: EVM account addresses, agent registry references and the
// (address, agentId, agentRegistry) claim tuple.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Common errors returned by this package.
var (
	ErrInvalidAddress  = errors.New("invalid account address")
	ErrInvalidRegistry = errors.New("invalid agent registry reference")
)

// ValidateAddress checks that s is a 0x-prefixed, 20-byte hex account address.
// All-lowercase and all-uppercase forms are accepted; mixed-case input must carry a
// valid EIP-55 checksum.
func ValidateAddress(s string) error {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return fmt.Errorf("%w: missing 0x prefix", ErrInvalidAddress)
	}
	if !common.IsHexAddress(s) {
		return fmt.Errorf("%w: expected 40 hex characters", ErrInvalidAddress)
	}

	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if common.HexToAddress(s).Hex() != "0x"+body {
			return fmt.Errorf("%w: bad EIP-55 checksum", ErrInvalidAddress)
		}
	}
	return nil
}

// NormalizeAddress validates s and returns its canonical lowercase form.
func NormalizeAddress(s string) (string, error) {
	if err := ValidateAddress(s); err != nil {
		return "", err
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}

// ChecksumAddress returns the EIP-55 form of a (previously validated) address.
func ChecksumAddress(s string) string {
	return common.HexToAddress(s).Hex()
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
