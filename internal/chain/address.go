// Package chain holds the on-chain collaborator surface: account address
// encoding, transaction metadata, and the client interface used to submit
// settlement transactions.
package chain

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	// AccountAddressLength is the byte length of an on-chain account address.
	AccountAddressLength = 16
	// SubAddressLength is the byte length of a user sub-address within a VASP.
	SubAddressLength = 8

	// identifierVersion is the account identifier format version byte.
	identifierVersion = 0x01
)

var (
	ErrInvalidAddress    = errors.New("invalid account address")
	ErrInvalidSubAddress = errors.New("invalid sub-address")
)

// AccountAddress is a raw on-chain account address.
type AccountAddress [AccountAddressLength]byte

// SubAddress identifies an end user under a custodial account. The zero
// value means "no sub-address".
type SubAddress [SubAddressLength]byte

// ParseAccountAddress parses a hex-encoded account address.
func ParseAccountAddress(s string) (AccountAddress, error) {
	var addr AccountAddress
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != AccountAddressLength {
		return addr, ErrInvalidAddress
	}
	copy(addr[:], b)
	return addr, nil
}

// Hex returns the lowercase hex encoding of the address.
func (a AccountAddress) Hex() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the sub-address is unset.
func (s SubAddress) IsZero() bool {
	return s == SubAddress{}
}

// HRPForChainID returns the human-readable prefix for a chain id.
// Mainnet uses "dm"; every other network uses the test prefix.
func HRPForChainID(chainID uint8) string {
	switch chainID {
	case 1:
		return "dm"
	case 3:
		return "pdm"
	default:
		return "tdm"
	}
}

// EncodeAccountIdentifier renders (address, sub_address) as a single
// bech32 account identifier with the given prefix. The sub-address is
// always carried; a zero sub-address addresses the VASP itself.
func EncodeAccountIdentifier(hrp string, addr AccountAddress, sub SubAddress) (string, error) {
	payload := make([]byte, 0, 1+AccountAddressLength+SubAddressLength)
	payload = append(payload, identifierVersion)
	payload = append(payload, addr[:]...)
	payload = append(payload, sub[:]...)

	converted, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("converting identifier payload: %w", err)
	}
	encoded, err := bech32.Encode(hrp, converted)
	if err != nil {
		return "", fmt.Errorf("encoding identifier: %w", err)
	}
	return encoded, nil
}

// DecodeAccountIdentifier parses a bech32 account identifier, checking the
// expected prefix and version.
func DecodeAccountIdentifier(expectedHRP, identifier string) (AccountAddress, SubAddress, error) {
	var addr AccountAddress
	var sub SubAddress

	hrp, data, err := bech32.Decode(identifier)
	if err != nil {
		return addr, sub, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if hrp != expectedHRP {
		return addr, sub, fmt.Errorf("%w: prefix %q, want %q", ErrInvalidAddress, hrp, expectedHRP)
	}

	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return addr, sub, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(payload) != 1+AccountAddressLength+SubAddressLength {
		return addr, sub, fmt.Errorf("%w: payload length %d", ErrInvalidAddress, len(payload))
	}
	if payload[0] != identifierVersion {
		return addr, sub, fmt.Errorf("%w: version %d", ErrInvalidAddress, payload[0])
	}

	copy(addr[:], payload[1:1+AccountAddressLength])
	copy(sub[:], payload[1+AccountAddressLength:])
	return addr, sub, nil
}
