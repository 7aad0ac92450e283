// Package money holds on-chain monetary amounts. Amounts are unsigned
// integers in the currency's base units (micro units on this network).
package money

import (
	"encoding/binary"
	"fmt"
)

// Currency represents an on-chain currency code.
type Currency string

const (
	XUS Currency = "XUS"
	XDX Currency = "XDX"
)

// CurrencyInfo contains metadata about a network currency.
type CurrencyInfo struct {
	Code           Currency
	ScalingFactor  uint64 // base units per whole unit
	FractionalPart uint64
}

var currencies = map[Currency]CurrencyInfo{
	XUS: {Code: XUS, ScalingFactor: 1_000_000, FractionalPart: 100},
	XDX: {Code: XDX, ScalingFactor: 1_000_000, FractionalPart: 1_000_000},
}

// GetCurrencyInfo returns info about a currency.
func GetCurrencyInfo(c Currency) (CurrencyInfo, bool) {
	info, ok := currencies[c]
	return info, ok
}

// IsValidCurrency reports whether the code is a known network currency.
func IsValidCurrency(code string) bool {
	_, ok := currencies[Currency(code)]
	return ok
}

// Amount is a monetary amount in base units of a single currency.
type Amount struct {
	Value    uint64   `json:"amount"`
	Currency Currency `json:"currency"`
}

// New creates an Amount from base units.
func New(value uint64, currency Currency) Amount {
	return Amount{Value: value, Currency: currency}
}

// IsZero returns true if the amount is zero.
func (a Amount) IsZero() bool {
	return a.Value == 0
}

// Add adds two amounts (must be same currency).
func (a Amount) Add(other Amount) (Amount, error) {
	if a.Currency != other.Currency {
		return Amount{}, fmt.Errorf("currency mismatch: %s vs %s", a.Currency, other.Currency)
	}
	return Amount{Value: a.Value + other.Value, Currency: a.Currency}, nil
}

// Sub subtracts two amounts (must be same currency, no underflow).
func (a Amount) Sub(other Amount) (Amount, error) {
	if a.Currency != other.Currency {
		return Amount{}, fmt.Errorf("currency mismatch: %s vs %s", a.Currency, other.Currency)
	}
	if other.Value > a.Value {
		return Amount{}, fmt.Errorf("amount underflow: %d - %d", a.Value, other.Value)
	}
	return Amount{Value: a.Value - other.Value, Currency: a.Currency}, nil
}

// Meets reports whether the amount is at or above a threshold in base units.
func (a Amount) Meets(threshold uint64) bool {
	return a.Value >= threshold
}

// String returns a human-readable representation.
func (a Amount) String() string {
	info, ok := currencies[a.Currency]
	if !ok {
		return fmt.Sprintf("%d %s", a.Value, a.Currency)
	}
	whole := a.Value / info.ScalingFactor
	frac := a.Value % info.ScalingFactor
	return fmt.Sprintf("%d.%06d %s", whole, frac, a.Currency)
}

// LittleEndianBytes encodes the value as an unsigned 64-bit little-endian
// integer, the form used in signed travel-rule messages.
func LittleEndianBytes(value uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return buf
}
