package domain

import (
	"errors"
	"time"

	"vasppay/internal/common/money"
)

// AccountStatus represents the status of a hosted account
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

// Account represents an end user custodied by this VASP. The sub-address
// locates the user under the VASP's on-chain account.
type Account struct {
	ID         string        `json:"id"`
	SubAddress string        `json:"sub_address"` // hex-encoded, unique
	GivenName  string        `json:"given_name"`
	Surname    string        `json:"surname"`
	Dob        string        `json:"dob,omitempty"`
	Country    string        `json:"country"`
	City       string        `json:"city,omitempty"`
	Status     AccountStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// NewAccount creates a new account
func NewAccount(id, subAddress, givenName, surname, country string) (*Account, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if subAddress == "" {
		return nil, errors.New("sub_address is required")
	}
	if givenName == "" {
		return nil, errors.New("given_name is required")
	}
	if surname == "" {
		return nil, errors.New("surname is required")
	}
	if country == "" {
		return nil, errors.New("country is required")
	}

	now := time.Now().UTC()
	return &Account{
		ID:         id,
		SubAddress: subAddress,
		GivenName:  givenName,
		Surname:    surname,
		Country:    country,
		Status:     AccountStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// CanTransact returns whether the account may send or receive funds
func (a *Account) CanTransact() bool {
	return a.Status == AccountStatusActive
}

// EntryType represents the direction of a balance movement
type EntryType string

const (
	EntryTypeCredit EntryType = "credit"
	EntryTypeDebit  EntryType = "debit"
)

// Entry represents a single balance movement on an account
type Entry struct {
	ID          string         `json:"id"`
	AccountID   string         `json:"account_id"`
	EntryType   EntryType      `json:"entry_type"`
	Amount      uint64         `json:"amount"`
	Currency    money.Currency `json:"currency"`
	ReferenceID string         `json:"reference_id,omitempty"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Balance is the current holding of one currency
type Balance struct {
	Currency money.Currency `json:"currency"`
	Amount   uint64         `json:"amount"`
}
