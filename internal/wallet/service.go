// Package wallet is the custody collaborator: hosted accounts addressed
// by sub-address, their balances, and the KYC data and verdicts the
// off-chain exchange needs.
package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"vasppay/internal/chain"
	"vasppay/internal/common/database"
	"vasppay/internal/common/money"
	"vasppay/internal/offchain"
	"vasppay/internal/offchain/payment"
	"vasppay/internal/wallet/domain"
	"vasppay/internal/wallet/store"
)

// Config carries the wallet's on-chain identity and compliance policy.
type Config struct {
	VASPAddress      chain.AccountAddress
	HRP              string
	BlockedCountries []string
	WatchlistNames   []string
}

// Service manages hosted accounts. It implements the account resolution,
// KYC supply, and KYC evaluation interfaces of the protocol machines.
type Service struct {
	cfg    Config
	store  *store.Store
	logger *slog.Logger
}

// NewService creates a wallet service.
func NewService(cfg Config, st *store.Store, logger *slog.Logger) *Service {
	return &Service{cfg: cfg, store: st, logger: logger}
}

// CreateAccountParams describes a new hosted account.
type CreateAccountParams struct {
	GivenName string
	Surname   string
	Dob       string
	Country   string
	City      string
}

// CreateAccount provisions a hosted account with a fresh sub-address.
func (s *Service) CreateAccount(ctx context.Context, p CreateAccountParams) (*domain.Account, error) {
	// Sub-addresses are random; retry the rare collision.
	for attempt := 0; attempt < 3; attempt++ {
		sub, err := newSubAddress()
		if err != nil {
			return nil, err
		}
		account, err := domain.NewAccount(ulid.Make().String(), sub, p.GivenName, p.Surname, p.Country)
		if err != nil {
			return nil, err
		}
		account.Dob = p.Dob
		account.City = p.City

		err = s.store.CreateAccount(ctx, account)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, database.ErrAlreadyExists) {
			return nil, err
		}
	}
	return nil, errors.New("could not allocate a sub-address")
}

func newSubAddress() (string, error) {
	var sub chain.SubAddress
	if _, err := rand.Read(sub[:]); err != nil {
		return "", fmt.Errorf("generating sub-address: %w", err)
	}
	return hex.EncodeToString(sub[:]), nil
}

// GetAccount retrieves a hosted account.
func (s *Service) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// Identifier renders the account's on-wire account identifier.
func (s *Service) Identifier(account *domain.Account) (string, error) {
	subBytes, err := hex.DecodeString(account.SubAddress)
	if err != nil || len(subBytes) != chain.SubAddressLength {
		return "", chain.ErrInvalidSubAddress
	}
	var sub chain.SubAddress
	copy(sub[:], subBytes)
	return chain.EncodeAccountIdentifier(s.cfg.HRP, s.cfg.VASPAddress, sub)
}

// ResolveAccount maps an account identifier to a hosted account id.
// Identifiers under another VASP's address resolve as not ours; an
// unknown sub-address under our own address does too.
func (s *Service) ResolveAccount(ctx context.Context, accountIdentifier string) (string, bool, error) {
	addr, sub, err := chain.DecodeAccountIdentifier(s.cfg.HRP, accountIdentifier)
	if err != nil {
		return "", false, err
	}
	if addr != s.cfg.VASPAddress {
		return "", false, nil
	}

	account, err := s.store.GetAccountBySubAddress(ctx, hex.EncodeToString(sub[:]))
	if err != nil {
		if database.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return account.ID, true, nil
}

// AccountBySubAddress maps a hex sub-address to a hosted account id.
func (s *Service) AccountBySubAddress(ctx context.Context, subAddress string) (string, error) {
	account, err := s.store.GetAccountBySubAddress(ctx, subAddress)
	if err != nil {
		return "", err
	}
	return account.ID, nil
}

// KycData assembles the travel-rule identity payload for a hosted user.
func (s *Service) KycData(ctx context.Context, accountID string) (*offchain.KycDataObject, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &offchain.KycDataObject{
		ObjectType:     offchain.ObjTypeKycData,
		PayloadVersion: 1,
		Type:           offchain.KycTypeIndividual,
		GivenName:      account.GivenName,
		Surname:        account.Surname,
		Dob:            account.Dob,
		Address: &offchain.KycAddress{
			City:    account.City,
			Country: account.Country,
		},
	}, nil
}

// EvaluateKyc applies the local compliance policy to counterparty data:
// sanctioned countries reject, watchlisted names raise a soft match.
func (s *Service) EvaluateKyc(ctx context.Context, accountID string, counterparty *offchain.KycDataObject) (payment.Decision, error) {
	if counterparty == nil {
		return payment.DecisionReject, nil
	}

	country := ""
	if counterparty.Address != nil {
		country = strings.ToUpper(counterparty.Address.Country)
	}
	if counterparty.NationalID != nil && country == "" {
		country = strings.ToUpper(counterparty.NationalID.Country)
	}
	for _, blocked := range s.cfg.BlockedCountries {
		if country != "" && country == strings.ToUpper(blocked) {
			return payment.DecisionReject, nil
		}
	}

	fullName := strings.ToLower(strings.TrimSpace(counterparty.GivenName + " " + counterparty.Surname))
	if counterparty.Type == offchain.KycTypeEntity {
		fullName = strings.ToLower(strings.TrimSpace(counterparty.LegalEntityName))
	}
	for _, listed := range s.cfg.WatchlistNames {
		if fullName != "" && fullName == strings.ToLower(listed) {
			return payment.DecisionSoftMatch, nil
		}
	}

	return payment.DecisionAccept, nil
}

// Credit adds settled funds to a hosted account.
func (s *Service) Credit(ctx context.Context, accountID string, amount uint64, currency money.Currency, referenceID, description string) error {
	return s.store.Credit(ctx, &domain.Entry{
		ID:          ulid.Make().String(),
		AccountID:   accountID,
		Amount:      amount,
		Currency:    currency,
		ReferenceID: referenceID,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	})
}

// Debit removes funds from a hosted account, failing on insufficient
// balance.
func (s *Service) Debit(ctx context.Context, accountID string, amount uint64, currency money.Currency, referenceID, description string) error {
	return s.store.Debit(ctx, &domain.Entry{
		ID:          ulid.Make().String(),
		AccountID:   accountID,
		Amount:      amount,
		Currency:    currency,
		ReferenceID: referenceID,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	})
}

// Balances lists an account's holdings.
func (s *Service) Balances(ctx context.Context, accountID string) ([]domain.Balance, error) {
	return s.store.GetBalances(ctx, accountID)
}

// Entries lists an account's balance movements.
func (s *Service) Entries(ctx context.Context, accountID string, limit, offset int) ([]*domain.Entry, int64, error) {
	return s.store.ListEntries(ctx, accountID, limit, offset)
}
