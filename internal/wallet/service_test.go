package wallet

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"vasppay/internal/offchain"
	"vasppay/internal/offchain/payment"
)

// The policy check reads only configuration, so a service without a
// backing store is enough.
func policyService(blocked, watchlist []string) *Service {
	return NewService(Config{
		BlockedCountries: blocked,
		WatchlistNames:   watchlist,
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func individual(given, surname, country string) *offchain.KycDataObject {
	return &offchain.KycDataObject{
		ObjectType:     offchain.ObjTypeKycData,
		PayloadVersion: 1,
		Type:           offchain.KycTypeIndividual,
		GivenName:      given,
		Surname:        surname,
		Address:        &offchain.KycAddress{Country: country},
	}
}

func TestEvaluateKycRejectsMissingData(t *testing.T) {
	s := policyService(nil, nil)

	decision, err := s.EvaluateKyc(context.Background(), "acct-1", nil)
	assert.NoError(t, err)
	assert.Equal(t, payment.DecisionReject, decision)
}

func TestEvaluateKycRejectsBlockedCountry(t *testing.T) {
	s := policyService([]string{"KP", "IR"}, nil)
	ctx := context.Background()

	decision, err := s.EvaluateKyc(ctx, "acct-1", individual("Kim", "Doe", "kp"))
	assert.NoError(t, err)
	assert.Equal(t, payment.DecisionReject, decision)

	// Country carried only on the national id counts too.
	counterparty := individual("Kim", "Doe", "")
	counterparty.Address = nil
	counterparty.NationalID = &offchain.KycNationalID{IDValue: "123", Country: "IR"}
	decision, err = s.EvaluateKyc(ctx, "acct-1", counterparty)
	assert.NoError(t, err)
	assert.Equal(t, payment.DecisionReject, decision)
}

func TestEvaluateKycSoftMatchesWatchlistedName(t *testing.T) {
	s := policyService(nil, []string{"John Smith"})
	ctx := context.Background()

	decision, err := s.EvaluateKyc(ctx, "acct-1", individual("john", "SMITH", "FR"))
	assert.NoError(t, err)
	assert.Equal(t, payment.DecisionSoftMatch, decision)

	// Entities match on their legal name.
	entity := &offchain.KycDataObject{
		ObjectType:      offchain.ObjTypeKycData,
		PayloadVersion:  1,
		Type:            offchain.KycTypeEntity,
		LegalEntityName: "John Smith",
	}
	decision, err = s.EvaluateKyc(ctx, "acct-1", entity)
	assert.NoError(t, err)
	assert.Equal(t, payment.DecisionSoftMatch, decision)
}

func TestEvaluateKycAcceptsCleanCounterparty(t *testing.T) {
	s := policyService([]string{"KP"}, []string{"John Smith"})

	decision, err := s.EvaluateKyc(context.Background(), "acct-1", individual("Ada", "Lovelace", "GB"))
	assert.NoError(t, err)
	assert.Equal(t, payment.DecisionAccept, decision)
}
