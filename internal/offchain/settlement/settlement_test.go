package settlement

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vasppay/internal/chain"
	"vasppay/internal/offchain"
	"vasppay/internal/offchain/payment"
	"vasppay/internal/offchain/store"
)

// fakeChain records submissions and returns a fixed outcome.
type fakeChain struct {
	result    chain.SubmitResult
	submitErr error
	requests  []*chain.PeerToPeerRequest
}

func (c *fakeChain) GetAccount(_ context.Context, _ chain.AccountAddress) (*chain.AccountInfo, error) {
	return nil, chain.ErrAccountNotFound
}

func (c *fakeChain) SubmitPeerToPeer(_ context.Context, req *chain.PeerToPeerRequest) (*chain.SubmitResult, error) {
	c.requests = append(c.requests, req)
	if c.submitErr != nil {
		return nil, c.submitErr
	}
	r := c.result
	return &r, nil
}

func (c *fakeChain) Transactions(_ context.Context, _ uint64, _ int) ([]*chain.Transaction, error) {
	return nil, nil
}

type fakeWallet struct {
	accounts map[string]string
}

func (w *fakeWallet) ResolveAccount(_ context.Context, identifier string) (string, bool, error) {
	id, ok := w.accounts[identifier]
	return id, ok, nil
}

func (w *fakeWallet) KycData(_ context.Context, _ string) (*offchain.KycDataObject, error) {
	return &offchain.KycDataObject{
		ObjectType: offchain.ObjTypeKycData, PayloadVersion: 1, Type: offchain.KycTypeIndividual,
	}, nil
}

func (w *fakeWallet) EvaluateKyc(_ context.Context, _ string, _ *offchain.KycDataObject) (payment.Decision, error) {
	return payment.DecisionAccept, nil
}

type fakeKeys struct{}

func (fakeKeys) ComplianceKey(_ context.Context, _ chain.AccountAddress) (ed25519.PublicKey, error) {
	return nil, nil
}

type submitterFixture struct {
	submitter *Submitter
	chain     *fakeChain
	store     *store.MemoryStore
	payments  *payment.Machine
	myUserID  string
	theirID   string
}

func newSubmitterFixture(t *testing.T) *submitterFixture {
	t.Helper()

	var myVASP, theirVASP chain.AccountAddress
	myVASP[0], theirVASP[0] = 0x01, 0x02
	var mySub, theirSub chain.SubAddress
	mySub[0], theirSub[0] = 0xaa, 0xbb

	myUserID, err := chain.EncodeAccountIdentifier("tdm", myVASP, mySub)
	require.NoError(t, err)
	theirID, err := chain.EncodeAccountIdentifier("tdm", theirVASP, theirSub)
	require.NoError(t, err)

	_, key, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	payments := payment.NewMachine(payment.Config{
		VASPAddress:         myVASP,
		HRP:                 "tdm",
		ComplianceKey:       key,
		TravelRuleThreshold: 1_000_000_000,
	}, st, &fakeWallet{accounts: map[string]string{myUserID: "acct-1"}}, fakeKeys{}, nil, logger)

	chainClient := &fakeChain{result: chain.SubmitResult{Version: 42, Sequence: 7}}
	sub := New(st, chainClient, payments, nil, "tdm", "XUS", time.Second, logger)

	return &submitterFixture{
		submitter: sub,
		chain:     chainClient,
		store:     st,
		payments:  payments,
		myUserID:  myUserID,
		theirID:   theirID,
	}
}

func (f *submitterFixture) readyPayment(t *testing.T, amount uint64) *store.PaymentRecord {
	t.Helper()
	rec, err := f.payments.SendPayment(context.Background(), payment.SendPaymentParams{
		AccountID:       "acct-1",
		SenderAddress:   f.myUserID,
		ReceiverAddress: f.theirID,
		Amount:          amount,
		Currency:        "XUS",
	})
	require.NoError(t, err)
	require.Equal(t, offchain.LifecycleReady, rec.Lifecycle)
	return rec
}

func TestTickSettlesReadyPayment(t *testing.T) {
	f := newSubmitterFixture(t)
	rec := f.readyPayment(t, 500)

	f.submitter.Tick(context.Background())

	require.Len(t, f.chain.requests, 1)
	req := f.chain.requests[0]
	assert.Equal(t, uint64(500), req.Amount)
	assert.Equal(t, "XUS", req.Currency)
	assert.Equal(t, byte(0x01), req.Metadata[0], "sub-threshold transfers carry general metadata")
	assert.Empty(t, req.MetadataSignature)

	updated, err := f.store.GetPayment(context.Background(), rec.ReferenceID)
	require.NoError(t, err)
	assert.Equal(t, offchain.LifecycleComplete, updated.Lifecycle)
	require.NotNil(t, updated.ChainVersion)
	assert.Equal(t, uint64(42), *updated.ChainVersion)

	txns := f.store.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, rec.ReferenceID, txns[0].ReferenceID)
	assert.Equal(t, store.TransactionCompleted, txns[0].Status)
}

func TestTickUsesTravelRuleMetadataWhenSigned(t *testing.T) {
	f := newSubmitterFixture(t)
	ctx := context.Background()

	sig := ed25519.Sign(func() ed25519.PrivateKey {
		_, k, _ := ed25519.GenerateKey(nil)
		return k
	}(), []byte("attested"))

	rec := &store.PaymentRecord{
		ReferenceID:    "77777777-7777-4777-8777-777777777777",
		MyActorAddress: f.myUserID,
		AccountID:      "acct-1",
		Lifecycle:      offchain.LifecycleReady,
		Payment: offchain.PaymentObject{
			ReferenceID: "77777777-7777-4777-8777-777777777777",
			Sender: offchain.PaymentActor{
				Address: f.myUserID,
				Status:  offchain.StatusObject{Status: offchain.StatusReadyForSettlement},
			},
			Receiver: offchain.PaymentActor{
				Address: f.theirID,
				Status:  offchain.StatusObject{Status: offchain.StatusReadyForSettlement},
			},
			Action:             offchain.PaymentAction{Amount: 2_000_000_000, Currency: "XUS", Action: "charge", Timestamp: 1700000000},
			RecipientSignature: hex.EncodeToString(sig),
		},
	}
	require.NoError(t, f.store.LockPayment(ctx, rec.ReferenceID, func(_ *store.PaymentRecord) (*store.PaymentRecord, error) {
		return rec, nil
	}))

	f.submitter.Tick(ctx)

	require.Len(t, f.chain.requests, 1)
	req := f.chain.requests[0]
	assert.Equal(t, byte(0x02), req.Metadata[0], "signed transfers carry travel-rule metadata")
	assert.Equal(t, sig, req.MetadataSignature)

	parsed, err := chain.ParseMetadata(req.Metadata)
	require.NoError(t, err)
	md, ok := parsed.(*chain.TravelRuleMetadata)
	require.True(t, ok)
	assert.Equal(t, rec.ReferenceID, md.ReferenceID)
}

func TestTickSkipsReceiverSideRecords(t *testing.T) {
	f := newSubmitterFixture(t)
	ctx := context.Background()

	rec := &store.PaymentRecord{
		ReferenceID:    "88888888-8888-4888-8888-888888888888",
		MyActorAddress: f.myUserID,
		Lifecycle:      offchain.LifecycleReady,
		Payment: offchain.PaymentObject{
			ReferenceID: "88888888-8888-4888-8888-888888888888",
			Sender:      offchain.PaymentActor{Address: f.theirID, Status: offchain.StatusObject{Status: offchain.StatusReadyForSettlement}},
			Receiver:    offchain.PaymentActor{Address: f.myUserID, Status: offchain.StatusObject{Status: offchain.StatusReadyForSettlement}},
			Action:      offchain.PaymentAction{Amount: 100, Currency: "XUS", Action: "charge", Timestamp: 1700000000},
		},
	}
	require.NoError(t, f.store.LockPayment(ctx, rec.ReferenceID, func(_ *store.PaymentRecord) (*store.PaymentRecord, error) {
		return rec, nil
	}))

	f.submitter.Tick(ctx)

	assert.Empty(t, f.chain.requests, "only the sending side submits")
	updated, err := f.store.GetPayment(ctx, rec.ReferenceID)
	require.NoError(t, err)
	assert.Equal(t, offchain.LifecycleReady, updated.Lifecycle)
}

func TestTickCancelsOnInsufficientBalance(t *testing.T) {
	f := newSubmitterFixture(t)
	f.chain.submitErr = chain.ErrInsufficientBalance
	rec := f.readyPayment(t, 500)

	f.submitter.Tick(context.Background())

	updated, err := f.store.GetPayment(context.Background(), rec.ReferenceID)
	require.NoError(t, err)
	assert.Equal(t, offchain.LifecycleCanceled, updated.Lifecycle)
	assert.Equal(t, offchain.AbortInsufficientFunds, updated.MyActor().Status.AbortCode)
}

func TestTickRetriesTransientErrors(t *testing.T) {
	f := newSubmitterFixture(t)
	f.chain.submitErr = context.DeadlineExceeded
	rec := f.readyPayment(t, 500)

	f.submitter.Tick(context.Background())

	updated, err := f.store.GetPayment(context.Background(), rec.ReferenceID)
	require.NoError(t, err)
	assert.Equal(t, offchain.LifecycleReady, updated.Lifecycle, "transient failures leave the record for the next pass")

	f.chain.submitErr = nil
	f.submitter.Tick(context.Background())
	updated, err = f.store.GetPayment(context.Background(), rec.ReferenceID)
	require.NoError(t, err)
	assert.Equal(t, offchain.LifecycleComplete, updated.Lifecycle)
}
