// Package settlement submits mutually ready payments on-chain and
// records the resulting transaction coordinates.
package settlement

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"vasppay/internal/chain"
	"vasppay/internal/offchain"
	"vasppay/internal/offchain/dispatcher"
	"vasppay/internal/offchain/payment"
	"vasppay/internal/offchain/store"
)

// Submitter scans settlement-ready payments and drives them on-chain.
// Only the sending side submits; the receiver's record completes when
// its inbound ingestion observes the transaction.
type Submitter struct {
	store       store.Store
	chain       chain.Client
	payments    *payment.Machine
	client      *dispatcher.Client
	hrp         string
	gasCurrency string
	interval    time.Duration
	logger      *slog.Logger
}

// New creates a settlement submitter.
func New(st store.Store, chainClient chain.Client, payments *payment.Machine, client *dispatcher.Client, hrp, gasCurrency string, interval time.Duration, logger *slog.Logger) *Submitter {
	return &Submitter{
		store:       st,
		chain:       chainClient,
		payments:    payments,
		client:      client,
		hrp:         hrp,
		gasCurrency: gasCurrency,
		interval:    interval,
		logger:      logger,
	}
}

// Run drives the submit loop until the context is canceled.
func (s *Submitter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("settlement submitter started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("settlement submitter stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one pass over settlement-ready payments.
func (s *Submitter) Tick(ctx context.Context) {
	records, err := s.store.PaymentsByLifecycle(ctx, offchain.LifecycleReady)
	if err != nil {
		s.logger.Error("listing ready payments", "error", err)
		return
	}

	for _, rec := range records {
		if !rec.IsSender() {
			continue
		}
		if err := s.submit(ctx, rec); err != nil {
			s.logger.Warn("settlement submit failed; will retry",
				"reference_id", rec.ReferenceID,
				"error", err,
			)
		}
	}
}

func (s *Submitter) submit(ctx context.Context, rec *store.PaymentRecord) error {
	req, err := s.buildRequest(rec)
	if err != nil {
		// A malformed ready record cannot settle; cancel it.
		s.abort(ctx, rec, offchain.AbortCouldNotPutTransaction, err.Error())
		return nil
	}

	result, err := s.chain.SubmitPeerToPeer(ctx, req)
	if err != nil {
		if errors.Is(err, chain.ErrInsufficientBalance) {
			s.abort(ctx, rec, offchain.AbortInsufficientFunds, "sender balance does not cover the transfer")
			return nil
		}
		return err
	}

	if err := s.payments.MarkSettled(ctx, rec.ReferenceID, result.Version, result.Sequence); err != nil {
		return err
	}
	if err := s.store.CreateTransaction(ctx, &store.TransactionRecord{
		ID:            ulid.Make().String(),
		ReferenceID:   rec.ReferenceID,
		Amount:        rec.Payment.Action.Amount,
		Currency:      rec.Payment.Action.Currency,
		ChainVersion:  result.Version,
		ChainSequence: result.Sequence,
		Status:        store.TransactionCompleted,
	}); err != nil {
		s.logger.Error("recording settlement transaction",
			"reference_id", rec.ReferenceID,
			"error", err,
		)
	}

	s.logger.Info("payment settled",
		"reference_id", rec.ReferenceID,
		"chain_version", result.Version,
		"chain_sequence", result.Sequence,
	)
	return nil
}

// buildRequest assembles the on-chain transaction: travel-rule metadata
// with the recipient signature when one was exchanged, general metadata
// with sub-addresses otherwise.
func (s *Submitter) buildRequest(rec *store.PaymentRecord) (*chain.PeerToPeerRequest, error) {
	_, senderSub, err := chain.DecodeAccountIdentifier(s.hrp, rec.Payment.Sender.Address)
	if err != nil {
		return nil, err
	}
	receiverAddr, receiverSub, err := chain.DecodeAccountIdentifier(s.hrp, rec.Payment.Receiver.Address)
	if err != nil {
		return nil, err
	}

	req := &chain.PeerToPeerRequest{
		Currency:    rec.Payment.Action.Currency,
		Amount:      rec.Payment.Action.Amount,
		Receiver:    receiverAddr,
		GasCurrency: s.gasCurrency,
	}

	if rec.Payment.RecipientSignature != "" {
		sig, err := hex.DecodeString(rec.Payment.RecipientSignature)
		if err != nil {
			return nil, err
		}
		req.Metadata = chain.NewTravelRuleMetadata(rec.ReferenceID)
		req.MetadataSignature = sig
	} else {
		req.Metadata = chain.NewGeneralMetadata(senderSub, receiverSub)
	}
	return req, nil
}

// abort cancels the payment locally and notifies the counterparty once,
// best effort, when an off-chain thread exists.
func (s *Submitter) abort(ctx context.Context, rec *store.PaymentRecord, code offchain.AbortCode, message string) {
	aborted, err := s.payments.MarkAborted(ctx, rec.ReferenceID, code, message)
	if err != nil {
		s.logger.Error("canceling unsettleable payment",
			"reference_id", rec.ReferenceID,
			"error", err,
		)
		return
	}
	s.logger.Info("payment canceled at settlement",
		"reference_id", rec.ReferenceID,
		"abort_code", code,
	)

	if s.client == nil || len(aborted.RawCommand) == 0 {
		return
	}
	counterparty, err := s.payments.CounterpartyAddress(aborted)
	if err != nil {
		return
	}
	if _, err := s.client.SendRaw(ctx, counterparty, aborted.CID, offchain.CommandTypePayment, aborted.RawCommand); err != nil {
		s.logger.Warn("abort notification failed",
			"reference_id", rec.ReferenceID,
			"error", err,
		)
	}
}
