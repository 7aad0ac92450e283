// Package ingestion scans committed chain transactions addressed to this
// VASP and credits the hosted receiver. Travel-rule transfers also close
// out the matching off-chain payment record.
package ingestion

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vasppay/internal/chain"
	"vasppay/internal/common/database"
	"vasppay/internal/common/money"
	"vasppay/internal/offchain"
	"vasppay/internal/offchain/payment"
	"vasppay/internal/offchain/store"
)

// Wallet credits hosted accounts for observed inbound transfers.
type Wallet interface {
	AccountBySubAddress(ctx context.Context, subAddress string) (accountID string, err error)
	Credit(ctx context.Context, accountID string, amount uint64, currency money.Currency, referenceID, description string) error
}

// Cursor persists the next chain version to scan.
type Cursor interface {
	Get(ctx context.Context) (uint64, error)
	Set(ctx context.Context, version uint64) error
}

// Worker is the inbound scan loop.
type Worker struct {
	chain       chain.Client
	store       store.Store
	payments    *payment.Machine
	wallet      Wallet
	cursor      Cursor
	vaspAddress chain.AccountAddress
	batchSize   int
	interval    time.Duration
	logger      *slog.Logger
}

// NewWorker creates an ingestion worker.
func NewWorker(chainClient chain.Client, st store.Store, payments *payment.Machine, wallet Wallet, cursor Cursor, vaspAddress chain.AccountAddress, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		chain:       chainClient,
		store:       st,
		payments:    payments,
		wallet:      wallet,
		cursor:      cursor,
		vaspAddress: vaspAddress,
		batchSize:   100,
		interval:    interval,
		logger:      logger,
	}
}

// Run drives the scan loop until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("chain ingestion started", "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("chain ingestion stopped")
			return
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				w.logger.Error("chain scan failed", "error", err)
			}
		}
	}
}

// Tick scans one batch of transactions from the cursor onward. The
// cursor advances per transaction so a crash replays at most one.
func (w *Worker) Tick(ctx context.Context) error {
	start, err := w.cursor.Get(ctx)
	if err != nil {
		return fmt.Errorf("reading scan cursor: %w", err)
	}

	txns, err := w.chain.Transactions(ctx, start, w.batchSize)
	if err != nil {
		return fmt.Errorf("reading transactions from %d: %w", start, err)
	}

	for _, tx := range txns {
		if tx.Receiver == w.vaspAddress {
			if err := w.process(ctx, tx); err != nil {
				return err
			}
		}
		if err := w.cursor.Set(ctx, tx.Version+1); err != nil {
			return fmt.Errorf("advancing scan cursor: %w", err)
		}
	}
	return nil
}

func (w *Worker) process(ctx context.Context, tx *chain.Transaction) error {
	md, err := chain.ParseMetadata(tx.Metadata)
	if err != nil {
		w.logger.Warn("skipping transaction with undecodable metadata",
			"version", tx.Version,
			"error", err,
		)
		return nil
	}

	switch m := md.(type) {
	case *chain.TravelRuleMetadata:
		return w.processTravelRule(ctx, tx, m.ReferenceID)
	case *chain.GeneralMetadata:
		return w.processGeneral(ctx, tx, m)
	default:
		return nil
	}
}

// processTravelRule completes the receiver side of an off-chain payment
// once its settlement lands.
func (w *Worker) processTravelRule(ctx context.Context, tx *chain.Transaction, referenceID string) error {
	rec, err := w.store.GetPayment(ctx, referenceID)
	if err != nil {
		if database.IsNotFound(err) {
			w.logger.Warn("travel-rule transfer without a payment record",
				"version", tx.Version,
				"reference_id", referenceID,
			)
			return nil
		}
		return err
	}
	if rec.IsSender() {
		// Our own submission echoed back; the submitter already closed it.
		return nil
	}

	if err := w.payments.MarkSettled(ctx, referenceID, tx.Version, tx.Sequence); err != nil {
		var cmdErr *offchain.Error
		if errors.As(err, &cmdErr) && cmdErr.Code == offchain.CodeInvalidTransition {
			// Already completed on a prior scan.
			return nil
		}
		return err
	}

	if rec.AccountID != "" {
		if err := w.wallet.Credit(ctx, rec.AccountID, tx.Amount, money.Currency(tx.Currency),
			referenceID, "inbound settlement"); err != nil {
			return err
		}
	}
	w.logger.Info("inbound payment settled",
		"reference_id", referenceID,
		"version", tx.Version,
		"amount", tx.Amount,
	)
	return nil
}

// processGeneral credits the sub-addressed receiver of a sub-threshold
// transfer.
func (w *Worker) processGeneral(ctx context.Context, tx *chain.Transaction, md *chain.GeneralMetadata) error {
	if md.ToSubAddress == nil {
		w.logger.Warn("inbound transfer without a receiver sub-address", "version", tx.Version)
		return nil
	}

	accountID, err := w.wallet.AccountBySubAddress(ctx, hex.EncodeToString(md.ToSubAddress[:]))
	if err != nil {
		if database.IsNotFound(err) {
			w.logger.Warn("inbound transfer to unknown sub-address", "version", tx.Version)
			return nil
		}
		return err
	}

	ref := fmt.Sprintf("chain:%d", tx.Version)
	if err := w.wallet.Credit(ctx, accountID, tx.Amount, money.Currency(tx.Currency),
		ref, "inbound transfer"); err != nil {
		return err
	}
	w.logger.Info("inbound transfer credited",
		"account_id", accountID,
		"version", tx.Version,
		"amount", tx.Amount,
	)
	return nil
}
