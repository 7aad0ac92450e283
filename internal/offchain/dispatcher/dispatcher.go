package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"vasppay/internal/chain"
	"vasppay/internal/offchain"
	"vasppay/internal/offchain/payment"
	"vasppay/internal/offchain/preapproval"
	"vasppay/internal/offchain/store"
)

// Dispatcher periodically drains the store's outbound obligations:
// unsent pre-approvals, payments waiting to be sent, and inbound
// payments owing a follow-up.
type Dispatcher struct {
	client       *Client
	store        store.Store
	payments     *payment.Machine
	preApprovals *preapproval.Machine
	hrp          string
	interval     time.Duration
	logger       *slog.Logger
}

// New creates a dispatcher.
func New(client *Client, st store.Store, payments *payment.Machine, preApprovals *preapproval.Machine, hrp string, interval time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:       client,
		store:        st,
		payments:     payments,
		preApprovals: preApprovals,
		hrp:          hrp,
		interval:     interval,
		logger:       logger,
	}
}

// Run drives the send loop until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", "interval", d.interval)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one pass over all outbound obligations.
func (d *Dispatcher) Tick(ctx context.Context) {
	d.sendPreApprovals(ctx)
	d.advanceInboundPayments(ctx)
	d.sendOutboundPayments(ctx)
}

func (d *Dispatcher) sendPreApprovals(ctx context.Context) {
	records, err := d.store.UnsentPreApprovals(ctx)
	if err != nil {
		d.logger.Error("listing unsent pre-approvals", "error", err)
		return
	}

	for _, rec := range records {
		if d.preApprovals.Expired(rec) {
			continue
		}
		counterparty, ok := d.preApprovalCounterparty(rec)
		if !ok {
			continue
		}

		resp, err := d.client.Send(ctx, counterparty, rec.FundsPullPreApprovalID, offchain.CommandTypePreApproval,
			offchain.FundPullPreApprovalCommand{
				ObjectType:          offchain.ObjTypeFundPullPreApproval,
				FundPullPreApproval: rec.Object,
			})
		if err != nil {
			// Transient; the flag stays false and we retry next tick.
			d.logger.Warn("pre-approval send failed",
				"id", rec.FundsPullPreApprovalID,
				"role", rec.Role,
				"error", err,
			)
			continue
		}
		if resp.Status == offchain.ResponseFailure {
			// Redelivery of the same bytes cannot change the verdict.
			d.logger.Error("counterparty rejected pre-approval",
				"id", rec.FundsPullPreApprovalID,
				"role", rec.Role,
				"error", resp.Error,
			)
		}
		if err := d.preApprovals.MarkSent(ctx, rec.FundsPullPreApprovalID, rec.Role); err != nil {
			d.logger.Error("marking pre-approval sent",
				"id", rec.FundsPullPreApprovalID,
				"role", rec.Role,
				"error", err,
			)
		}
	}
}

// preApprovalCounterparty resolves who the record must be delivered to:
// the payer for a payee-held row, the biller for a payer-held row.
func (d *Dispatcher) preApprovalCounterparty(rec *store.PreApprovalRecord) (chain.AccountAddress, bool) {
	identifier := rec.Object.BillerAddress
	if rec.Role == offchain.RolePayee {
		identifier = rec.Object.Address
	}
	if identifier == "" {
		// A request without a payer address cannot be routed yet.
		return chain.AccountAddress{}, false
	}
	addr, _, err := chain.DecodeAccountIdentifier(d.hrp, identifier)
	if err != nil {
		d.logger.Error("undeliverable pre-approval",
			"id", rec.FundsPullPreApprovalID,
			"role", rec.Role,
			"error", err,
		)
		return chain.AccountAddress{}, false
	}
	return addr, true
}

func (d *Dispatcher) advanceInboundPayments(ctx context.Context) {
	records, err := d.store.PaymentsByLifecycle(ctx, offchain.LifecycleInbound)
	if err != nil {
		d.logger.Error("listing inbound payments", "error", err)
		return
	}
	for _, rec := range records {
		if err := d.payments.AdvanceInbound(ctx, rec.ReferenceID); err != nil {
			d.logger.Error("computing payment follow-up",
				"reference_id", rec.ReferenceID,
				"error", err,
			)
		}
	}
}

func (d *Dispatcher) sendOutboundPayments(ctx context.Context) {
	records, err := d.store.PaymentsByLifecycle(ctx, offchain.LifecycleOutbound)
	if err != nil {
		d.logger.Error("listing outbound payments", "error", err)
		return
	}

	for _, rec := range records {
		counterparty, err := d.payments.CounterpartyAddress(rec)
		if err != nil {
			d.logger.Error("undeliverable payment", "reference_id", rec.ReferenceID, "error", err)
			continue
		}

		resp, err := d.client.SendRaw(ctx, counterparty, rec.CID, offchain.CommandTypePayment, rec.RawCommand)
		if err != nil {
			d.logger.Warn("payment send failed",
				"reference_id", rec.ReferenceID,
				"error", err,
			)
			continue
		}
		if resp.Status == offchain.ResponseFailure {
			d.logger.Error("counterparty rejected payment",
				"reference_id", rec.ReferenceID,
				"error", resp.Error,
			)
		}
		if err := d.payments.MarkSent(ctx, rec.ReferenceID); err != nil {
			d.logger.Error("marking payment sent",
				"reference_id", rec.ReferenceID,
				"error", err,
			)
		}
	}
}
