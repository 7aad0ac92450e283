package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"vasppay/internal/chain"
	"vasppay/internal/common/events"
	"vasppay/internal/common/money"
	"vasppay/internal/offchain"
	"vasppay/internal/offchain/store"
)

// SendPaymentParams describes a hosted user's outbound transfer.
type SendPaymentParams struct {
	AccountID       string
	SenderAddress   string // our user's account identifier
	ReceiverAddress string // counterparty account identifier
	Amount          uint64
	Currency        string
	Action          string
	Description     string
}

// SendPayment starts an outbound transfer. Amounts under the travel-rule
// threshold skip the off-chain exchange and go straight to settlement
// with general metadata; at or above it a KYC exchange is opened first.
func (m *Machine) SendPayment(ctx context.Context, p SendPaymentParams) (*store.PaymentRecord, error) {
	if p.Amount == 0 {
		return nil, offchain.NewCommandError(offchain.CodeInvalidFieldValue, "amount must be positive").
			WithField("amount")
	}
	if !money.IsValidCurrency(p.Currency) {
		return nil, offchain.NewCommandError(offchain.CodeInvalidFieldValue,
			fmt.Sprintf("unknown currency %q", p.Currency)).WithField("currency")
	}
	action := p.Action
	if action == "" {
		action = offchain.ActionCharge
	}

	senderAddr, _, err := chain.DecodeAccountIdentifier(m.cfg.HRP, p.SenderAddress)
	if err != nil {
		return nil, offchain.NewCommandError(offchain.CodePaymentInvalidAddress, err.Error()).
			WithField("sender_address")
	}
	receiverAddr, _, err := chain.DecodeAccountIdentifier(m.cfg.HRP, p.ReceiverAddress)
	if err != nil {
		return nil, offchain.NewCommandError(offchain.CodePaymentInvalidAddress, err.Error()).
			WithField("receiver_address")
	}
	if senderAddr != m.cfg.VASPAddress {
		return nil, offchain.NewCommandError(offchain.CodePaymentInvalidAddress,
			"sender address is not hosted by this VASP").WithField("sender_address")
	}
	if receiverAddr == m.cfg.VASPAddress {
		return nil, offchain.NewCommandError(offchain.CodePaymentVASPError,
			"receiver is hosted here; use an internal transfer")
	}

	rec := &store.PaymentRecord{
		ReferenceID:    uuid.NewString(),
		MyActorAddress: p.SenderAddress,
		AccountID:      p.AccountID,
		Payment: offchain.PaymentObject{
			Sender:      offchain.PaymentActor{Address: p.SenderAddress},
			Receiver:    offchain.PaymentActor{Address: p.ReceiverAddress},
			Description: p.Description,
			Action: offchain.PaymentAction{
				Amount:    p.Amount,
				Currency:  p.Currency,
				Action:    action,
				Timestamp: m.now().Unix(),
			},
		},
	}
	rec.Payment.ReferenceID = rec.ReferenceID

	if p.Amount < m.cfg.TravelRuleThreshold {
		// No identity exchange required; settle directly.
		rec.Payment.Sender.Status.Status = offchain.StatusReadyForSettlement
		rec.Payment.Receiver.Status.Status = offchain.StatusReadyForSettlement
		rec.Lifecycle = offchain.LifecycleReady
	} else {
		kyc, err := m.wallet.KycData(ctx, p.AccountID)
		if err != nil {
			return nil, err
		}
		rec.Payment.Sender.Status.Status = offchain.StatusNeedsKycData
		rec.Payment.Sender.KycData = kyc
		rec.Payment.Receiver.Status.Status = offchain.StatusNone
		rec.Lifecycle = offchain.LifecycleOutbound
		rec.CID = uuid.NewString()

		raw, err := CommandBytes(&rec.Payment)
		if err != nil {
			return nil, err
		}
		rec.RawCommand = raw
	}

	err = m.store.LockPayment(ctx, rec.ReferenceID, func(prior *store.PaymentRecord) (*store.PaymentRecord, error) {
		if prior != nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition,
				"a payment with this reference id already exists")
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, m.createdEvent(rec))
	return rec, nil
}

// MarkSettled records the on-chain outcome of a ready payment and
// completes it.
func (m *Machine) MarkSettled(ctx context.Context, referenceID string, version, sequence uint64) error {
	var event *events.Event
	err := m.store.LockPayment(ctx, referenceID, func(prior *store.PaymentRecord) (*store.PaymentRecord, error) {
		if prior == nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition,
				"no payment found for this reference id")
		}
		if prior.Lifecycle != offchain.LifecycleReady {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition,
				fmt.Sprintf("payment is %s, not ready for settlement", prior.Lifecycle))
		}
		rec := prior
		rec.ChainVersion = &version
		rec.ChainSequence = &sequence
		rec.Lifecycle = offchain.LifecycleComplete

		e, err := events.NewEvent(events.EventPaymentCompleted, "payment", rec.ReferenceID, events.PaymentCompletedData{
			ReferenceID: rec.ReferenceID,
			Amount:      rec.Payment.Action.Amount,
			Currency:    rec.Payment.Action.Currency,
			Version:     version,
			Sequence:    sequence,
		})
		if err == nil {
			event = e
		}
		return rec, nil
	})
	if err != nil {
		return err
	}

	m.publish(ctx, event)
	return nil
}

// MarkAborted cancels a payment with an abort on our actor and returns
// the updated record so the caller can notify the counterparty.
func (m *Machine) MarkAborted(ctx context.Context, referenceID string, code offchain.AbortCode, message string) (*store.PaymentRecord, error) {
	var updated *store.PaymentRecord
	var event *events.Event
	err := m.store.LockPayment(ctx, referenceID, func(prior *store.PaymentRecord) (*store.PaymentRecord, error) {
		if prior == nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition,
				"no payment found for this reference id")
		}
		rec := prior
		if rec.Lifecycle == offchain.LifecycleComplete || rec.Lifecycle == offchain.LifecycleCanceled {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition,
				fmt.Sprintf("payment is already %s", rec.Lifecycle))
		}

		my := rec.MyActor()
		my.Status = offchain.StatusObject{
			Status:       offchain.StatusAbort,
			AbortCode:    code,
			AbortMessage: message,
		}
		raw, err := CommandBytes(&rec.Payment)
		if err != nil {
			return nil, err
		}
		rec.RawCommand = raw
		rec.CID = uuid.NewString()
		rec.Lifecycle = offchain.LifecycleCanceled
		updated = rec
		event = m.canceledEvent(rec)
		return rec, nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, event)
	return updated, nil
}

// CounterpartyAddress returns the on-chain account address of the other
// VASP in a payment record.
func (m *Machine) CounterpartyAddress(rec *store.PaymentRecord) (chain.AccountAddress, error) {
	addr, _, err := chain.DecodeAccountIdentifier(m.cfg.HRP, rec.CounterpartyActor().Address)
	if err != nil {
		return chain.AccountAddress{}, offchain.NewCommandError(offchain.CodePaymentInvalidAddress, err.Error())
	}
	return addr, nil
}
