package payment

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vasppay/internal/chain"
	"vasppay/internal/common/events"
	"vasppay/internal/common/money"
	"vasppay/internal/offchain"
	"vasppay/internal/offchain/store"
)

// CommandSender delivers a signed command to a counterparty VASP and
// returns its verified reply.
type CommandSender interface {
	Send(ctx context.Context, counterparty chain.AccountAddress, cid, commandType string, command any) (*offchain.CommandResponseObject, error)
}

// CreatePaymentInfoParams registers a merchant pull that a remote payer
// can query and approve.
type CreatePaymentInfoParams struct {
	MerchantAccountID string
	MerchantAddress   string // merchant's account identifier
	MerchantName      string
	Amount            uint64
	Currency          string
	Action            string
	Expiration        *time.Time
}

// CreatePaymentInfo stores a new merchant payment-info record in the
// ready-for-user state.
func (m *Machine) CreatePaymentInfo(ctx context.Context, p CreatePaymentInfoParams) (*store.PaymentInfoRecord, error) {
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

	rec := &store.PaymentInfoRecord{
		ReferenceID:  uuid.NewString(),
		VASPAddress:  m.cfg.VASPAddress.Hex(),
		MyAddress:    p.MerchantAddress,
		MerchantName: p.MerchantName,
		Action:       action,
		Currency:     p.Currency,
		Amount:       p.Amount,
		Expiration:   p.Expiration,
		Status:       offchain.PaymentInfoReadyForUser,
	}

	err := m.store.LockPaymentInfo(ctx, rec.ReferenceID, func(prior *store.PaymentInfoRecord) (*store.PaymentInfoRecord, error) {
		if prior != nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition,
				"payment info with this reference id already exists")
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// PaymentInfo answers an inbound GetPaymentInfo for a hosted merchant.
func (m *Machine) PaymentInfo(ctx context.Context, referenceID string) (*offchain.GetInfoCommandResponse, error) {
	rec, err := m.store.GetPaymentInfo(ctx, referenceID)
	if err != nil {
		return nil, offchain.NewCommandError(offchain.CodeInvalidObject,
			"no payment info found for this reference id").WithField("reference_id")
	}

	var validUntil int64
	if rec.Expiration != nil {
		validUntil = rec.Expiration.Unix()
	}
	return &offchain.GetInfoCommandResponse{
		ObjectType: offchain.ObjTypeGetInfoResponse,
		PaymentInfo: offchain.PaymentInfoObject{
			ReferenceID: rec.ReferenceID,
			Receiver: offchain.PaymentReceiver{
				Address:      rec.MyAddress,
				BusinessData: offchain.BusinessData{Name: rec.MerchantName},
			},
			Action: offchain.PaymentAction{
				Amount:     rec.Amount,
				Currency:   rec.Currency,
				Action:     rec.Action,
				Timestamp:  rec.CreatedAt.Unix(),
				ValidUntil: validUntil,
			},
		},
	}, nil
}

// InitCharge approves a payer's charge against a hosted merchant's
// payment info and returns the recipient signature when the amount meets
// the travel-rule threshold. Redelivery of an approved charge returns
// the stored signature again.
func (m *Machine) InitCharge(ctx context.Context, cmd *offchain.InitChargePayment) (*offchain.InitChargePaymentResponse, error) {
	var signature string
	var event *events.Event
	err := m.store.LockPaymentInfo(ctx, cmd.ReferenceID, func(prior *store.PaymentInfoRecord) (*store.PaymentInfoRecord, error) {
		if prior == nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition,
				"no payment info found for this reference id")
		}
		rec := prior

		switch rec.Status {
		case offchain.PaymentInfoApproved:
			signature = rec.RecipientSignature
			return nil, nil
		case offchain.PaymentInfoRejected:
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition,
				"payment info is already terminal")
		}
		if rec.Expiration != nil && !rec.Expiration.After(m.now()) {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition,
				"payment info has expired")
		}

		if rec.Amount >= m.cfg.TravelRuleThreshold {
			payerAddr, _, err := chain.DecodeAccountIdentifier(m.cfg.HRP, cmd.Sender.Address)
			if err != nil {
				return nil, offchain.NewCommandError(offchain.CodePaymentInvalidAddress, err.Error()).
					WithField("sender.account_id")
			}
			msg := chain.TravelRuleAttestMessage(rec.ReferenceID, payerAddr, rec.Amount)
			signature = hex.EncodeToString(ed25519.Sign(m.cfg.ComplianceKey, msg))
			rec.RecipientSignature = signature
		}

		rec.Status = offchain.PaymentInfoApproved
		event, _ = events.NewEvent(events.EventChargeInitiated, "payment_info", rec.ReferenceID, events.PaymentCompletedData{
			ReferenceID: rec.ReferenceID,
			Amount:      rec.Amount,
			Currency:    rec.Currency,
		})
		return rec, nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, event)
	return &offchain.InitChargePaymentResponse{
		ObjectType:         offchain.ObjTypeInitChargeResponse,
		RecipientSignature: signature,
	}, nil
}

// InitAuthorize pre-authorizes a future charge. No signature is produced
// until the charge itself is initiated.
func (m *Machine) InitAuthorize(ctx context.Context, cmd *offchain.InitAuthorizeCommand) error {
	var event *events.Event
	err := m.store.LockPaymentInfo(ctx, cmd.ReferenceID, func(prior *store.PaymentInfoRecord) (*store.PaymentInfoRecord, error) {
		if prior == nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition,
				"no payment info found for this reference id")
		}
		rec := prior
		switch rec.Status {
		case offchain.PaymentInfoApproved:
			return nil, nil
		case offchain.PaymentInfoRejected:
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition,
				"payment info is already terminal")
		}
		if rec.Expiration != nil && !rec.Expiration.After(m.now()) {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition,
				"payment info has expired")
		}
		rec.Status = offchain.PaymentInfoApproved
		event, _ = events.NewEvent(events.EventChargeInitiated, "payment_info", rec.ReferenceID, events.PaymentCompletedData{
			ReferenceID: rec.ReferenceID,
			Amount:      rec.Amount,
			Currency:    rec.Currency,
		})
		return rec, nil
	})
	if err != nil {
		return err
	}

	m.publish(ctx, event)
	return nil
}

// AbortCharge terminates a merchant-initiated thread. Aborting an
// already rejected record is a no-op.
func (m *Machine) AbortCharge(ctx context.Context, cmd *offchain.AbortPayment) error {
	var event *events.Event
	err := m.store.LockPaymentInfo(ctx, cmd.ReferenceID, func(prior *store.PaymentInfoRecord) (*store.PaymentInfoRecord, error) {
		if prior == nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition,
				"no payment info found for this reference id")
		}
		rec := prior
		if rec.Status == offchain.PaymentInfoRejected {
			return nil, nil
		}
		rec.Status = offchain.PaymentInfoRejected
		event, _ = events.NewEvent(events.EventChargeAborted, "payment_info", rec.ReferenceID, events.PaymentCanceledData{
			ReferenceID:  rec.ReferenceID,
			AbortCode:    string(cmd.AbortCode),
			AbortMessage: cmd.AbortMessage,
		})
		return rec, nil
	})
	if err != nil {
		return err
	}

	m.publish(ctx, event)
	return nil
}

// PayMerchantParams describes a hosted payer approving a merchant pull.
type PayMerchantParams struct {
	AccountID       string
	SenderAddress   string // our payer's account identifier
	MerchantAddress string // any account identifier of the merchant's VASP
	ReferenceID     string
}

// PayMerchant queries the merchant's VASP for the payment info, approves
// the charge, and records a settlement-ready payment carrying the
// returned recipient signature.
func (m *Machine) PayMerchant(ctx context.Context, sender CommandSender, p PayMerchantParams) (*store.PaymentRecord, error) {
	merchantVASP, _, err := chain.DecodeAccountIdentifier(m.cfg.HRP, p.MerchantAddress)
	if err != nil {
		return nil, offchain.NewCommandError(offchain.CodePaymentInvalidAddress, err.Error()).
			WithField("merchant_address")
	}
	if merchantVASP == m.cfg.VASPAddress {
		return nil, offchain.NewCommandError(offchain.CodePaymentVASPError,
			"merchant is hosted here; use an internal transfer")
	}

	infoResp, err := sender.Send(ctx, merchantVASP, uuid.NewString(), offchain.CommandTypeGetInfo, offchain.GetPaymentInfo{
		ObjectType:  offchain.ObjTypeGetPaymentInfo,
		ReferenceID: p.ReferenceID,
	})
	if err != nil {
		return nil, err
	}
	if infoResp.Error != nil {
		return nil, infoResp.Error
	}
	var info offchain.GetInfoCommandResponse
	if err := json.Unmarshal(infoResp.Result, &info); err != nil {
		return nil, offchain.NewCommandError(offchain.CodeInvalidJSON,
			"malformed payment info result: "+err.Error())
	}

	kyc, err := m.wallet.KycData(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	chargeResp, err := sender.Send(ctx, merchantVASP, uuid.NewString(), offchain.CommandTypeInitCharge, offchain.InitChargePayment{
		ObjectType:  offchain.ObjTypeInitChargePayment,
		ReferenceID: p.ReferenceID,
		Sender: offchain.ChargeSender{
			Address: p.SenderAddress,
			Payer:   kyc,
		},
	})
	if err != nil {
		return nil, err
	}
	if chargeResp.Error != nil {
		return nil, chargeResp.Error
	}
	var charge offchain.InitChargePaymentResponse
	if err := json.Unmarshal(chargeResp.Result, &charge); err != nil {
		return nil, offchain.NewCommandError(offchain.CodeInvalidJSON,
			"malformed charge result: "+err.Error())
	}

	amount := info.PaymentInfo.Action.Amount
	if amount >= m.cfg.TravelRuleThreshold && charge.RecipientSignature == "" {
		return nil, offchain.NewCommandError(offchain.CodeInvalidFieldValue,
			"merchant did not supply the required recipient signature").
			WithField("recipient_signature")
	}

	rec := &store.PaymentRecord{
		ReferenceID:    p.ReferenceID,
		MyActorAddress: p.SenderAddress,
		AccountID:      p.AccountID,
		Lifecycle:      offchain.LifecycleReady,
		Payment: offchain.PaymentObject{
			ReferenceID: p.ReferenceID,
			Sender: offchain.PaymentActor{
				Address: p.SenderAddress,
				Status:  offchain.StatusObject{Status: offchain.StatusReadyForSettlement},
				KycData: kyc,
			},
			Receiver: offchain.PaymentActor{
				Address: info.PaymentInfo.Receiver.Address,
				Status:  offchain.StatusObject{Status: offchain.StatusReadyForSettlement},
			},
			Action:             info.PaymentInfo.Action,
			RecipientSignature: charge.RecipientSignature,
			Description:        info.PaymentInfo.Description,
		},
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
