// Package payment advances payment command threads: applying verified
// inbound versions, computing the follow-up we owe the counterparty, and
// tracking the local lifecycle through settlement.
package payment

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"

	"vasppay/internal/chain"
	"vasppay/internal/common/events"
	"vasppay/internal/offchain"
	"vasppay/internal/offchain/jws"
	"vasppay/internal/offchain/schema"
	"vasppay/internal/offchain/store"
)

// Decision is the wallet's verdict on counterparty KYC data.
type Decision int

const (
	DecisionAccept Decision = iota
	DecisionSoftMatch
	DecisionReject
)

// Wallet is the custody collaborator: account resolution, our users'
// KYC data, and the compliance verdict on counterparty data.
type Wallet interface {
	ResolveAccount(ctx context.Context, accountIdentifier string) (accountID string, mine bool, err error)
	KycData(ctx context.Context, accountID string) (*offchain.KycDataObject, error)
	EvaluateKyc(ctx context.Context, accountID string, counterparty *offchain.KycDataObject) (Decision, error)
}

// KeySource returns the compliance public key for a counterparty VASP.
type KeySource interface {
	ComplianceKey(ctx context.Context, addr chain.AccountAddress) (ed25519.PublicKey, error)
}

// Config carries the identity and policy knobs of the machine.
type Config struct {
	VASPAddress         chain.AccountAddress
	HRP                 string
	ComplianceKey       ed25519.PrivateKey
	TravelRuleThreshold uint64
}

// Machine is the payment state machine.
type Machine struct {
	cfg    Config
	store  store.Store
	wallet Wallet
	keys   KeySource
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewMachine creates a payment machine.
func NewMachine(cfg Config, st store.Store, wallet Wallet, keys KeySource, publisher events.Publisher, logger *slog.Logger) *Machine {
	return &Machine{
		cfg:    cfg,
		store:  st,
		wallet: wallet,
		keys:   keys,
		events: publisher,
		logger: logger,
		now:    time.Now,
	}
}

// HandleInbound applies a verified, schema-valid payment command from the
// counterparty. raw must be the canonical bytes of the command object; a
// byte-identical redelivery is a deterministic no-op.
func (m *Machine) HandleInbound(ctx context.Context, cmd *offchain.PaymentCommand, raw []byte, cid string) error {
	obj := cmd.Payment

	senderAddr, _, err := chain.DecodeAccountIdentifier(m.cfg.HRP, obj.Sender.Address)
	if err != nil {
		return offchain.NewCommandError(offchain.CodePaymentInvalidAddress, err.Error()).
			WithField("payment.sender.address")
	}
	receiverAddr, _, err := chain.DecodeAccountIdentifier(m.cfg.HRP, obj.Receiver.Address)
	if err != nil {
		return offchain.NewCommandError(offchain.CodePaymentInvalidAddress, err.Error()).
			WithField("payment.receiver.address")
	}

	senderMine := senderAddr == m.cfg.VASPAddress
	receiverMine := receiverAddr == m.cfg.VASPAddress
	if senderMine == receiverMine {
		return offchain.NewCommandError(offchain.CodePaymentVASPError,
			"exactly one payment actor must be hosted by this VASP")
	}

	myAddress := obj.Receiver.Address
	myField := "receiver"
	if senderMine {
		myAddress = obj.Sender.Address
		myField = "sender"
	}
	accountID, mine, err := m.wallet.ResolveAccount(ctx, myAddress)
	if err != nil {
		return err
	}
	if !mine {
		return offchain.NewCommandError(offchain.CodePaymentInvalidSubaddress,
			"sub-address does not identify a hosted account").
			WithField("payment." + myField + ".address")
	}

	var event *events.Event
	err = m.store.LockPayment(ctx, obj.ReferenceID, func(prior *store.PaymentRecord) (*store.PaymentRecord, error) {
		if prior != nil && bytes.Equal(prior.RawCommand, raw) {
			return nil, nil
		}

		rec := prior
		if rec != nil {
			if err := checkAgainstStored(raw, rec.RawCommand, myField); err != nil {
				return nil, err
			}
		} else {
			rec = &store.PaymentRecord{
				ReferenceID:    obj.ReferenceID,
				MyActorAddress: myAddress,
				AccountID:      accountID,
				Inbound:        true,
			}
		}

		// The receiver's readiness claim must carry a signature that
		// verifies under its compliance key.
		if senderMine && obj.Receiver.Status.Status == offchain.StatusReadyForSettlement {
			if err := m.verifyRecipientSignature(ctx, &obj, senderAddr, receiverAddr); err != nil {
				return nil, err
			}
		}

		rec.Payment = obj
		rec.RawCommand = raw
		rec.CID = cid

		switch {
		case anyAbort(&obj):
			rec.Lifecycle = offchain.LifecycleCanceled
			event = m.canceledEvent(rec)
		case bothReady(&obj):
			rec.Lifecycle = offchain.LifecycleReady
			event = m.readyEvent(rec)
		case m.myTurn(rec):
			rec.Lifecycle = offchain.LifecycleInbound
		default:
			rec.Lifecycle = offchain.LifecycleWait
		}

		if prior == nil && event == nil {
			event = m.createdEvent(rec)
		}
		return rec, nil
	})
	if err != nil {
		return err
	}

	m.publish(ctx, event)
	return nil
}

// AdvanceInbound computes and stores the follow-up version we owe after
// an inbound update, leaving the record outbound-pending. A record whose
// turn it is not moves to the wait state.
func (m *Machine) AdvanceInbound(ctx context.Context, referenceID string) error {
	var event *events.Event
	err := m.store.LockPayment(ctx, referenceID, func(prior *store.PaymentRecord) (*store.PaymentRecord, error) {
		if prior == nil || prior.Lifecycle != offchain.LifecycleInbound {
			return nil, nil
		}
		rec := prior

		their := rec.CounterpartyActor()
		if their.Status.Status == offchain.StatusAbort {
			rec.Lifecycle = offchain.LifecycleCanceled
			event = m.canceledEvent(rec)
			return rec, nil
		}
		if !m.myTurn(rec) {
			rec.Lifecycle = offchain.LifecycleWait
			return rec, nil
		}

		changed, err := m.followUp(ctx, rec)
		if err != nil {
			return nil, err
		}
		if !changed {
			rec.Lifecycle = offchain.LifecycleWait
			return rec, nil
		}

		raw, err := CommandBytes(&rec.Payment)
		if err != nil {
			return nil, err
		}
		rec.RawCommand = raw
		rec.CID = uuid.NewString()
		rec.Lifecycle = offchain.LifecycleOutbound
		return rec, nil
	})
	if err != nil {
		return err
	}

	m.publish(ctx, event)
	return nil
}

// followUp mutates our actor per the exchange rules and reports whether
// anything changed.
func (m *Machine) followUp(ctx context.Context, rec *store.PaymentRecord) (bool, error) {
	my := rec.MyActor()
	their := rec.CounterpartyActor()

	if their.KycData != nil {
		decision, err := m.wallet.EvaluateKyc(ctx, rec.AccountID, their.KycData)
		if err != nil {
			return false, err
		}
		switch decision {
		case DecisionReject:
			my.Status = offchain.StatusObject{
				Status:       offchain.StatusAbort,
				AbortCode:    offchain.AbortKycFailure,
				AbortMessage: "counterparty identity could not be verified",
			}
			return true, nil
		case DecisionSoftMatch:
			if their.AdditionalKycData == "" {
				if my.Status.Status == offchain.StatusSoftMatch {
					return false, nil
				}
				my.Status.Status = offchain.StatusSoftMatch
				return true, nil
			}
			// Additional data supplied; treat as accepted.
		}
	}

	if their.Status.Status == offchain.StatusNeedsKycData && my.KycData == nil {
		kyc, err := m.wallet.KycData(ctx, rec.AccountID)
		if err != nil {
			return false, err
		}
		my.KycData = kyc
		if rec.IsSender() {
			my.Status.Status = offchain.StatusNeedsRecipientSignature
			return true, nil
		}
		if err := m.attachRecipientSignature(rec); err != nil {
			return false, err
		}
		my.Status.Status = offchain.StatusReadyForSettlement
		return true, nil
	}

	if my.KycData != nil && their.KycData != nil {
		if !rec.IsSender() && rec.Payment.RecipientSignature == "" {
			if err := m.attachRecipientSignature(rec); err != nil {
				return false, err
			}
			my.Status.Status = offchain.StatusReadyForSettlement
			return true, nil
		}
		if rec.IsSender() && their.Status.Status == offchain.StatusReadyForSettlement &&
			my.Status.Status != offchain.StatusReadyForSettlement {
			my.Status.Status = offchain.StatusReadyForSettlement
			return true, nil
		}
	}

	return false, nil
}

// MarkSent records a successful outbound delivery and settles the record
// into its post-send lifecycle.
func (m *Machine) MarkSent(ctx context.Context, referenceID string) error {
	var event *events.Event
	err := m.store.LockPayment(ctx, referenceID, func(prior *store.PaymentRecord) (*store.PaymentRecord, error) {
		if prior == nil || prior.Lifecycle != offchain.LifecycleOutbound {
			return nil, nil
		}
		rec := prior
		switch {
		case anyAbort(&rec.Payment):
			rec.Lifecycle = offchain.LifecycleCanceled
			event = m.canceledEvent(rec)
		case bothReady(&rec.Payment):
			rec.Lifecycle = offchain.LifecycleReady
			event = m.readyEvent(rec)
		default:
			rec.Lifecycle = offchain.LifecycleWait
		}
		return rec, nil
	})
	if err != nil {
		return err
	}

	m.publish(ctx, event)
	return nil
}

// myTurn reports whether the record awaits a move from our side.
func (m *Machine) myTurn(rec *store.PaymentRecord) bool {
	their := rec.CounterpartyActor()
	if their.Status.Status == offchain.StatusAbort {
		return false
	}
	switch rec.MyActor().Status.Status {
	case offchain.StatusNone, offchain.StatusNeedsKycData, offchain.StatusNeedsRecipientSignature,
		offchain.StatusSoftMatch, offchain.StatusPendingReview:
		return true
	}
	return false
}

func (m *Machine) attachRecipientSignature(rec *store.PaymentRecord) error {
	senderAddr, _, err := chain.DecodeAccountIdentifier(m.cfg.HRP, rec.Payment.Sender.Address)
	if err != nil {
		return offchain.NewCommandError(offchain.CodePaymentInvalidAddress, err.Error()).
			WithField("payment.sender.address")
	}
	msg := chain.TravelRuleAttestMessage(rec.ReferenceID, senderAddr, rec.Payment.Action.Amount)
	sig := ed25519.Sign(m.cfg.ComplianceKey, msg)
	rec.Payment.RecipientSignature = hex.EncodeToString(sig)
	return nil
}

func (m *Machine) verifyRecipientSignature(ctx context.Context, obj *offchain.PaymentObject, senderAddr, receiverAddr chain.AccountAddress) error {
	if obj.RecipientSignature == "" {
		return offchain.NewCommandError(offchain.CodeInvalidFieldValue,
			"recipient signature is required for settlement readiness").
			WithField("payment.recipient_signature")
	}
	sig, err := hex.DecodeString(obj.RecipientSignature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return offchain.NewCommandError(offchain.CodeInvalidFieldValue,
			"recipient signature is not a valid signature").
			WithField("payment.recipient_signature")
	}
	key, err := m.keys.ComplianceKey(ctx, receiverAddr)
	if err != nil {
		return err
	}
	msg := chain.TravelRuleAttestMessage(obj.ReferenceID, senderAddr, obj.Action.Amount)
	if !ed25519.Verify(key, msg, sig) {
		return offchain.NewCommandError(offchain.CodeInvalidFieldValue,
			"recipient signature does not verify").
			WithField("payment.recipient_signature")
	}
	return nil
}

// checkAgainstStored enforces field discipline between the stored version
// and an inbound one: schema immutability rules plus the rule that the
// counterparty never writes to our actor sub-object.
func checkAgainstStored(incoming, stored []byte, myField string) error {
	incomingTree, verr := schema.Decode(incoming)
	if verr != nil {
		return verr
	}
	priorTree, verr := schema.Decode(stored)
	if verr != nil {
		return verr
	}
	if verr := schema.ValidateAgainstPrior(incomingTree, priorTree, offchain.ObjTypePaymentCommand); verr != nil {
		return verr
	}

	incomingPayment, _ := incomingTree["payment"].(map[string]any)
	priorPayment, _ := priorTree["payment"].(map[string]any)
	if incomingPayment == nil || priorPayment == nil {
		return nil
	}
	newMine := incomingPayment[myField]
	oldMine := priorPayment[myField]
	if oldOwn, ok := oldMine.(map[string]any); ok {
		newOwn, _ := newMine.(map[string]any)
		if newOwn == nil || !actorEqualModuloMetadata(newOwn, oldOwn, myField == "sender") {
			return offchain.NewCommandError(offchain.CodeInvalidOverwrite,
				fmt.Sprintf("counterparty may not modify the %s actor", myField)).
				WithField("payment." + myField)
		}
	}
	return nil
}

// actorEqualModuloMetadata compares two actor trees; for the sender actor
// a metadata append by the payer is tolerated.
func actorEqualModuloMetadata(newActor, oldActor map[string]any, allowMetadataAppend bool) bool {
	for key, oldV := range oldActor {
		if key == "metadata" && allowMetadataAppend {
			continue
		}
		if !reflect.DeepEqual(newActor[key], oldV) {
			return false
		}
	}
	for key := range newActor {
		if key == "metadata" && allowMetadataAppend {
			continue
		}
		if _, ok := oldActor[key]; !ok {
			return false
		}
	}
	return true
}

func anyAbort(obj *offchain.PaymentObject) bool {
	return obj.Sender.Status.Status == offchain.StatusAbort ||
		obj.Receiver.Status.Status == offchain.StatusAbort
}

func bothReady(obj *offchain.PaymentObject) bool {
	return obj.Sender.Status.Status == offchain.StatusReadyForSettlement &&
		obj.Receiver.Status.Status == offchain.StatusReadyForSettlement
}

// CommandBytes renders a payment object as the canonical command object
// bytes that travel on the wire.
func CommandBytes(obj *offchain.PaymentObject) ([]byte, error) {
	raw, err := json.Marshal(offchain.PaymentCommand{
		ObjectType: offchain.ObjTypePaymentCommand,
		Payment:    *obj,
	})
	if err != nil {
		return nil, err
	}
	return jws.Canonicalize(raw)
}

func (m *Machine) createdEvent(rec *store.PaymentRecord) *events.Event {
	event, err := events.NewEvent(events.EventPaymentCreated, "payment", rec.ReferenceID, events.PaymentCompletedData{
		ReferenceID: rec.ReferenceID,
		Amount:      rec.Payment.Action.Amount,
		Currency:    rec.Payment.Action.Currency,
	})
	if err != nil {
		return nil
	}
	return event
}

func (m *Machine) readyEvent(rec *store.PaymentRecord) *events.Event {
	event, err := events.NewEvent(events.EventPaymentReady, "payment", rec.ReferenceID, events.PaymentCompletedData{
		ReferenceID: rec.ReferenceID,
		Amount:      rec.Payment.Action.Amount,
		Currency:    rec.Payment.Action.Currency,
	})
	if err != nil {
		return nil
	}
	return event
}

func (m *Machine) canceledEvent(rec *store.PaymentRecord) *events.Event {
	var code, msg string
	for _, actor := range []*offchain.PaymentActor{&rec.Payment.Sender, &rec.Payment.Receiver} {
		if actor.Status.Status == offchain.StatusAbort {
			code = string(actor.Status.AbortCode)
			msg = actor.Status.AbortMessage
			break
		}
	}
	event, err := events.NewEvent(events.EventPaymentCanceled, "payment", rec.ReferenceID, events.PaymentCanceledData{
		ReferenceID:  rec.ReferenceID,
		AbortCode:    code,
		AbortMessage: msg,
	})
	if err != nil {
		return nil
	}
	return event
}

func (m *Machine) publish(ctx context.Context, event *events.Event) {
	if event == nil || m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, event); err != nil {
		m.logger.Error("failed to publish payment event",
			"event_type", event.Type,
			"aggregate_id", event.AggregateID,
			"error", err,
		)
	}
}
