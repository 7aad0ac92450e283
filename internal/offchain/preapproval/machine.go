package preapproval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vasppay/internal/common/events"
	"vasppay/internal/offchain"
	"vasppay/internal/offchain/schema"
	"vasppay/internal/offchain/store"
)

// AccountResolver maps an on-wire account identifier to a hosted account.
// mine is false when the identifier belongs to another VASP.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, accountIdentifier string) (accountID string, mine bool, err error)
}

// Machine advances consent records under the reducer's authority.
type Machine struct {
	store    store.Store
	resolver AccountResolver
	events   events.Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewMachine creates a pre-approval machine.
func NewMachine(st store.Store, resolver AccountResolver, publisher events.Publisher, logger *slog.Logger) *Machine {
	return &Machine{
		store:    st,
		resolver: resolver,
		events:   publisher,
		logger:   logger,
		now:      time.Now,
	}
}

// ApplyInbound applies a verified, schema-valid inbound pre-approval
// command. The reducer picks which role row advances; field discipline
// is enforced against that row's stored object.
func (m *Machine) ApplyInbound(ctx context.Context, cmd *offchain.FundPullPreApprovalCommand) error {
	obj := cmd.FundPullPreApproval

	var payerMine, payeeMine bool
	var payerAccount, payeeAccount string
	if obj.Address != "" {
		id, mine, err := m.resolver.ResolveAccount(ctx, obj.Address)
		if err != nil {
			return err
		}
		payerAccount, payerMine = id, mine
	}
	payeeID, mine, err := m.resolver.ResolveAccount(ctx, obj.BillerAddress)
	if err != nil {
		return err
	}
	payeeAccount, payeeMine = payeeID, mine

	var event *events.Event
	err = m.store.LockPreApproval(ctx, obj.FundsPullPreApprovalID, func(prior []*store.PreApprovalRecord) ([]*store.PreApprovalRecord, error) {
		var payerRow, payeeRow *store.PreApprovalRecord
		for _, r := range prior {
			switch r.Role {
			case offchain.RolePayer:
				payerRow = r
			case offchain.RolePayee:
				payeeRow = r
			}
		}

		role, err := Reduce(obj.Status, payerMine, payeeMine,
			rowStatus(payerRow), rowStatus(payeeRow))
		if err != nil {
			return nil, err
		}

		row := payerRow
		accountID := payerAccount
		if role == offchain.RolePayee {
			row = payeeRow
			accountID = payeeAccount
		}

		if row != nil {
			if err := checkAgainstStored(&obj, &row.Object); err != nil {
				return nil, err
			}
		} else {
			if obj.Scope.ExpirationTimestamp <= m.now().Unix() {
				return nil, offchain.NewCommandError(offchain.CodeInvalidTransition,
					"expiration timestamp must be in the future")
			}
			row = &store.PreApprovalRecord{
				FundsPullPreApprovalID: obj.FundsPullPreApprovalID,
				Role:                   role,
			}
		}

		row.Object = obj
		row.AccountID = accountID
		// The counterparty originated this state, so nothing is owed back.
		row.OffchainSent = true
		if obj.Status == offchain.PreApprovalValid && row.ApprovedAt == nil {
			t := m.now().UTC()
			row.ApprovedAt = &t
		}

		event = m.lifecycleEvent(&obj, role)
		return []*store.PreApprovalRecord{row}, nil
	})
	if err != nil {
		return err
	}

	m.publish(ctx, event)
	return nil
}

// CreateRequestParams describes a new payee-initiated consent request.
type CreateRequestParams struct {
	AccountID     string
	BillerAddress string
	PayerAddress  string
	Scope         offchain.PreApprovalScope
	Description   string
	BillerName    string
}

// CreateRequest records a new pending request on behalf of a hosted
// payee. The dispatcher delivers it to the payer's VASP.
func (m *Machine) CreateRequest(ctx context.Context, p CreateRequestParams) (*store.PreApprovalRecord, error) {
	if p.Scope.ExpirationTimestamp <= m.now().Unix() {
		return nil, offchain.NewCommandError(offchain.CodeInvalidTransition,
			"expiration timestamp must be in the future")
	}
	if p.Scope.Type != offchain.ScopeConsent && p.Scope.Type != offchain.ScopeSaveSubAccount {
		return nil, offchain.NewCommandError(offchain.CodeInvalidFieldValue,
			fmt.Sprintf("unknown scope type %q", p.Scope.Type)).WithField("scope.type")
	}

	record := &store.PreApprovalRecord{
		FundsPullPreApprovalID: uuid.NewString(),
		Role:                   offchain.RolePayee,
		Object: offchain.FundPullPreApprovalObject{
			FundsPullPreApprovalID: "",
			Address:                p.PayerAddress,
			BillerAddress:          p.BillerAddress,
			Scope:                  p.Scope,
			Status:                 offchain.PreApprovalPending,
			Description:            p.Description,
		},
		AccountID:  p.AccountID,
		BillerName: p.BillerName,
	}
	record.Object.FundsPullPreApprovalID = record.FundsPullPreApprovalID

	err := m.store.LockPreApproval(ctx, record.FundsPullPreApprovalID, func(prior []*store.PreApprovalRecord) ([]*store.PreApprovalRecord, error) {
		for _, r := range prior {
			if r.Role == offchain.RolePayee {
				return nil, offchain.NewCommandError(offchain.CodeInvalidTransition, ReasonAlreadyExists)
			}
		}
		return []*store.PreApprovalRecord{record}, nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, m.lifecycleEvent(&record.Object, offchain.RolePayee))
	return record, nil
}

// Approve transitions a hosted payer's pending request to valid.
func (m *Machine) Approve(ctx context.Context, id string) error {
	return m.decide(ctx, id, offchain.PreApprovalValid)
}

// Reject transitions a hosted payer's pending request to rejected.
func (m *Machine) Reject(ctx context.Context, id string) error {
	return m.decide(ctx, id, offchain.PreApprovalRejected)
}

func (m *Machine) decide(ctx context.Context, id string, status offchain.PreApprovalStatus) error {
	var event *events.Event
	err := m.store.LockPreApproval(ctx, id, func(prior []*store.PreApprovalRecord) ([]*store.PreApprovalRecord, error) {
		row := findRole(prior, offchain.RolePayer)
		if row == nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition, ReasonNoRecord)
		}
		if row.Object.Status.IsTerminal() {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition, ReasonTerminal)
		}
		if row.Object.Status != offchain.PreApprovalPending {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition, ReasonNotPending)
		}

		row.Object.Status = status
		row.OffchainSent = false
		if status == offchain.PreApprovalValid {
			t := m.now().UTC()
			row.ApprovedAt = &t
		}
		event = m.lifecycleEvent(&row.Object, offchain.RolePayer)
		return []*store.PreApprovalRecord{row}, nil
	})
	if err != nil {
		return err
	}

	m.publish(ctx, event)
	return nil
}

// Close transitions a hosted role's pending or valid record to closed.
func (m *Machine) Close(ctx context.Context, id string, role offchain.Role) error {
	var event *events.Event
	err := m.store.LockPreApproval(ctx, id, func(prior []*store.PreApprovalRecord) ([]*store.PreApprovalRecord, error) {
		row := findRole(prior, role)
		if row == nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition, ReasonNoRecord)
		}
		if row.Object.Status.IsTerminal() {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition, ReasonTerminal)
		}

		row.Object.Status = offchain.PreApprovalClosed
		row.OffchainSent = false
		event = m.lifecycleEvent(&row.Object, role)
		return []*store.PreApprovalRecord{row}, nil
	})
	if err != nil {
		return err
	}

	m.publish(ctx, event)
	return nil
}

// MarkSent records a successful outbound delivery for one role row.
func (m *Machine) MarkSent(ctx context.Context, id string, role offchain.Role) error {
	return m.store.LockPreApproval(ctx, id, func(prior []*store.PreApprovalRecord) ([]*store.PreApprovalRecord, error) {
		row := findRole(prior, role)
		if row == nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidTransition, ReasonNoRecord)
		}
		row.OffchainSent = true
		return []*store.PreApprovalRecord{row}, nil
	})
}

// Expired reports whether a record's scope expiry has passed. Expired
// records keep their last status but are no longer sent outbound.
func (m *Machine) Expired(r *store.PreApprovalRecord) bool {
	return r.Object.Scope.ExpirationTimestamp <= m.now().Unix()
}

func (m *Machine) lifecycleEvent(obj *offchain.FundPullPreApprovalObject, role offchain.Role) *events.Event {
	var eventType string
	switch obj.Status {
	case offchain.PreApprovalPending:
		eventType = events.EventPreApprovalRequested
	case offchain.PreApprovalValid:
		eventType = events.EventPreApprovalApproved
	case offchain.PreApprovalRejected:
		eventType = events.EventPreApprovalRejected
	case offchain.PreApprovalClosed:
		eventType = events.EventPreApprovalClosed
	default:
		return nil
	}

	event, err := events.NewEvent(eventType, "pre_approval", obj.FundsPullPreApprovalID, events.PreApprovalData{
		FundsPullPreApprovalID: obj.FundsPullPreApprovalID,
		Status:                 string(obj.Status),
		Role:                   string(role),
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
		m.logger.Error("failed to publish pre-approval event",
			"event_type", event.Type,
			"aggregate_id", event.AggregateID,
			"error", err,
		)
	}
}

func checkAgainstStored(incoming, prior *offchain.FundPullPreApprovalObject) error {
	incomingTree, err := schema.ToTree(incoming)
	if err != nil {
		return err
	}
	priorTree, err := schema.ToTree(prior)
	if err != nil {
		return err
	}
	if verr := schema.ValidateAgainstPrior(incomingTree, priorTree, "FundPullPreApprovalObject"); verr != nil {
		return verr
	}
	return nil
}

func findRole(rows []*store.PreApprovalRecord, role offchain.Role) *store.PreApprovalRecord {
	for _, r := range rows {
		if r.Role == role {
			return r
		}
	}
	return nil
}

func rowStatus(r *store.PreApprovalRecord) *offchain.PreApprovalStatus {
	if r == nil {
		return nil
	}
	s := r.Object.Status
	return &s
}
