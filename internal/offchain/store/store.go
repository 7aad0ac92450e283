// Package store persists the durable per-reference records of the
// off-chain protocol. All mutation goes through lock-for-update: load,
// apply, save as one serialized critical section per reference id.
package store

import (
	"context"
	"time"

	"vasppay/internal/offchain"
)

// PaymentRecord is a payment command thread plus its local shadow.
type PaymentRecord struct {
	ReferenceID    string
	Payment        offchain.PaymentObject
	RawCommand     []byte // canonical bytes of the last applied command object
	CID            string
	AccountID      string
	MyActorAddress string
	Inbound        bool
	Lifecycle      offchain.LifecycleStatus
	ChainVersion   *uint64
	ChainSequence  *uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsSender reports whether our actor is the sending side.
func (r *PaymentRecord) IsSender() bool {
	return r.MyActorAddress == r.Payment.Sender.Address
}

// MyActor returns our side of the payment.
func (r *PaymentRecord) MyActor() *offchain.PaymentActor {
	if r.IsSender() {
		return &r.Payment.Sender
	}
	return &r.Payment.Receiver
}

// CounterpartyActor returns the other side of the payment.
func (r *PaymentRecord) CounterpartyActor() *offchain.PaymentActor {
	if r.IsSender() {
		return &r.Payment.Receiver
	}
	return &r.Payment.Sender
}

// PreApprovalRecord is one role's view of a funds-pull pre-approval. When
// both parties are hosted here the same id appears twice, once per role,
// and the two rows advance independently.
type PreApprovalRecord struct {
	FundsPullPreApprovalID string
	Role                   offchain.Role
	Object                 offchain.FundPullPreApprovalObject
	OffchainSent           bool
	AccountID              string
	BillerName             string
	CreatedAt              time.Time
	UpdatedAt              time.Time
	ApprovedAt             *time.Time
}

// PaymentInfoRecord tracks a merchant-initiated pull.
type PaymentInfoRecord struct {
	ReferenceID        string
	VASPAddress        string
	MyAddress          string
	MerchantName       string
	Action             string
	Currency           string
	Amount             uint64
	Expiration         *time.Time
	RecipientSignature string
	Status             offchain.PaymentInfoStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TransactionRecord is an appended settlement transaction.
type TransactionRecord struct {
	ID            string
	ReferenceID   string
	Amount        uint64
	Currency      string
	ChainVersion  uint64
	ChainSequence uint64
	Status        string
	CreatedAt     time.Time
}

// Transaction statuses.
const (
	TransactionCompleted = "COMPLETED"
)

// PaymentFn receives the prior record (nil when none exists) and returns
// the record to persist. Returning (nil, nil) leaves the store untouched.
type PaymentFn func(prior *PaymentRecord) (*PaymentRecord, error)

// PreApprovalFn receives every stored role row for the id and returns the
// rows to upsert. Returning (nil, nil) leaves the store untouched.
type PreApprovalFn func(prior []*PreApprovalRecord) ([]*PreApprovalRecord, error)

// PaymentInfoFn mirrors PaymentFn for payment-info records.
type PaymentInfoFn func(prior *PaymentInfoRecord) (*PaymentInfoRecord, error)

// Store is the durable command store. Lock methods serialize concurrent
// callers per reference id; distinct ids proceed in parallel. An error
// from fn aborts without persisting.
type Store interface {
	LockPayment(ctx context.Context, referenceID string, fn PaymentFn) error
	GetPayment(ctx context.Context, referenceID string) (*PaymentRecord, error)
	PaymentsByLifecycle(ctx context.Context, status offchain.LifecycleStatus) ([]*PaymentRecord, error)

	LockPreApproval(ctx context.Context, id string, fn PreApprovalFn) error
	GetPreApprovals(ctx context.Context, id string) ([]*PreApprovalRecord, error)
	UnsentPreApprovals(ctx context.Context) ([]*PreApprovalRecord, error)

	LockPaymentInfo(ctx context.Context, referenceID string, fn PaymentInfoFn) error
	GetPaymentInfo(ctx context.Context, referenceID string) (*PaymentInfoRecord, error)

	CreateTransaction(ctx context.Context, txn *TransactionRecord) error
}
