// Package offchain defines the wire objects and error taxonomy of the
// bilateral off-chain protocol: versioned, idempotent command objects
// exchanged between custodial wallets before on-chain settlement.
package offchain

import "encoding/json"

// Object type discriminators carried in the _ObjectType field.
const (
	ObjTypeCommandRequest       = "CommandRequestObject"
	ObjTypeCommandResponse      = "CommandResponseObject"
	ObjTypePaymentCommand       = "PaymentCommand"
	ObjTypeFundPullPreApproval  = "FundPullPreApprovalCommand"
	ObjTypeGetPaymentInfo       = "GetPaymentInfo"
	ObjTypeGetInfoResponse      = "GetInfoCommandResponse"
	ObjTypeInitChargePayment    = "InitChargePayment"
	ObjTypeInitChargeResponse   = "InitChargePaymentResponse"
	ObjTypeInitAuthorizeCommand = "InitAuthorizeCommand"
	ObjTypeAbortPayment         = "AbortPayment"
)

// CommandType values of a CommandRequestObject.
const (
	CommandTypePayment       = "PaymentCommand"
	CommandTypePreApproval   = "FundPullPreApprovalCommand"
	CommandTypeGetInfo       = "GetPaymentInfo"
	CommandTypeInitCharge    = "InitChargePayment"
	CommandTypeInitAuthorize = "InitAuthorizeCommand"
	CommandTypeAbortPayment  = "AbortPayment"
)

// ActorStatus is the on-wire status of one payment actor.
type ActorStatus string

const (
	StatusNone                    ActorStatus = "none"
	StatusNeedsKycData            ActorStatus = "needs_kyc_data"
	StatusNeedsRecipientSignature ActorStatus = "needs_recipient_signature"
	StatusReadyForSettlement      ActorStatus = "ready_for_settlement"
	StatusSoftMatch               ActorStatus = "soft_match"
	StatusPendingReview           ActorStatus = "pending_review"
	StatusAbort                   ActorStatus = "abort"
)

// AbortCode explains an abort status.
type AbortCode string

const (
	AbortKycFailure                AbortCode = "kyc_failure"
	AbortInsufficientFunds         AbortCode = "insufficient_funds"
	AbortCustomerDeclined          AbortCode = "customer_declined"
	AbortBusinessNotVerified       AbortCode = "business_not_verified"
	AbortMissingRecipientSignature AbortCode = "missing_recipient_signature"
	AbortCouldNotPutTransaction    AbortCode = "could_not_put_transaction"
	AbortUnspecifiedError          AbortCode = "unspecified_error"
)

// PreApprovalStatus is the on-wire status of a funds-pull pre-approval.
type PreApprovalStatus string

const (
	PreApprovalPending  PreApprovalStatus = "pending"
	PreApprovalValid    PreApprovalStatus = "valid"
	PreApprovalRejected PreApprovalStatus = "rejected"
	PreApprovalClosed   PreApprovalStatus = "closed"
)

// IsTerminal reports whether no further transitions are legal.
func (s PreApprovalStatus) IsTerminal() bool {
	return s == PreApprovalRejected || s == PreApprovalClosed
}

// Role is a side of a consent or payment exchange.
type Role string

const (
	RolePayer Role = "PAYER"
	RolePayee Role = "PAYEE"
)

// LifecycleStatus is the local summary of where a payment sits in the
// protocol, distinct from the two on-wire actor statuses.
type LifecycleStatus string

const (
	LifecyclePending  LifecycleStatus = "PENDING"
	LifecycleOutbound LifecycleStatus = "OFF_CHAIN_OUTBOUND"
	LifecycleInbound  LifecycleStatus = "OFF_CHAIN_INBOUND"
	LifecycleWait     LifecycleStatus = "OFF_CHAIN_WAIT"
	LifecycleReady    LifecycleStatus = "OFF_CHAIN_READY"
	LifecycleComplete LifecycleStatus = "COMPLETED"
	LifecycleCanceled LifecycleStatus = "CANCELED"
)

// PaymentInfoStatus tracks a merchant-initiated pull record.
type PaymentInfoStatus string

const (
	PaymentInfoReadyForUser PaymentInfoStatus = "READY_FOR_USER"
	PaymentInfoApproved     PaymentInfoStatus = "APPROVED"
	PaymentInfoRejected     PaymentInfoStatus = "REJECTED"
)

// CommandRequestObject is the outer request envelope. The command payload
// stays raw until the registry dispatches it by command_type.
type CommandRequestObject struct {
	ObjectType  string          `json:"_ObjectType"`
	CID         string          `json:"cid"`
	CommandType string          `json:"command_type"`
	Command     json.RawMessage `json:"command"`
}

// CommandResponseObject is the outer reply envelope.
type CommandResponseObject struct {
	ObjectType string          `json:"_ObjectType"`
	Status     string          `json:"status"`
	CID        string          `json:"cid,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *Error          `json:"error,omitempty"`
}

// Response statuses.
const (
	ResponseSuccess = "success"
	ResponseFailure = "failure"
)

// PaymentCommand wraps a PaymentObject.
type PaymentCommand struct {
	ObjectType string        `json:"_ObjectType"`
	Payment    PaymentObject `json:"payment"`
}

// PaymentObject is the shared state of one payment thread.
type PaymentObject struct {
	ReferenceID         string        `json:"reference_id"`
	Sender              PaymentActor  `json:"sender"`
	Receiver            PaymentActor  `json:"receiver"`
	Action              PaymentAction `json:"action"`
	OriginalReferenceID string        `json:"original_payment_reference_id,omitempty"`
	RecipientSignature  string        `json:"recipient_signature,omitempty"`
	Description         string        `json:"description,omitempty"`
}

// PaymentActor is one side of a payment.
type PaymentActor struct {
	Address           string         `json:"address"`
	Status            StatusObject   `json:"status"`
	KycData           *KycDataObject `json:"kyc_data,omitempty"`
	AdditionalKycData string         `json:"additional_kyc_data,omitempty"`
	Metadata          []string       `json:"metadata,omitempty"`
}

// StatusObject carries an actor status with optional abort detail.
type StatusObject struct {
	Status       ActorStatus `json:"status"`
	AbortCode    AbortCode   `json:"abort_code,omitempty"`
	AbortMessage string      `json:"abort_message,omitempty"`
}

// PaymentAction describes the transfer. Every field is immutable after
// creation.
type PaymentAction struct {
	Amount     uint64 `json:"amount"`
	Currency   string `json:"currency"`
	Action     string `json:"action"`
	Timestamp  int64  `json:"timestamp"`
	ValidUntil int64  `json:"valid_until,omitempty"`
}

// Payment action kinds.
const (
	ActionCharge = "charge"
	ActionAuth   = "auth"
)

// KycDataObject is the counterparty identity envelope. Its content rules
// live with the compliance collaborator; only the transport shape and
// mutability discipline are enforced here.
type KycDataObject struct {
	ObjectType      string         `json:"_ObjectType"`
	PayloadVersion  int            `json:"payload_version"`
	Type            string         `json:"type"`
	GivenName       string         `json:"given_name,omitempty"`
	Surname         string         `json:"surname,omitempty"`
	Dob             string         `json:"dob,omitempty"`
	Address         *KycAddress    `json:"address,omitempty"`
	NationalID      *KycNationalID `json:"national_id,omitempty"`
	LegalEntityName string         `json:"legal_entity_name,omitempty"`
}

// KYC data object type and subject kinds.
const (
	ObjTypeKycData    = "KYC_DATA"
	KycTypeIndividual = "individual"
	KycTypeEntity     = "entity"
)

// KycAddress is a postal address inside KYC data.
type KycAddress struct {
	City       string `json:"city,omitempty"`
	Country    string `json:"country,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	State      string `json:"state,omitempty"`
}

// KycNationalID is a national identifier inside KYC data.
type KycNationalID struct {
	IDValue string `json:"id_value"`
	Country string `json:"country,omitempty"`
	Type    string `json:"type,omitempty"`
}

// FundPullPreApprovalCommand wraps a FundPullPreApprovalObject.
type FundPullPreApprovalCommand struct {
	ObjectType          string                    `json:"_ObjectType"`
	FundPullPreApproval FundPullPreApprovalObject `json:"fund_pull_pre_approval"`
}

// FundPullPreApprovalObject is a durable recurring-debit consent record.
type FundPullPreApprovalObject struct {
	FundsPullPreApprovalID string            `json:"funds_pull_pre_approval_id"`
	Address                string            `json:"address,omitempty"`
	BillerAddress          string            `json:"biller_address"`
	Scope                  PreApprovalScope  `json:"scope"`
	Status                 PreApprovalStatus `json:"status"`
	Description            string            `json:"description,omitempty"`
}

// PreApprovalScope bounds what the consent authorizes.
type PreApprovalScope struct {
	Type                 string                  `json:"type"`
	ExpirationTimestamp  int64                   `json:"expiration_timestamp"`
	MaxCumulativeAmount  *ScopedCumulativeAmount `json:"max_cumulative_amount,omitempty"`
	MaxTransactionAmount *CurrencyAmount         `json:"max_transaction_amount,omitempty"`
}

// Pre-approval scope kinds.
const (
	ScopeConsent        = "consent"
	ScopeSaveSubAccount = "save_sub_account"
)

// ScopedCumulativeAmount caps total debits per time unit.
type ScopedCumulativeAmount struct {
	Unit      string         `json:"unit"`
	Value     uint64         `json:"value"`
	MaxAmount CurrencyAmount `json:"max_amount"`
}

// CurrencyAmount is an amount/currency pair on the wire.
type CurrencyAmount struct {
	Amount   uint64 `json:"amount"`
	Currency string `json:"currency"`
}

// GetPaymentInfo requests the merchant's payment details for a reference id.
type GetPaymentInfo struct {
	ObjectType  string `json:"_ObjectType"`
	ReferenceID string `json:"reference_id"`
}

// GetInfoCommandResponse returns read-only payment info.
type GetInfoCommandResponse struct {
	ObjectType  string            `json:"_ObjectType"`
	PaymentInfo PaymentInfoObject `json:"payment_info"`
}

// PaymentInfoObject describes a merchant-initiated pull.
type PaymentInfoObject struct {
	ReferenceID string          `json:"reference_id"`
	Receiver    PaymentReceiver `json:"receiver"`
	Action      PaymentAction   `json:"action"`
	Description string          `json:"description,omitempty"`
}

// PaymentReceiver is the merchant side of a payment-info record.
type PaymentReceiver struct {
	Address      string       `json:"address"`
	BusinessData BusinessData `json:"business_data"`
}

// BusinessData identifies the merchant.
type BusinessData struct {
	Name      string `json:"name"`
	LegalName string `json:"legal_name,omitempty"`
}

// InitChargePayment authorizes a merchant charge, carrying the recipient
// signature when the amount meets the travel-rule threshold.
type InitChargePayment struct {
	ObjectType         string       `json:"_ObjectType"`
	ReferenceID        string       `json:"reference_id"`
	Sender             ChargeSender `json:"sender"`
	RecipientSignature string       `json:"recipient_signature,omitempty"`
}

// ChargeSender is the paying side of a merchant charge.
type ChargeSender struct {
	Address string         `json:"account_id"`
	Payer   *KycDataObject `json:"payer_data,omitempty"`
}

// InitChargePaymentResponse acknowledges a charge initiation.
type InitChargePaymentResponse struct {
	ObjectType         string `json:"_ObjectType"`
	RecipientSignature string `json:"recipient_signature,omitempty"`
}

// InitAuthorizeCommand pre-authorizes a future charge.
type InitAuthorizeCommand struct {
	ObjectType  string       `json:"_ObjectType"`
	ReferenceID string       `json:"reference_id"`
	Sender      ChargeSender `json:"sender"`
}

// AbortPayment terminates a merchant-initiated payment thread.
type AbortPayment struct {
	ObjectType   string    `json:"_ObjectType"`
	ReferenceID  string    `json:"reference_id"`
	AbortCode    AbortCode `json:"abort_code,omitempty"`
	AbortMessage string    `json:"abort_message,omitempty"`
}
