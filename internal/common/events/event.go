package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation adds a correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher publishes events to a message broker
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Common event types
const (
	// Payment lifecycle events
	EventPaymentCreated   = "offchain.payment.created"
	EventPaymentReady     = "offchain.payment.ready"
	EventPaymentCompleted = "offchain.payment.completed"
	EventPaymentCanceled  = "offchain.payment.canceled"

	// Pre-approval events
	EventPreApprovalRequested = "offchain.preapproval.requested"
	EventPreApprovalApproved  = "offchain.preapproval.approved"
	EventPreApprovalRejected  = "offchain.preapproval.rejected"
	EventPreApprovalClosed    = "offchain.preapproval.closed"

	// Charge events
	EventChargeInitiated = "offchain.charge.initiated"
	EventChargeAborted   = "offchain.charge.aborted"
)

// PaymentCompletedData is the data for offchain.payment.completed events
type PaymentCompletedData struct {
	ReferenceID string `json:"reference_id"`
	Amount      uint64 `json:"amount"`
	Currency    string `json:"currency"`
	Version     uint64 `json:"version"`
	Sequence    uint64 `json:"sequence"`
}

// PaymentCanceledData is the data for offchain.payment.canceled events
type PaymentCanceledData struct {
	ReferenceID  string `json:"reference_id"`
	AbortCode    string `json:"abort_code,omitempty"`
	AbortMessage string `json:"abort_message,omitempty"`
}

// PreApprovalData is the data for pre-approval events
type PreApprovalData struct {
	FundsPullPreApprovalID string `json:"funds_pull_pre_approval_id"`
	Status                 string `json:"status"`
	Role                   string `json:"role"`
}
