package offchain

import "fmt"

// ErrorType classifies a protocol error on the wire.
type ErrorType string

const (
	ErrorTypeCommand  ErrorType = "command_error"
	ErrorTypeProtocol ErrorType = "protocol_error"
)

// ErrorCode values of the protocol error taxonomy.
type ErrorCode string

const (
	// Transport
	CodeInvalidJWSFormat    ErrorCode = "invalid_jws_format"
	CodeInvalidJWSHeader    ErrorCode = "invalid_jws_header"
	CodeInvalidJWSSignature ErrorCode = "invalid_jws_signature"
	CodeInvalidJSON         ErrorCode = "invalid_json"
	CodeVASPInfoMissing     ErrorCode = "vasp_info_missing"

	// Schema
	CodeMissingField      ErrorCode = "missing_field"
	CodeUnknownField      ErrorCode = "unknown_field"
	CodeInvalidFieldValue ErrorCode = "invalid_field_value"
	CodeInvalidOverwrite  ErrorCode = "invalid_overwrite"
	CodeInvalidObject     ErrorCode = "invalid_object"

	// Protocol
	CodeInvalidTransition        ErrorCode = "invalid_transition"
	CodePaymentInvalidAddress    ErrorCode = "payment_invalid_address"
	CodePaymentInvalidSubaddress ErrorCode = "payment_invalid_subaddress"
	CodePaymentVASPError         ErrorCode = "payment_vasp_error"
)

// Error is a protocol error that propagates as-is into the signed reply.
type Error struct {
	Type    ErrorType `json:"type"`
	Code    ErrorCode `json:"code"`
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message,omitempty"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %s): %s", e.Type, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Type, e.Code, e.Message)
}

// NewCommandError creates a command_error.
func NewCommandError(code ErrorCode, message string) *Error {
	return &Error{Type: ErrorTypeCommand, Code: code, Message: message}
}

// NewProtocolError creates a protocol_error.
func NewProtocolError(code ErrorCode, message string) *Error {
	return &Error{Type: ErrorTypeProtocol, Code: code, Message: message}
}

// WithField attaches the offending field path.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}
