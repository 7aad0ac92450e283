package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vasppay/internal/offchain"
)

func paymentCommandJSON() []byte {
	return []byte(`{
		"_ObjectType": "PaymentCommand",
		"payment": {
			"reference_id": "2632a018-e62c-4edd-be4d-c03f3e2d7e3f",
			"sender": {
				"address": "tdm1pzmhcxpnyns7m035gkdv8ykqugqytgs4zmkcdxq",
				"status": {"status": "needs_kyc_data"}
			},
			"receiver": {
				"address": "tdm1pvjua68xealp0nfrw3xzl0cxzjcss9w3w8558nlgg8cv3c",
				"status": {"status": "none"}
			},
			"action": {
				"amount": 1000000000,
				"currency": "XUS",
				"action": "charge",
				"timestamp": 1626542049
			}
		}
	}`)
}

func decodeTree(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	tree, err := Decode(raw)
	require.Nil(t, err)
	return tree
}

func TestValidatePaymentCommand(t *testing.T) {
	tree := decodeTree(t, paymentCommandJSON())
	assert.Nil(t, ValidateObject(tree, offchain.ObjTypePaymentCommand))
}

func TestValidateDiscoversTypeFromDiscriminator(t *testing.T) {
	tree := decodeTree(t, paymentCommandJSON())
	assert.Nil(t, ValidateObject(tree, ""))
}

func TestValidateMissingRequiredField(t *testing.T) {
	tree := decodeTree(t, paymentCommandJSON())
	payment := tree["payment"].(map[string]any)
	delete(payment, "reference_id")

	err := ValidateObject(tree, offchain.ObjTypePaymentCommand)
	require.NotNil(t, err)
	assert.Equal(t, offchain.CodeMissingField, err.Code)
	assert.Equal(t, "payment.reference_id", err.Field)
}

func TestValidateUnknownFieldsReportedSorted(t *testing.T) {
	tree := decodeTree(t, paymentCommandJSON())
	payment := tree["payment"].(map[string]any)
	payment["zebra"] = "z"
	payment["alpha"] = "a"

	err := ValidateObject(tree, offchain.ObjTypePaymentCommand)
	require.NotNil(t, err)
	assert.Equal(t, offchain.CodeUnknownField, err.Code)
	assert.Equal(t, "payment.alpha", err.Field)
	assert.Contains(t, err.Message, "payment.alpha, payment.zebra")
}

func TestValidateRejectsUnknownCurrency(t *testing.T) {
	tree := decodeTree(t, paymentCommandJSON())
	action := tree["payment"].(map[string]any)["action"].(map[string]any)
	action["currency"] = "USD"

	err := ValidateObject(tree, offchain.ObjTypePaymentCommand)
	require.NotNil(t, err)
	assert.Equal(t, offchain.CodeInvalidFieldValue, err.Code)
	assert.Equal(t, "payment.action.currency", err.Field)
}

func TestValidateRejectsZeroAmount(t *testing.T) {
	tree := decodeTree(t, paymentCommandJSON())
	action := tree["payment"].(map[string]any)["action"].(map[string]any)
	delete(action, "amount")
	tree2 := decodeTree(t, []byte(`{"amount": 0}`))
	action["amount"] = tree2["amount"]

	err := ValidateObject(tree, offchain.ObjTypePaymentCommand)
	require.NotNil(t, err)
	assert.Equal(t, offchain.CodeInvalidFieldValue, err.Code)
}

func TestValidateRejectsBadReferenceID(t *testing.T) {
	tree := decodeTree(t, paymentCommandJSON())
	tree["payment"].(map[string]any)["reference_id"] = "not-a-uuid"

	err := ValidateObject(tree, offchain.ObjTypePaymentCommand)
	require.NotNil(t, err)
	assert.Equal(t, offchain.CodeInvalidFieldValue, err.Code)
	assert.Equal(t, "payment.reference_id", err.Field)
}

func TestValidateRejectsUnknownObjectType(t *testing.T) {
	tree := decodeTree(t, []byte(`{"_ObjectType":"NoSuchObject"}`))
	err := ValidateObject(tree, "")
	require.NotNil(t, err)
	assert.Equal(t, offchain.CodeInvalidObject, err.Code)
}

func TestPriorDisciplineImmutableField(t *testing.T) {
	prior := decodeTree(t, paymentCommandJSON())
	incoming := decodeTree(t, paymentCommandJSON())
	action := incoming["payment"].(map[string]any)["action"].(map[string]any)
	amount := decodeTree(t, []byte(`{"amount": 5}`))
	action["amount"] = amount["amount"]

	err := ValidateAgainstPrior(incoming, prior, offchain.ObjTypePaymentCommand)
	require.NotNil(t, err)
	assert.Equal(t, offchain.CodeInvalidOverwrite, err.Code)
	assert.Equal(t, "payment.action", err.Field)
}

func TestPriorDisciplineWriteOnce(t *testing.T) {
	prior := decodeTree(t, paymentCommandJSON())
	incoming := decodeTree(t, paymentCommandJSON())

	// Unset -> set is legal.
	incoming["payment"].(map[string]any)["recipient_signature"] = "deadbeef"
	require.Nil(t, ValidateAgainstPrior(incoming, prior, offchain.ObjTypePaymentCommand))

	// Set -> different value is not.
	prior["payment"].(map[string]any)["recipient_signature"] = "deadbeef"
	incoming["payment"].(map[string]any)["recipient_signature"] = "cafebabe"
	err := ValidateAgainstPrior(incoming, prior, offchain.ObjTypePaymentCommand)
	require.NotNil(t, err)
	assert.Equal(t, offchain.CodeInvalidOverwrite, err.Code)
	assert.Equal(t, "payment.recipient_signature", err.Field)
}

func TestPriorDisciplineAppendOnlyMetadata(t *testing.T) {
	prior := decodeTree(t, paymentCommandJSON())
	prior["payment"].(map[string]any)["sender"].(map[string]any)["metadata"] = []any{"m1", "m2"}

	incoming := decodeTree(t, paymentCommandJSON())
	sender := incoming["payment"].(map[string]any)["sender"].(map[string]any)

	// Appending is legal.
	sender["metadata"] = []any{"m1", "m2", "m3"}
	require.Nil(t, ValidateAgainstPrior(incoming, prior, offchain.ObjTypePaymentCommand))

	// Rewriting an existing element is not.
	sender["metadata"] = []any{"m1", "changed", "m3"}
	err := ValidateAgainstPrior(incoming, prior, offchain.ObjTypePaymentCommand)
	require.NotNil(t, err)
	assert.Equal(t, offchain.CodeInvalidOverwrite, err.Code)

	// Shrinking is not either.
	sender["metadata"] = []any{"m1"}
	err = ValidateAgainstPrior(incoming, prior, offchain.ObjTypePaymentCommand)
	require.NotNil(t, err)
	assert.Equal(t, offchain.CodeInvalidOverwrite, err.Code)
}

func TestValidateCommandRequest(t *testing.T) {
	tree := decodeTree(t, []byte(`{
		"_ObjectType": "CommandRequestObject",
		"cid": "3185027f-0574-4f55-a668-3a38fdb5de98",
		"command_type": "PaymentCommand",
		"command": {}
	}`))
	assert.Nil(t, ValidateObject(tree, offchain.ObjTypeCommandRequest))

	tree["command_type"] = "NoSuchCommand"
	err := ValidateObject(tree, offchain.ObjTypeCommandRequest)
	require.NotNil(t, err)
	assert.Equal(t, offchain.CodeInvalidFieldValue, err.Code)
}

func TestCommandObjectTypeMapping(t *testing.T) {
	for _, commandType := range []string{
		offchain.CommandTypePayment,
		offchain.CommandTypePreApproval,
		offchain.CommandTypeGetInfo,
		offchain.CommandTypeInitCharge,
		offchain.CommandTypeInitAuthorize,
		offchain.CommandTypeAbortPayment,
	} {
		name, ok := CommandObjectType(commandType)
		assert.True(t, ok, commandType)
		_, registered := Lookup(name)
		assert.True(t, registered, name)
	}

	_, ok := CommandObjectType("Bogus")
	assert.False(t, ok)
}

func TestValidatePreApprovalCommand(t *testing.T) {
	tree := decodeTree(t, []byte(`{
		"_ObjectType": "FundPullPreApprovalCommand",
		"fund_pull_pre_approval": {
			"funds_pull_pre_approval_id": "pre-1",
			"address": "tdm1pzmhcxpnyns7m035gkdv8ykqugqytgs4zmkcdxq",
			"biller_address": "tdm1pvjua68xealp0nfrw3xzl0cxzjcss9w3w8558nlgg8cv3c",
			"scope": {
				"type": "consent",
				"expiration_timestamp": 1994000000,
				"max_cumulative_amount": {
					"unit": "month",
					"value": 1,
					"max_amount": {"amount": 1000000000, "currency": "XUS"}
				}
			},
			"status": "pending"
		}
	}`))
	assert.Nil(t, ValidateObject(tree, offchain.ObjTypeFundPullPreApproval))

	scope := tree["fund_pull_pre_approval"].(map[string]any)["scope"].(map[string]any)
	scope["type"] = "forever"
	err := ValidateObject(tree, offchain.ObjTypeFundPullPreApproval)
	require.NotNil(t, err)
	assert.Equal(t, offchain.CodeInvalidFieldValue, err.Code)
}
