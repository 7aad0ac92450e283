package schema

import "vasppay/internal/offchain"

// commandObjects maps command_type values to the schema of their inner
// command object.
var commandObjects = map[string]string{
	offchain.CommandTypePayment:       offchain.ObjTypePaymentCommand,
	offchain.CommandTypePreApproval:   offchain.ObjTypeFundPullPreApproval,
	offchain.CommandTypeGetInfo:       offchain.ObjTypeGetPaymentInfo,
	offchain.CommandTypeInitCharge:    offchain.ObjTypeInitChargePayment,
	offchain.CommandTypeInitAuthorize: offchain.ObjTypeInitAuthorizeCommand,
	offchain.CommandTypeAbortPayment:  offchain.ObjTypeAbortPayment,
}

const (
	actorStatusRule = "oneof=none needs_kyc_data needs_recipient_signature ready_for_settlement soft_match pending_review abort"
	abortCodeRule   = "oneof=kyc_failure insufficient_funds customer_declined business_not_verified missing_recipient_signature could_not_put_transaction unspecified_error"
	currencyRule    = "oneof=XUS XDX"
)

// registry holds every known object schema, keyed by _ObjectType (or, for
// unlabeled inner objects, by an internal name).
var registry = map[string]*Object{
	offchain.ObjTypeCommandRequest: {
		Name: offchain.ObjTypeCommandRequest,
		Fields: []Field{
			{Name: "_ObjectType", Required: true, Kind: KindString, Rule: "eq=CommandRequestObject"},
			{Name: "cid", Required: true, Kind: KindString, Rule: "uuid_rfc4122"},
			{Name: "command_type", Required: true, Kind: KindString,
				Rule: "oneof=PaymentCommand FundPullPreApprovalCommand GetPaymentInfo InitChargePayment InitAuthorizeCommand AbortPayment"},
			{Name: "command", Required: true, Kind: KindObject},
		},
	},

	offchain.ObjTypeCommandResponse: {
		Name: offchain.ObjTypeCommandResponse,
		Fields: []Field{
			{Name: "_ObjectType", Required: true, Kind: KindString, Rule: "eq=CommandResponseObject"},
			{Name: "status", Required: true, Kind: KindString, Rule: "oneof=success failure"},
			{Name: "cid", Kind: KindString, Rule: "uuid_rfc4122"},
			{Name: "result", Kind: KindObject},
			{Name: "error", Kind: KindObject, Object: "OffChainErrorObject"},
		},
	},

	"OffChainErrorObject": {
		Name: "OffChainErrorObject",
		Fields: []Field{
			{Name: "type", Required: true, Kind: KindString, Rule: "oneof=command_error protocol_error"},
			{Name: "code", Required: true, Kind: KindString, Rule: "min=1"},
			{Name: "field", Kind: KindString},
			{Name: "message", Kind: KindString},
		},
	},

	offchain.ObjTypePaymentCommand: {
		Name: offchain.ObjTypePaymentCommand,
		Fields: []Field{
			{Name: "_ObjectType", Required: true, Kind: KindString, Rule: "eq=PaymentCommand"},
			{Name: "payment", Required: true, Kind: KindObject, Object: "PaymentObject"},
		},
	},

	"PaymentObject": {
		Name: "PaymentObject",
		Fields: []Field{
			{Name: "reference_id", Required: true, Immutable: true, Kind: KindString, Rule: "uuid_rfc4122"},
			{Name: "sender", Required: true, Kind: KindObject, Object: "PaymentActorObject"},
			{Name: "receiver", Required: true, Kind: KindObject, Object: "PaymentActorObject"},
			{Name: "action", Required: true, Immutable: true, Kind: KindObject, Object: "PaymentActionObject"},
			{Name: "original_payment_reference_id", Immutable: true, Kind: KindString, Rule: "uuid_rfc4122"},
			{Name: "recipient_signature", WriteOnce: true, Kind: KindString, Rule: "hexadecimal"},
			{Name: "description", WriteOnce: true, Kind: KindString},
		},
	},

	"PaymentActorObject": {
		Name: "PaymentActorObject",
		Fields: []Field{
			{Name: "address", Required: true, Immutable: true, Kind: KindString, Rule: "min=1"},
			{Name: "status", Required: true, Kind: KindObject, Object: "StatusObject"},
			{Name: "kyc_data", WriteOnce: true, Kind: KindObject, Object: offchain.ObjTypeKycData},
			{Name: "additional_kyc_data", WriteOnce: true, Kind: KindString},
			{Name: "metadata", AppendOnly: true, Kind: KindStringArray},
		},
	},

	"StatusObject": {
		Name: "StatusObject",
		Fields: []Field{
			{Name: "status", Required: true, Kind: KindString, Rule: actorStatusRule},
			{Name: "abort_code", Kind: KindString, Rule: abortCodeRule},
			{Name: "abort_message", Kind: KindString},
		},
	},

	"PaymentActionObject": {
		Name: "PaymentActionObject",
		Fields: []Field{
			{Name: "amount", Required: true, Kind: KindUint, Rule: "gt=0"},
			{Name: "currency", Required: true, Kind: KindString, Rule: currencyRule},
			{Name: "action", Required: true, Kind: KindString, Rule: "oneof=charge auth"},
			{Name: "timestamp", Required: true, Kind: KindInt},
			{Name: "valid_until", Kind: KindInt},
		},
	},

	offchain.ObjTypeKycData: {
		Name: offchain.ObjTypeKycData,
		Fields: []Field{
			{Name: "_ObjectType", Required: true, Kind: KindString, Rule: "eq=KYC_DATA"},
			{Name: "payload_version", Required: true, Kind: KindUint, Rule: "eq=1"},
			{Name: "type", Required: true, Kind: KindString, Rule: "oneof=individual entity"},
			{Name: "given_name", Kind: KindString},
			{Name: "surname", Kind: KindString},
			{Name: "dob", Kind: KindString},
			{Name: "address", Kind: KindObject, Object: "KycAddressObject"},
			{Name: "national_id", Kind: KindObject, Object: "KycNationalIDObject"},
			{Name: "legal_entity_name", Kind: KindString},
		},
	},

	"KycAddressObject": {
		Name: "KycAddressObject",
		Fields: []Field{
			{Name: "city", Kind: KindString},
			{Name: "country", Kind: KindString, Rule: "omitempty,iso3166_1_alpha2"},
			{Name: "line1", Kind: KindString},
			{Name: "line2", Kind: KindString},
			{Name: "postal_code", Kind: KindString},
			{Name: "state", Kind: KindString},
		},
	},

	"KycNationalIDObject": {
		Name: "KycNationalIDObject",
		Fields: []Field{
			{Name: "id_value", Required: true, Kind: KindString, Rule: "min=1"},
			{Name: "country", Kind: KindString, Rule: "omitempty,iso3166_1_alpha2"},
			{Name: "type", Kind: KindString},
		},
	},

	offchain.ObjTypeFundPullPreApproval: {
		Name: offchain.ObjTypeFundPullPreApproval,
		Fields: []Field{
			{Name: "_ObjectType", Required: true, Kind: KindString, Rule: "eq=FundPullPreApprovalCommand"},
			{Name: "fund_pull_pre_approval", Required: true, Kind: KindObject, Object: "FundPullPreApprovalObject"},
		},
	},

	"FundPullPreApprovalObject": {
		Name: "FundPullPreApprovalObject",
		Fields: []Field{
			{Name: "funds_pull_pre_approval_id", Required: true, Immutable: true, Kind: KindString, Rule: "min=1"},
			{Name: "address", WriteOnce: true, Kind: KindString, Rule: "min=1"},
			{Name: "biller_address", Required: true, Immutable: true, Kind: KindString, Rule: "min=1"},
			{Name: "scope", Required: true, Immutable: true, Kind: KindObject, Object: "PreApprovalScopeObject"},
			{Name: "status", Required: true, Kind: KindString, Rule: "oneof=pending valid rejected closed"},
			{Name: "description", Kind: KindString},
		},
	},

	"PreApprovalScopeObject": {
		Name: "PreApprovalScopeObject",
		Fields: []Field{
			{Name: "type", Required: true, Kind: KindString, Rule: "oneof=consent save_sub_account"},
			{Name: "expiration_timestamp", Required: true, Kind: KindUint, Rule: "gt=0"},
			{Name: "max_cumulative_amount", Kind: KindObject, Object: "ScopedCumulativeAmountObject"},
			{Name: "max_transaction_amount", Kind: KindObject, Object: "CurrencyAmountObject"},
		},
	},

	"ScopedCumulativeAmountObject": {
		Name: "ScopedCumulativeAmountObject",
		Fields: []Field{
			{Name: "unit", Required: true, Kind: KindString, Rule: "oneof=day week month year"},
			{Name: "value", Required: true, Kind: KindUint, Rule: "gt=0"},
			{Name: "max_amount", Required: true, Kind: KindObject, Object: "CurrencyAmountObject"},
		},
	},

	"CurrencyAmountObject": {
		Name: "CurrencyAmountObject",
		Fields: []Field{
			{Name: "amount", Required: true, Kind: KindUint, Rule: "gt=0"},
			{Name: "currency", Required: true, Kind: KindString, Rule: currencyRule},
		},
	},

	offchain.ObjTypeGetPaymentInfo: {
		Name: offchain.ObjTypeGetPaymentInfo,
		Fields: []Field{
			{Name: "_ObjectType", Required: true, Kind: KindString, Rule: "eq=GetPaymentInfo"},
			{Name: "reference_id", Required: true, Kind: KindString, Rule: "uuid_rfc4122"},
		},
	},

	offchain.ObjTypeGetInfoResponse: {
		Name: offchain.ObjTypeGetInfoResponse,
		Fields: []Field{
			{Name: "_ObjectType", Required: true, Kind: KindString, Rule: "eq=GetInfoCommandResponse"},
			{Name: "payment_info", Required: true, Kind: KindObject, Object: "PaymentInfoObject"},
		},
	},

	"PaymentInfoObject": {
		Name: "PaymentInfoObject",
		Fields: []Field{
			{Name: "reference_id", Required: true, Kind: KindString, Rule: "uuid_rfc4122"},
			{Name: "receiver", Required: true, Kind: KindObject, Object: "PaymentReceiverObject"},
			{Name: "action", Required: true, Kind: KindObject, Object: "PaymentActionObject"},
			{Name: "description", Kind: KindString},
		},
	},

	"PaymentReceiverObject": {
		Name: "PaymentReceiverObject",
		Fields: []Field{
			{Name: "address", Required: true, Kind: KindString, Rule: "min=1"},
			{Name: "business_data", Required: true, Kind: KindObject, Object: "BusinessDataObject"},
		},
	},

	"BusinessDataObject": {
		Name: "BusinessDataObject",
		Fields: []Field{
			{Name: "name", Required: true, Kind: KindString, Rule: "min=1"},
			{Name: "legal_name", Kind: KindString},
		},
	},

	offchain.ObjTypeInitChargePayment: {
		Name: offchain.ObjTypeInitChargePayment,
		Fields: []Field{
			{Name: "_ObjectType", Required: true, Kind: KindString, Rule: "eq=InitChargePayment"},
			{Name: "reference_id", Required: true, Kind: KindString, Rule: "uuid_rfc4122"},
			{Name: "sender", Required: true, Kind: KindObject, Object: "ChargeSenderObject"},
			{Name: "recipient_signature", Kind: KindString, Rule: "hexadecimal"},
		},
	},

	"ChargeSenderObject": {
		Name: "ChargeSenderObject",
		Fields: []Field{
			{Name: "account_id", Required: true, Kind: KindString, Rule: "min=1"},
			{Name: "payer_data", Kind: KindObject, Object: offchain.ObjTypeKycData},
		},
	},

	offchain.ObjTypeInitChargeResponse: {
		Name: offchain.ObjTypeInitChargeResponse,
		Fields: []Field{
			{Name: "_ObjectType", Required: true, Kind: KindString, Rule: "eq=InitChargePaymentResponse"},
			{Name: "recipient_signature", Kind: KindString, Rule: "hexadecimal"},
		},
	},

	offchain.ObjTypeInitAuthorizeCommand: {
		Name: offchain.ObjTypeInitAuthorizeCommand,
		Fields: []Field{
			{Name: "_ObjectType", Required: true, Kind: KindString, Rule: "eq=InitAuthorizeCommand"},
			{Name: "reference_id", Required: true, Kind: KindString, Rule: "uuid_rfc4122"},
			{Name: "sender", Required: true, Kind: KindObject, Object: "ChargeSenderObject"},
		},
	},

	offchain.ObjTypeAbortPayment: {
		Name: offchain.ObjTypeAbortPayment,
		Fields: []Field{
			{Name: "_ObjectType", Required: true, Kind: KindString, Rule: "eq=AbortPayment"},
			{Name: "reference_id", Required: true, Kind: KindString, Rule: "uuid_rfc4122"},
			{Name: "abort_code", Kind: KindString, Rule: abortCodeRule},
			{Name: "abort_message", Kind: KindString},
		},
	},
}
