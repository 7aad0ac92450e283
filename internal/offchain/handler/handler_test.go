package handler

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vasppay/internal/chain"
	"vasppay/internal/common/middleware"
	"vasppay/internal/offchain"
	"vasppay/internal/offchain/directory"
	"vasppay/internal/offchain/jws"
	"vasppay/internal/offchain/payment"
	"vasppay/internal/offchain/preapproval"
	"vasppay/internal/offchain/store"
)

const handlerHRP = "tdm"

// fakeChainClient serves published VASP records from a map.
type fakeChainClient struct {
	accounts map[chain.AccountAddress]*chain.AccountInfo
}

func (c *fakeChainClient) GetAccount(_ context.Context, addr chain.AccountAddress) (*chain.AccountInfo, error) {
	info, ok := c.accounts[addr]
	if !ok {
		return nil, chain.ErrAccountNotFound
	}
	return info, nil
}

func (c *fakeChainClient) SubmitPeerToPeer(_ context.Context, _ *chain.PeerToPeerRequest) (*chain.SubmitResult, error) {
	return &chain.SubmitResult{}, nil
}

func (c *fakeChainClient) Transactions(_ context.Context, _ uint64, _ int) ([]*chain.Transaction, error) {
	return nil, nil
}

// fakeAccounts implements both the payment and pre-approval account
// collaborator interfaces.
type fakeAccounts struct {
	accounts map[string]string
}

func (f *fakeAccounts) ResolveAccount(_ context.Context, identifier string) (string, bool, error) {
	id, ok := f.accounts[identifier]
	return id, ok, nil
}

func (f *fakeAccounts) KycData(_ context.Context, _ string) (*offchain.KycDataObject, error) {
	return &offchain.KycDataObject{
		ObjectType:     offchain.ObjTypeKycData,
		PayloadVersion: 1,
		Type:           offchain.KycTypeIndividual,
		GivenName:      "Local",
		Surname:        "User",
	}, nil
}

func (f *fakeAccounts) EvaluateKyc(_ context.Context, _ string, _ *offchain.KycDataObject) (payment.Decision, error) {
	return payment.DecisionAccept, nil
}

type handlerFixture struct {
	router      chi.Router
	payments    *payment.Machine
	store       *store.MemoryStore
	myPub       ed25519.PublicKey
	theirKey    ed25519.PrivateKey
	senderID    string // counterparty VASP identifier for the sender header
	myUserID    string
	theirUserID string
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	var myVASP, theirVASP chain.AccountAddress
	myVASP[0], theirVASP[0] = 0x11, 0x22

	myPub, myKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	theirPub, theirKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	client := &fakeChainClient{accounts: map[chain.AccountAddress]*chain.AccountInfo{
		theirVASP: {Address: theirVASP, VASP: &chain.VASPInfo{
			BaseURL:          "https://remote.example",
			ComplianceKeyHex: hex.EncodeToString(theirPub),
		}},
		myVASP: {Address: myVASP, VASP: &chain.VASPInfo{
			BaseURL:          "https://local.example",
			ComplianceKeyHex: hex.EncodeToString(myPub),
		}},
	}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := directory.New(client, logger)
	st := store.NewMemoryStore()

	var mySub, theirSub chain.SubAddress
	mySub[0], theirSub[0] = 0xaa, 0xbb
	myUserID, err := chain.EncodeAccountIdentifier(handlerHRP, myVASP, mySub)
	require.NoError(t, err)
	theirUserID, err := chain.EncodeAccountIdentifier(handlerHRP, theirVASP, theirSub)
	require.NoError(t, err)
	senderID, err := chain.EncodeAccountIdentifier(handlerHRP, theirVASP, chain.SubAddress{})
	require.NoError(t, err)

	accounts := &fakeAccounts{accounts: map[string]string{myUserID: "acct-1"}}

	payments := payment.NewMachine(payment.Config{
		VASPAddress:         myVASP,
		HRP:                 handlerHRP,
		ComplianceKey:       myKey,
		TravelRuleThreshold: 1_000_000_000,
	}, st, accounts, dir, nil, logger)
	preApprovals := preapproval.NewMachine(st, accounts, nil, logger)

	h := New(handlerHRP, myKey, dir, payments, preApprovals, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.SenderAddress)
	h.Register(r)

	return &handlerFixture{
		router:      r,
		payments:    payments,
		store:       st,
		myPub:       myPub,
		theirKey:    theirKey,
		senderID:    senderID,
		myUserID:    myUserID,
		theirUserID: theirUserID,
	}
}

func (f *handlerFixture) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/offchain/v2/command", strings.NewReader(body))
	req.Header.Set("X-Request-Sender-Address", f.senderID)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) postCommand(t *testing.T, cid, commandType string, command any) *httptest.ResponseRecorder {
	t.Helper()
	rawCmd, err := json.Marshal(command)
	require.NoError(t, err)
	envelope, err := json.Marshal(offchain.CommandRequestObject{
		ObjectType:  offchain.ObjTypeCommandRequest,
		CID:         cid,
		CommandType: commandType,
		Command:     rawCmd,
	})
	require.NoError(t, err)
	signed, err := jws.Sign(f.theirKey, envelope)
	require.NoError(t, err)
	return f.post(t, signed)
}

// response verifies the signed reply envelope and decodes it.
func (f *handlerFixture) response(t *testing.T, w *httptest.ResponseRecorder) *offchain.CommandResponseObject {
	t.Helper()
	assert.Equal(t, "application/jose", w.Header().Get("Content-Type"))

	payload, err := jws.Verify(f.myPub, w.Body.Bytes())
	require.NoError(t, err, "every reply must be signed with our compliance key")

	var resp offchain.CommandResponseObject
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.Equal(t, offchain.ObjTypeCommandResponse, resp.ObjectType)
	return &resp
}

func TestCommandMissingSenderHeader(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/offchain/v2/command", strings.NewReader("x.y.z"))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := f.response(t, w)
	assert.Equal(t, offchain.ResponseFailure, resp.Status)
	assert.Equal(t, offchain.CodeVASPInfoMissing, resp.Error.Code)
}

func TestCommandRejectsBadEnvelope(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.post(t, "not-a-jws")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := f.response(t, w)
	assert.Equal(t, offchain.ResponseFailure, resp.Status)
	assert.Equal(t, offchain.CodeInvalidJWSFormat, resp.Error.Code)
}

func TestCommandRejectsWrongSignature(t *testing.T) {
	f := newHandlerFixture(t)

	_, wrongKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	envelope, err := json.Marshal(offchain.CommandRequestObject{
		ObjectType:  offchain.ObjTypeCommandRequest,
		CID:         "3185027f-0574-4f55-a668-3a38fdb5de98",
		CommandType: offchain.CommandTypeGetInfo,
		Command:     json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	signed, err := jws.Sign(wrongKey, envelope)
	require.NoError(t, err)

	w := f.post(t, signed)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := f.response(t, w)
	assert.Equal(t, offchain.CodeInvalidJWSSignature, resp.Error.Code)
}

func TestCommandRejectsUnknownField(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.postCommand(t, "3185027f-0574-4f55-a668-3a38fdb5de98", offchain.CommandTypeGetInfo, map[string]any{
		"_ObjectType":  offchain.ObjTypeGetPaymentInfo,
		"reference_id": "2632a018-e62c-4edd-be4d-c03f3e2d7e3f",
		"surprise":     true,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := f.response(t, w)
	assert.Equal(t, offchain.ResponseFailure, resp.Status)
	assert.Equal(t, offchain.CodeUnknownField, resp.Error.Code)
	assert.Equal(t, "3185027f-0574-4f55-a668-3a38fdb5de98", resp.CID)
}

func TestGetPaymentInfoUnknownReference(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.postCommand(t, "3185027f-0574-4f55-a668-3a38fdb5de98", offchain.CommandTypeGetInfo, offchain.GetPaymentInfo{
		ObjectType:  offchain.ObjTypeGetPaymentInfo,
		ReferenceID: "2632a018-e62c-4edd-be4d-c03f3e2d7e3f",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := f.response(t, w)
	assert.Equal(t, offchain.ResponseFailure, resp.Status)
	assert.Equal(t, offchain.CodeInvalidObject, resp.Error.Code)
	assert.Equal(t, "reference_id", resp.Error.Field)
}

func TestGetPaymentInfoReturnsRecord(t *testing.T) {
	f := newHandlerFixture(t)

	info, err := f.payments.CreatePaymentInfo(context.Background(), payment.CreatePaymentInfoParams{
		MerchantAccountID: "acct-1",
		MerchantAddress:   f.myUserID,
		MerchantName:      "Corner Store",
		Amount:            500,
		Currency:          "XUS",
	})
	require.NoError(t, err)

	w := f.postCommand(t, "3185027f-0574-4f55-a668-3a38fdb5de98", offchain.CommandTypeGetInfo, offchain.GetPaymentInfo{
		ObjectType:  offchain.ObjTypeGetPaymentInfo,
		ReferenceID: info.ReferenceID,
	})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := f.response(t, w)
	assert.Equal(t, offchain.ResponseSuccess, resp.Status)

	var result offchain.GetInfoCommandResponse
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, info.ReferenceID, result.PaymentInfo.ReferenceID)
	assert.Equal(t, "Corner Store", result.PaymentInfo.Receiver.BusinessData.Name)
	assert.Equal(t, uint64(500), result.PaymentInfo.Action.Amount)
}

func TestInboundPaymentCommandCreatesRecord(t *testing.T) {
	f := newHandlerFixture(t)

	cmd := offchain.PaymentCommand{
		ObjectType: offchain.ObjTypePaymentCommand,
		Payment: offchain.PaymentObject{
			ReferenceID: "2632a018-e62c-4edd-be4d-c03f3e2d7e3f",
			Sender: offchain.PaymentActor{
				Address: f.theirUserID,
				Status:  offchain.StatusObject{Status: offchain.StatusNeedsKycData},
				KycData: &offchain.KycDataObject{
					ObjectType:     offchain.ObjTypeKycData,
					PayloadVersion: 1,
					Type:           offchain.KycTypeIndividual,
					GivenName:      "Remote",
					Surname:        "Sender",
				},
			},
			Receiver: offchain.PaymentActor{
				Address: f.myUserID,
				Status:  offchain.StatusObject{Status: offchain.StatusNone},
			},
			Action: offchain.PaymentAction{
				Amount:    2_000_000_000,
				Currency:  "XUS",
				Action:    offchain.ActionCharge,
				Timestamp: 1700000000,
			},
		},
	}

	w := f.postCommand(t, "3185027f-0574-4f55-a668-3a38fdb5de98", offchain.CommandTypePayment, cmd)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := f.response(t, w)
	assert.Equal(t, offchain.ResponseSuccess, resp.Status)

	rec, err := f.store.GetPayment(context.Background(), cmd.Payment.ReferenceID)
	require.NoError(t, err)
	assert.Equal(t, offchain.LifecycleInbound, rec.Lifecycle)
	assert.Equal(t, "acct-1", rec.AccountID)
}

func TestCommandEchoesRequestID(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/offchain/v2/command", strings.NewReader("x.y.z"))
	req.Header.Set("X-Request-Sender-Address", f.senderID)
	req.Header.Set("X-Request-ID", "corr-123")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, "corr-123", w.Header().Get("X-Request-ID"), "the reply must echo the caller's correlation id")
}

func TestInboundPaymentRedelivery(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	refID := "2632a018-e62c-4edd-be4d-c03f3e2d7e3f"

	cmd := offchain.PaymentCommand{
		ObjectType: offchain.ObjTypePaymentCommand,
		Payment: offchain.PaymentObject{
			ReferenceID: refID,
			Sender: offchain.PaymentActor{
				Address: f.theirUserID,
				Status:  offchain.StatusObject{Status: offchain.StatusNeedsKycData},
			},
			Receiver: offchain.PaymentActor{
				Address: f.myUserID,
				Status:  offchain.StatusObject{Status: offchain.StatusNone},
			},
			Action: offchain.PaymentAction{
				Amount:    2_000_000_000,
				Currency:  "XUS",
				Action:    offchain.ActionCharge,
				Timestamp: 1700000000,
			},
		},
	}
	rawCmd, err := json.Marshal(cmd)
	require.NoError(t, err)
	envelope, err := json.Marshal(offchain.CommandRequestObject{
		ObjectType:  offchain.ObjTypeCommandRequest,
		CID:         "3185027f-0574-4f55-a668-3a38fdb5de98",
		CommandType: offchain.CommandTypePayment,
		Command:     rawCmd,
	})
	require.NoError(t, err)
	signed, err := jws.Sign(f.theirKey, envelope)
	require.NoError(t, err)

	first := f.post(t, signed)
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, offchain.ResponseSuccess, f.response(t, first).Status)

	created, err := f.store.GetPayment(ctx, refID)
	require.NoError(t, err)

	second := f.post(t, signed)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String(),
		"redelivering the same bytes must produce the same signed reply")

	after, err := f.store.GetPayment(ctx, refID)
	require.NoError(t, err)
	assert.Equal(t, created.UpdatedAt, after.UpdatedAt, "redelivery must not touch the record")
}

func TestInboundPaymentForUnknownUser(t *testing.T) {
	f := newHandlerFixture(t)

	var strangerSub chain.SubAddress
	strangerSub[0] = 0xee
	var myVASP chain.AccountAddress
	myVASP[0] = 0x11
	strangerID, err := chain.EncodeAccountIdentifier(handlerHRP, myVASP, strangerSub)
	require.NoError(t, err)

	cmd := offchain.PaymentCommand{
		ObjectType: offchain.ObjTypePaymentCommand,
		Payment: offchain.PaymentObject{
			ReferenceID: "2632a018-e62c-4edd-be4d-c03f3e2d7e3f",
			Sender: offchain.PaymentActor{
				Address: f.theirUserID,
				Status:  offchain.StatusObject{Status: offchain.StatusNeedsKycData},
			},
			Receiver: offchain.PaymentActor{
				Address: strangerID,
				Status:  offchain.StatusObject{Status: offchain.StatusNone},
			},
			Action: offchain.PaymentAction{
				Amount:    2_000_000_000,
				Currency:  "XUS",
				Action:    offchain.ActionCharge,
				Timestamp: 1700000000,
			},
		},
	}

	w := f.postCommand(t, "3185027f-0574-4f55-a668-3a38fdb5de98", offchain.CommandTypePayment, cmd)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := f.response(t, w)
	assert.Equal(t, offchain.CodePaymentInvalidSubaddress, resp.Error.Code)
}
