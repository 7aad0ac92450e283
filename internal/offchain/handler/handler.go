// Package handler terminates the wire endpoint: it verifies the JWS
// envelope, validates and routes the inner command, and replies with a
// signed CommandResponseObject.
package handler

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vasppay/internal/chain"
	"vasppay/internal/common/middleware"
	"vasppay/internal/offchain"
	"vasppay/internal/offchain/directory"
	"vasppay/internal/offchain/jws"
	"vasppay/internal/offchain/payment"
	"vasppay/internal/offchain/preapproval"
	"vasppay/internal/offchain/schema"
)

// maxBodyBytes bounds an inbound envelope.
const maxBodyBytes = 1 << 20

// Handler serves POST /offchain/v2/command.
type Handler struct {
	hrp           string
	complianceKey ed25519.PrivateKey
	directory     *directory.Directory
	payments      *payment.Machine
	preApprovals  *preapproval.Machine
	logger        *slog.Logger
}

// New creates the inbound command handler.
func New(hrp string, complianceKey ed25519.PrivateKey, dir *directory.Directory, payments *payment.Machine, preApprovals *preapproval.Machine, logger *slog.Logger) *Handler {
	return &Handler{
		hrp:           hrp,
		complianceKey: complianceKey,
		directory:     dir,
		payments:      payments,
		preApprovals:  preApprovals,
		logger:        logger,
	}
}

// Register mounts the wire endpoint.
func (h *Handler) Register(r chi.Router) {
	r.Post("/offchain/v2/command", h.handleCommand)
}

func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.reply(w, http.StatusBadRequest, "",
			offchain.NewProtocolError(offchain.CodeInvalidJWSFormat, "unreadable request body"))
		return
	}

	senderHeader := middleware.GetSenderAddress(ctx)
	if senderHeader == "" {
		h.reply(w, http.StatusBadRequest, "",
			offchain.NewProtocolError(offchain.CodeVASPInfoMissing, "missing X-Request-Sender-Address header"))
		return
	}
	senderAddr, _, err := chain.DecodeAccountIdentifier(h.hrp, senderHeader)
	if err != nil {
		h.reply(w, http.StatusBadRequest, "",
			offchain.NewProtocolError(offchain.CodeVASPInfoMissing, "malformed sender address header"))
		return
	}

	payload, err := h.verify(r, senderAddr, body)
	if err != nil {
		var perr *offchain.Error
		if !errors.As(err, &perr) {
			perr = offchain.NewProtocolError(offchain.CodeVASPInfoMissing, err.Error())
		}
		h.reply(w, http.StatusBadRequest, "", perr)
		return
	}

	tree, derr := schema.Decode(payload)
	if derr != nil {
		h.reply(w, http.StatusBadRequest, "", derr)
		return
	}
	if verr := schema.ValidateObject(tree, offchain.ObjTypeCommandRequest); verr != nil {
		h.reply(w, http.StatusBadRequest, cidOf(tree), verr)
		return
	}

	var req offchain.CommandRequestObject
	if err := json.Unmarshal(payload, &req); err != nil {
		h.reply(w, http.StatusBadRequest, cidOf(tree), offchain.NewCommandError(offchain.CodeInvalidJSON, err.Error()))
		return
	}

	commandTree, _ := tree["command"].(map[string]any)
	objectType, ok := schema.CommandObjectType(req.CommandType)
	if !ok {
		h.reply(w, http.StatusBadRequest, req.CID, offchain.NewCommandError(offchain.CodeInvalidFieldValue,
			"unknown command_type").WithField("command_type"))
		return
	}
	if verr := schema.ValidateObject(commandTree, objectType); verr != nil {
		h.reply(w, http.StatusBadRequest, req.CID, verr)
		return
	}

	// Canonical bytes of the inner command drive duplicate detection.
	rawCommand, err := json.Marshal(commandTree)
	if err != nil {
		h.reply(w, http.StatusBadRequest, req.CID, offchain.NewCommandError(offchain.CodeInvalidJSON, err.Error()))
		return
	}

	result, err := h.dispatch(r, &req, rawCommand)
	if err != nil {
		var perr *offchain.Error
		if errors.As(err, &perr) {
			h.reply(w, http.StatusBadRequest, req.CID, perr)
			return
		}
		h.logger.Error("command handling failed",
			"command_type", req.CommandType,
			"cid", req.CID,
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
		return
	}

	h.replySuccess(w, req.CID, result)
}

// verify checks the envelope signature, invalidating the cached key and
// retrying once so a rotated compliance key is picked up.
func (h *Handler) verify(r *http.Request, senderAddr chain.AccountAddress, body []byte) ([]byte, error) {
	key, err := h.directory.ComplianceKey(r.Context(), senderAddr)
	if err != nil {
		return nil, err
	}
	payload, verr := jws.Verify(key, body)
	if verr == nil {
		return payload, nil
	}

	h.directory.Invalidate(senderAddr)
	key, err = h.directory.ComplianceKey(r.Context(), senderAddr)
	if err != nil {
		return nil, err
	}
	return jws.Verify(key, body)
}

func (h *Handler) dispatch(r *http.Request, req *offchain.CommandRequestObject, rawCommand []byte) (any, error) {
	ctx := r.Context()

	switch req.CommandType {
	case offchain.CommandTypePayment:
		var cmd offchain.PaymentCommand
		if err := json.Unmarshal(req.Command, &cmd); err != nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidJSON, err.Error())
		}
		return nil, h.payments.HandleInbound(ctx, &cmd, rawCommand, req.CID)

	case offchain.CommandTypePreApproval:
		var cmd offchain.FundPullPreApprovalCommand
		if err := json.Unmarshal(req.Command, &cmd); err != nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidJSON, err.Error())
		}
		return nil, h.preApprovals.ApplyInbound(ctx, &cmd)

	case offchain.CommandTypeGetInfo:
		var cmd offchain.GetPaymentInfo
		if err := json.Unmarshal(req.Command, &cmd); err != nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidJSON, err.Error())
		}
		return h.payments.PaymentInfo(ctx, cmd.ReferenceID)

	case offchain.CommandTypeInitCharge:
		var cmd offchain.InitChargePayment
		if err := json.Unmarshal(req.Command, &cmd); err != nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidJSON, err.Error())
		}
		return h.payments.InitCharge(ctx, &cmd)

	case offchain.CommandTypeInitAuthorize:
		var cmd offchain.InitAuthorizeCommand
		if err := json.Unmarshal(req.Command, &cmd); err != nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidJSON, err.Error())
		}
		return nil, h.payments.InitAuthorize(ctx, &cmd)

	case offchain.CommandTypeAbortPayment:
		var cmd offchain.AbortPayment
		if err := json.Unmarshal(req.Command, &cmd); err != nil {
			return nil, offchain.NewCommandError(offchain.CodeInvalidJSON, err.Error())
		}
		return nil, h.payments.AbortCharge(ctx, &cmd)
	}

	return nil, offchain.NewCommandError(offchain.CodeInvalidFieldValue,
		"unknown command_type").WithField("command_type")
}

func (h *Handler) replySuccess(w http.ResponseWriter, cid string, result any) {
	resp := offchain.CommandResponseObject{
		ObjectType: offchain.ObjTypeCommandResponse,
		Status:     offchain.ResponseSuccess,
		CID:        cid,
	}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
			return
		}
		resp.Result = raw
	}
	h.write(w, http.StatusOK, &resp)
}

func (h *Handler) reply(w http.ResponseWriter, status int, cid string, perr *offchain.Error) {
	h.write(w, status, &offchain.CommandResponseObject{
		ObjectType: offchain.ObjTypeCommandResponse,
		Status:     offchain.ResponseFailure,
		CID:        cid,
		Error:      perr,
	})
}

// write signs the response envelope; even failures are signed so the
// counterparty can verify origin.
func (h *Handler) write(w http.ResponseWriter, status int, resp *offchain.CommandResponseObject) {
	raw, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
		return
	}
	signed, err := jws.Sign(h.complianceKey, raw)
	if err != nil {
		http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/jose")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(signed))
}

func cidOf(tree map[string]any) string {
	if cid, ok := tree["cid"].(string); ok {
		return cid
	}
	return ""
}
