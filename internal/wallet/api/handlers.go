// Package api exposes the wallet's operator surface: hosted accounts,
// outbound payments, merchant charges, and pull consents.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vasppay/internal/common/api"
	"vasppay/internal/common/database"
	"vasppay/internal/common/money"
	"vasppay/internal/offchain"
	"vasppay/internal/offchain/payment"
	"vasppay/internal/offchain/preapproval"
	offstore "vasppay/internal/offchain/store"
	"vasppay/internal/wallet"
	"vasppay/internal/wallet/domain"
	"vasppay/internal/wallet/store"
)

// Handler handles wallet HTTP requests.
type Handler struct {
	wallet       *wallet.Service
	payments     *payment.Machine
	preApprovals *preapproval.Machine
	records      offstore.Store
	sender       payment.CommandSender
}

// NewHandler creates a wallet handler.
func NewHandler(w *wallet.Service, payments *payment.Machine, preApprovals *preapproval.Machine, records offstore.Store, sender payment.CommandSender) *Handler {
	return &Handler{
		wallet:       w,
		payments:     payments,
		preApprovals: preApprovals,
		records:      records,
		sender:       sender,
	}
}

// Routes returns the wallet routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/accounts", h.CreateAccount)
	r.Get("/accounts/{id}", h.GetAccount)
	r.Get("/accounts/{id}/balances", h.GetBalances)
	r.Get("/accounts/{id}/entries", h.GetEntries)

	r.Post("/accounts/{id}/payments", h.SendPayment)
	r.Post("/accounts/{id}/charges", h.PayMerchant)
	r.Get("/payments/{reference_id}", h.GetPayment)

	r.Post("/accounts/{id}/preapprovals", h.CreatePreApproval)
	r.Post("/preapprovals/{id}/approve", h.ApprovePreApproval)
	r.Post("/preapprovals/{id}/reject", h.RejectPreApproval)
	r.Post("/preapprovals/{id}/close", h.ClosePreApproval)

	r.Post("/accounts/{id}/payment-info", h.CreatePaymentInfo)

	return r
}

// CreateAccountRequest is the API request for creating a hosted account.
type CreateAccountRequest struct {
	GivenName string `json:"given_name" validate:"required,max=255"`
	Surname   string `json:"surname" validate:"required,max=255"`
	Dob       string `json:"dob"`
	Country   string `json:"country" validate:"required,len=2"`
	City      string `json:"city"`
}

// AccountResponse is an account plus its on-wire identifier.
type AccountResponse struct {
	ID         string `json:"id"`
	SubAddress string `json:"sub_address"`
	GivenName  string `json:"given_name"`
	Surname    string `json:"surname"`
	Country    string `json:"country"`
	Status     string `json:"status"`
	Identifier string `json:"identifier"`
}

// CreateAccount handles POST /accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	account, err := h.wallet.CreateAccount(r.Context(), wallet.CreateAccountParams{
		GivenName: req.GivenName,
		Surname:   req.Surname,
		Dob:       req.Dob,
		Country:   req.Country,
		City:      req.City,
	})
	if err != nil {
		api.InternalError(w, "failed to create account")
		return
	}

	api.WriteData(w, http.StatusCreated, h.accountResponse(account))
}

// GetAccount handles GET /accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "account ID required")
		return
	}

	account, err := h.wallet.GetAccount(r.Context(), id)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "account not found")
			return
		}
		api.InternalError(w, "failed to get account")
		return
	}

	api.WriteData(w, http.StatusOK, h.accountResponse(account))
}

// GetBalances handles GET /accounts/{id}/balances
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "account ID required")
		return
	}

	balances, err := h.wallet.Balances(r.Context(), id)
	if err != nil {
		api.InternalError(w, "failed to get balances")
		return
	}
	api.WriteData(w, http.StatusOK, balances)
}

// GetEntries handles GET /accounts/{id}/entries
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "account ID required")
		return
	}

	params := api.GetPaginationParams(r, 50, 200)
	entries, total, err := h.wallet.Entries(r.Context(), id, params.Limit, params.Offset)
	if err != nil {
		api.InternalError(w, "failed to get entries")
		return
	}

	api.WritePaginated(w, entries, &api.Pagination{
		Limit:   params.Limit,
		Offset:  params.Offset,
		Total:   total,
		HasMore: int64(params.Offset+len(entries)) < total,
	})
}

// SendPaymentRequest is the API request for an outbound transfer.
type SendPaymentRequest struct {
	ReceiverAddress string `json:"receiver_address" validate:"required"`
	Amount          uint64 `json:"amount" validate:"required,gt=0"`
	Currency        string `json:"currency" validate:"required"`
	Action          string `json:"action" validate:"omitempty,oneof=charge auth"`
	Description     string `json:"description"`
}

// SendPayment handles POST /accounts/{id}/payments. The amount is
// debited up front so a later settlement cannot find the funds gone;
// a rejected send refunds it.
func (h *Handler) SendPayment(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		api.BadRequest(w, "account ID required")
		return
	}

	var req SendPaymentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	account, err := h.wallet.GetAccount(r.Context(), accountID)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "account not found")
			return
		}
		api.InternalError(w, "failed to get account")
		return
	}
	if !account.CanTransact() {
		api.Conflict(w, "account cannot transact")
		return
	}

	identifier, err := h.wallet.Identifier(account)
	if err != nil {
		api.InternalError(w, "failed to derive account identifier")
		return
	}

	if !h.reserve(w, r, accountID, req.Amount, req.Currency, "outbound payment") {
		return
	}

	rec, err := h.payments.SendPayment(r.Context(), payment.SendPaymentParams{
		AccountID:       accountID,
		SenderAddress:   identifier,
		ReceiverAddress: req.ReceiverAddress,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Action:          req.Action,
		Description:     req.Description,
	})
	if err != nil {
		h.refund(r, accountID, req.Amount, req.Currency, "refund: payment not accepted")
		writeCommandError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, rec)
}

// PayMerchantRequest is the API request for approving a merchant pull.
type PayMerchantRequest struct {
	MerchantAddress string `json:"merchant_address" validate:"required"`
	ReferenceID     string `json:"reference_id" validate:"required,uuid"`
}

// PayMerchant handles POST /accounts/{id}/charges. The merchant's VASP
// is queried for the amount first, then the charge is initiated and the
// debited payment recorded as settlement ready.
func (h *Handler) PayMerchant(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		api.BadRequest(w, "account ID required")
		return
	}

	var req PayMerchantRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	account, err := h.wallet.GetAccount(r.Context(), accountID)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "account not found")
			return
		}
		api.InternalError(w, "failed to get account")
		return
	}
	if !account.CanTransact() {
		api.Conflict(w, "account cannot transact")
		return
	}

	identifier, err := h.wallet.Identifier(account)
	if err != nil {
		api.InternalError(w, "failed to derive account identifier")
		return
	}

	rec, err := h.payments.PayMerchant(r.Context(), h.sender, payment.PayMerchantParams{
		AccountID:       accountID,
		SenderAddress:   identifier,
		MerchantAddress: req.MerchantAddress,
		ReferenceID:     req.ReferenceID,
	})
	if err != nil {
		writeCommandError(w, err)
		return
	}

	if !h.reserve(w, r, accountID, rec.Payment.Action.Amount, rec.Payment.Action.Currency, "merchant charge") {
		// The charge is already recorded; cancel it so settlement
		// never runs against unfunded approval.
		_, _ = h.payments.MarkAborted(r.Context(), rec.ReferenceID,
			offchain.AbortInsufficientFunds, "sender balance does not cover the charge")
		return
	}

	api.WriteData(w, http.StatusCreated, rec)
}

// GetPayment handles GET /payments/{reference_id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	referenceID := chi.URLParam(r, "reference_id")
	if referenceID == "" {
		api.BadRequest(w, "reference ID required")
		return
	}

	rec, err := h.records.GetPayment(r.Context(), referenceID)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "payment not found")
			return
		}
		api.InternalError(w, "failed to get payment")
		return
	}
	api.WriteData(w, http.StatusOK, rec)
}

// CreatePreApprovalRequest is the API request for a payee-initiated pull
// consent.
type CreatePreApprovalRequest struct {
	PayerAddress        string `json:"payer_address"`
	ScopeType           string `json:"scope_type" validate:"required,oneof=consent save_sub_account"`
	ExpirationTimestamp int64  `json:"expiration_timestamp" validate:"required,gt=0"`
	MaxCumulativeAmount uint64 `json:"max_cumulative_amount"`
	MaxCumulativeUnit   string `json:"max_cumulative_unit" validate:"omitempty,oneof=day week month year"`
	Currency            string `json:"currency"`
	Description         string `json:"description"`
	BillerName          string `json:"biller_name"`
}

// CreatePreApproval handles POST /accounts/{id}/preapprovals
func (h *Handler) CreatePreApproval(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		api.BadRequest(w, "account ID required")
		return
	}

	var req CreatePreApprovalRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	account, err := h.wallet.GetAccount(r.Context(), accountID)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "account not found")
			return
		}
		api.InternalError(w, "failed to get account")
		return
	}
	identifier, err := h.wallet.Identifier(account)
	if err != nil {
		api.InternalError(w, "failed to derive account identifier")
		return
	}

	scope := offchain.PreApprovalScope{
		Type:                req.ScopeType,
		ExpirationTimestamp: req.ExpirationTimestamp,
	}
	if req.MaxCumulativeAmount > 0 {
		scope.MaxCumulativeAmount = &offchain.ScopedCumulativeAmount{
			Unit:  req.MaxCumulativeUnit,
			Value: 1,
			MaxAmount: offchain.CurrencyAmount{
				Amount:   req.MaxCumulativeAmount,
				Currency: req.Currency,
			},
		}
		if !money.IsValidCurrency(req.Currency) {
			api.BadRequest(w, "unknown currency")
			return
		}
	}

	rec, err := h.preApprovals.CreateRequest(r.Context(), preapproval.CreateRequestParams{
		AccountID:     accountID,
		BillerAddress: identifier,
		PayerAddress:  req.PayerAddress,
		Scope:         scope,
		Description:   req.Description,
		BillerName:    req.BillerName,
	})
	if err != nil {
		writeCommandError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, rec)
}

// ApprovePreApproval handles POST /preapprovals/{id}/approve
func (h *Handler) ApprovePreApproval(w http.ResponseWriter, r *http.Request) {
	h.decidePreApproval(w, r, h.preApprovals.Approve)
}

// RejectPreApproval handles POST /preapprovals/{id}/reject
func (h *Handler) RejectPreApproval(w http.ResponseWriter, r *http.Request) {
	h.decidePreApproval(w, r, h.preApprovals.Reject)
}

func (h *Handler) decidePreApproval(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "pre-approval ID required")
		return
	}
	if err := decide(r.Context(), id); err != nil {
		writeCommandError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ClosePreApprovalRequest selects which side of the consent is closing.
type ClosePreApprovalRequest struct {
	Role string `json:"role" validate:"required,oneof=PAYER PAYEE"`
}

// ClosePreApproval handles POST /preapprovals/{id}/close
func (h *Handler) ClosePreApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.BadRequest(w, "pre-approval ID required")
		return
	}

	var req ClosePreApprovalRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	if err := h.preApprovals.Close(r.Context(), id, offchain.Role(req.Role)); err != nil {
		writeCommandError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, map[string]string{"status": "closed"})
}

// CreatePaymentInfoRequest is the API request for a merchant pull offer.
type CreatePaymentInfoRequest struct {
	MerchantName string `json:"merchant_name" validate:"required,max=255"`
	Amount       uint64 `json:"amount" validate:"required,gt=0"`
	Currency     string `json:"currency" validate:"required"`
	Action       string `json:"action" validate:"omitempty,oneof=charge auth"`
	ExpiresInSec int64  `json:"expires_in_sec" validate:"omitempty,gt=0"`
}

// CreatePaymentInfo handles POST /accounts/{id}/payment-info
func (h *Handler) CreatePaymentInfo(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		api.BadRequest(w, "account ID required")
		return
	}

	var req CreatePaymentInfoRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	account, err := h.wallet.GetAccount(r.Context(), accountID)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "account not found")
			return
		}
		api.InternalError(w, "failed to get account")
		return
	}
	identifier, err := h.wallet.Identifier(account)
	if err != nil {
		api.InternalError(w, "failed to derive account identifier")
		return
	}

	var expiration *time.Time
	if req.ExpiresInSec > 0 {
		t := time.Now().UTC().Add(time.Duration(req.ExpiresInSec) * time.Second)
		expiration = &t
	}

	rec, err := h.payments.CreatePaymentInfo(r.Context(), payment.CreatePaymentInfoParams{
		MerchantAccountID: accountID,
		MerchantAddress:   identifier,
		MerchantName:      req.MerchantName,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Action:            req.Action,
		Expiration:        expiration,
	})
	if err != nil {
		writeCommandError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, rec)
}

// reserve debits the account up front; it writes the error response
// itself and reports whether the caller may proceed.
func (h *Handler) reserve(w http.ResponseWriter, r *http.Request, accountID string, amount uint64, currency, description string) bool {
	err := h.wallet.Debit(r.Context(), accountID, amount, money.Currency(currency), "", description)
	if err == nil {
		return true
	}
	if errors.Is(err, store.ErrInsufficientFunds) {
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeInsufficientFunds,
			"balance does not cover the amount")
		return false
	}
	api.InternalError(w, "failed to reserve funds")
	return false
}

func (h *Handler) refund(r *http.Request, accountID string, amount uint64, currency, description string) {
	_ = h.wallet.Credit(r.Context(), accountID, amount, money.Currency(currency), "", description)
}

func (h *Handler) accountResponse(a *domain.Account) AccountResponse {
	identifier, _ := h.wallet.Identifier(a)
	return AccountResponse{
		ID:         a.ID,
		SubAddress: a.SubAddress,
		GivenName:  a.GivenName,
		Surname:    a.Surname,
		Country:    a.Country,
		Status:     string(a.Status),
		Identifier: identifier,
	}
}

// writeCommandError maps protocol errors to 400s with their wire code.
func writeCommandError(w http.ResponseWriter, err error) {
	var cmdErr *offchain.Error
	if errors.As(err, &cmdErr) {
		var details map[string]string
		if cmdErr.Field != "" {
			details = map[string]string{"field": cmdErr.Field}
		}
		api.WriteErrorWithDetails(w, http.StatusBadRequest, string(cmdErr.Code), cmdErr.Message, details)
		return
	}
	api.InternalError(w, "operation failed")
}
