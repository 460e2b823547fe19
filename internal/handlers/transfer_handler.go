package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/payqueue/internal/middleware"
	"github.com/ruralpay/payqueue/internal/models"
	"github.com/ruralpay/payqueue/internal/services"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultQueueLimit = 10
	maxQueueLimit     = 100
)

type TransferHandler struct {
	service   *services.TransferService
	validator *ValidationHelper
	logger    *zap.Logger
}

func NewTransferHandler(service *services.TransferService, logger *zap.Logger) *TransferHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferHandler{
		service:   service,
		validator: NewValidationHelper(),
		logger:    logger,
	}
}

type createTransferRequest struct {
	ID            string          `json:"id,omitempty" validate:"omitempty,max=64"`
	FromAccountID string          `json:"from_account_id" validate:"required"`
	ToAccountID   string          `json:"to_account_id" validate:"required,nefield=FromAccountID"`
	Amount        decimal.Decimal `json:"amount"`
	Urgency       string          `json:"urgency,omitempty"`
}

type failRequest struct {
	Reason string `json:"reason" validate:"required,max=256"`
}

type createAccountRequest struct {
	ID        string          `json:"id" validate:"required,max=64"`
	Balance   decimal.Decimal `json:"balance"`
	Tier      string          `json:"tier" validate:"required"`
	RiskScore int             `json:"risk_score" validate:"gte=0,lte=10"`
}

type transferResponse struct {
	Transaction   *models.Transaction  `json:"transaction"`
	LedgerEntries []models.LedgerEntry `json:"ledger_entries,omitempty"`
}

type outcomeResponse struct {
	Transaction *models.Transaction `json:"transaction"`
	Error       string              `json:"error,omitempty"`
}

func identity(r *http.Request) middleware.Identity {
	id, _ := middleware.IdentityFrom(r.Context())
	return id
}

// CreateTransfer admits a transfer. Customers may only send from their own account.
func (h *TransferHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	urgency, err := models.ParseUrgency(req.Urgency)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	caller := identity(r)
	if !caller.IsOperator() && caller.AccountID != req.FromAccountID {
		SendErrorResponse(w, "Transfers may only be sent from your own account", http.StatusForbidden, nil)
		return
	}

	result, err := h.service.CreateTransfer(r.Context(), services.TransferRequest{
		ID:            req.ID,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		Urgency:       urgency,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, transferResponse{Transaction: result.Transaction})
}

// GetTransfer returns the transaction and its ledger entries. Customers only see
// transfers touching their account.
func (h *TransferHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	txn, err := h.service.GetTransaction(r.Context(), chi.URLParam(r, "txId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	caller := identity(r)
	if !caller.IsOperator() && caller.AccountID != txn.FromAccountID && caller.AccountID != txn.ToAccountID {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}

	entries, err := h.service.LedgerEntries(r.Context(), txn.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transferResponse{Transaction: txn, LedgerEntries: entries})
}

func (h *TransferHandler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	caller := identity(r)
	txn, err := h.service.Cancel(r.Context(), chi.URLParam(r, "txId"), services.Actor{
		AccountID: caller.AccountID,
		Operator:  caller.IsOperator(),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transferResponse{Transaction: txn})
}

func (h *TransferHandler) CompleteTransfer(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Complete(r.Context(), chi.URLParam(r, "txId"))
	h.writeOutcome(w, r, out, err)
}

func (h *TransferHandler) FailTransfer(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	txn, err := h.service.Fail(r.Context(), chi.URLParam(r, "txId"), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transferResponse{Transaction: txn})
}

// ProcessNext completes the head of the queue. An empty queue answers 204.
func (h *TransferHandler) ProcessNext(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ProcessNext(r.Context())
	if errors.Is(err, services.ErrQueueEmpty) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeOutcome(w, r, out, err)
}

func (h *TransferHandler) Queue(w http.ResponseWriter, r *http.Request) {
	limit := defaultQueueLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxQueueLimit {
			SendErrorResponse(w, "limit must be between 1 and 100", http.StatusBadRequest, nil)
			return
		}
		limit = n
	}
	snapshot, err := h.service.QueueSnapshot(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *TransferHandler) Holds(w http.ResponseWriter, r *http.Request) {
	held, err := h.service.HeldSnapshot(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if held == nil {
		held = []services.HeldEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"size": len(held), "entries": held})
}

func (h *TransferHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	caller := identity(r)
	if !caller.IsOperator() && caller.AccountID != accountID {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	account, err := h.service.GetAccount(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *TransferHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	tier, err := models.ParseTier(req.Tier)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	account, err := h.service.CreateAccount(r.Context(), services.AccountRequest{
		ID:        req.ID,
		Balance:   req.Balance,
		Tier:      tier,
		RiskScore: req.RiskScore,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logger.Info("[ADMIN] Account created", zap.String("account_id", account.ID), zap.Stringer("tier", account.Tier))
	writeJSON(w, http.StatusCreated, account)
}

// writeOutcome answers 422 when the transfer was refused for funds; the transaction is
// FAILED at that point and is returned alongside the reason.
func (h *TransferHandler) writeOutcome(w http.ResponseWriter, r *http.Request, out *services.Outcome, err error) {
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !out.Succeeded() {
		writeJSON(w, http.StatusUnprocessableEntity, outcomeResponse{Transaction: out.Transaction, Error: out.Failure.Error()})
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse{Transaction: out.Transaction})
}

func (h *TransferHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, services.ErrDuplicateOperation):
		SendErrorResponse(w, "Transaction is already being processed", http.StatusConflict, nil)
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrAlreadyExists):
		SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, services.ErrForbidden):
		SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, services.ErrInvalidRequest):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	default:
		h.logger.Error("[HTTP] Request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}
