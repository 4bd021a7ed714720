// Package server exposes the transfer gateway over HTTP JSON.
//
// The gateway is the only caller of the transfer engine. On failure it
// records a recovery log entry in a separate unit of work — the entry
// persists even though the operation's transaction rolled back — and
// then reports the original failure to the client. A recovery-logging
// failure is logged and swallowed; it never masks the primary error.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retail-banking/transfer-service/internal/domain"
)

// TransferService is the slice of the transfer engine the gateway uses.
type TransferService interface {
	Transfer(ctx context.Context, senderID, receiverID uuid.UUID, amount decimal.Decimal, description, idempotencyKey string) (*domain.Transaction, error)
	Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description, idempotencyKey string) (*domain.Transaction, error)
	Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description, idempotencyKey string) (*domain.Transaction, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error)
	AuditTrail(ctx context.Context, accountID uuid.UUID) ([]domain.AuditLogEntry, error)
	Transactions(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error)
}

// Server routes HTTP requests to the transfer engine.
type Server struct {
	service  TransferService
	recovery domain.RecoveryRepository
	mux      *http.ServeMux
}

// New creates a Server and registers its routes.
func New(service TransferService, recovery domain.RecoveryRepository) *Server {
	s := &Server{
		service:  service,
		recovery: recovery,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/v1/transfers", s.handleTransfer)
	s.mux.HandleFunc("POST /api/v1/accounts/{id}/deposit", s.handleDeposit)
	s.mux.HandleFunc("POST /api/v1/accounts/{id}/withdraw", s.handleWithdraw)
	s.mux.HandleFunc("GET /api/v1/accounts/{id}", s.handleGetAccount)
	s.mux.HandleFunc("GET /api/v1/accounts/{id}/audit-logs", s.handleAuditLogs)
	s.mux.HandleFunc("GET /api/v1/accounts/{id}/transactions", s.handleTransactions)
	s.mux.HandleFunc("GET /api/v1/recovery-logs", s.handleRecoveryLogs)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

type transferRequest struct {
	SenderAccountID       string          `json:"sender_account_id"`
	ReceiverAccountNumber string          `json:"receiver_account_number"`
	Amount                decimal.Decimal `json:"amount"`
	Description           string          `json:"description"`
}

type amountRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type transactionResponse struct {
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	Amount            string     `json:"amount"`
	SenderAccountID   *uuid.UUID `json:"sender_account_id,omitempty"`
	ReceiverAccountID *uuid.UUID `json:"receiver_account_id,omitempty"`
	Status            string     `json:"status"`
	Description       string     `json:"description,omitempty"`
	CreatedAt         string     `json:"created_at"`
}

func newTransactionResponse(t *domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:                t.ID.String(),
		Type:              string(t.Type),
		Amount:            t.Amount.StringFixed(2),
		SenderAccountID:   t.SenderAccountID,
		ReceiverAccountID: t.ReceiverAccountID,
		Status:            string(t.Status),
		Description:       t.Description,
		CreatedAt:         t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "failed to parse request body")
		return
	}

	senderID, err := uuid.Parse(req.SenderAccountID)
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid sender_account_id")
		return
	}
	if req.ReceiverAccountNumber == "" {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "receiver_account_number is required")
		return
	}

	ctx := r.Context()

	// Load the sender first: it both validates the reference and gives
	// the balance snapshot the recovery entry needs on failure.
	sender, err := s.service.GetAccount(ctx, senderID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	receiver, err := s.service.GetAccountByNumber(ctx, req.ReceiverAccountNumber)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			sendErrorResponse(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "receiver account not found")
			return
		}
		s.sendDomainError(w, err)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")

	transaction, err := s.service.Transfer(ctx, sender.ID, receiver.ID, req.Amount, req.Description, idempotencyKey)
	if err != nil {
		s.recordFailure(ctx, domain.NewRecoveryLogEntry(
			domain.OperationTransfer,
			&sender.ID,
			&receiver.ID,
			req.Amount,
			err.Error(),
			balanceAtFailure(err, sender.Balance),
			map[string]any{
				"sender_account":   sender.AccountNumber,
				"receiver_account": receiver.AccountNumber,
			},
		))
		s.sendDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newTransactionResponse(transaction))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	accountID, req, ok := s.parseAmountRequest(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	idempotencyKey := r.Header.Get("Idempotency-Key")

	transaction, err := s.service.Deposit(ctx, accountID, req.Amount, req.Description, idempotencyKey)
	if err != nil {
		// Deposits have no sender-side balance to snapshot.
		s.recordFailure(ctx, domain.NewRecoveryLogEntry(
			domain.OperationDeposit,
			nil,
			&accountID,
			req.Amount,
			err.Error(),
			nil,
			nil,
		))
		s.sendDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newTransactionResponse(transaction))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	accountID, req, ok := s.parseAmountRequest(w, r)
	if !ok {
		return
	}

	ctx := r.Context()

	account, err := s.service.GetAccount(ctx, accountID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")

	transaction, err := s.service.Withdraw(ctx, accountID, req.Amount, req.Description, idempotencyKey)
	if err != nil {
		s.recordFailure(ctx, domain.NewRecoveryLogEntry(
			domain.OperationWithdrawal,
			&accountID,
			nil,
			req.Amount,
			err.Error(),
			balanceAtFailure(err, account.Balance),
			map[string]any{"account": account.AccountNumber},
		))
		s.sendDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newTransactionResponse(transaction))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathAccountID(w, r)
	if !ok {
		return
	}

	account, err := s.service.GetAccount(r.Context(), accountID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":             account.ID.String(),
		"account_number": account.AccountNumber,
		"account_type":   string(account.Type),
		"balance":        account.Balance.StringFixed(2),
		"status":         string(account.Status),
	})
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathAccountID(w, r)
	if !ok {
		return
	}

	entries, err := s.service.AuditTrail(r.Context(), accountID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	type auditResponse struct {
		ID            string `json:"id"`
		AccountID     string `json:"account_id"`
		OldBalance    string `json:"old_balance"`
		NewBalance    string `json:"new_balance"`
		OperationType string `json:"operation_type"`
		CreatedAt     string `json:"created_at"`
	}
	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditResponse{
			ID:            e.ID.String(),
			AccountID:     e.AccountID.String(),
			OldBalance:    e.OldBalance.StringFixed(2),
			NewBalance:    e.NewBalance.StringFixed(2),
			OperationType: string(e.OperationType),
			CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathAccountID(w, r)
	if !ok {
		return
	}

	transactions, err := s.service.Transactions(r.Context(), accountID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	out := make([]transactionResponse, 0, len(transactions))
	for i := range transactions {
		out = append(out, newTransactionResponse(&transactions[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRecoveryLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.recovery.List(r.Context())
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	type recoveryResponse struct {
		ID                     string         `json:"id"`
		OperationType          string         `json:"operation_type"`
		SenderAccountID        *uuid.UUID     `json:"sender_account_id,omitempty"`
		ReceiverAccountID      *uuid.UUID     `json:"receiver_account_id,omitempty"`
		AttemptedAmount        string         `json:"attempted_amount"`
		FailureReason          string         `json:"failure_reason"`
		SenderBalanceAtFailure string         `json:"sender_balance_at_failure,omitempty"`
		Details                map[string]any `json:"details,omitempty"`
		CreatedAt              string         `json:"created_at"`
	}
	out := make([]recoveryResponse, 0, len(entries))
	for _, e := range entries {
		resp := recoveryResponse{
			ID:                e.ID.String(),
			OperationType:     string(e.OperationType),
			SenderAccountID:   e.SenderAccountID,
			ReceiverAccountID: e.ReceiverAccountID,
			AttemptedAmount:   e.AttemptedAmount.StringFixed(2),
			FailureReason:     e.FailureReason,
			Details:           e.Details,
			CreatedAt:         e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if e.SenderBalanceAtFailure != nil {
			resp.SenderBalanceAtFailure = e.SenderBalanceAtFailure.StringFixed(2)
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

// balanceAtFailure picks the balance snapshot for a recovery entry:
// the balance the engine observed under lock when the error carries
// one, otherwise the balance read before the operation.
func balanceAtFailure(err error, preRead decimal.Decimal) *decimal.Decimal {
	var fundsErr *domain.InsufficientFundsError
	if errors.As(err, &fundsErr) {
		return &fundsErr.Available
	}
	return &preRead
}

// recordFailure persists a recovery entry in its own unit of work.
// Failures here are logged and swallowed so they never replace the
// primary error shown to the client.
func (s *Server) recordFailure(ctx context.Context, entry *domain.RecoveryLogEntry) {
	if err := s.recovery.Record(ctx, entry); err != nil {
		log.Printf("warning: failed to record recovery entry for %s: %v", entry.OperationType, err)
	}
}

// parseAmountRequest extracts the account ID path parameter and the
// amount body shared by the deposit and withdraw handlers.
func (s *Server) parseAmountRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, amountRequest, bool) {
	accountID, ok := pathAccountID(w, r)
	if !ok {
		return uuid.UUID{}, amountRequest{}, false
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "failed to parse request body")
		return uuid.UUID{}, amountRequest{}, false
	}
	return accountID, req, true
}

func pathAccountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid account id")
		return uuid.UUID{}, false
	}
	return accountID, true
}

// sendDomainError maps domain errors to HTTP responses.
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
	case errors.Is(err, domain.ErrSameAccount):
		sendErrorResponse(w, http.StatusBadRequest, "SAME_ACCOUNT", err.Error())
	case errors.Is(err, domain.ErrAccountNotFound):
		sendErrorResponse(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrAccountInactive):
		sendErrorResponse(w, http.StatusUnprocessableEntity, "ACCOUNT_INACTIVE", err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		sendErrorResponse(w, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", err.Error())
	case errors.Is(err, domain.ErrConcurrencyConflict):
		sendErrorResponse(w, http.StatusConflict, "CONCURRENCY_CONFLICT", err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		sendErrorResponse(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error())
	default:
		log.Printf("internal error: %v", err)
		sendErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
	}
}

// sendErrorResponse sends an error response in the expected format.
func sendErrorResponse(w http.ResponseWriter, statusCode int, code, description string) {
	writeJSON(w, statusCode, map[string]any{
		"code":        code,
		"description": description,
		"id":          uuid.New().String(),
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
