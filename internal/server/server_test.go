package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retail-banking/transfer-service/internal/domain"
	"github.com/retail-banking/transfer-service/internal/server"
	"github.com/retail-banking/transfer-service/internal/storage/memory"
)

type testEnv struct {
	store  *memory.Store
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	engine := domain.NewTransferEngine(store.Accounts(), store.Transactions(), store.Audits(), store, nil)
	srv := httptest.NewServer(server.New(engine, store.Recoveries()))
	t.Cleanup(srv.Close)
	return &testEnv{store: store, server: srv}
}

func (e *testEnv) seedAccount(number, balance string, status domain.AccountStatus) uuid.UUID {
	id := uuid.New()
	e.store.SeedAccount(&domain.Account{
		ID:            id,
		AccountNumber: number,
		CustomerID:    uuid.New(),
		BranchID:      uuid.New(),
		Type:          domain.AccountTypeChecking,
		Balance:       decimal.RequireFromString(balance),
		Status:        status,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	})
	return id
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return resp, decoded
}

func (e *testEnv) doList(t *testing.T, path string) (*http.Response, []map[string]any) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return resp, decoded
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestTransfer(t *testing.T) {
	env := newTestEnv(t)
	senderID := env.seedAccount("ACC1001", "100.00", domain.AccountStatusActive)
	receiverID := env.seedAccount("ACC2001", "50.00", domain.AccountStatusActive)

	payload := fmt.Sprintf(`{"sender_account_id":%q,"receiver_account_number":"ACC2001","amount":"30.00","description":"rent"}`, senderID)
	resp, body := env.do(t, http.MethodPost, "/api/v1/transfers", payload, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", resp.StatusCode, body)
	}
	if body["type"] != "TRANSFER" {
		t.Errorf("expected type TRANSFER, got %v", body["type"])
	}
	if body["amount"] != "30.00" {
		t.Errorf("expected amount 30.00, got %v", body["amount"])
	}
	if body["status"] != "COMPLETED" {
		t.Errorf("expected status COMPLETED, got %v", body["status"])
	}

	resp, account := env.do(t, http.MethodGet, "/api/v1/accounts/"+senderID.String(), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if account["balance"] != "70.00" {
		t.Errorf("expected sender balance 70.00, got %v", account["balance"])
	}

	_, account = env.do(t, http.MethodGet, "/api/v1/accounts/"+receiverID.String(), "", nil)
	if account["balance"] != "80.00" {
		t.Errorf("expected receiver balance 80.00, got %v", account["balance"])
	}
}

func TestTransfer_InsufficientFundsRecordsRecoveryEntry(t *testing.T) {
	env := newTestEnv(t)
	senderID := env.seedAccount("ACC1001", "100.00", domain.AccountStatusActive)
	env.seedAccount("ACC2001", "0.00", domain.AccountStatusActive)

	payload := fmt.Sprintf(`{"sender_account_id":%q,"receiver_account_number":"ACC2001","amount":"150.00"}`, senderID)
	resp, body := env.do(t, http.MethodPost, "/api/v1/transfers", payload, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %v", resp.StatusCode, body)
	}
	if body["code"] != "INSUFFICIENT_FUNDS" {
		t.Errorf("expected code INSUFFICIENT_FUNDS, got %v", body["code"])
	}
	description, _ := body["description"].(string)
	if !strings.Contains(description, "shortfall 50") {
		t.Errorf("expected shortfall in description, got %q", description)
	}

	// Balance untouched.
	_, account := env.do(t, http.MethodGet, "/api/v1/accounts/"+senderID.String(), "", nil)
	if account["balance"] != "100.00" {
		t.Errorf("expected balance 100.00, got %v", account["balance"])
	}

	// The failed attempt left a diagnostic entry behind.
	resp, entries := env.doList(t, "/api/v1/recovery-logs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 recovery entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry["operation_type"] != "TRANSFER" {
		t.Errorf("expected operation TRANSFER, got %v", entry["operation_type"])
	}
	if entry["attempted_amount"] != "150.00" {
		t.Errorf("expected attempted amount 150.00, got %v", entry["attempted_amount"])
	}
	if entry["sender_balance_at_failure"] != "100.00" {
		t.Errorf("expected sender balance 100.00, got %v", entry["sender_balance_at_failure"])
	}
	reason, _ := entry["failure_reason"].(string)
	if !strings.Contains(reason, "insufficient funds") {
		t.Errorf("expected failure reason to mention insufficient funds, got %q", reason)
	}
}

func TestTransfer_SameAccount(t *testing.T) {
	env := newTestEnv(t)
	senderID := env.seedAccount("ACC1001", "100.00", domain.AccountStatusActive)

	payload := fmt.Sprintf(`{"sender_account_id":%q,"receiver_account_number":"ACC1001","amount":"10.00"}`, senderID)
	resp, body := env.do(t, http.MethodPost, "/api/v1/transfers", payload, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", resp.StatusCode, body)
	}
	if body["code"] != "SAME_ACCOUNT" {
		t.Errorf("expected code SAME_ACCOUNT, got %v", body["code"])
	}
}

func TestTransfer_ReceiverNotFound(t *testing.T) {
	env := newTestEnv(t)
	senderID := env.seedAccount("ACC1001", "100.00", domain.AccountStatusActive)

	payload := fmt.Sprintf(`{"sender_account_id":%q,"receiver_account_number":"ACC9999","amount":"10.00"}`, senderID)
	resp, body := env.do(t, http.MethodPost, "/api/v1/transfers", payload, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %v", resp.StatusCode, body)
	}
	if body["code"] != "ACCOUNT_NOT_FOUND" {
		t.Errorf("expected code ACCOUNT_NOT_FOUND, got %v", body["code"])
	}
}

func TestTransfer_InvalidSenderID(t *testing.T) {
	env := newTestEnv(t)

	payload := `{"sender_account_id":"not-a-uuid","receiver_account_number":"ACC2001","amount":"10.00"}`
	resp, body := env.do(t, http.MethodPost, "/api/v1/transfers", payload, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body["code"] != "INVALID_REQUEST" {
		t.Errorf("expected code INVALID_REQUEST, got %v", body["code"])
	}
}

func TestTransfer_InvalidAmount(t *testing.T) {
	env := newTestEnv(t)
	senderID := env.seedAccount("ACC1001", "100.00", domain.AccountStatusActive)
	env.seedAccount("ACC2001", "0.00", domain.AccountStatusActive)

	payload := fmt.Sprintf(`{"sender_account_id":%q,"receiver_account_number":"ACC2001","amount":"-5.00"}`, senderID)
	resp, body := env.do(t, http.MethodPost, "/api/v1/transfers", payload, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", resp.StatusCode, body)
	}
	if body["code"] != "INVALID_AMOUNT" {
		t.Errorf("expected code INVALID_AMOUNT, got %v", body["code"])
	}
}

func TestTransfer_IdempotencyKeyReplay(t *testing.T) {
	env := newTestEnv(t)
	senderID := env.seedAccount("ACC1001", "100.00", domain.AccountStatusActive)

	env.seedAccount("ACC2001", "0.00", domain.AccountStatusActive)
	headers := map[string]string{"Idempotency-Key": "req-42"}
	payload := fmt.Sprintf(`{"sender_account_id":%q,"receiver_account_number":"ACC2001","amount":"40.00"}`, senderID)

	_, first := env.do(t, http.MethodPost, "/api/v1/transfers", payload, headers)
	_, second := env.do(t, http.MethodPost, "/api/v1/transfers", payload, headers)

	if first["id"] != second["id"] {
		t.Errorf("replay returned a different transaction: %v vs %v", first["id"], second["id"])
	}

	_, account := env.do(t, http.MethodGet, "/api/v1/accounts/"+senderID.String(), "", nil)
	if account["balance"] != "60.00" {
		t.Errorf("balance moved twice on replay: %v", account["balance"])
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	env := newTestEnv(t)
	accountID := env.seedAccount("ACC1001", "10.00", domain.AccountStatusActive)

	resp, body := env.do(t, http.MethodPost, "/api/v1/accounts/"+accountID.String()+"/deposit", `{"amount":"90.00"}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("deposit: expected 201, got %d: %v", resp.StatusCode, body)
	}
	if body["type"] != "DEPOSIT" {
		t.Errorf("expected type DEPOSIT, got %v", body["type"])
	}

	resp, body = env.do(t, http.MethodPost, "/api/v1/accounts/"+accountID.String()+"/withdraw", `{"amount":"25.00"}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("withdraw: expected 201, got %d: %v", resp.StatusCode, body)
	}
	if body["type"] != "WITHDRAWAL" {
		t.Errorf("expected type WITHDRAWAL, got %v", body["type"])
	}

	_, account := env.do(t, http.MethodGet, "/api/v1/accounts/"+accountID.String(), "", nil)
	if account["balance"] != "75.00" {
		t.Errorf("expected balance 75.00, got %v", account["balance"])
	}
}

func TestWithdraw_InsufficientFundsRecordsRecoveryEntry(t *testing.T) {
	env := newTestEnv(t)
	accountID := env.seedAccount("ACC1001", "20.00", domain.AccountStatusActive)

	resp, body := env.do(t, http.MethodPost, "/api/v1/accounts/"+accountID.String()+"/withdraw", `{"amount":"20.01"}`, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %v", resp.StatusCode, body)
	}

	_, entries := env.doList(t, "/api/v1/recovery-logs")
	if len(entries) != 1 {
		t.Fatalf("expected 1 recovery entry, got %d", len(entries))
	}
	if entries[0]["operation_type"] != "WITHDRAWAL" {
		t.Errorf("expected operation WITHDRAWAL, got %v", entries[0]["operation_type"])
	}
}

func TestAuditLogs(t *testing.T) {
	env := newTestEnv(t)
	senderID := env.seedAccount("ACC1001", "100.00", domain.AccountStatusActive)
	env.seedAccount("ACC2001", "0.00", domain.AccountStatusActive)

	payload := fmt.Sprintf(`{"sender_account_id":%q,"receiver_account_number":"ACC2001","amount":"30.00"}`, senderID)
	if resp, body := env.do(t, http.MethodPost, "/api/v1/transfers", payload, nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("transfer failed: %d: %v", resp.StatusCode, body)
	}

	resp, entries := env.doList(t, "/api/v1/accounts/"+senderID.String()+"/audit-logs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry["operation_type"] != "TRANSFER_DEBIT" {
		t.Errorf("expected TRANSFER_DEBIT, got %v", entry["operation_type"])
	}
	if entry["old_balance"] != "100.00" || entry["new_balance"] != "70.00" {
		t.Errorf("unexpected balances: old %v, new %v", entry["old_balance"], entry["new_balance"])
	}
}

func TestTransactionsListing(t *testing.T) {
	env := newTestEnv(t)
	senderID := env.seedAccount("ACC1001", "100.00", domain.AccountStatusActive)
	env.seedAccount("ACC2001", "0.00", domain.AccountStatusActive)

	payload := fmt.Sprintf(`{"sender_account_id":%q,"receiver_account_number":"ACC2001","amount":"10.00"}`, senderID)
	env.do(t, http.MethodPost, "/api/v1/transfers", payload, nil)
	env.do(t, http.MethodPost, "/api/v1/accounts/"+senderID.String()+"/deposit", `{"amount":"5.00"}`, nil)

	resp, transactions := env.doList(t, "/api/v1/accounts/"+senderID.String()+"/transactions")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(transactions))
	}
	// Newest first.
	if transactions[0]["type"] != "DEPOSIT" || transactions[1]["type"] != "TRANSFER" {
		t.Errorf("unexpected ordering: %v, %v", transactions[0]["type"], transactions[1]["type"])
	}
}

// stubTransferService returns canned accounts and a fixed engine error,
// to pin down what the failure path records.
type stubTransferService struct {
	sender   *domain.Account
	receiver *domain.Account
	err      error
}

func (s *stubTransferService) Transfer(ctx context.Context, senderID, receiverID uuid.UUID, amount decimal.Decimal, description, idempotencyKey string) (*domain.Transaction, error) {
	return nil, s.err
}

func (s *stubTransferService) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description, idempotencyKey string) (*domain.Transaction, error) {
	return nil, s.err
}

func (s *stubTransferService) Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description, idempotencyKey string) (*domain.Transaction, error) {
	return nil, s.err
}

func (s *stubTransferService) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.sender, nil
}

func (s *stubTransferService) GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	return s.receiver, nil
}

func (s *stubTransferService) AuditTrail(ctx context.Context, accountID uuid.UUID) ([]domain.AuditLogEntry, error) {
	return nil, nil
}

func (s *stubTransferService) Transactions(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	return nil, nil
}

// The recovery entry must record the balance the engine observed under
// lock, not the stale balance the gateway read before the attempt.
func TestTransfer_RecoveryEntryUsesBalanceFromEngineError(t *testing.T) {
	store := memory.NewStore()
	svc := &stubTransferService{
		sender: &domain.Account{
			ID:            uuid.New(),
			AccountNumber: "ACC1001",
			Balance:       decimal.RequireFromString("100.00"),
			Status:        domain.AccountStatusActive,
		},
		receiver: &domain.Account{
			ID:            uuid.New(),
			AccountNumber: "ACC2001",
			Balance:       decimal.Zero,
			Status:        domain.AccountStatusActive,
		},
		err: domain.NewInsufficientFundsError(
			domain.OperationTransfer,
			decimal.RequireFromString("80.00"),
			decimal.RequireFromString("150.00"),
		),
	}
	srv := httptest.NewServer(server.New(svc, store.Recoveries()))
	defer srv.Close()
	env := &testEnv{store: store, server: srv}

	payload := fmt.Sprintf(`{"sender_account_id":%q,"receiver_account_number":"ACC2001","amount":"150.00"}`, svc.sender.ID)
	resp, body := env.do(t, http.MethodPost, "/api/v1/transfers", payload, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %v", resp.StatusCode, body)
	}

	_, entries := env.doList(t, "/api/v1/recovery-logs")
	if len(entries) != 1 {
		t.Fatalf("expected 1 recovery entry, got %d", len(entries))
	}
	if entries[0]["sender_balance_at_failure"] != "80.00" {
		t.Errorf("expected under-lock balance 80.00, got %v", entries[0]["sender_balance_at_failure"])
	}
}

// Deposits have no sender; their recovery entries must not fabricate a
// zero sender balance.
func TestDeposit_FailureRecoveryEntryHasNoSenderBalance(t *testing.T) {
	env := newTestEnv(t)
	accountID := env.seedAccount("ACC1001", "10.00", domain.AccountStatusFrozen)

	resp, body := env.do(t, http.MethodPost, "/api/v1/accounts/"+accountID.String()+"/deposit", `{"amount":"5.00"}`, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %v", resp.StatusCode, body)
	}
	if body["code"] != "ACCOUNT_INACTIVE" {
		t.Errorf("expected code ACCOUNT_INACTIVE, got %v", body["code"])
	}

	_, entries := env.doList(t, "/api/v1/recovery-logs")
	if len(entries) != 1 {
		t.Fatalf("expected 1 recovery entry, got %d", len(entries))
	}
	if entries[0]["operation_type"] != "DEPOSIT" {
		t.Errorf("expected operation DEPOSIT, got %v", entries[0]["operation_type"])
	}
	if _, present := entries[0]["sender_balance_at_failure"]; present {
		t.Errorf("expected no sender balance on a deposit entry, got %v", entries[0]["sender_balance_at_failure"])
	}
}

func TestGetAccount_InvalidID(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/v1/accounts/not-a-uuid", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body["code"] != "INVALID_REQUEST" {
		t.Errorf("expected code INVALID_REQUEST, got %v", body["code"])
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/v1/accounts/"+uuid.NewString(), "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if body["code"] != "ACCOUNT_NOT_FOUND" {
		t.Errorf("expected code ACCOUNT_NOT_FOUND, got %v", body["code"])
	}
}
