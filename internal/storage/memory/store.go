// Package memory provides an in-memory implementation of the domain
// repositories and transaction manager. It backs unit tests and local
// development without a PostgreSQL instance.
//
// Transactions are serialized under one mutex: WithTransaction takes a
// snapshot of the store, runs the unit of work, and restores the
// snapshot if it fails. Observable behavior matches the PostgreSQL
// implementation — no partial state is ever visible, and operations on
// overlapping accounts are serialized.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/retail-banking/transfer-service/internal/domain"
)

// txKey marks a context as running inside WithTransaction, where the
// store mutex is already held.
type txKey struct{}

func inTx(ctx context.Context) bool {
	v, ok := ctx.Value(txKey{}).(bool)
	return ok && v
}

// Store holds all state behind a single mutex.
type Store struct {
	mu sync.Mutex

	accounts     map[uuid.UUID]*domain.Account
	byNumber     map[string]uuid.UUID
	transactions []domain.Transaction
	byIdemKey    map[string]int // idempotency key -> index into transactions
	auditLogs    []domain.AuditLogEntry
	recoveryLogs []domain.RecoveryLogEntry
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		accounts:  make(map[uuid.UUID]*domain.Account),
		byNumber:  make(map[string]uuid.UUID),
		byIdemKey: make(map[string]int),
	}
}

// lock acquires the store mutex unless the context is already inside a
// transaction (which holds it for the whole unit of work). Returns the
// matching unlock function.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// SeedAccount inserts an account, replacing any previous row with the
// same ID. Intended for tests and local setup.
func (s *Store) SeedAccount(account *domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *account
	s.accounts[cp.ID] = &cp
	s.byNumber[cp.AccountNumber] = cp.ID
}

// snapshot captures all mutable state for rollback.
type snapshot struct {
	accounts        map[uuid.UUID]*domain.Account
	byNumber        map[string]uuid.UUID
	transactionsLen int
	byIdemKey       map[string]int
	auditLogsLen    int
	recoveryLogsLen int
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		accounts:        make(map[uuid.UUID]*domain.Account, len(s.accounts)),
		byNumber:        make(map[string]uuid.UUID, len(s.byNumber)),
		transactionsLen: len(s.transactions),
		byIdemKey:       make(map[string]int, len(s.byIdemKey)),
		auditLogsLen:    len(s.auditLogs),
		recoveryLogsLen: len(s.recoveryLogs),
	}
	for id, a := range s.accounts {
		cp := *a
		snap.accounts[id] = &cp
	}
	for n, id := range s.byNumber {
		snap.byNumber[n] = id
	}
	for k, i := range s.byIdemKey {
		snap.byIdemKey[k] = i
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.accounts = snap.accounts
	s.byNumber = snap.byNumber
	s.transactions = s.transactions[:snap.transactionsLen]
	s.byIdemKey = snap.byIdemKey
	s.auditLogs = s.auditLogs[:snap.auditLogsLen]
	s.recoveryLogs = s.recoveryLogs[:snap.recoveryLogsLen]
}

// WithTransaction implements domain.TransactionManager with
// snapshot-rollback semantics under the store mutex.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// GetByID retrieves a copy of an account by its internal identifier.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	defer s.lock(ctx)()
	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

// GetByNumber retrieves a copy of an account by its account number.
func (s *Store) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	defer s.lock(ctx)()
	id, ok := s.byNumber[number]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *s.accounts[id]
	return &cp, nil
}

// Lock returns the current row state. The surrounding transaction holds
// the store mutex, which already serializes every overlapping unit of
// work, so no per-row lock is needed.
func (s *Store) Lock(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.GetByID(ctx, id)
}

// UpdateBalance writes the account's balance and update timestamp back
// to the store.
func (s *Store) UpdateBalance(ctx context.Context, account *domain.Account) error {
	defer s.lock(ctx)()
	stored, ok := s.accounts[account.ID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	stored.Balance = account.Balance
	stored.UpdatedAt = account.UpdatedAt
	return nil
}

// Create appends a transaction record.
func (s *Store) Create(ctx context.Context, transaction *domain.Transaction) error {
	defer s.lock(ctx)()
	if transaction.IdempotencyKey != "" {
		if _, exists := s.byIdemKey[transaction.IdempotencyKey]; exists {
			return fmt.Errorf("transaction with idempotency key %q already exists", transaction.IdempotencyKey)
		}
		s.byIdemKey[transaction.IdempotencyKey] = len(s.transactions)
	}
	s.transactions = append(s.transactions, *transaction)
	return nil
}

// GetByID retrieves a transaction by its identifier.
func (s *Store) GetTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	defer s.lock(ctx)()
	for i := range s.transactions {
		if s.transactions[i].ID == id {
			cp := s.transactions[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("transaction %s not found", id)
}

// GetByIdempotencyKey retrieves a transaction by its idempotency key,
// or (nil, nil) when absent.
func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	defer s.lock(ctx)()
	i, ok := s.byIdemKey[key]
	if !ok {
		return nil, nil
	}
	cp := s.transactions[i]
	return &cp, nil
}

// ListByAccount returns the transactions an account participated in,
// newest first.
func (s *Store) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	defer s.lock(ctx)()
	var result []domain.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if (t.SenderAccountID != nil && *t.SenderAccountID == accountID) ||
			(t.ReceiverAccountID != nil && *t.ReceiverAccountID == accountID) {
			result = append(result, t)
		}
	}
	return result, nil
}

// Record appends one audit entry.
func (s *Store) Record(ctx context.Context, entry *domain.AuditLogEntry) error {
	defer s.lock(ctx)()
	s.auditLogs = append(s.auditLogs, *entry)
	return nil
}

// ListAuditByAccount returns an account's audit entries, newest first.
func (s *Store) ListAuditByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.AuditLogEntry, error) {
	defer s.lock(ctx)()
	var result []domain.AuditLogEntry
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		if s.auditLogs[i].AccountID == accountID {
			result = append(result, s.auditLogs[i])
		}
	}
	return result, nil
}

// Accounts implements domain.AccountRepository.
func (s *Store) Accounts() domain.AccountRepository { return (*accountView)(s) }

// Transactions implements domain.TransactionRepository.
func (s *Store) Transactions() domain.TransactionRepository { return (*transactionView)(s) }

// Audits implements domain.AuditRepository.
func (s *Store) Audits() domain.AuditRepository { return (*auditView)(s) }

// Recoveries implements domain.RecoveryRepository.
func (s *Store) Recoveries() domain.RecoveryRepository { return (*recoveryView)(s) }

// accountView, transactionView, auditView and recoveryView expose the
// store through the narrow repository interfaces without name clashes
// between Record/ListByAccount style methods.
type accountView Store

func (v *accountView) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return (*Store)(v).GetByID(ctx, id)
}

func (v *accountView) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	return (*Store)(v).GetByNumber(ctx, number)
}

func (v *accountView) Lock(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return (*Store)(v).Lock(ctx, id)
}

func (v *accountView) UpdateBalance(ctx context.Context, account *domain.Account) error {
	return (*Store)(v).UpdateBalance(ctx, account)
}

type transactionView Store

func (v *transactionView) Create(ctx context.Context, transaction *domain.Transaction) error {
	return (*Store)(v).Create(ctx, transaction)
}

func (v *transactionView) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return (*Store)(v).GetTransactionByID(ctx, id)
}

func (v *transactionView) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	return (*Store)(v).GetByIdempotencyKey(ctx, key)
}

func (v *transactionView) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	return (*Store)(v).ListByAccount(ctx, accountID)
}

type auditView Store

func (v *auditView) Record(ctx context.Context, entry *domain.AuditLogEntry) error {
	return (*Store)(v).Record(ctx, entry)
}

func (v *auditView) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.AuditLogEntry, error) {
	return (*Store)(v).ListAuditByAccount(ctx, accountID)
}

type recoveryView Store

func (v *recoveryView) Record(ctx context.Context, entry *domain.RecoveryLogEntry) error {
	s := (*Store)(v)
	defer s.lock(ctx)()
	s.recoveryLogs = append(s.recoveryLogs, *entry)
	return nil
}

func (v *recoveryView) List(ctx context.Context) ([]domain.RecoveryLogEntry, error) {
	s := (*Store)(v)
	defer s.lock(ctx)()
	result := make([]domain.RecoveryLogEntry, 0, len(s.recoveryLogs))
	for i := len(s.recoveryLogs) - 1; i >= 0; i-- {
		result = append(result, s.recoveryLogs[i])
	}
	return result, nil
}

// Compile-time checks: the views satisfy the domain interfaces.
var (
	_ domain.AccountRepository     = (*accountView)(nil)
	_ domain.TransactionRepository = (*transactionView)(nil)
	_ domain.AuditRepository       = (*auditView)(nil)
	_ domain.RecoveryRepository    = (*recoveryView)(nil)
	_ domain.TransactionManager    = (*Store)(nil)
)
