package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType distinguishes the product a customer opened.
type AccountType string

const (
	AccountTypeSavings  AccountType = "SAVINGS"
	AccountTypeChecking AccountType = "CHECKING"
)

// AccountStatus represents the lifecycle state of an account.
// Closing an account sets the status; account rows are never deleted
// while transactions reference them.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusClosed AccountStatus = "CLOSED"
	AccountStatusFrozen AccountStatus = "FROZEN"
)

// Account is the core domain entity holding a customer balance.
// The balance is a fixed-point decimal and is mutated exclusively
// through the TransferEngine.
type Account struct {
	ID            uuid.UUID
	AccountNumber string // external, human-facing identifier, unique
	CustomerID    uuid.UUID
	BranchID      uuid.UUID
	Type          AccountType
	Balance       decimal.Decimal
	Status        AccountStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsActive reports whether the account may participate in operations.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// HasSufficientFunds checks if the account can cover the given amount.
func (a *Account) HasSufficientFunds(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}

// Debit subtracts amount from the balance. The resulting balance must
// stay non-negative; no account type permits overdraft.
func (a *Account) Debit(amount decimal.Decimal) error {
	newBalance := a.Balance.Sub(amount)
	if newBalance.IsNegative() {
		return ErrInsufficientFunds
	}
	a.Balance = newBalance
	a.UpdatedAt = time.Now()
	return nil
}

// Credit adds amount to the balance.
func (a *Account) Credit(amount decimal.Decimal) {
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = time.Now()
}

// TransactionType classifies a completed balance operation.
type TransactionType string

const (
	TransactionTypeTransfer   TransactionType = "TRANSFER"
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
)

// TransactionStatus represents the state of a recorded transaction.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusReversed  TransactionStatus = "REVERSED"
)

// Transaction is the immutable record of a completed operation.
// SenderAccountID is nil for external deposits, ReceiverAccountID is
// nil for external withdrawals. Exactly one row is created per
// successful TransferEngine invocation; rows are never mutated.
type Transaction struct {
	ID                uuid.UUID
	Type              TransactionType
	Amount            decimal.Decimal
	SenderAccountID   *uuid.UUID
	ReceiverAccountID *uuid.UUID
	Status            TransactionStatus
	Description       string
	IdempotencyKey    string // optional; empty disables replay detection
	CreatedAt         time.Time
}

// NewTransferTransaction creates a COMPLETED transfer record.
func NewTransferTransaction(senderID, receiverID uuid.UUID, amount decimal.Decimal, description, idempotencyKey string) *Transaction {
	return &Transaction{
		ID:                uuid.New(),
		Type:              TransactionTypeTransfer,
		Amount:            amount,
		SenderAccountID:   &senderID,
		ReceiverAccountID: &receiverID,
		Status:            TransactionStatusCompleted,
		Description:       description,
		IdempotencyKey:    idempotencyKey,
		CreatedAt:         time.Now(),
	}
}

// NewDepositTransaction creates a COMPLETED external-deposit record.
func NewDepositTransaction(receiverID uuid.UUID, amount decimal.Decimal, description, idempotencyKey string) *Transaction {
	return &Transaction{
		ID:                uuid.New(),
		Type:              TransactionTypeDeposit,
		Amount:            amount,
		ReceiverAccountID: &receiverID,
		Status:            TransactionStatusCompleted,
		Description:       description,
		IdempotencyKey:    idempotencyKey,
		CreatedAt:         time.Now(),
	}
}

// NewWithdrawalTransaction creates a COMPLETED external-withdrawal record.
func NewWithdrawalTransaction(senderID uuid.UUID, amount decimal.Decimal, description, idempotencyKey string) *Transaction {
	return &Transaction{
		ID:              uuid.New(),
		Type:            TransactionTypeWithdrawal,
		Amount:          amount,
		SenderAccountID: &senderID,
		Status:          TransactionStatusCompleted,
		Description:     description,
		IdempotencyKey:  idempotencyKey,
		CreatedAt:       time.Now(),
	}
}

// OperationType names the operation that caused a balance change or a
// failed attempt. Audit entries use the per-account variants, recovery
// entries use the operation-level ones.
type OperationType string

const (
	OperationTransfer       OperationType = "TRANSFER"
	OperationDeposit        OperationType = "DEPOSIT"
	OperationWithdrawal     OperationType = "WITHDRAWAL"
	OperationTransferDebit  OperationType = "TRANSFER_DEBIT"
	OperationTransferCredit OperationType = "TRANSFER_CREDIT"
)

// AuditLogEntry is the immutable record of one balance mutation on one
// account. NewBalance minus OldBalance always equals the signed amount
// the triggering operation applied to the account.
type AuditLogEntry struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	OldBalance    decimal.Decimal
	NewBalance    decimal.Decimal
	OperationType OperationType
	CreatedAt     time.Time
}

// NewAuditLogEntry creates an audit record for a single balance change.
func NewAuditLogEntry(accountID uuid.UUID, oldBalance, newBalance decimal.Decimal, op OperationType) *AuditLogEntry {
	return &AuditLogEntry{
		ID:            uuid.New(),
		AccountID:     accountID,
		OldBalance:    oldBalance,
		NewBalance:    newBalance,
		OperationType: op,
		CreatedAt:     time.Now(),
	}
}

// RecoveryLogEntry is the immutable diagnostic record of a failed
// operation attempt. Account references are best-effort and may point
// at accounts that were never mutated. SenderBalanceAtFailure is nil
// for operations with no sender-side balance, such as deposits. The
// entry is committed in its own unit of work after the failed operation
// rolled back.
type RecoveryLogEntry struct {
	ID                     uuid.UUID
	OperationType          OperationType
	SenderAccountID        *uuid.UUID
	ReceiverAccountID      *uuid.UUID
	AttemptedAmount        decimal.Decimal
	FailureReason          string
	SenderBalanceAtFailure *decimal.Decimal
	Details                map[string]any
	CreatedAt              time.Time
}

// NewRecoveryLogEntry creates a diagnostic record for a failed operation.
func NewRecoveryLogEntry(op OperationType, senderID, receiverID *uuid.UUID, amount decimal.Decimal, reason string, senderBalance *decimal.Decimal, details map[string]any) *RecoveryLogEntry {
	return &RecoveryLogEntry{
		ID:                     uuid.New(),
		OperationType:          op,
		SenderAccountID:        senderID,
		ReceiverAccountID:      receiverID,
		AttemptedAmount:        amount,
		FailureReason:          reason,
		SenderBalanceAtFailure: senderBalance,
		Details:                details,
		CreatedAt:              time.Now(),
	}
}
