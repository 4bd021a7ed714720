package domain

import (
	"context"

	"github.com/google/uuid"
)

// AccountRepository defines data access for accounts. It is the only
// component allowed to read or write balances; all balance writes go
// through the TransferEngine.
type AccountRepository interface {
	// GetByID retrieves an account by its internal identifier.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// GetByNumber retrieves an account by its external account number.
	GetByNumber(ctx context.Context, number string) (*Account, error)

	// Lock acquires a row lock on the account for the duration of the
	// surrounding transaction and returns the current row state.
	// Must be called within a transaction context. Returns
	// ErrConcurrencyConflict if the lock cannot be acquired within the
	// configured timeout.
	Lock(ctx context.Context, id uuid.UUID) (*Account, error)

	// UpdateBalance persists the account's balance and update timestamp.
	UpdateBalance(ctx context.Context, account *Account) error
}

// TransactionRepository defines data access for completed transaction
// records. Records are append-only.
type TransactionRepository interface {
	// Create persists a new transaction record.
	Create(ctx context.Context, transaction *Transaction) error

	// GetByID retrieves a transaction by its identifier.
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// GetByIdempotencyKey retrieves a transaction by its idempotency key.
	// Returns (nil, nil) when no transaction carries the key.
	GetByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)

	// ListByAccount returns the transactions an account participated in,
	// newest first.
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]Transaction, error)
}

// AuditRepository is the append-only recorder of balance mutations.
// Record is only ever called from within the TransferEngine's
// transaction, so its durability is bound to the operation's commit.
type AuditRepository interface {
	Record(ctx context.Context, entry *AuditLogEntry) error
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]AuditLogEntry, error)
}

// RecoveryRepository is the append-only recorder of failed operation
// attempts. Record always runs in its own unit of work, independent of
// the failed operation's rolled-back transaction, and must never be
// called with a transaction context.
type RecoveryRepository interface {
	Record(ctx context.Context, entry *RecoveryLogEntry) error
	List(ctx context.Context) ([]RecoveryLogEntry, error)
}

// TransactionManager runs a function within one atomic unit of work.
// If the function returns an error the unit is rolled back, otherwise
// it is committed.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher publishes domain events to external systems after the
// operation's unit of work committed. Publishing is best-effort.
type EventPublisher interface {
	PublishTransferCompleted(ctx context.Context, transaction *Transaction) error
}
