package domain

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferEngine executes atomic balance operations: transfers between
// two accounts and external deposits/withdrawals on a single account.
// Every operation runs inside one unit of work that covers the balance
// change, the audit entries and the transaction record; any failure
// before commit leaves balances exactly as they were.
//
// The engine never writes recovery logs. Failure reporting policy
// belongs to the caller, which keeps the engine free of knowledge about
// how its failures are diagnosed and avoids nesting a second unit of
// work inside an already-failed one.
type TransferEngine struct {
	accounts     AccountRepository
	transactions TransactionRepository
	audits       AuditRepository
	txManager    TransactionManager
	// Optional publisher for post-commit events. Nil disables publishing.
	publisher EventPublisher
}

// NewTransferEngine creates a TransferEngine. Pass nil for publisher if
// no events should be emitted.
func NewTransferEngine(
	accounts AccountRepository,
	transactions TransactionRepository,
	audits AuditRepository,
	txManager TransactionManager,
	publisher EventPublisher,
) *TransferEngine {
	return &TransferEngine{
		accounts:     accounts,
		transactions: transactions,
		audits:       audits,
		txManager:    txManager,
		publisher:    publisher,
	}
}

// Transfer atomically moves amount from the sender to the receiver:
//
//  1. Lock both account rows in ascending ID order, regardless of
//     direction, so two opposite transfers between the same pair can
//     never deadlock.
//  2. Re-read the sender balance under lock; reject with
//     ErrInsufficientFunds (available/required/shortfall) if it cannot
//     cover the amount.
//  3. Debit the sender, credit the receiver.
//  4. Append one audit entry per account with the old and new balance.
//  5. Append one COMPLETED transaction record.
//  6. Commit.
//
// A non-empty idempotencyKey that matches an existing transaction
// returns that transaction without executing again.
func (e *TransferEngine) Transfer(ctx context.Context, senderID, receiverID uuid.UUID, amount decimal.Decimal, description, idempotencyKey string) (*Transaction, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}
	if senderID == receiverID {
		return nil, ErrSameAccount
	}

	if existing, err := e.replay(ctx, idempotencyKey); err != nil || existing != nil {
		return existing, err
	}

	var transaction *Transaction
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		// Lock in ascending ID order to prevent deadlock between
		// concurrent transfers moving money in opposite directions.
		var sender, receiver *Account
		var err error
		if senderID.String() < receiverID.String() {
			if sender, err = e.accounts.Lock(txCtx, senderID); err != nil {
				return fmt.Errorf("failed to lock sender account: %w", err)
			}
			if receiver, err = e.accounts.Lock(txCtx, receiverID); err != nil {
				return fmt.Errorf("failed to lock receiver account: %w", err)
			}
		} else {
			if receiver, err = e.accounts.Lock(txCtx, receiverID); err != nil {
				return fmt.Errorf("failed to lock receiver account: %w", err)
			}
			if sender, err = e.accounts.Lock(txCtx, senderID); err != nil {
				return fmt.Errorf("failed to lock sender account: %w", err)
			}
		}

		if !sender.IsActive() {
			return fmt.Errorf("sender account %s: %w", sender.AccountNumber, ErrAccountInactive)
		}
		if !receiver.IsActive() {
			return fmt.Errorf("receiver account %s: %w", receiver.AccountNumber, ErrAccountInactive)
		}

		if !sender.HasSufficientFunds(amount) {
			return NewInsufficientFundsError(OperationTransfer, sender.Balance, amount)
		}

		oldSenderBalance := sender.Balance
		oldReceiverBalance := receiver.Balance

		if err := sender.Debit(amount); err != nil {
			return err
		}
		receiver.Credit(amount)

		if err := e.accounts.UpdateBalance(txCtx, sender); err != nil {
			return fmt.Errorf("failed to update sender balance: %w", err)
		}
		if err := e.accounts.UpdateBalance(txCtx, receiver); err != nil {
			return fmt.Errorf("failed to update receiver balance: %w", err)
		}

		if err := e.audits.Record(txCtx, NewAuditLogEntry(sender.ID, oldSenderBalance, sender.Balance, OperationTransferDebit)); err != nil {
			return fmt.Errorf("failed to record sender audit entry: %w", err)
		}
		if err := e.audits.Record(txCtx, NewAuditLogEntry(receiver.ID, oldReceiverBalance, receiver.Balance, OperationTransferCredit)); err != nil {
			return fmt.Errorf("failed to record receiver audit entry: %w", err)
		}

		transaction = NewTransferTransaction(senderID, receiverID, amount, description, idempotencyKey)
		if err := e.transactions.Create(txCtx, transaction); err != nil {
			return fmt.Errorf("failed to create transaction record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publishCompleted(transaction)
	return transaction, nil
}

// Deposit atomically credits an external deposit to one account.
func (e *TransferEngine) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description, idempotencyKey string) (*Transaction, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}

	if existing, err := e.replay(ctx, idempotencyKey); err != nil || existing != nil {
		return existing, err
	}

	var transaction *Transaction
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		account, err := e.accounts.Lock(txCtx, accountID)
		if err != nil {
			return fmt.Errorf("failed to lock account: %w", err)
		}
		if !account.IsActive() {
			return fmt.Errorf("account %s: %w", account.AccountNumber, ErrAccountInactive)
		}

		oldBalance := account.Balance
		account.Credit(amount)

		if err := e.accounts.UpdateBalance(txCtx, account); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		if err := e.audits.Record(txCtx, NewAuditLogEntry(account.ID, oldBalance, account.Balance, OperationDeposit)); err != nil {
			return fmt.Errorf("failed to record audit entry: %w", err)
		}

		transaction = NewDepositTransaction(accountID, amount, description, idempotencyKey)
		if err := e.transactions.Create(txCtx, transaction); err != nil {
			return fmt.Errorf("failed to create transaction record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transaction, nil
}

// Withdraw atomically debits an external withdrawal from one account,
// enforcing the non-negative balance invariant.
func (e *TransferEngine) Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description, idempotencyKey string) (*Transaction, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}

	if existing, err := e.replay(ctx, idempotencyKey); err != nil || existing != nil {
		return existing, err
	}

	var transaction *Transaction
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		account, err := e.accounts.Lock(txCtx, accountID)
		if err != nil {
			return fmt.Errorf("failed to lock account: %w", err)
		}
		if !account.IsActive() {
			return fmt.Errorf("account %s: %w", account.AccountNumber, ErrAccountInactive)
		}
		if !account.HasSufficientFunds(amount) {
			return NewInsufficientFundsError(OperationWithdrawal, account.Balance, amount)
		}

		oldBalance := account.Balance
		if err := account.Debit(amount); err != nil {
			return err
		}

		if err := e.accounts.UpdateBalance(txCtx, account); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		if err := e.audits.Record(txCtx, NewAuditLogEntry(account.ID, oldBalance, account.Balance, OperationWithdrawal)); err != nil {
			return fmt.Errorf("failed to record audit entry: %w", err)
		}

		transaction = NewWithdrawalTransaction(accountID, amount, description, idempotencyKey)
		if err := e.transactions.Create(txCtx, transaction); err != nil {
			return fmt.Errorf("failed to create transaction record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transaction, nil
}

// GetAccount retrieves the current state of an account.
func (e *TransferEngine) GetAccount(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetAccountByNumber retrieves an account by its external number.
func (e *TransferEngine) GetAccountByNumber(ctx context.Context, number string) (*Account, error) {
	account, err := e.accounts.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// AuditTrail returns the balance-change history of an account.
func (e *TransferEngine) AuditTrail(ctx context.Context, accountID uuid.UUID) ([]AuditLogEntry, error) {
	return e.audits.ListByAccount(ctx, accountID)
}

// Transactions returns the transactions an account participated in.
func (e *TransferEngine) Transactions(ctx context.Context, accountID uuid.UUID) ([]Transaction, error) {
	return e.transactions.ListByAccount(ctx, accountID)
}

// replay returns the previously completed transaction for a non-empty
// idempotency key, or nil when the operation should execute.
func (e *TransferEngine) replay(ctx context.Context, idempotencyKey string) (*Transaction, error) {
	if idempotencyKey == "" {
		return nil, nil
	}
	existing, err := e.transactions.GetByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	return existing, nil
}

// publishCompleted emits a transfer-completed event after commit.
// Publishing runs in a goroutine so a slow or failing broker never
// makes an already-committed transfer appear to fail.
func (e *TransferEngine) publishCompleted(transaction *Transaction) {
	if e.publisher == nil {
		return
	}
	go func(t *Transaction) {
		if err := e.publisher.PublishTransferCompleted(context.Background(), t); err != nil {
			log.Printf("warning: failed to publish transfer completed event: %v", err)
		}
	}(transaction)
}
