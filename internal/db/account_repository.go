package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retail-banking/transfer-service/internal/domain"
)

// pgLockNotAvailable is the PostgreSQL error code raised when a row
// lock cannot be acquired within lock_timeout (55P03).
const pgLockNotAvailable = "55P03"

// AccountRepository implements domain.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{
		pool: pool,
	}
}

const accountColumns = `id, account_number, customer_id, branch_id, account_type, balance, status, created_at, updated_at`

// GetByID retrieves an account by its internal identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanAccount(r.queryRow(ctx, query, id))
}

// GetByNumber retrieves an account by its external account number.
func (r *AccountRepository) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`
	return r.scanAccount(r.queryRow(ctx, query, number))
}

// Lock acquires a pessimistic lock on the account row for the duration
// of the transaction. Must be called within a transaction context.
// Uses SELECT ... FOR UPDATE; a lock_timeout expiry surfaces as
// domain.ErrConcurrencyConflict.
func (r *AccountRepository) Lock(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	account, err := r.scanAccount(r.queryRow(ctx, query, id))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return nil, domain.ErrConcurrencyConflict
		}
		return nil, err
	}
	return account, nil
}

// UpdateBalance persists the account's balance and update timestamp.
func (r *AccountRepository) UpdateBalance(ctx context.Context, account *domain.Account) error {
	query := `
		UPDATE accounts
		SET balance = $2,
		    updated_at = $3
		WHERE id = $1
	`

	var result pgconn.CommandTag
	var err error
	if tx := getTx(ctx); tx != nil {
		result, err = tx.Exec(ctx, query, account.ID, account.Balance, account.UpdatedAt)
	} else {
		result, err = r.pool.Exec(ctx, query, account.ID, account.Balance, account.UpdatedAt)
	}
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// queryRow runs the query on the transaction if one is in context,
// otherwise on the pool.
func (r *AccountRepository) queryRow(ctx context.Context, query string, args ...any) pgx.Row {
	if tx := getTx(ctx); tx != nil {
		return tx.QueryRow(ctx, query, args...)
	}
	return r.pool.QueryRow(ctx, query, args...)
}

func (r *AccountRepository) scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID,
		&account.AccountNumber,
		&account.CustomerID,
		&account.BranchID,
		&account.Type,
		&account.Balance,
		&account.Status,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

var _ domain.AccountRepository = (*AccountRepository)(nil)
