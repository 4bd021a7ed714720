package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retail-banking/transfer-service/internal/domain"
)

// TransactionRepository implements domain.TransactionRepository using
// PostgreSQL. Rows are append-only: no update or delete is exposed.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{
		pool: pool,
	}
}

const transactionColumns = `id, transaction_type, amount, sender_account_id, receiver_account_id, status, description, idempotency_key, created_at`

// Create persists a new transaction record.
func (r *TransactionRepository) Create(ctx context.Context, transaction *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, transaction_type, amount,
			sender_account_id, receiver_account_id,
			status, description, idempotency_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
	`

	var err error
	args := []any{
		transaction.ID,
		string(transaction.Type),
		transaction.Amount,
		transaction.SenderAccountID,
		transaction.ReceiverAccountID,
		string(transaction.Status),
		transaction.Description,
		transaction.IdempotencyKey,
		transaction.CreatedAt,
	}
	if tx := getTx(ctx); tx != nil {
		_, err = tx.Exec(ctx, query, args...)
	} else {
		_, err = r.pool.Exec(ctx, query, args...)
	}
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by its identifier.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	transaction, err := r.scanTransaction(r.queryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s not found", id)
		}
		return nil, err
	}
	return transaction, nil
}

// GetByIdempotencyKey retrieves a transaction by its idempotency key.
// Returns (nil, nil) when no transaction carries the key.
func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`

	transaction, err := r.scanTransaction(r.queryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return transaction, nil
}

// ListByAccount returns the transactions an account participated in,
// newest first.
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE sender_account_id = $1 OR receiver_account_id = $1
		ORDER BY created_at DESC
	`

	var rows pgx.Rows
	var err error
	if tx := getTx(ctx); tx != nil {
		rows, err = tx.Query(ctx, query, accountID)
	} else {
		rows, err = r.pool.Query(ctx, query, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		transaction, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return transactions, nil
}

func (r *TransactionRepository) queryRow(ctx context.Context, query string, args ...any) pgx.Row {
	if tx := getTx(ctx); tx != nil {
		return tx.QueryRow(ctx, query, args...)
	}
	return r.pool.QueryRow(ctx, query, args...)
}

func (r *TransactionRepository) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var transaction domain.Transaction
	var transactionType, status string
	var idempotencyKey *string

	err := row.Scan(
		&transaction.ID,
		&transactionType,
		&transaction.Amount,
		&transaction.SenderAccountID,
		&transaction.ReceiverAccountID,
		&status,
		&transaction.Description,
		&idempotencyKey,
		&transaction.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	transaction.Type = domain.TransactionType(transactionType)
	transaction.Status = domain.TransactionStatus(status)
	if idempotencyKey != nil {
		transaction.IdempotencyKey = *idempotencyKey
	}
	return &transaction, nil
}

var _ domain.TransactionRepository = (*TransactionRepository)(nil)
