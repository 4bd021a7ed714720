package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retail-banking/transfer-service/internal/domain"
)

// RecoveryRepository implements domain.RecoveryRepository using
// PostgreSQL. Record deliberately ignores any transaction in context:
// a recovery entry is written in its own unit of work after the failed
// operation's transaction rolled back, and holds no account row locks.
type RecoveryRepository struct {
	pool *pgxpool.Pool
}

// NewRecoveryRepository creates a new RecoveryRepository.
func NewRecoveryRepository(pool *pgxpool.Pool) *RecoveryRepository {
	return &RecoveryRepository{
		pool: pool,
	}
}

// Record appends one failed-operation entry in an independent commit.
func (r *RecoveryRepository) Record(ctx context.Context, entry *domain.RecoveryLogEntry) error {
	query := `
		INSERT INTO recovery_logs (
			id, operation_type, sender_account_id, receiver_account_id,
			attempted_amount, failure_reason, sender_balance_at_failure,
			additional_details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	// Always the pool, never getTx: the entry must commit on its own.
	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		string(entry.OperationType),
		entry.SenderAccountID,
		entry.ReceiverAccountID,
		entry.AttemptedAmount,
		entry.FailureReason,
		entry.SenderBalanceAtFailure,
		entry.Details,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record recovery entry: %w", err)
	}
	return nil
}

// List returns all recovery entries, newest first.
func (r *RecoveryRepository) List(ctx context.Context) ([]domain.RecoveryLogEntry, error) {
	query := `
		SELECT id, operation_type, sender_account_id, receiver_account_id,
		       attempted_amount, failure_reason, sender_balance_at_failure,
		       additional_details, created_at
		FROM recovery_logs
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list recovery entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.RecoveryLogEntry
	for rows.Next() {
		var entry domain.RecoveryLogEntry
		var operationType string
		err := rows.Scan(
			&entry.ID,
			&operationType,
			&entry.SenderAccountID,
			&entry.ReceiverAccountID,
			&entry.AttemptedAmount,
			&entry.FailureReason,
			&entry.SenderBalanceAtFailure,
			&entry.Details,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recovery entry: %w", err)
		}
		entry.OperationType = domain.OperationType(operationType)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list recovery entries: %w", err)
	}
	return entries, nil
}

var _ domain.RecoveryRepository = (*RecoveryRepository)(nil)
