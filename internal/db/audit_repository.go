package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retail-banking/transfer-service/internal/domain"
)

// AuditRepository implements domain.AuditRepository using PostgreSQL.
// Entries are appended from within the TransferEngine's transaction, so
// their durability is bound to the operation's commit.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{
		pool: pool,
	}
}

// Record appends one balance-change entry.
func (r *AuditRepository) Record(ctx context.Context, entry *domain.AuditLogEntry) error {
	query := `
		INSERT INTO audit_logs (id, account_id, old_balance, new_balance, operation_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	var err error
	args := []any{
		entry.ID,
		entry.AccountID,
		entry.OldBalance,
		entry.NewBalance,
		string(entry.OperationType),
		entry.CreatedAt,
	}
	if tx := getTx(ctx); tx != nil {
		_, err = tx.Exec(ctx, query, args...)
	} else {
		_, err = r.pool.Exec(ctx, query, args...)
	}
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// ListByAccount returns an account's balance-change history, newest first.
func (r *AuditRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.AuditLogEntry, error) {
	query := `
		SELECT id, account_id, old_balance, new_balance, operation_type, created_at
		FROM audit_logs
		WHERE account_id = $1
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
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		var entry domain.AuditLogEntry
		var operationType string
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.OldBalance, &entry.NewBalance, &operationType, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.OperationType = domain.OperationType(operationType)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

var _ domain.AuditRepository = (*AuditRepository)(nil)
