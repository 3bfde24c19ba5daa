package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/chatbooks/internal/model"
)

// PostgresIdempotencyRepo はPostgreSQLを使用した冪等性台帳リポジトリ。
type PostgresIdempotencyRepo struct {
	db DBTX
}

// NewPostgresIdempotencyRepo はPostgresIdempotencyRepoを生成する。
func NewPostgresIdempotencyRepo(db DBTX) *PostgresIdempotencyRepo {
	return &PostgresIdempotencyRepo{db: db}
}

// Exists は参照番号が記録済みかどうかを返す。
func (r *PostgresIdempotencyRepo) Exists(ctx context.Context, kind model.IdempotencyKind, reference string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM idempotency_records WHERE kind = $1 AND reference = $2)`,
		string(kind), reference,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency record: %w", err)
	}
	return exists, nil
}

// Record は参照番号を記録する。主キー (kind, reference) の衝突時は何もせずfalseを返す。
func (r *PostgresIdempotencyRepo) Record(ctx context.Context, rec *model.IdempotencyRecord) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO idempotency_records (kind, reference, outcome, user_id, amount_minor, currency, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7)
		 ON CONFLICT (kind, reference) DO NOTHING`,
		string(rec.Kind), rec.Reference, string(rec.Outcome), rec.UserID, rec.AmountMinor, rec.Currency, rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record idempotency key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// compile-time interface check
var _ IdempotencyRepository = (*PostgresIdempotencyRepo)(nil)
