package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/chatbooks/internal/model"
)

// PostgresTransactionRepo はPostgreSQLを使用した取引リポジトリ。
type PostgresTransactionRepo struct {
	db DBTX
}

// NewPostgresTransactionRepo はPostgresTransactionRepoを生成する。
func NewPostgresTransactionRepo(db DBTX) *PostgresTransactionRepo {
	return &PostgresTransactionRepo{db: db}
}

const transactionColumns = `id, user_id, type, amount, description, category,
	COALESCE(sale_type, ''), COALESCE(customer_name, ''), COALESCE(bank_account_id::text, ''),
	COALESCE(source_id::text, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	t := &model.Transaction{}
	var txType, saleType string
	err := row.Scan(&t.ID, &t.UserID, &txType, &t.Amount, &t.Description, &t.Category,
		&saleType, &t.CustomerName, &t.BankAccountID, &t.SourceID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = model.TransactionType(txType)
	t.SaleType = model.SaleType(saleType)
	return t, nil
}

// Create は取引を作成する。
func (r *PostgresTransactionRepo) Create(ctx context.Context, t *model.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions
		   (id, user_id, type, amount, description, category, sale_type, customer_name, bank_account_id, source_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, '')::uuid, NULLIF($10, '')::uuid, $11, $12)`,
		t.ID, t.UserID, string(t.Type), t.Amount, t.Description, t.Category,
		string(t.SaleType), t.CustomerName, t.BankAccountID, t.SourceID, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// FindByID は指定ユーザーの取引を取得する。見つからない場合はnilを返す。
func (r *PostgresTransactionRepo) FindByID(ctx context.Context, userID, id string) (*model.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction by ID: %w", err)
	}
	return t, nil
}

// ListRecent は新しい順に最大limit件の取引を返す。
func (r *PostgresTransactionRepo) ListRecent(ctx context.Context, userID string, limit int) ([]*model.Transaction, error) {
	return r.list(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit,
	)
}

// ListBetween は期間 [from, to) に作成された取引を古い順に返す。
func (r *PostgresTransactionRepo) ListBetween(ctx context.Context, userID string, from, to time.Time) ([]*model.Transaction, error) {
	return r.list(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		 ORDER BY created_at, id`,
		userID, from, to,
	)
}

// ListBySource は SourceID が sourceID の取引を返す。
func (r *PostgresTransactionRepo) ListBySource(ctx context.Context, userID, sourceID string) ([]*model.Transaction, error) {
	return r.list(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE user_id = $1 AND source_id = $2
		 ORDER BY created_at, id`,
		userID, sourceID,
	)
}

func (r *PostgresTransactionRepo) list(ctx context.Context, query string, args ...any) ([]*model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

// Update は金額・説明・カテゴリを更新する。
func (r *PostgresTransactionRepo) Update(ctx context.Context, t *model.Transaction) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET amount = $3, description = $4, category = $5, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`,
		t.ID, t.UserID, t.Amount, t.Description, t.Category,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return requireAffected(result, "transaction", t.ID)
}

// Delete は取引を削除する。
func (r *PostgresTransactionRepo) Delete(ctx context.Context, userID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return requireAffected(result, "transaction", id)
}

// compile-time interface check
var _ TransactionRepository = (*PostgresTransactionRepo)(nil)
