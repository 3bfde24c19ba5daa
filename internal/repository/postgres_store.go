package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore はPostgreSQLを使用した Store 実装。
// WithinTx 内のリポジトリはすべて同一の *sql.Tx を共有する。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Repos は *sql.DB 上のリポジトリ群を返す。各操作は個別にコミットされる。
func (s *PostgresStore) Repos() Repos {
	return reposOver(s.db)
}

// WithinTx はfnを1つの sql.Tx 内で実行する。fnがエラーを返すかpanicした場合はロールバックする。
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, reposOver(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func reposOver(db DBTX) Repos {
	return Repos{
		Users:         NewPostgresUserRepo(db),
		Products:      NewPostgresProductRepo(db),
		Transactions:  NewPostgresTransactionRepo(db),
		InventoryLogs: NewPostgresInventoryLogRepo(db),
		Customers:     NewPostgresCustomerRepo(db),
		BankAccounts:  NewPostgresBankAccountRepo(db),
		Idempotency:   NewPostgresIdempotencyRepo(db),
	}
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
