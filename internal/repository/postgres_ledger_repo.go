package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/shopspring/decimal"
)

// --- 在庫変動ログ ---

// PostgresInventoryLogRepo はPostgreSQLを使用した在庫変動ログリポジトリ。
type PostgresInventoryLogRepo struct {
	db DBTX
}

// NewPostgresInventoryLogRepo はPostgresInventoryLogRepoを生成する。
func NewPostgresInventoryLogRepo(db DBTX) *PostgresInventoryLogRepo {
	return &PostgresInventoryLogRepo{db: db}
}

// Append はログを1件追記する。
func (r *PostgresInventoryLogRepo) Append(ctx context.Context, e *model.InventoryLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO inventory_logs (id, user_id, product_id, change, reason, reference_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.UserID, e.ProductID, e.Change, string(e.Reason), e.ReferenceID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append inventory log: %w", err)
	}
	return nil
}

// ListByProduct は商品の在庫変動ログを古い順に返す。
func (r *PostgresInventoryLogRepo) ListByProduct(ctx context.Context, userID, productID string) ([]*model.InventoryLogEntry, error) {
	return r.list(ctx, `product_id = $2`, userID, productID)
}

// ListByReference は原因となった取引IDに紐づくログを古い順に返す。
func (r *PostgresInventoryLogRepo) ListByReference(ctx context.Context, userID, referenceID string) ([]*model.InventoryLogEntry, error) {
	return r.list(ctx, `reference_id = $2`, userID, referenceID)
}

func (r *PostgresInventoryLogRepo) list(ctx context.Context, cond, userID, value string) ([]*model.InventoryLogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, product_id, change, reason, reference_id, created_at
		 FROM inventory_logs WHERE user_id = $1 AND `+cond+`
		 ORDER BY created_at, id`,
		userID, value,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory logs: %w", err)
	}
	defer rows.Close()

	var entries []*model.InventoryLogEntry
	for rows.Next() {
		e := &model.InventoryLogEntry{}
		var reason string
		if err := rows.Scan(&e.ID, &e.UserID, &e.ProductID, &e.Change, &reason, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan inventory log: %w", err)
		}
		e.Reason = model.InventoryReason(reason)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate inventory logs: %w", err)
	}
	return entries, nil
}

// --- 顧客 ---

// PostgresCustomerRepo はPostgreSQLを使用した顧客リポジトリ。
type PostgresCustomerRepo struct {
	db DBTX
}

// NewPostgresCustomerRepo はPostgresCustomerRepoを生成する。
func NewPostgresCustomerRepo(db DBTX) *PostgresCustomerRepo {
	return &PostgresCustomerRepo{db: db}
}

const customerColumns = `id, user_id, name, balance_owed, created_at, updated_at`

// FindByName は顧客名（大文字小文字を区別しない）で顧客を取得する。見つからない場合はnilを返す。
func (r *PostgresCustomerRepo) FindByName(ctx context.Context, userID, name string) (*model.Customer, error) {
	c := &model.Customer{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE user_id = $1 AND lower(name) = lower($2)`,
		userID, name,
	).Scan(&c.ID, &c.UserID, &c.Name, &c.BalanceOwed, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find customer by name: %w", err)
	}
	return c, nil
}

// ListByUser はユーザーの全顧客を名前順で返す。
func (r *PostgresCustomerRepo) ListByUser(ctx context.Context, userID string) ([]*model.Customer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE user_id = $1 ORDER BY lower(name)`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	var customers []*model.Customer
	for rows.Next() {
		c := &model.Customer{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.BalanceOwed, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate customers: %w", err)
	}
	return customers, nil
}

// Create は顧客を作成する。
func (r *PostgresCustomerRepo) Create(ctx context.Context, c *model.Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO customers (`+customerColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.UserID, c.Name, c.BalanceOwed, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

// UpdateBalanceOwed は残高に差分を加算し、更新後の残高を返す。
func (r *PostgresCustomerRepo) UpdateBalanceOwed(ctx context.Context, customerID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`UPDATE customers SET balance_owed = balance_owed + $2, updated_at = NOW()
		 WHERE id = $1 RETURNING balance_owed`,
		customerID, delta,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, fmt.Errorf("customer not found: %s", customerID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to update customer balance: %w", err)
	}
	return balance, nil
}

// --- 銀行口座 ---

// PostgresBankAccountRepo はPostgreSQLを使用した銀行口座リポジトリ。
type PostgresBankAccountRepo struct {
	db DBTX
}

// NewPostgresBankAccountRepo はPostgresBankAccountRepoを生成する。
func NewPostgresBankAccountRepo(db DBTX) *PostgresBankAccountRepo {
	return &PostgresBankAccountRepo{db: db}
}

const bankAccountColumns = `id, user_id, name, balance, created_at, updated_at`

func (r *PostgresBankAccountRepo) findOne(ctx context.Context, where string, args ...any) (*model.BankAccount, error) {
	a := &model.BankAccount{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+bankAccountColumns+` FROM bank_accounts WHERE `+where, args...,
	).Scan(&a.ID, &a.UserID, &a.Name, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find bank account: %w", err)
	}
	return a, nil
}

// FindByName は口座名（大文字小文字を区別しない）で口座を取得する。見つからない場合はnilを返す。
func (r *PostgresBankAccountRepo) FindByName(ctx context.Context, userID, name string) (*model.BankAccount, error) {
	return r.findOne(ctx, `user_id = $1 AND lower(name) = lower($2)`, userID, name)
}

// FindByID は指定ユーザーの口座を取得する。見つからない場合はnilを返す。
func (r *PostgresBankAccountRepo) FindByID(ctx context.Context, userID, id string) (*model.BankAccount, error) {
	return r.findOne(ctx, `user_id = $1 AND id = $2`, userID, id)
}

// ListByUser はユーザーの全口座を名前順で返す。
func (r *PostgresBankAccountRepo) ListByUser(ctx context.Context, userID string) ([]*model.BankAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bankAccountColumns+` FROM bank_accounts WHERE user_id = $1 ORDER BY lower(name)`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.BankAccount
	for rows.Next() {
		a := &model.BankAccount{}
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.Balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bank account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bank accounts: %w", err)
	}
	return accounts, nil
}

// Create は口座を作成する。
func (r *PostgresBankAccountRepo) Create(ctx context.Context, a *model.BankAccount) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bank_accounts (`+bankAccountColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.UserID, a.Name, a.Balance, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert bank account: %w", err)
	}
	return nil
}

// AdjustBalance は残高に差分を加算し、更新後の残高を返す。
func (r *PostgresBankAccountRepo) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`UPDATE bank_accounts SET balance = balance + $2, updated_at = NOW()
		 WHERE id = $1 RETURNING balance`,
		accountID, delta,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, fmt.Errorf("bank account not found: %s", accountID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to adjust bank balance: %w", err)
	}
	return balance, nil
}

// compile-time interface check
var (
	_ InventoryLogRepository = (*PostgresInventoryLogRepo)(nil)
	_ CustomerRepository     = (*PostgresCustomerRepo)(nil)
	_ BankAccountRepository  = (*PostgresBankAccountRepo)(nil)
)
