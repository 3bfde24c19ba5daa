// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/shopspring/decimal"
)

// ErrDuplicate は (user, 名前) などの一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate record")

// ErrInsufficientStock は在庫の減算で在庫数が負になることを表す。
var ErrInsufficientStock = errors.New("insufficient stock")

// UserRepository はユーザーと会話状態の永続化インターフェース（ステートストア）。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByChannelID はチャネル上の送信者IDでユーザーを取得する。見つからない場合はnilを返す。
	FindByChannelID(ctx context.Context, channelID string) (*model.User, error)

	// Create はユーザーを作成する。channel_id が重複する場合は ErrDuplicate を返す。
	Create(ctx context.Context, user *model.User) error

	// SaveState は (state, stateContext) を1回の書き込みで保存する。
	// ロックは取らず、同一ユーザーへの並行書き込みは後勝ちとなる。
	SaveState(ctx context.Context, userID string, state model.State, sc *model.StateContext) error

	// UpdateProfile は事業者名・メールアドレス・通貨を更新する。
	UpdateProfile(ctx context.Context, user *model.User) error

	// UpdateSubscription はサブスクリプションの状態と有効期限を更新する。
	UpdateSubscription(ctx context.Context, userID string, status model.SubscriptionStatus, expiresAt *time.Time) error
}

// ProductRepository は商品の永続化インターフェース。
type ProductRepository interface {
	// FindByName は商品名（大文字小文字を区別しない）で商品を取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, userID, name string) (*model.Product, error)

	// ListByUser はユーザーの全商品を名前順で返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Product, error)

	// Create は商品を作成する。同名商品が存在する場合は ErrDuplicate を返す。
	Create(ctx context.Context, product *model.Product) error

	// Update は原価・売価を更新する。在庫数は AdjustStock でのみ変更する。
	Update(ctx context.Context, product *model.Product) error

	// AdjustStock は在庫数に符号付き差分を加算し、更新後の商品を返す。
	// 加算は行単位で原子的に行い、在庫が負になる場合は ErrInsufficientStock を返して何も変更しない。
	AdjustStock(ctx context.Context, userID, productID string, delta int) (*model.Product, error)
}

// TransactionRepository は取引の永続化インターフェース。
type TransactionRepository interface {
	// Create は取引を作成する。
	Create(ctx context.Context, tx *model.Transaction) error

	// FindByID は指定ユーザーの取引を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.Transaction, error)

	// ListRecent は新しい順に最大limit件の取引を返す。
	ListRecent(ctx context.Context, userID string, limit int) ([]*model.Transaction, error)

	// ListBetween は期間 [from, to) に作成された取引を古い順に返す。
	ListBetween(ctx context.Context, userID string, from, to time.Time) ([]*model.Transaction, error)

	// ListBySource は SourceID が sourceID の取引（売上に付随する売上原価）を返す。
	ListBySource(ctx context.Context, userID, sourceID string) ([]*model.Transaction, error)

	// Update は金額・説明・カテゴリを更新する。
	Update(ctx context.Context, tx *model.Transaction) error

	// Delete は取引を削除する。
	Delete(ctx context.Context, userID, id string) error
}

// InventoryLogRepository は在庫変動ログの追記専用インターフェース。
// 更新・削除の操作は提供しない。
type InventoryLogRepository interface {
	// Append はログを1件追記する。
	Append(ctx context.Context, entry *model.InventoryLogEntry) error

	// ListByProduct は商品の在庫変動ログを古い順に返す。
	ListByProduct(ctx context.Context, userID, productID string) ([]*model.InventoryLogEntry, error)

	// ListByReference は原因となった取引IDに紐づくログを古い順に返す。
	ListByReference(ctx context.Context, userID, referenceID string) ([]*model.InventoryLogEntry, error)
}

// CustomerRepository は顧客の永続化インターフェース。
type CustomerRepository interface {
	// FindByName は顧客名（大文字小文字を区別しない）で顧客を取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, userID, name string) (*model.Customer, error)

	// ListByUser はユーザーの全顧客を名前順で返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Customer, error)

	// Create は顧客を作成する。同名顧客が存在する場合は ErrDuplicate を返す。
	Create(ctx context.Context, customer *model.Customer) error

	// UpdateBalanceOwed は残高に符号付き差分を加算し、更新後の残高を返す。
	// BalanceOwed を変更する唯一の経路。
	UpdateBalanceOwed(ctx context.Context, customerID string, delta decimal.Decimal) (decimal.Decimal, error)
}

// BankAccountRepository は銀行口座の永続化インターフェース。
type BankAccountRepository interface {
	// FindByName は口座名（大文字小文字を区別しない）で口座を取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, userID, name string) (*model.BankAccount, error)

	// FindByID は指定ユーザーの口座を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.BankAccount, error)

	// ListByUser はユーザーの全口座を名前順で返す。
	ListByUser(ctx context.Context, userID string) ([]*model.BankAccount, error)

	// Create は口座を作成する。同名口座が存在する場合は ErrDuplicate を返す。
	Create(ctx context.Context, account *model.BankAccount) error

	// AdjustBalance は残高に符号付き差分を加算し、更新後の残高を返す。
	AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error)
}

// IdempotencyRepository は処理済み外部イベントの台帳インターフェース。
type IdempotencyRepository interface {
	// Exists は参照番号が記録済みかどうかを返す。
	Exists(ctx context.Context, kind model.IdempotencyKind, reference string) (bool, error)

	// Record は参照番号を書き込み1回限りで記録する（check-and-set）。
	// このcallで記録された場合はtrue、既に記録済みの場合はfalseを返す。
	Record(ctx context.Context, rec *model.IdempotencyRecord) (bool, error)
}

// Repos は1つの作業単位で使用するリポジトリ群。
type Repos struct {
	Users         UserRepository
	Products      ProductRepository
	Transactions  TransactionRepository
	InventoryLogs InventoryLogRepository
	Customers     CustomerRepository
	BankAccounts  BankAccountRepository
	Idempotency   IdempotencyRepository
}

// Transactor は作業単位（トランザクション）の境界を提供する。
type Transactor interface {
	// WithinTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はすべての変更を破棄し、そのエラーを返す。
	WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

// Store はトランザクション外の単発操作用のリポジトリ群と Transactor を併せ持つ。
type Store interface {
	Transactor
	// Repos は各操作が個別にコミットされるリポジトリ群を返す。
	Repos() Repos
}

// DBTX は *sql.DB と *sql.Tx の共通インターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
