package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product はユーザーが管理する在庫商品を表す。
// 名前はユーザー内で大文字小文字を区別せず一意。Stock は常に0以上。
type Product struct {
	ID        string
	UserID    string
	Name      string
	Stock     int
	Cost      decimal.Decimal // 1単位あたりの原価
	Price     decimal.Decimal // 1単位あたりの販売価格
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransactionType は取引の種別を表す。
type TransactionType string

const (
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
)

// SaleType は売上の決済手段を表す。
type SaleType string

const (
	SaleCash   SaleType = "cash"
	SaleBank   SaleType = "bank"
	SaleCredit SaleType = "credit"
)

// ParseSaleType は文字列をSaleTypeに変換する。未知の値はfalseを返す。
func ParseSaleType(s string) (SaleType, bool) {
	switch SaleType(s) {
	case SaleCash, SaleBank, SaleCredit:
		return SaleType(s), true
	}
	return "", false
}

// 自動記帳で使用するカテゴリ
const (
	CategorySales = "sales"
	CategoryCOGS  = "cost_of_goods_sold"
)

// Transaction は収入または支出の1件の記帳を表す。
// 作成後は再検証付きの編集コマンド経由でのみ変更される。
type Transaction struct {
	ID            string
	UserID        string
	Type          TransactionType
	Amount        decimal.Decimal // 常に正
	Description   string
	Category      string
	SaleType      SaleType // 売上のみ。空文字は未指定
	CustomerName  string
	BankAccountID string
	SourceID      string // 売上原価の場合は元になった売上取引のID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Customer は掛け売り・入金の相手先を表す。
// BalanceOwed は符号付きの累計で、UpdateBalanceOwed 経由でのみ変更する。
type Customer struct {
	ID          string
	UserID      string
	Name        string
	BalanceOwed decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BankAccount はユーザーの銀行口座を表す。(user, name) で一意。
type BankAccount struct {
	ID        string
	UserID    string
	Name      string
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InventoryReason は在庫変動の理由を表す。
type InventoryReason string

const (
	InventoryInitialStock InventoryReason = "initial_stock"
	InventoryPurchase     InventoryReason = "purchase"
	InventorySale         InventoryReason = "sale"
	InventorySaleReversal InventoryReason = "sale_reversal"
)

// InventoryLogEntry は在庫変動の追記専用監査レコード。更新・削除はしない。
type InventoryLogEntry struct {
	ID          string
	UserID      string
	ProductID   string
	Change      int // 入庫は正、出庫は負
	Reason      InventoryReason
	ReferenceID string // 原因となった取引ID等
	CreatedAt   time.Time
}
