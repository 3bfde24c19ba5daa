package model

import "github.com/shopspring/decimal"

// 以下はスロットフィリング完了後にタスク実行層へ渡す検証済みコマンド。
// 選択待ち状態では StateContext に未確定のまま保持されるため JSON タグを持つ。

// PaymentMethod は支出の支払手段を表す。
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentBank PaymentMethod = "bank"
)

// SaleCommand は売上記帳コマンド。
type SaleCommand struct {
	ProductName   string          `json:"productName"`
	UnitsSold     int             `json:"unitsSold"`
	Amount        decimal.Decimal `json:"amount"` // 売上合計額
	SaleType      SaleType        `json:"saleType"`
	CustomerName  string          `json:"customerName,omitempty"`
	BankAccountID string          `json:"bankAccountId,omitempty"`
}

// ExpenseCommand は支出記帳コマンド。
type ExpenseCommand struct {
	Amount        decimal.Decimal `json:"amount"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	PaymentMethod PaymentMethod   `json:"paymentMethod,omitempty"`
	BankAccountID string          `json:"bankAccountId,omitempty"`
}

// ProductCommand は商品追加・入庫コマンド。
// 既存商品への入庫で原価・売価の指定がない場合は既存値が設定される。
type ProductCommand struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Cost     decimal.Decimal `json:"cost"`
	Price    decimal.Decimal `json:"price"`
}

// CustomerPaymentKind は顧客残高変動の種類を表す。
type CustomerPaymentKind string

const (
	// CustomerPaid は顧客からの入金（債権が減る）。
	CustomerPaid CustomerPaymentKind = "payment"
	// CustomerCredit は掛けでの引き渡し（債権が増える）。
	CustomerCredit CustomerPaymentKind = "credit"
)

// CustomerPaymentCommand は顧客入金・掛け記帳コマンド。
type CustomerPaymentCommand struct {
	CustomerName string              `json:"customerName"`
	Amount       decimal.Decimal     `json:"amount"`
	Kind         CustomerPaymentKind `json:"kind"`
}

// Delta は BalanceOwed に加算する符号付きの差分を返す。
func (c CustomerPaymentCommand) Delta() decimal.Decimal {
	if c.Kind == CustomerCredit {
		return c.Amount
	}
	return c.Amount.Neg()
}

// BankAccountCommand は銀行口座追加コマンド。
type BankAccountCommand struct {
	Name           string          `json:"name"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
}

// ReconcileAction は取引修正の操作種別を表す。
type ReconcileAction string

const (
	ReconcileEdit   ReconcileAction = "edit"
	ReconcileDelete ReconcileAction = "delete"
)

// 修正可能なフィールド
const (
	EditFieldAmount      = "amount"
	EditFieldDescription = "description"
	EditFieldCategory    = "category"
)

// ReconcileCommand は既存取引の編集・削除コマンド。
type ReconcileCommand struct {
	TransactionID string
	Action        ReconcileAction
	Field         string
	Value         string // 数値フィールドは実行時に再検証する
}
