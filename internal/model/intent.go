package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Intent はユーザーメッセージが表すコマンドの閉じた列挙。
type Intent string

const (
	IntentLogSale             Intent = "log-sale"
	IntentLogExpense          Intent = "log-expense"
	IntentAddProduct          Intent = "add-product"
	IntentAddBankAccount      Intent = "add-bank-account"
	IntentLogCustomerPayment  Intent = "log-customer-payment"
	IntentCheckStock          Intent = "check-stock"
	IntentGenerateReport      Intent = "generate-report"
	IntentFinancialSummary    Intent = "get-financial-summary"
	IntentFinancialInsight    Intent = "get-financial-insight"
	IntentCheckBankBalance    Intent = "check-bank-balance"
	IntentCustomerBalances    Intent = "get-customer-balances"
	IntentReconcile           Intent = "reconcile-transaction"
	IntentUpgradeSubscription Intent = "upgrade-subscription"
	IntentCheckSubscription   Intent = "check-subscription"
	IntentShowMenu            Intent = "show-menu"
	IntentGeneral             Intent = "general-conversation"
)

// AllIntents は分類器が返しうる全インテント。
var AllIntents = []Intent{
	IntentLogSale, IntentLogExpense, IntentAddProduct, IntentAddBankAccount,
	IntentLogCustomerPayment, IntentCheckStock, IntentGenerateReport,
	IntentFinancialSummary, IntentFinancialInsight, IntentCheckBankBalance,
	IntentCustomerBalances, IntentReconcile, IntentUpgradeSubscription,
	IntentCheckSubscription, IntentShowMenu, IntentGeneral,
}

// ParseIntent は文字列をIntentに変換する。列挙外の値はfalseを返す。
func ParseIntent(s string) (Intent, bool) {
	for _, i := range AllIntents {
		if string(i) == s {
			return i, true
		}
	}
	return "", false
}

// Mutating は帳簿を変更するインテントかどうかを返す。
// サブスクリプション失効時はこれらを受け付けない。
func (i Intent) Mutating() bool {
	switch i {
	case IntentLogSale, IntentLogExpense, IntentAddProduct, IntentAddBankAccount,
		IntentLogCustomerPayment, IntentReconcile:
		return true
	}
	return false
}

// ReportType はレポートの種類を表す。
type ReportType string

const (
	ReportSales     ReportType = "sales"
	ReportExpenses  ReportType = "expenses"
	ReportInventory ReportType = "inventory"
	ReportPnL       ReportType = "pnl"
)

// DateRange は集計期間 [From, To) を表す。
type DateRange struct {
	From time.Time
	To   time.Time
}

// IntentContext は分類器が推定できた付随情報。
type IntentContext struct {
	Amount     *decimal.Decimal
	ReportType ReportType
	Range      *DateRange
	Reply      string // general-conversation 時の応答文
}

// IntentSource は分類結果の出所を表す。
type IntentSource string

const (
	SourceFastPath IntentSource = "fast_path"
	SourceProvider IntentSource = "provider"
	SourceFallback IntentSource = "fallback_provider"
	SourceKeywords IntentSource = "keywords"
)

// Classification は分類器の出力。
type Classification struct {
	Intent  Intent
	Context IntentContext
	Source  IntentSource
}
