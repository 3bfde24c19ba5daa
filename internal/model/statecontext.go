package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FlowKind は StateContext のどのバリアントが有効かを示すタグ。
type FlowKind string

const (
	FlowOnboarding      FlowKind = "onboarding"
	FlowSale            FlowKind = "sale"
	FlowExpense         FlowKind = "expense"
	FlowProduct         FlowKind = "product"
	FlowCustomerPayment FlowKind = "customer_payment"
	FlowBankAccount     FlowKind = "bank_account"
	FlowBankSelection   FlowKind = "bank_selection"
	FlowReconcile       FlowKind = "reconcile"
)

// IsCollect はスロットフィリングの収集フローかどうかを返す。
func (k FlowKind) IsCollect() bool {
	switch k {
	case FlowSale, FlowExpense, FlowProduct, FlowCustomerPayment, FlowBankAccount:
		return true
	}
	return false
}

// 会話メモリのロール
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn は会話メモリの1ターン。
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StateContext はフロー種別をタグとするタグ付き共用体。
// Flow に対応するフィールドのみが非nilとなる。IDLE では StateContext 自体が nil。
type StateContext struct {
	Flow      FlowKind  `json:"flow"`
	UpdatedAt time.Time `json:"updatedAt"`

	Onboarding    *OnboardingScratch    `json:"onboarding,omitempty"`
	Collect       *CollectScratch       `json:"collect,omitempty"`
	BankSelection *BankSelectionScratch `json:"bankSelection,omitempty"`
	Reconcile     *ReconcileScratch     `json:"reconcile,omitempty"`
}

// OnboardingScratch はオンボーディング中の一時データ。
type OnboardingScratch struct {
	PendingEmail string    `json:"pendingEmail,omitempty"`
	OTPDigest    string    `json:"otpDigest,omitempty"` // OTPのSHA-256
	OTPExpiresAt time.Time `json:"otpExpiresAt,omitempty"`
	Attempts     int       `json:"attempts,omitempty"`
}

// CollectScratch はスロットフィリング中の会話メモリと既知エンティティ。
type CollectScratch struct {
	Memory       []Turn        `json:"memory"`
	ProductMatch *ProductMatch `json:"productMatch,omitempty"`
}

// ProductMatch は会話中に特定された既存商品のスナップショット。
type ProductMatch struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Stock int             `json:"stock"`
	Cost  decimal.Decimal `json:"cost"`
	Price decimal.Decimal `json:"price"`
}

// BankOption は選択肢として提示した銀行口座。
type BankOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BankSelectionScratch は口座選択待ちの未確定コマンド。Sale と Expense のどちらか一方を持つ。
type BankSelectionScratch struct {
	Sale    *SaleCommand    `json:"sale,omitempty"`
	Expense *ExpenseCommand `json:"expense,omitempty"`
	Options []BankOption    `json:"options"`
}

// ReconcileScratch は取引修正フローの一時データ。
type ReconcileScratch struct {
	Candidates    []string `json:"candidates,omitempty"` // 提示した取引ID
	TransactionID string   `json:"transactionId,omitempty"`
	Field         string   `json:"field,omitempty"`
}

// NewCollectContext は収集フロー用の空の StateContext を返す。
func NewCollectContext(flow FlowKind, now time.Time) *StateContext {
	return &StateContext{
		Flow:      flow,
		UpdatedAt: now,
		Collect:   &CollectScratch{Memory: []Turn{}},
	}
}

// NewOnboardingContext はオンボーディング用の StateContext を返す。
func NewOnboardingContext(now time.Time) *StateContext {
	return &StateContext{
		Flow:       FlowOnboarding,
		UpdatedAt:  now,
		Onboarding: &OnboardingScratch{},
	}
}

// Validate はタグと有効なバリアントが一致していることを検証する。
func (c *StateContext) Validate() error {
	variants := 0
	for _, set := range []bool{c.Onboarding != nil, c.Collect != nil, c.BankSelection != nil, c.Reconcile != nil} {
		if set {
			variants++
		}
	}
	if variants != 1 {
		return fmt.Errorf("state context for flow %q must carry exactly one variant, got %d", c.Flow, variants)
	}

	ok := false
	switch {
	case c.Flow == FlowOnboarding:
		ok = c.Onboarding != nil
	case c.Flow.IsCollect():
		ok = c.Collect != nil
	case c.Flow == FlowBankSelection:
		ok = c.BankSelection != nil && (c.BankSelection.Sale == nil) != (c.BankSelection.Expense == nil)
	case c.Flow == FlowReconcile:
		ok = c.Reconcile != nil
	}
	if !ok {
		return fmt.Errorf("state context variant does not match flow %q", c.Flow)
	}
	return nil
}
