// Package model はドメインモデルを定義する。
package model

import "time"

// State は会話ステートマシンの状態を表す。
type State string

const (
	StateNew                    State = "NEW"
	StateOnboardingBusinessName State = "ONBOARDING_BUSINESS_NAME"
	StateOnboardingEmail        State = "ONBOARDING_EMAIL"
	StateOnboardingOTP          State = "ONBOARDING_OTP"
	StateOnboardingCurrency     State = "ONBOARDING_CURRENCY"
	StateIdle                   State = "IDLE"

	// 収集状態（コマンドファミリーごとに1つ）
	StateLoggingSale            State = "LOGGING_SALE"
	StateLoggingExpense         State = "LOGGING_EXPENSE"
	StateAddingProduct          State = "ADDING_PRODUCT"
	StateLoggingCustomerPayment State = "LOGGING_CUSTOMER_PAYMENT"
	StateAddingBankAccount      State = "ADDING_BANK_ACCOUNT"

	// 選択・確認待ち状態
	StateAwaitingBankSelection State = "AWAITING_BANK_SELECTION"
	StateAwaitingItemSelection State = "AWAITING_ITEM_SELECTION"
	StateAwaitingEditField     State = "AWAITING_EDIT_FIELD"
	StateAwaitingEditValue     State = "AWAITING_EDIT_VALUE"
)

// IsOnboarding はオンボーディング中の状態かどうかを返す。
func (s State) IsOnboarding() bool {
	switch s {
	case StateOnboardingBusinessName, StateOnboardingEmail, StateOnboardingOTP, StateOnboardingCurrency:
		return true
	}
	return false
}

// IsFlow は収集状態または選択待ち状態かどうかを返す。
// アイドルフローの有効期限判定に使用する。
func (s State) IsFlow() bool {
	switch s {
	case StateLoggingSale, StateLoggingExpense, StateAddingProduct,
		StateLoggingCustomerPayment, StateAddingBankAccount,
		StateAwaitingBankSelection, StateAwaitingItemSelection,
		StateAwaitingEditField, StateAwaitingEditValue:
		return true
	}
	return false
}

// SubscriptionStatus はサブスクリプションの状態を表す。
type SubscriptionStatus string

const (
	SubscriptionNone    SubscriptionStatus = "none"
	SubscriptionTrial   SubscriptionStatus = "trial"
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionExpired SubscriptionStatus = "expired"
)

// User はチャネルアドレスで識別される利用者を表す。
// 初回受信イベントで作成され、物理削除はされない。
type User struct {
	ID        string
	ChannelID string // チャネル上の送信者ID（一意）

	State        State
	StateContext *StateContext // IDLE のときは常に nil

	BusinessName string
	Email        string
	Currency     string

	SubscriptionStatus    SubscriptionStatus
	SubscriptionExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubscriptionActiveAt は指定時刻にサブスクリプション（トライアル含む）が有効かどうかを返す。
func (u *User) SubscriptionActiveAt(now time.Time) bool {
	if u.SubscriptionExpiresAt == nil {
		return false
	}
	if u.SubscriptionStatus != SubscriptionActive && u.SubscriptionStatus != SubscriptionTrial {
		return false
	}
	return u.SubscriptionExpiresAt.After(now)
}
