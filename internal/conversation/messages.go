package conversation

import (
	"context"

	"github.com/hitoshi/chatbooks/internal/channel"
	"github.com/hitoshi/chatbooks/internal/intent"
	"github.com/hitoshi/chatbooks/internal/model"
)

// ユーザー向けの定型文
const (
	msgMediaHint       = "📝 I can only read text for now. Please type it out, for example: \"Sold 5 bags of rice for 20k cash\"."
	msgRecovered       = "Sorry, something got mixed up on my side. Let's start fresh."
	msgCancelled       = "👍 Cancelled. Nothing was recorded."
	msgFlowExpired     = "⏱️ Your unfinished %s timed out, so I've cleared it."
	msgNothingToCancel = "There's nothing to cancel right now. Say \"menu\" to see what I can do."

	msgWelcome              = "👋 Welcome to ChatBooks! I'll help you keep your books right here in chat.\n\nFirst, what's the name of your business?"
	msgAskBusinessNameAgain = "Please send your business name (up to 80 characters)."
	msgAskEmail             = "Nice to meet you, %s! What's your email address? I'll send you a code to verify it."
	msgAskEmailAgain        = "Please send your email address so I can verify it."
	msgInvalidEmail         = "That doesn't look like an email address. Please try again, for example: ada@example.com"
	msgOTPSendFailed        = "I couldn't send the verification code just now. Please send your email address again."
	msgOTPSent              = "📧 I've sent a 6-digit code to %s. Please type it here. (Say \"resend\" if it didn't arrive.)"
	msgOTPResent            = "📧 I've sent a new code to %s."
	msgOTPExpired           = "That code has expired, so I've sent a new one to %s."
	msgOTPWrong             = "❌ That code isn't right. You have %d attempt(s) left."
	msgOTPTooManyAttempts   = "Too many wrong codes. Please send your email address again and I'll issue a new code."
	msgEmailVerified        = "✅ Email verified! Which currency does your business use?"
	msgPickCurrency         = "Please pick one of the currencies below."
	msgOnboardingSkipped    = "No problem, we can finish your profile later."
	msgOnboardingDone       = "🎉 You're all set, %s! Your %d-day free trial has started."

	msgSubscriptionRequired = "⚠️ Your subscription has expired, so I can't record new entries or run reports."
	msgSlotFillFailed       = "Sorry, I couldn't work that out. Please try again, or say \"cancel\" to stop."
	msgNoBankAccountsTip    = "💡 Tip: add a bank account (say \"add bank account\") to track bank balances."
	msgPickBankAccount      = "🏦 Which bank account was this?"
	msgPickBankAccountAgain = "Please choose one of your bank accounts below, or say \"cancel\"."

	msgNoTransactions       = "You don't have any transactions to edit yet."
	msgPickTransaction      = "Which transaction do you want to fix?"
	msgPickTransactionAgain = "Please pick a transaction from the list (or send its number), or say \"cancel\"."
	msgPickEditField        = "What would you like to change? You can also say \"category\"."
	msgPickEditFieldAgain   = "Please choose amount, description, category or delete."
	msgAskEditValue         = "What should the new %s be?"
	msgEditRetry            = "Please send the new value again, or say \"cancel\"."
)

// cancelWords は正規化後に完全一致で判定する取り消し語。
var cancelWords = map[string]bool{
	"cancel":     true,
	"stop":       true,
	"quit":       true,
	"exit":       true,
	"abort":      true,
	"nevermind":  true,
	"never mind": true,
}

func isCancel(text string) bool {
	return cancelWords[intent.Normalize(text)]
}

var flowLabels = map[model.FlowKind]string{
	model.FlowOnboarding:      "sign-up",
	model.FlowSale:            "sale",
	model.FlowExpense:         "expense",
	model.FlowProduct:         "product entry",
	model.FlowCustomerPayment: "customer payment",
	model.FlowBankAccount:     "bank account setup",
	model.FlowBankSelection:   "bank selection",
	model.FlowReconcile:       "transaction edit",
}

func flowLabel(sc *model.StateContext) string {
	if sc != nil {
		if l, ok := flowLabels[sc.Flow]; ok {
			return l
		}
	}
	return "request"
}

// menuSections はメインメニュー。行IDはインテント名で、選択するとそのまま分類の高速経路に乗る。
var menuSections = []channel.ListSection{
	{
		Title: "Record",
		Rows: []channel.ListRow{
			{ID: string(model.IntentLogSale), Title: "🛒 Log a sale"},
			{ID: string(model.IntentLogExpense), Title: "💸 Log an expense"},
			{ID: string(model.IntentAddProduct), Title: "📦 Add or restock product"},
			{ID: string(model.IntentLogCustomerPayment), Title: "👤 Customer payment"},
			{ID: string(model.IntentAddBankAccount), Title: "🏦 Add bank account"},
		},
	},
	{
		Title: "Reports",
		Rows: []channel.ListRow{
			{ID: string(model.IntentCheckStock), Title: "📋 Check stock"},
			{ID: string(model.IntentGenerateReport), Title: "📊 Profit & loss"},
			{ID: string(model.IntentFinancialSummary), Title: "🧾 Financial summary"},
			{ID: string(model.IntentFinancialInsight), Title: "💡 Insights"},
			{ID: string(model.IntentCheckBankBalance), Title: "🏦 Bank balances"},
			{ID: string(model.IntentCustomerBalances), Title: "👥 Who owes me"},
		},
	},
	{
		Title: "Account",
		Rows: []channel.ListRow{
			{ID: string(model.IntentReconcile), Title: "✏️ Edit a transaction"},
			{ID: string(model.IntentCheckSubscription), Title: "⭐ My subscription"},
			{ID: string(model.IntentUpgradeSubscription), Title: "🚀 Upgrade"},
		},
	},
}

func (e *Engine) sendMenu(ctx context.Context, t *turn) {
	e.reply.List(ctx, t.to, "ChatBooks menu",
		"What would you like to do? Pick an option or just tell me in your own words.", menuSections)
}
