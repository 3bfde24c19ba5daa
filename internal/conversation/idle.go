package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hitoshi/chatbooks/internal/intent"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/money"
)

// collectFlows は収集状態とフロー種別の対応。
var collectFlows = map[model.State]model.FlowKind{
	model.StateLoggingSale:            model.FlowSale,
	model.StateLoggingExpense:         model.FlowExpense,
	model.StateAddingProduct:          model.FlowProduct,
	model.StateLoggingCustomerPayment: model.FlowCustomerPayment,
	model.StateAddingBankAccount:      model.FlowBankAccount,
}

// intentFlows は複数ターンの入力を要するインテントと、その収集状態。
var intentFlows = map[model.Intent]struct {
	flow  model.FlowKind
	state model.State
}{
	model.IntentLogSale:            {model.FlowSale, model.StateLoggingSale},
	model.IntentLogExpense:         {model.FlowExpense, model.StateLoggingExpense},
	model.IntentAddProduct:         {model.FlowProduct, model.StateAddingProduct},
	model.IntentLogCustomerPayment: {model.FlowCustomerPayment, model.StateLoggingCustomerPayment},
	model.IntentAddBankAccount:     {model.FlowBankAccount, model.StateAddingBankAccount},
}

// servedWhenExpired はサブスクリプション失効中でも応答するインテント。
var servedWhenExpired = map[model.Intent]bool{
	model.IntentShowMenu:            true,
	model.IntentCheckSubscription:   true,
	model.IntentUpgradeSubscription: true,
	model.IntentGeneral:             true,
}

func (e *Engine) handleIdle(ctx context.Context, t *turn) error {
	if isCancel(t.text) {
		e.reply.Text(ctx, t.to, msgNothingToCancel)
		return nil
	}

	cls := e.classifier.Classify(ctx, t.text)
	e.logger.Debug("インテント分類",
		slog.String("user_id", t.user.ID),
		slog.String("intent", string(cls.Intent)),
		slog.String("source", string(cls.Source)),
	)
	if e.observer != nil {
		e.observer.ObserveIntent(cls.Intent, cls.Source)
	}

	if !servedWhenExpired[cls.Intent] && !t.user.SubscriptionActiveAt(t.now) {
		e.sendUpgrade(ctx, t, msgSubscriptionRequired)
		return nil
	}

	if f, ok := intentFlows[cls.Intent]; ok {
		return e.startFlow(ctx, t, f.flow, f.state, cls.Source == model.SourceFastPath)
	}

	c := cls.Context
	switch cls.Intent {
	case model.IntentCheckStock:
		e.reply.Text(ctx, t.to, e.tasks.CheckStock(ctx, t.user, "").Message)
	case model.IntentGenerateReport:
		rt := c.ReportType
		if rt == "" {
			rt = model.ReportPnL
		}
		e.reply.Text(ctx, t.to, e.tasks.Report(ctx, t.user, rt, c.Range).Message)
	case model.IntentFinancialSummary:
		e.reply.Text(ctx, t.to, e.tasks.FinancialSummary(ctx, t.user, c.Range).Message)
	case model.IntentFinancialInsight:
		e.reply.Text(ctx, t.to, e.tasks.FinancialInsight(ctx, t.user, c.Range).Message)
	case model.IntentCheckBankBalance:
		e.reply.Text(ctx, t.to, e.tasks.BankBalances(ctx, t.user).Message)
	case model.IntentCustomerBalances:
		e.reply.Text(ctx, t.to, e.tasks.CustomerBalances(ctx, t.user).Message)
	case model.IntentReconcile:
		return e.startReconcile(ctx, t)
	case model.IntentUpgradeSubscription:
		e.sendUpgrade(ctx, t, "")
	case model.IntentCheckSubscription:
		e.reply.Text(ctx, t.to, e.subscriptionStatus(t))
	case model.IntentShowMenu:
		e.sendMenu(ctx, t)
	default:
		reply := strings.TrimSpace(c.Reply)
		if reply == "" {
			reply = intent.ApologyReply
		}
		e.reply.Text(ctx, t.to, reply)
	}
	return nil
}

// upgradeLink は決済ページへのリンクを組み立てる。metadata として userId を渡す。
func (e *Engine) upgradeLink(u *model.User) string {
	if e.cfg.PaymentPageURL == "" {
		return ""
	}
	link, err := url.Parse(e.cfg.PaymentPageURL)
	if err != nil {
		e.logger.Warn("invalid payment page url", slog.String("error", err.Error()))
		return ""
	}
	q := link.Query()
	q.Set("userId", u.ID)
	if u.Email != "" {
		q.Set("email", u.Email)
	}
	link.RawQuery = q.Encode()
	return link.String()
}

func (e *Engine) sendUpgrade(ctx context.Context, t *turn, lead string) {
	var b strings.Builder
	if lead != "" {
		b.WriteString(lead)
		b.WriteString("\n\n")
	}
	if price, ok := e.cfg.PlanPrices[currencyOf(t.user)]; ok {
		fmt.Fprintf(&b, "⭐ ChatBooks Pro is %s per month.", money.Format(currencyOf(t.user), money.FromMinorUnits(price)))
	} else {
		b.WriteString("⭐ Upgrade to ChatBooks Pro to keep recording sales and expenses.")
	}
	if link := e.upgradeLink(t.user); link != "" {
		fmt.Fprintf(&b, "\nPay here: %s", link)
	} else {
		b.WriteString("\nOnline payment isn't available yet. Please contact support to upgrade.")
	}
	e.reply.Text(ctx, t.to, b.String())
}

func (e *Engine) subscriptionStatus(t *turn) string {
	u := t.user
	if u.SubscriptionActiveAt(t.now) {
		days := int(u.SubscriptionExpiresAt.Sub(t.now).Hours()/24) + 1
		label := "Pro plan"
		if u.SubscriptionStatus == model.SubscriptionTrial {
			label = "free trial"
		}
		return fmt.Sprintf("✅ Your %s is active until %s (%d days left).",
			label, u.SubscriptionExpiresAt.Format("2 Jan 2006"), days)
	}
	if u.SubscriptionExpiresAt != nil {
		return fmt.Sprintf("⚠️ Your subscription expired on %s. Say \"upgrade\" to renew.", u.SubscriptionExpiresAt.Format("2 Jan 2006"))
	}
	return "You don't have a subscription yet. Say \"upgrade\" to get started."
}

func currencyOf(u *model.User) string {
	if u.Currency == "" {
		return "NGN"
	}
	return u.Currency
}
