package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hitoshi/chatbooks/internal/channel"
	"github.com/hitoshi/chatbooks/internal/executor"
	"github.com/hitoshi/chatbooks/internal/intent"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/slotfill"
)

// flowOpeners はメニューやボタンからフローを開始したときの最初の質問。
var flowOpeners = map[model.FlowKind]string{
	model.FlowSale:            "🛒 What did you sell? Tell me the product, how many units, the total amount and whether it was cash, bank or credit.",
	model.FlowExpense:         "💸 What did you spend on? Tell me the amount and what it was for.",
	model.FlowProduct:         "📦 Which product are you adding? Tell me the name, quantity, cost price and selling price.",
	model.FlowCustomerPayment: "👤 Which customer is this for, how much, and did they pay you or take goods on credit?",
	model.FlowBankAccount:     "🏦 What's the name of the bank account, and what's its current balance?",
}

// startFlow は収集フローを開始する。
// 定型フレーズで開始した場合は質問を返し、自然文の場合はその文をそのまま最初のターンとして処理する。
func (e *Engine) startFlow(ctx context.Context, t *turn, flow model.FlowKind, state model.State, fastPath bool) error {
	sc := model.NewCollectContext(flow, t.now)
	if fastPath {
		opener := flowOpeners[flow]
		sc.Collect.Memory = append(sc.Collect.Memory, model.Turn{Role: model.RoleAssistant, Content: opener})
		if err := e.save(ctx, t, state, sc); err != nil {
			return err
		}
		e.reply.Text(ctx, t.to, opener)
		return nil
	}
	return e.collect(ctx, t, state, flow, sc)
}

func (e *Engine) handleCollect(ctx context.Context, t *turn, flow model.FlowKind) error {
	sc := t.user.StateContext
	if sc == nil || sc.Collect == nil || sc.Flow != flow {
		return e.recoverUnknownState(ctx, t)
	}
	return e.collect(ctx, t, t.user.State, flow, sc)
}

// collect はスロットフィリングを1ターン進める。完了した場合はコマンドを実行してIDLEへ戻る。
func (e *Engine) collect(ctx context.Context, t *turn, state model.State, flow model.FlowKind, sc *model.StateContext) error {
	res := e.slots.Continue(ctx, t.user, flow, sc.Collect, t.text)
	switch res.Status {
	case slotfill.Incomplete:
		if err := e.save(ctx, t, state, sc); err != nil {
			return err
		}
		e.reply.Text(ctx, t.to, res.Reply)
		return nil
	case slotfill.Failed:
		e.logger.Warn("スロットフィリングに失敗",
			slog.String("user_id", t.user.ID),
			slog.String("flow", string(flow)),
			slog.String("reason", res.Reason),
		)
		if err := e.save(ctx, t, state, sc); err != nil {
			return err
		}
		e.reply.Text(ctx, t.to, msgSlotFillFailed)
		return nil
	}
	return e.completeCommand(ctx, t, res.Command)
}

// completeCommand は検証済みコマンドを実行する。口座の指定が必要な場合は口座選択へ進む。
// 実行結果に関わらず状態はIDLEへ戻す。
func (e *Engine) completeCommand(ctx context.Context, t *turn, cmd any) error {
	switch c := cmd.(type) {
	case *model.SaleCommand:
		if c.SaleType == model.SaleBank && c.BankAccountID == "" {
			return e.beginBankSelection(ctx, t, &model.BankSelectionScratch{Sale: c})
		}
	case *model.ExpenseCommand:
		if c.PaymentMethod == model.PaymentBank && c.BankAccountID == "" {
			return e.beginBankSelection(ctx, t, &model.BankSelectionScratch{Expense: c})
		}
	}
	if err := e.save(ctx, t, model.StateIdle, nil); err != nil {
		return err
	}
	e.reply.Text(ctx, t.to, e.execute(ctx, t, cmd).Message)
	return nil
}

func (e *Engine) execute(ctx context.Context, t *turn, cmd any) executor.Result {
	switch c := cmd.(type) {
	case *model.SaleCommand:
		return e.tasks.LogSale(ctx, t.user, c)
	case *model.ExpenseCommand:
		return e.tasks.LogExpense(ctx, t.user, c)
	case *model.ProductCommand:
		return e.tasks.AddProduct(ctx, t.user, c)
	case *model.CustomerPaymentCommand:
		return e.tasks.LogCustomerPayment(ctx, t.user, c)
	case *model.BankAccountCommand:
		return e.tasks.AddBankAccount(ctx, t.user, c)
	case *model.ReconcileCommand:
		return e.tasks.ReconcileTransaction(ctx, t.user, c)
	}
	e.logger.Error("unsupported command type",
		slog.String("user_id", t.user.ID),
		slog.String("type", fmt.Sprintf("%T", cmd)),
	)
	return executor.Result{Message: executor.GenericFailureMessage}
}

func pendingCommand(bs *model.BankSelectionScratch) any {
	if bs.Sale != nil {
		return bs.Sale
	}
	return bs.Expense
}

func setBankAccount(bs *model.BankSelectionScratch, accountID string) {
	if bs.Sale != nil {
		bs.Sale.BankAccountID = accountID
		return
	}
	bs.Expense.BankAccountID = accountID
}

// beginBankSelection は登録口座の数に応じて口座を決める。
// 口座がなければ口座なしで記帳し、1つなら自動選択し、複数なら選択待ちへ進む。
func (e *Engine) beginBankSelection(ctx context.Context, t *turn, bs *model.BankSelectionScratch) error {
	accounts, err := e.tasks.BankAccounts(ctx, t.user)
	if err != nil {
		return err
	}

	switch len(accounts) {
	case 0:
		if err := e.save(ctx, t, model.StateIdle, nil); err != nil {
			return err
		}
		res := e.execute(ctx, t, pendingCommand(bs))
		msg := res.Message
		if res.Success {
			msg += "\n\n" + msgNoBankAccountsTip
		}
		e.reply.Text(ctx, t.to, msg)
		return nil
	case 1:
		setBankAccount(bs, accounts[0].ID)
		if err := e.save(ctx, t, model.StateIdle, nil); err != nil {
			return err
		}
		e.reply.Text(ctx, t.to, e.execute(ctx, t, pendingCommand(bs)).Message)
		return nil
	}

	bs.Options = make([]model.BankOption, 0, len(accounts))
	for _, a := range accounts {
		bs.Options = append(bs.Options, model.BankOption{ID: a.ID, Name: a.Name})
	}
	sc := &model.StateContext{Flow: model.FlowBankSelection, BankSelection: bs}
	if err := e.save(ctx, t, model.StateAwaitingBankSelection, sc); err != nil {
		return err
	}
	e.sendBankOptions(ctx, t, msgPickBankAccount, bs.Options)
	return nil
}

func bankButtonID(id string) string { return "bank:" + id }

func (e *Engine) sendBankOptions(ctx context.Context, t *turn, body string, options []model.BankOption) {
	if len(options) <= channel.MaxButtons {
		buttons := make([]channel.Button, 0, len(options))
		for _, o := range options {
			buttons = append(buttons, channel.Button{ID: bankButtonID(o.ID), Title: o.Name})
		}
		e.reply.Buttons(ctx, t.to, body, buttons)
		return
	}
	rows := make([]channel.ListRow, 0, len(options))
	for _, o := range options {
		rows = append(rows, channel.ListRow{ID: bankButtonID(o.ID), Title: o.Name})
	}
	e.reply.List(ctx, t.to, "Bank accounts", body, []channel.ListSection{{Title: "Accounts", Rows: rows}})
}

// matchBankOption はボタンID、口座ID、表示番号（1始まり）、口座名のいずれかで選択肢を特定する。
func matchBankOption(text string, options []model.BankOption) (model.BankOption, bool) {
	raw := strings.TrimSpace(text)
	id := strings.TrimPrefix(raw, "bank:")
	for _, o := range options {
		if o.ID == id {
			return o, true
		}
	}
	if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], true
	}
	norm := intent.Normalize(raw)
	for _, o := range options {
		if intent.Normalize(o.Name) == norm {
			return o, true
		}
	}
	return model.BankOption{}, false
}

func (e *Engine) handleBankSelection(ctx context.Context, t *turn) error {
	sc := t.user.StateContext
	if sc == nil || sc.Validate() != nil || sc.Flow != model.FlowBankSelection {
		return e.recoverUnknownState(ctx, t)
	}
	bs := sc.BankSelection

	opt, ok := matchBankOption(t.text, bs.Options)
	if !ok {
		e.sendBankOptions(ctx, t, msgPickBankAccountAgain, bs.Options)
		return nil
	}

	setBankAccount(bs, opt.ID)
	if err := e.save(ctx, t, model.StateIdle, nil); err != nil {
		return err
	}
	e.reply.Text(ctx, t.to, e.execute(ctx, t, pendingCommand(bs)).Message)
	return nil
}
