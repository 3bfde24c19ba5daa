package conversation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hitoshi/chatbooks/internal/channel"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/money"
)

// reconcileListSize は修正候補として提示する直近の取引数。
const reconcileListSize = 10

func txRowID(id string) string { return "tx:" + id }

func (e *Engine) startReconcile(ctx context.Context, t *turn) error {
	txs, err := e.tasks.RecentTransactions(ctx, t.user, reconcileListSize)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		e.reply.Text(ctx, t.to, msgNoTransactions)
		return nil
	}

	ids := make([]string, 0, len(txs))
	rows := make([]channel.ListRow, 0, len(txs))
	for i, tx := range txs {
		ids = append(ids, tx.ID)
		rows = append(rows, channel.ListRow{
			ID:          txRowID(tx.ID),
			Title:       fmt.Sprintf("%d. %s %s", i+1, txKindLabel(tx), money.Format(currencyOf(t.user), tx.Amount)),
			Description: fmt.Sprintf("%s · %s", tx.CreatedAt.Format("2 Jan"), tx.Description),
		})
	}

	sc := &model.StateContext{Flow: model.FlowReconcile, Reconcile: &model.ReconcileScratch{Candidates: ids}}
	if err := e.save(ctx, t, model.StateAwaitingItemSelection, sc); err != nil {
		return err
	}
	e.reply.List(ctx, t.to, "Recent transactions", msgPickTransaction,
		[]channel.ListSection{{Title: "Transactions", Rows: rows}})
	return nil
}

func txKindLabel(tx *model.Transaction) string {
	switch {
	case tx.Type == model.TransactionIncome:
		return "Sale"
	case tx.Category == model.CategoryCOGS:
		return "Cost of goods"
	}
	return "Expense"
}

func (e *Engine) reconcileScratch(t *turn) (*model.ReconcileScratch, bool) {
	sc := t.user.StateContext
	if sc == nil || sc.Validate() != nil || sc.Flow != model.FlowReconcile {
		return nil, false
	}
	return sc.Reconcile, true
}

// matchCandidate は行ID、取引ID、表示番号（1始まり）で候補を特定する。
func matchCandidate(text string, candidates []string) (string, bool) {
	raw := strings.TrimSpace(text)
	id := strings.TrimPrefix(raw, "tx:")
	for _, c := range candidates {
		if c == id {
			return c, true
		}
	}
	if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= len(candidates) {
		return candidates[n-1], true
	}
	return "", false
}

func (e *Engine) handleItemSelection(ctx context.Context, t *turn) error {
	rs, ok := e.reconcileScratch(t)
	if !ok {
		return e.recoverUnknownState(ctx, t)
	}
	id, ok := matchCandidate(t.text, rs.Candidates)
	if !ok {
		e.reply.Text(ctx, t.to, msgPickTransactionAgain)
		return nil
	}

	sc := &model.StateContext{Flow: model.FlowReconcile, Reconcile: &model.ReconcileScratch{TransactionID: id}}
	if err := e.save(ctx, t, model.StateAwaitingEditField, sc); err != nil {
		return err
	}
	e.sendEditFieldButtons(ctx, t, msgPickEditField)
	return nil
}

func (e *Engine) sendEditFieldButtons(ctx context.Context, t *turn, body string) {
	e.reply.Buttons(ctx, t.to, body, []channel.Button{
		{ID: "edit:" + model.EditFieldAmount, Title: "Amount"},
		{ID: "edit:" + model.EditFieldDescription, Title: "Description"},
		{ID: "edit:delete", Title: "Delete"},
	})
}

func parseEditChoice(text string) string {
	choice := strings.ToLower(strings.TrimSpace(text))
	choice = strings.TrimPrefix(choice, "edit:")
	switch choice {
	case model.EditFieldAmount, "price", "total":
		return model.EditFieldAmount
	case model.EditFieldDescription, "desc", "note":
		return model.EditFieldDescription
	case model.EditFieldCategory:
		return model.EditFieldCategory
	case "delete", "remove":
		return "delete"
	}
	return ""
}

func (e *Engine) handleEditField(ctx context.Context, t *turn) error {
	rs, ok := e.reconcileScratch(t)
	if !ok || rs.TransactionID == "" {
		return e.recoverUnknownState(ctx, t)
	}

	choice := parseEditChoice(t.text)
	switch choice {
	case "":
		e.sendEditFieldButtons(ctx, t, msgPickEditFieldAgain)
		return nil
	case "delete":
		cmd := &model.ReconcileCommand{TransactionID: rs.TransactionID, Action: model.ReconcileDelete}
		if err := e.save(ctx, t, model.StateIdle, nil); err != nil {
			return err
		}
		e.reply.Text(ctx, t.to, e.execute(ctx, t, cmd).Message)
		return nil
	}

	sc := &model.StateContext{Flow: model.FlowReconcile, Reconcile: &model.ReconcileScratch{
		TransactionID: rs.TransactionID,
		Field:         choice,
	}}
	if err := e.save(ctx, t, model.StateAwaitingEditValue, sc); err != nil {
		return err
	}
	e.reply.Text(ctx, t.to, fmt.Sprintf(msgAskEditValue, choice))
	return nil
}

// handleEditValue は新しい値で取引を更新する。拒否された場合は状態を保ったまま再入力を促す。
func (e *Engine) handleEditValue(ctx context.Context, t *turn) error {
	rs, ok := e.reconcileScratch(t)
	if !ok || rs.TransactionID == "" || rs.Field == "" {
		return e.recoverUnknownState(ctx, t)
	}

	cmd := &model.ReconcileCommand{
		TransactionID: rs.TransactionID,
		Action:        model.ReconcileEdit,
		Field:         rs.Field,
		Value:         t.text,
	}
	res := e.execute(ctx, t, cmd)
	if !res.Success {
		e.reply.Text(ctx, t.to, res.Message+"\n\n"+msgEditRetry)
		return nil
	}
	if err := e.save(ctx, t, model.StateIdle, nil); err != nil {
		return err
	}
	e.reply.Text(ctx, t.to, res.Message)
	return nil
}
