package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/money"
	"github.com/hitoshi/chatbooks/internal/repository"
	"github.com/shopspring/decimal"
)

// RecentTransactions は修正候補として直近の取引を新しい順に返す。
func (e *Executor) RecentTransactions(ctx context.Context, user *model.User, limit int) ([]*model.Transaction, error) {
	txs, err := e.store.Repos().Transactions.ListRecent(ctx, user.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("取引一覧の取得に失敗しました: %w", err)
	}
	return txs, nil
}

// bankEffect は取引が口座残高に与えた符号付きの影響額を返す。
func bankEffect(t *model.Transaction, amount decimal.Decimal) decimal.Decimal {
	if t.Type == model.TransactionExpense {
		return amount.Neg()
	}
	return amount
}

// ReconcileTransaction は既存取引のフィールドを修正、または取引を削除する。
// 金額は数値として再検証し、口座に紐づく取引は口座残高も合わせて調整する。
// 掛け売りの金額変更・削除は顧客の未収残高に反映する。
// 売上の削除は付随する売上原価を削除し、在庫を戻して戻し入れの在庫ログを追記する。
func (e *Executor) ReconcileTransaction(ctx context.Context, user *model.User, cmd *model.ReconcileCommand) Result {
	return e.mutate(ctx, "reconcile_transaction", user, func(ctx context.Context, r repository.Repos) (string, error) {
		tx, err := r.Transactions.FindByID(ctx, user.ID, cmd.TransactionID)
		if err != nil {
			return "", fmt.Errorf("取引の取得に失敗しました: %w", err)
		}
		if tx == nil {
			return "", &model.NotFoundError{Entity: "transaction", Name: cmd.TransactionID, Message: "I couldn't find that transaction. It may have been deleted already."}
		}

		switch cmd.Action {
		case model.ReconcileDelete:
			// source_id は ON DELETE SET NULL のため、売上原価の取り消しは売上の削除より先に行う
			var extra string
			if isSale(tx) {
				if extra, err = e.reverseSale(ctx, r, user, tx); err != nil {
					return "", err
				}
			}
			if err := r.Transactions.Delete(ctx, user.ID, tx.ID); err != nil {
				return "", fmt.Errorf("取引の削除に失敗しました: %w", err)
			}
			if err := e.adjustLinkedBank(ctx, r, user, tx, bankEffect(tx, tx.Amount).Neg()); err != nil {
				return "", err
			}
			return fmt.Sprintf("🗑️ Deleted: %s (%s).", tx.Description, e.format(user, tx.Amount)) + extra, nil

		case model.ReconcileEdit:
			return e.editTransaction(ctx, r, user, tx, cmd)
		}
		return "", &model.ValidationError{Field: "action", Message: "Please choose whether to edit or delete the transaction."}
	})
}

func (e *Executor) editTransaction(ctx context.Context, r repository.Repos, user *model.User, tx *model.Transaction, cmd *model.ReconcileCommand) (string, error) {
	value := strings.TrimSpace(cmd.Value)
	var confirmation string

	switch cmd.Field {
	case model.EditFieldAmount:
		amount, err := money.ParsePrice(value)
		if err != nil {
			return "", &model.ValidationError{Field: cmd.Field, Message: fmt.Sprintf("%q isn't a valid amount. Please send a number like 2500 or 2.5k.", value)}
		}
		if err := requirePositive(cmd.Field, amount, "The amount must be greater than zero."); err != nil {
			return "", err
		}
		diff := amount.Sub(tx.Amount)
		tx.Amount = amount
		if err := e.adjustLinkedBank(ctx, r, user, tx, bankEffect(tx, diff)); err != nil {
			return "", err
		}
		confirmation = fmt.Sprintf("amount is now %s", e.format(user, amount))
		owed, ok, err := e.adjustCreditOwed(ctx, r, user, tx, diff)
		if err != nil {
			return "", err
		}
		if ok {
			confirmation += fmt.Sprintf("; %s now owes %s", tx.CustomerName, e.format(user, owed))
		}

	case model.EditFieldDescription:
		if value == "" {
			return "", &model.ValidationError{Field: cmd.Field, Message: "Please send the new description."}
		}
		tx.Description = value
		confirmation = fmt.Sprintf("description is now %q", value)

	case model.EditFieldCategory:
		if value == "" {
			return "", &model.ValidationError{Field: cmd.Field, Message: "Please send the new category."}
		}
		tx.Category = strings.ToLower(value)
		confirmation = fmt.Sprintf("category is now %q", tx.Category)

	default:
		return "", &model.ValidationError{Field: "field", Message: "You can change the amount, the description or the category."}
	}

	tx.UpdatedAt = e.stamp()
	if err := r.Transactions.Update(ctx, tx); err != nil {
		return "", fmt.Errorf("取引の更新に失敗しました: %w", err)
	}
	return "✅ Transaction updated: " + confirmation + ".", nil
}

// adjustLinkedBank は取引が口座に紐づいている場合のみ残高を調整する。
// 口座が削除済みの場合は何もしない。
func (e *Executor) adjustLinkedBank(ctx context.Context, r repository.Repos, user *model.User, tx *model.Transaction, delta decimal.Decimal) error {
	if tx.BankAccountID == "" || delta.IsZero() {
		return nil
	}
	acct, err := r.BankAccounts.FindByID(ctx, user.ID, tx.BankAccountID)
	if err != nil {
		return fmt.Errorf("口座の取得に失敗しました: %w", err)
	}
	if acct == nil {
		return nil
	}
	if _, err := r.BankAccounts.AdjustBalance(ctx, acct.ID, delta); err != nil {
		return fmt.Errorf("口座残高の更新に失敗しました: %w", err)
	}
	return nil
}

func isSale(t *model.Transaction) bool {
	return t.Type == model.TransactionIncome && t.Category == model.CategorySales
}

// adjustCreditOwed は掛け売りの場合のみ顧客の未収残高に delta を加算する。
// 顧客が見つからない場合は何もせず ok=false を返す。
func (e *Executor) adjustCreditOwed(ctx context.Context, r repository.Repos, user *model.User, tx *model.Transaction, delta decimal.Decimal) (owed decimal.Decimal, ok bool, err error) {
	if !isSale(tx) || tx.SaleType != model.SaleCredit || tx.CustomerName == "" || delta.IsZero() {
		return decimal.Zero, false, nil
	}
	customer, err := r.Customers.FindByName(ctx, user.ID, tx.CustomerName)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("顧客の取得に失敗しました: %w", err)
	}
	if customer == nil {
		return decimal.Zero, false, nil
	}
	owed, err = r.Customers.UpdateBalanceOwed(ctx, customer.ID, delta)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("顧客残高の更新に失敗しました: %w", err)
	}
	return owed, true, nil
}

// reverseSale は削除された売上の付随効果を取り消し、確認メッセージの追記分を返す。
func (e *Executor) reverseSale(ctx context.Context, r repository.Repos, user *model.User, sale *model.Transaction) (string, error) {
	var b strings.Builder

	owed, ok, err := e.adjustCreditOwed(ctx, r, user, sale, sale.Amount.Neg())
	if err != nil {
		return "", err
	}
	if ok {
		fmt.Fprintf(&b, "\n%s now owes %s.", sale.CustomerName, e.format(user, owed))
	}

	linked, err := r.Transactions.ListBySource(ctx, user.ID, sale.ID)
	if err != nil {
		return "", fmt.Errorf("売上原価の取得に失敗しました: %w", err)
	}
	for _, cogs := range linked {
		if err := r.Transactions.Delete(ctx, user.ID, cogs.ID); err != nil {
			return "", fmt.Errorf("売上原価の削除に失敗しました: %w", err)
		}
		if err := e.adjustLinkedBank(ctx, r, user, cogs, bankEffect(cogs, cogs.Amount).Neg()); err != nil {
			return "", err
		}
	}

	logs, err := r.InventoryLogs.ListByReference(ctx, user.ID, sale.ID)
	if err != nil {
		return "", fmt.Errorf("在庫ログの取得に失敗しました: %w", err)
	}
	now := e.stamp()
	for _, entry := range logs {
		if entry.Reason != model.InventorySale || entry.Change >= 0 {
			continue
		}
		product, err := r.Products.AdjustStock(ctx, user.ID, entry.ProductID, -entry.Change)
		if err != nil {
			return "", fmt.Errorf("在庫の戻し入れに失敗しました: %w", err)
		}
		if err := r.InventoryLogs.Append(ctx, &model.InventoryLogEntry{
			UserID:      user.ID,
			ProductID:   entry.ProductID,
			Change:      -entry.Change,
			Reason:      model.InventorySaleReversal,
			ReferenceID: sale.ID,
			CreatedAt:   now,
		}); err != nil {
			return "", fmt.Errorf("在庫ログの追記に失敗しました: %w", err)
		}
		fmt.Fprintf(&b, "\n%d %s returned to stock (now %d).", -entry.Change, product.Name, product.Stock)
	}
	return b.String(), nil
}
