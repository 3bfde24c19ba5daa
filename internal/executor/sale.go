package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/repository"
	"github.com/shopspring/decimal"
)

// LogSale は売上を記帳する。
// 収入取引・売上原価・在庫減算・在庫ログの書き込みは1つの作業単位で、在庫不足の場合は何も書き込まない。
func (e *Executor) LogSale(ctx context.Context, user *model.User, cmd *model.SaleCommand) Result {
	return e.mutate(ctx, "log_sale", user, func(ctx context.Context, r repository.Repos) (string, error) {
		if cmd.UnitsSold <= 0 {
			return "", &model.ValidationError{Field: "unitsSold", Message: "How many units did you sell? The quantity must be at least 1."}
		}
		if err := requirePositive("amount", cmd.Amount, "The sale amount must be greater than zero."); err != nil {
			return "", err
		}
		if cmd.SaleType == model.SaleCredit && strings.TrimSpace(cmd.CustomerName) == "" {
			return "", &model.ValidationError{Field: "customerName", Message: "A credit sale needs the customer's name."}
		}

		product, err := r.Products.FindByName(ctx, user.ID, cmd.ProductName)
		if err != nil {
			return "", fmt.Errorf("商品の取得に失敗しました: %w", err)
		}
		if product == nil {
			return "", &model.NotFoundError{
				Entity:  "product",
				Name:    cmd.ProductName,
				Message: fmt.Sprintf("I couldn't find a product called %q. Add it first with \"add product\".", cmd.ProductName),
			}
		}
		if cmd.UnitsSold > product.Stock {
			return "", &model.ConflictError{
				Reason: model.ConflictInsufficientStock,
				Message: fmt.Sprintf("Not enough stock: you have %d %s available, but tried to sell %d.",
					product.Stock, product.Name, cmd.UnitsSold),
			}
		}

		bank, err := resolveBank(ctx, r, user.ID, cmd.BankAccountID)
		if err != nil {
			return "", err
		}

		now := e.stamp()
		income := &model.Transaction{
			UserID:       user.ID,
			Type:         model.TransactionIncome,
			Amount:       cmd.Amount,
			Description:  fmt.Sprintf("Sale of %d x %s", cmd.UnitsSold, product.Name),
			Category:     model.CategorySales,
			SaleType:     cmd.SaleType,
			CustomerName: strings.TrimSpace(cmd.CustomerName),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if bank != nil {
			income.BankAccountID = bank.ID
		}
		if err := r.Transactions.Create(ctx, income); err != nil {
			return "", fmt.Errorf("売上取引の作成に失敗しました: %w", err)
		}

		cogs := product.Cost.Mul(decimal.NewFromInt(int64(cmd.UnitsSold)))
		if cogs.IsPositive() {
			if err := r.Transactions.Create(ctx, &model.Transaction{
				UserID:      user.ID,
				Type:        model.TransactionExpense,
				Amount:      cogs,
				Description: fmt.Sprintf("Cost of %d x %s", cmd.UnitsSold, product.Name),
				Category:    model.CategoryCOGS,
				SourceID:    income.ID,
				CreatedAt:   now,
				UpdatedAt:   now,
			}); err != nil {
				return "", fmt.Errorf("売上原価の作成に失敗しました: %w", err)
			}
		}

		// 上の在庫確認は案内用。並行する売上との競合は AdjustStock の原子的な減算で検出する
		product, err = r.Products.AdjustStock(ctx, user.ID, product.ID, -cmd.UnitsSold)
		if errors.Is(err, repository.ErrInsufficientStock) {
			return "", &model.ConflictError{
				Reason:  model.ConflictInsufficientStock,
				Message: fmt.Sprintf("Not enough stock left to sell %d %s. Please check your stock and try again.", cmd.UnitsSold, cmd.ProductName),
			}
		}
		if err != nil {
			return "", fmt.Errorf("在庫の更新に失敗しました: %w", err)
		}
		if err := r.InventoryLogs.Append(ctx, &model.InventoryLogEntry{
			UserID:      user.ID,
			ProductID:   product.ID,
			Change:      -cmd.UnitsSold,
			Reason:      model.InventorySale,
			ReferenceID: income.ID,
			CreatedAt:   now,
		}); err != nil {
			return "", fmt.Errorf("在庫ログの追記に失敗しました: %w", err)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "✅ Sale recorded: %d x %s for %s (%s).", cmd.UnitsSold, product.Name, e.format(user, cmd.Amount), cmd.SaleType)
		fmt.Fprintf(&b, "\n%s stock left: %d.", product.Name, product.Stock)

		if bank != nil {
			balance, err := r.BankAccounts.AdjustBalance(ctx, bank.ID, cmd.Amount)
			if err != nil {
				return "", fmt.Errorf("口座残高の更新に失敗しました: %w", err)
			}
			fmt.Fprintf(&b, "\n%s balance: %s.", bank.Name, e.format(user, balance))
		}

		if cmd.SaleType == model.SaleCredit {
			customer, err := e.resolveCustomer(ctx, r, user.ID, income.CustomerName)
			if err != nil {
				return "", fmt.Errorf("顧客の取得に失敗しました: %w", err)
			}
			owed, err := r.Customers.UpdateBalanceOwed(ctx, customer.ID, cmd.Amount)
			if err != nil {
				return "", fmt.Errorf("顧客残高の更新に失敗しました: %w", err)
			}
			fmt.Fprintf(&b, "\n%s now owes %s.", customer.Name, e.format(user, owed))
		}

		if product.Stock == 0 {
			fmt.Fprintf(&b, "\n⚠️ %s is now out of stock.", product.Name)
		}
		return b.String(), nil
	})
}

// LogExpense は支出を記帳する。口座が選択されていればその残高から差し引く。
func (e *Executor) LogExpense(ctx context.Context, user *model.User, cmd *model.ExpenseCommand) Result {
	return e.mutate(ctx, "log_expense", user, func(ctx context.Context, r repository.Repos) (string, error) {
		if err := requirePositive("amount", cmd.Amount, "How much did you spend? The amount must be greater than zero."); err != nil {
			return "", err
		}
		category := strings.ToLower(strings.TrimSpace(cmd.Category))
		description := strings.TrimSpace(cmd.Description)
		if category == "" && description == "" {
			return "", &model.ValidationError{Field: "category", Message: "What was the expense for? Please give a category or a short description."}
		}
		if category == "" {
			category = "general"
		}
		if description == "" {
			description = category
		}

		bank, err := resolveBank(ctx, r, user.ID, cmd.BankAccountID)
		if err != nil {
			return "", err
		}

		now := e.stamp()
		tx := &model.Transaction{
			UserID:      user.ID,
			Type:        model.TransactionExpense,
			Amount:      cmd.Amount,
			Description: description,
			Category:    category,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if bank != nil {
			tx.BankAccountID = bank.ID
		}
		if err := r.Transactions.Create(ctx, tx); err != nil {
			return "", fmt.Errorf("支出取引の作成に失敗しました: %w", err)
		}

		msg := fmt.Sprintf("✅ Expense recorded: %s for %s.", e.format(user, cmd.Amount), description)
		if bank != nil {
			balance, err := r.BankAccounts.AdjustBalance(ctx, bank.ID, cmd.Amount.Neg())
			if err != nil {
				return "", fmt.Errorf("口座残高の更新に失敗しました: %w", err)
			}
			msg += fmt.Sprintf("\n%s balance: %s.", bank.Name, e.format(user, balance))
		}
		return msg, nil
	})
}
