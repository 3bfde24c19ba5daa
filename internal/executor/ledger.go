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

// LogCustomerPayment は顧客を名前で解決（なければ作成）し、残高に符号付き差分を適用する。
func (e *Executor) LogCustomerPayment(ctx context.Context, user *model.User, cmd *model.CustomerPaymentCommand) Result {
	return e.mutate(ctx, "log_customer_payment", user, func(ctx context.Context, r repository.Repos) (string, error) {
		name := strings.TrimSpace(cmd.CustomerName)
		if name == "" {
			return "", &model.ValidationError{Field: "customerName", Message: "What's the customer's name?"}
		}
		if err := requirePositive("amount", cmd.Amount, "The amount must be greater than zero."); err != nil {
			return "", err
		}
		if cmd.Kind != model.CustomerPaid && cmd.Kind != model.CustomerCredit {
			return "", &model.ValidationError{Field: "kind", Message: fmt.Sprintf("Did %s pay you, or take goods on credit?", name)}
		}

		customer, err := e.resolveCustomer(ctx, r, user.ID, name)
		if err != nil {
			return "", fmt.Errorf("顧客の取得に失敗しました: %w", err)
		}
		owed, err := r.Customers.UpdateBalanceOwed(ctx, customer.ID, cmd.Delta())
		if err != nil {
			return "", fmt.Errorf("顧客残高の更新に失敗しました: %w", err)
		}

		var msg string
		if cmd.Kind == model.CustomerPaid {
			msg = fmt.Sprintf("✅ Recorded a payment of %s from %s.", e.format(user, cmd.Amount), customer.Name)
		} else {
			msg = fmt.Sprintf("✅ Recorded %s on credit for %s.", e.format(user, cmd.Amount), customer.Name)
		}
		return msg + "\n" + e.owedLine(user, customer.Name, owed), nil
	})
}

func (e *Executor) owedLine(user *model.User, name string, owed decimal.Decimal) string {
	switch {
	case owed.IsPositive():
		return fmt.Sprintf("%s now owes %s.", name, e.format(user, owed))
	case owed.IsNegative():
		return fmt.Sprintf("%s has overpaid by %s.", name, e.format(user, owed.Neg()))
	}
	return fmt.Sprintf("%s has no outstanding balance.", name)
}

// CustomerBalances は残高のある顧客の一覧を返す。
func (e *Executor) CustomerBalances(ctx context.Context, user *model.User) Result {
	return e.query(ctx, "customer_balances", user, func(ctx context.Context, r repository.Repos) (string, error) {
		customers, err := r.Customers.ListByUser(ctx, user.ID)
		if err != nil {
			return "", fmt.Errorf("顧客一覧の取得に失敗しました: %w", err)
		}
		var b strings.Builder
		total := decimal.Zero
		for _, c := range customers {
			if c.BalanceOwed.IsZero() {
				continue
			}
			if b.Len() == 0 {
				b.WriteString("👥 Customer balances:")
			}
			fmt.Fprintf(&b, "\n• %s", e.owedLine(user, c.Name, c.BalanceOwed))
			total = total.Add(c.BalanceOwed)
		}
		if b.Len() == 0 {
			return "No customer owes you anything right now.", nil
		}
		fmt.Fprintf(&b, "\nTotal owed to you: %s", e.format(user, total))
		return b.String(), nil
	})
}

// AddBankAccount は銀行口座を作成する。同名（大文字小文字を区別しない）の口座があれば競合とする。
func (e *Executor) AddBankAccount(ctx context.Context, user *model.User, cmd *model.BankAccountCommand) Result {
	return e.mutate(ctx, "add_bank_account", user, func(ctx context.Context, r repository.Repos) (string, error) {
		name := strings.TrimSpace(cmd.Name)
		if name == "" {
			return "", &model.ValidationError{Field: "name", Message: "What's the name of the bank account?"}
		}
		if cmd.OpeningBalance.IsNegative() {
			return "", &model.ValidationError{Field: "openingBalance", Message: "The opening balance can't be negative."}
		}

		duplicate := &model.ConflictError{
			Reason:  model.ConflictDuplicateName,
			Message: fmt.Sprintf("You already have a bank account called %q.", name),
		}
		existing, err := r.BankAccounts.FindByName(ctx, user.ID, name)
		if err != nil {
			return "", fmt.Errorf("口座の取得に失敗しました: %w", err)
		}
		if existing != nil {
			return "", duplicate
		}

		now := e.stamp()
		acct := &model.BankAccount{UserID: user.ID, Name: name, Balance: cmd.OpeningBalance, CreatedAt: now, UpdatedAt: now}
		if err := r.BankAccounts.Create(ctx, acct); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return "", duplicate
			}
			return "", fmt.Errorf("口座の作成に失敗しました: %w", err)
		}
		return fmt.Sprintf("🏦 Added bank account %s with a balance of %s.", acct.Name, e.format(user, acct.Balance)), nil
	})
}

// BankBalances は全口座の残高を返す。
func (e *Executor) BankBalances(ctx context.Context, user *model.User) Result {
	return e.query(ctx, "bank_balances", user, func(ctx context.Context, r repository.Repos) (string, error) {
		accounts, err := r.BankAccounts.ListByUser(ctx, user.ID)
		if err != nil {
			return "", fmt.Errorf("口座一覧の取得に失敗しました: %w", err)
		}
		if len(accounts) == 0 {
			return "You haven't added a bank account yet. Say \"add bank\" to add one.", nil
		}
		var b strings.Builder
		b.WriteString("🏦 Bank balances:")
		total := decimal.Zero
		for _, a := range accounts {
			fmt.Fprintf(&b, "\n• %s: %s", a.Name, e.format(user, a.Balance))
			total = total.Add(a.Balance)
		}
		if len(accounts) > 1 {
			fmt.Fprintf(&b, "\nTotal: %s", e.format(user, total))
		}
		return b.String(), nil
	})
}

// BankAccounts は口座選択用に全口座を返す。
func (e *Executor) BankAccounts(ctx context.Context, user *model.User) ([]*model.BankAccount, error) {
	accounts, err := e.store.Repos().BankAccounts.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("口座一覧の取得に失敗しました: %w", err)
	}
	return accounts, nil
}
