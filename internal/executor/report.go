package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/chatbooks/internal/llm"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/repository"
	"github.com/shopspring/decimal"
)

// Summary は期間内の収支集計。Expenses は売上原価を含まない。
type Summary struct {
	Range        model.DateRange
	Income       decimal.Decimal
	COGS         decimal.Decimal
	Expenses     decimal.Decimal
	SalesCount   int
	ExpenseCount int
}

// GrossProfit は売上総利益を返す。
func (s Summary) GrossProfit() decimal.Decimal {
	return s.Income.Sub(s.COGS)
}

// Net は純利益を返す。
func (s Summary) Net() decimal.Decimal {
	return s.Income.Sub(s.COGS).Sub(s.Expenses)
}

// defaultRange は期間未指定時の集計期間（今月初から明日0時まで）を返す。
func (e *Executor) defaultRange(rng *model.DateRange) model.DateRange {
	if rng != nil {
		return *rng
	}
	now := e.now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return model.DateRange{From: from, To: to}
}

func summarize(txs []*model.Transaction, rng model.DateRange) Summary {
	s := Summary{Range: rng, Income: decimal.Zero, COGS: decimal.Zero, Expenses: decimal.Zero}
	for _, t := range txs {
		switch {
		case t.Type == model.TransactionIncome:
			s.Income = s.Income.Add(t.Amount)
			s.SalesCount++
		case t.Category == model.CategoryCOGS:
			s.COGS = s.COGS.Add(t.Amount)
		default:
			s.Expenses = s.Expenses.Add(t.Amount)
			s.ExpenseCount++
		}
	}
	return s
}

// Summarize は期間内の取引を集計する。
func (e *Executor) Summarize(ctx context.Context, user *model.User, rng *model.DateRange) (Summary, []*model.Transaction, error) {
	r := e.defaultRange(rng)
	txs, err := e.store.Repos().Transactions.ListBetween(ctx, user.ID, r.From, r.To)
	if err != nil {
		return Summary{}, nil, fmt.Errorf("取引の集計に失敗しました: %w", err)
	}
	return summarize(txs, r), txs, nil
}

func rangeLabel(r model.DateRange) string {
	last := r.To.AddDate(0, 0, -1)
	if last.Before(r.From) || last.Equal(r.From) {
		return r.From.Format("2 Jan 2006")
	}
	return r.From.Format("2 Jan 2006") + " – " + last.Format("2 Jan 2006")
}

func (e *Executor) summaryText(user *model.User, s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Summary for %s\n", rangeLabel(s.Range))
	fmt.Fprintf(&b, "Income: %s (%d sales)\n", e.format(user, s.Income), s.SalesCount)
	fmt.Fprintf(&b, "Cost of goods sold: %s\n", e.format(user, s.COGS))
	fmt.Fprintf(&b, "Expenses: %s (%d entries)\n", e.format(user, s.Expenses), s.ExpenseCount)
	fmt.Fprintf(&b, "Net profit: %s", e.format(user, s.Net()))
	return b.String()
}

// FinancialSummary は期間の収支サマリーを返す。
func (e *Executor) FinancialSummary(ctx context.Context, user *model.User, rng *model.DateRange) Result {
	return e.query(ctx, "financial_summary", user, func(ctx context.Context, _ repository.Repos) (string, error) {
		s, _, err := e.Summarize(ctx, user, rng)
		if err != nil {
			return "", err
		}
		return e.summaryText(user, s), nil
	})
}

const insightPrompt = `You are a friendly small-business advisor. Given a bookkeeping summary, reply with
two or three short sentences of practical commentary. Do not invent numbers that are not in the summary.
Respond with exactly one JSON object: {"insight": "..."}`

// FinancialInsight はサマリーに短いコメントを添えて返す。
// プロバイダが使えない場合はサマリーのみを返す。
func (e *Executor) FinancialInsight(ctx context.Context, user *model.User, rng *model.DateRange) Result {
	return e.query(ctx, "financial_insight", user, func(ctx context.Context, _ repository.Repos) (string, error) {
		s, _, err := e.Summarize(ctx, user, rng)
		if err != nil {
			return "", err
		}
		text := e.summaryText(user, s)
		if e.insights == nil {
			return text, nil
		}

		out, err := e.insights.Complete(ctx, llm.Request{
			SystemPrompt: insightPrompt,
			Turns:        []model.Turn{{Role: model.RoleUser, Content: text}},
		})
		var resp struct {
			Insight string `json:"insight"`
		}
		if err == nil {
			err = llm.DecodeJSONObject(out, &resp)
		}
		if err != nil || strings.TrimSpace(resp.Insight) == "" {
			if err != nil {
				e.logger.Warn("財務コメントの生成に失敗", slog.String("error", err.Error()))
			}
			return text, nil
		}
		return text + "\n\n💡 " + strings.TrimSpace(resp.Insight), nil
	})
}

// Report は種類別のテキストレポートを返す。
func (e *Executor) Report(ctx context.Context, user *model.User, reportType model.ReportType, rng *model.DateRange) Result {
	return e.query(ctx, "generate_report", user, func(ctx context.Context, r repository.Repos) (string, error) {
		if reportType == model.ReportInventory {
			return e.inventoryReport(ctx, r, user)
		}

		s, txs, err := e.Summarize(ctx, user, rng)
		if err != nil {
			return "", err
		}
		switch reportType {
		case model.ReportSales:
			return e.salesReport(user, s, txs), nil
		case model.ReportExpenses:
			return e.expenseReport(user, s, txs), nil
		default:
			return e.pnlReport(user, s), nil
		}
	})
}

var saleTypeLabels = map[model.SaleType]string{
	model.SaleCash:   "Cash",
	model.SaleBank:   "Bank",
	model.SaleCredit: "Credit",
}

func (e *Executor) salesReport(user *model.User, s Summary, txs []*model.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🧾 Sales report for %s", rangeLabel(s.Range))
	byType := map[model.SaleType]decimal.Decimal{}
	for _, t := range txs {
		if t.Type != model.TransactionIncome {
			continue
		}
		fmt.Fprintf(&b, "\n• %s  %s  %s", t.CreatedAt.Format("02 Jan"), t.Description, e.format(user, t.Amount))
		if t.CustomerName != "" {
			fmt.Fprintf(&b, " (%s)", t.CustomerName)
		}
		byType[t.SaleType] = byType[t.SaleType].Add(t.Amount)
	}
	if s.SalesCount == 0 {
		b.WriteString("\nNo sales recorded in this period.")
		return b.String()
	}
	for _, st := range []model.SaleType{model.SaleCash, model.SaleBank, model.SaleCredit} {
		if v, ok := byType[st]; ok {
			fmt.Fprintf(&b, "\n%s: %s", saleTypeLabels[st], e.format(user, v))
		}
	}
	fmt.Fprintf(&b, "\nTotal: %s", e.format(user, s.Income))
	return b.String()
}

func (e *Executor) expenseReport(user *model.User, s Summary, txs []*model.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🧾 Expense report for %s", rangeLabel(s.Range))
	totals := map[string]decimal.Decimal{}
	for _, t := range txs {
		if t.Type != model.TransactionExpense || t.Category == model.CategoryCOGS {
			continue
		}
		totals[t.Category] = totals[t.Category].Add(t.Amount)
	}
	if len(totals) == 0 {
		b.WriteString("\nNo expenses recorded in this period.")
		return b.String()
	}
	categories := make([]string, 0, len(totals))
	for c := range totals {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool {
		if !totals[categories[i]].Equal(totals[categories[j]]) {
			return totals[categories[i]].GreaterThan(totals[categories[j]])
		}
		return categories[i] < categories[j]
	})
	for _, c := range categories {
		fmt.Fprintf(&b, "\n• %s: %s", c, e.format(user, totals[c]))
	}
	fmt.Fprintf(&b, "\nTotal: %s", e.format(user, s.Expenses))
	return b.String()
}

func (e *Executor) pnlReport(user *model.User, s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📈 Profit & loss for %s\n", rangeLabel(s.Range))
	fmt.Fprintf(&b, "Revenue: %s\n", e.format(user, s.Income))
	fmt.Fprintf(&b, "Cost of goods sold: %s\n", e.format(user, s.COGS))
	fmt.Fprintf(&b, "Gross profit: %s\n", e.format(user, s.GrossProfit()))
	fmt.Fprintf(&b, "Operating expenses: %s\n", e.format(user, s.Expenses))
	fmt.Fprintf(&b, "Net profit: %s", e.format(user, s.Net()))
	return b.String()
}

func (e *Executor) inventoryReport(ctx context.Context, r repository.Repos, user *model.User) (string, error) {
	products, err := r.Products.ListByUser(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("商品一覧の取得に失敗しました: %w", err)
	}
	if len(products) == 0 {
		return "You haven't added any products yet.", nil
	}
	var b strings.Builder
	b.WriteString("📦 Inventory report")
	costValue, retailValue := decimal.Zero, decimal.Zero
	for _, p := range products {
		units := decimal.NewFromInt(int64(p.Stock))
		costValue = costValue.Add(p.Cost.Mul(units))
		retailValue = retailValue.Add(p.Price.Mul(units))
		fmt.Fprintf(&b, "\n• %s: %d units, value %s", p.Name, p.Stock, e.format(user, p.Cost.Mul(units)))
	}
	fmt.Fprintf(&b, "\nStock value at cost: %s", e.format(user, costValue))
	fmt.Fprintf(&b, "\nStock value at selling price: %s", e.format(user, retailValue))
	return b.String(), nil
}
