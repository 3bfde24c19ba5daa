package intent

import (
	"strings"
	"time"
	"unicode"

	"github.com/hitoshi/chatbooks/internal/model"
)

// Normalize は照合用に小文字化し、記号を除いて空白を1つにまとめる。
func Normalize(text string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&' || r == '-' || r == '/':
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

type phraseRule struct {
	intent     model.Intent
	reportType model.ReportType
}

// fastPhrases はリモート呼び出しを経由せずに確定させる完全一致フレーズ。
// メニューボタンのID（インテント名そのもの）もここで受け付ける。
var fastPhrases = map[string]phraseRule{
	"menu":                 {intent: model.IntentShowMenu},
	"help":                 {intent: model.IntentShowMenu},
	"start":                {intent: model.IntentShowMenu},
	"/start":               {intent: model.IntentShowMenu},
	"hi":                   {intent: model.IntentShowMenu},
	"hello":                {intent: model.IntentShowMenu},
	"log sale":             {intent: model.IntentLogSale},
	"record sale":          {intent: model.IntentLogSale},
	"new sale":             {intent: model.IntentLogSale},
	"log expense":          {intent: model.IntentLogExpense},
	"record expense":       {intent: model.IntentLogExpense},
	"add product":          {intent: model.IntentAddProduct},
	"add stock":            {intent: model.IntentAddProduct},
	"restock":              {intent: model.IntentAddProduct},
	"add bank":             {intent: model.IntentAddBankAccount},
	"add bank account":     {intent: model.IntentAddBankAccount},
	"customer payment":     {intent: model.IntentLogCustomerPayment},
	"record payment":       {intent: model.IntentLogCustomerPayment},
	"check stock":          {intent: model.IntentCheckStock},
	"stock":                {intent: model.IntentCheckStock},
	"inventory":            {intent: model.IntentCheckStock},
	"report":               {intent: model.IntentGenerateReport, reportType: model.ReportSales},
	"sales report":         {intent: model.IntentGenerateReport, reportType: model.ReportSales},
	"expense report":       {intent: model.IntentGenerateReport, reportType: model.ReportExpenses},
	"expenses report":      {intent: model.IntentGenerateReport, reportType: model.ReportExpenses},
	"inventory report":     {intent: model.IntentGenerateReport, reportType: model.ReportInventory},
	"stock report":         {intent: model.IntentGenerateReport, reportType: model.ReportInventory},
	"profit and loss":      {intent: model.IntentGenerateReport, reportType: model.ReportPnL},
	"p&l":                  {intent: model.IntentGenerateReport, reportType: model.ReportPnL},
	"pnl":                  {intent: model.IntentGenerateReport, reportType: model.ReportPnL},
	"summary":              {intent: model.IntentFinancialSummary},
	"financial summary":    {intent: model.IntentFinancialSummary},
	"insight":              {intent: model.IntentFinancialInsight},
	"insights":             {intent: model.IntentFinancialInsight},
	"bank balance":         {intent: model.IntentCheckBankBalance},
	"bank balances":        {intent: model.IntentCheckBankBalance},
	"customer balances":    {intent: model.IntentCustomerBalances},
	"debtors":              {intent: model.IntentCustomerBalances},
	"who owes me":          {intent: model.IntentCustomerBalances},
	"edit transaction":     {intent: model.IntentReconcile},
	"delete transaction":   {intent: model.IntentReconcile},
	"fix transaction":      {intent: model.IntentReconcile},
	"reconcile":            {intent: model.IntentReconcile},
	"upgrade":              {intent: model.IntentUpgradeSubscription},
	"subscribe":            {intent: model.IntentUpgradeSubscription},
	"subscription":         {intent: model.IntentCheckSubscription},
	"my subscription":      {intent: model.IntentCheckSubscription},
	"check subscription":   {intent: model.IntentCheckSubscription},
	"subscription status":  {intent: model.IntentCheckSubscription},
}

// FastMatch は完全一致フレーズ表で分類する。
func FastMatch(text string) (model.Intent, model.IntentContext, bool) {
	norm := Normalize(text)
	if i, ok := model.ParseIntent(norm); ok {
		return i, model.IntentContext{}, true
	}
	if rule, ok := fastPhrases[norm]; ok {
		return rule.intent, model.IntentContext{ReportType: rule.reportType}, true
	}
	return "", model.IntentContext{}, false
}

type keywordRule struct {
	keywords []string
	intent   model.Intent
}

// keywordRules はプロバイダ障害時に使う順序付きキーワード表。先に一致した規則が優先される。
var keywordRules = []keywordRule{
	{[]string{"report", "profit and loss", "p&l"}, model.IntentGenerateReport},
	{[]string{"sold", "sell", "sale", "sales made"}, model.IntentLogSale},
	{[]string{"add bank", "new bank", "bank account"}, model.IntentAddBankAccount},
	{[]string{"restock", "add product", "new product", "bought stock", "received stock"}, model.IntentAddProduct},
	{[]string{"paid me", "owes", "owe me", "on credit", "customer paid", "debt"}, model.IntentLogCustomerPayment},
	{[]string{"spent", "expense", "paid for", "bought", "cost me", "bill"}, model.IntentLogExpense},
	{[]string{"summary", "profit", "how much did i make"}, model.IntentFinancialSummary},
	{[]string{"insight", "advice", "advise"}, model.IntentFinancialInsight},
	{[]string{"stock", "inventory", "how many"}, model.IntentCheckStock},
	{[]string{"balance"}, model.IntentCheckBankBalance},
	{[]string{"edit", "delete", "mistake", "wrong", "correct"}, model.IntentReconcile},
	{[]string{"upgrade", "subscribe", "renew", "pay for plan"}, model.IntentUpgradeSubscription},
	{[]string{"subscription", "trial", "plan"}, model.IntentCheckSubscription},
	{[]string{"menu", "help", "options"}, model.IntentShowMenu},
}

// containsPhrase は単語境界でフレーズを含むかどうかを返す。
func containsPhrase(norm, phrase string) bool {
	return strings.Contains(" "+norm+" ", " "+phrase+" ")
}

// KeywordMatch は順序付きキーワード表で分類する。一致しない場合は general-conversation を返す。
func KeywordMatch(text string, today time.Time) (model.Intent, model.IntentContext) {
	norm := Normalize(text)
	ctx := model.IntentContext{Range: ResolveRange(norm, today)}
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if containsPhrase(norm, kw) {
				if rule.intent == model.IntentGenerateReport {
					ctx.ReportType = reportTypeFor(norm)
				}
				return rule.intent, ctx
			}
		}
	}
	return model.IntentGeneral, ctx
}

func reportTypeFor(norm string) model.ReportType {
	switch {
	case containsPhrase(norm, "profit and loss"), containsPhrase(norm, "p&l"), containsPhrase(norm, "pnl"):
		return model.ReportPnL
	case containsPhrase(norm, "expense"), containsPhrase(norm, "expenses"):
		return model.ReportExpenses
	case containsPhrase(norm, "inventory"), containsPhrase(norm, "stock"):
		return model.ReportInventory
	}
	return model.ReportSales
}

// ResolveRange は「today」「last month」などの相対期間表現を today 基準の [From, To) に解決する。
// 表現が含まれない場合はnilを返す。
func ResolveRange(norm string, today time.Time) *model.DateRange {
	y, m, d := today.Date()
	loc := today.Location()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)

	startOfWeek := func(t time.Time) time.Time {
		offset := (int(t.Weekday()) + 6) % 7 // 月曜始まり
		return t.AddDate(0, 0, -offset)
	}
	monthStart := time.Date(y, m, 1, 0, 0, 0, 0, loc)

	switch {
	case containsPhrase(norm, "today"):
		return &model.DateRange{From: day, To: day.AddDate(0, 0, 1)}
	case containsPhrase(norm, "yesterday"):
		return &model.DateRange{From: day.AddDate(0, 0, -1), To: day}
	case containsPhrase(norm, "last week"):
		w := startOfWeek(day)
		return &model.DateRange{From: w.AddDate(0, 0, -7), To: w}
	case containsPhrase(norm, "this week"):
		w := startOfWeek(day)
		return &model.DateRange{From: w, To: w.AddDate(0, 0, 7)}
	case containsPhrase(norm, "last month"):
		return &model.DateRange{From: monthStart.AddDate(0, -1, 0), To: monthStart}
	case containsPhrase(norm, "this month"):
		return &model.DateRange{From: monthStart, To: monthStart.AddDate(0, 1, 0)}
	case containsPhrase(norm, "this year"):
		ys := time.Date(y, 1, 1, 0, 0, 0, 0, loc)
		return &model.DateRange{From: ys, To: ys.AddDate(1, 0, 0)}
	}
	return nil
}
