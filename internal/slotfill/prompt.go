package slotfill

import (
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/money"
)

// systemPrompt はフローごとの抽出指示を組み立てる。
// 既知の商品があれば在庫・単価を文脈として渡す。
func systemPrompt(spec flowSpec, user *model.User, known *model.ProductMatch, today time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a bookkeeping assistant for %s, a small business. ", businessName(user))
	fmt.Fprintf(&b, "You are helping the user %s. Today is %s. ", spec.task, today.Format("2006-01-02"))
	fmt.Fprintf(&b, "Amounts are in %s.\n\n", currencyOf(user))

	b.WriteString("Collect these fields from the conversation:\n")
	b.WriteString(spec.fields)
	b.WriteString("\n\n")

	if known != nil {
		fmt.Fprintf(&b, "Known product: %s, %d in stock, cost %s, price %s per unit.\n\n",
			known.Name, known.Stock,
			money.Format(currencyOf(user), known.Cost),
			money.Format(currencyOf(user), known.Price))
	}

	b.WriteString(`Rules:
- Never guess a number the user did not state. If a required field is missing, ask for it.
- Ask one short question at a time.
- Copy numbers exactly as the user wrote them, for example "2.5k" or "5,000".

Respond with exactly one JSON object and nothing else:
{"status": "complete" | "incomplete", "reply": "question for the user when incomplete", "data": { ...fields collected so far }}`)
	return b.String()
}

func businessName(user *model.User) string {
	if user == nil || user.BusinessName == "" {
		return "the user"
	}
	return user.BusinessName
}

func currencyOf(user *model.User) string {
	if user == nil || user.Currency == "" {
		return "NGN"
	}
	return user.Currency
}
