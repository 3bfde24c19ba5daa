package intent

import (
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/chatbooks/internal/model"
)

const systemPromptTemplate = `You classify messages sent to a bookkeeping assistant for small businesses.
Today's date is %s. Resolve relative dates ("yesterday", "last month") against it.

Return ONLY a single JSON object, with no prose and no code fences:
{"intent": "<one of: %s>",
 "context": {"amount": "<number as written, optional>",
             "reportType": "<sales|expenses|inventory|pnl, only for generate-report>",
             "dateRange": {"from": "YYYY-MM-DD", "to": "YYYY-MM-DD"},
             "reply": "<short friendly answer, only for general-conversation>"}}

Rules:
- Recording something sold is log-sale. Money spent is log-expense.
- Adding or restocking goods is add-product. A customer paying or owing money is log-customer-payment.
- Fixing or deleting a past entry is reconcile-transaction.
- If nothing fits, use general-conversation and include a reply.
- Never invent amounts. Leave fields out when the message does not state them.`

// SystemPrompt は分類プロバイダ向けのシステムプロンプトを返す。
func SystemPrompt(today time.Time) string {
	names := make([]string, len(model.AllIntents))
	for i, in := range model.AllIntents {
		names[i] = string(in)
	}
	return fmt.Sprintf(systemPromptTemplate, today.Format("2006-01-02 (Monday)"), strings.Join(names, ", "))
}
