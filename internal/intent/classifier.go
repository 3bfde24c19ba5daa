// Package intent はユーザーメッセージを閉じたインテント列挙に分類する。
// 完全一致フレーズ表、主プロバイダ、副プロバイダ、キーワード表の順に試し、
// プロバイダ障害は常に決定的なフォールバックに退避する。
package intent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/chatbooks/internal/llm"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/money"
)

// ApologyReply はプロバイダが使えず意図も推定できなかった場合の定型応答。
const ApologyReply = "Sorry, I didn't quite get that. Type \"menu\" to see what I can help with."

// Completer は主・副プロバイダを順に試す呼び出し口。*llm.Fallback が実装する。
type Completer interface {
	CompleteWithSource(ctx context.Context, req llm.Request) (string, bool, error)
}

// Classifier はインテント分類器。
type Classifier struct {
	provider Completer
	logger   *slog.Logger
	now      func() time.Time
}

// NewClassifier はClassifierを生成する。providerがnilの場合はキーワード表のみで分類する。
func NewClassifier(provider Completer, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{provider: provider, logger: logger, now: time.Now}
}

type providerResponse struct {
	Intent  string `json:"intent"`
	Context struct {
		Amount     money.Input `json:"amount"`
		ReportType string      `json:"reportType"`
		DateRange  *struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"dateRange"`
		Reply string `json:"reply"`
	} `json:"context"`
}

// Classify はテキストを分類する。失敗はエラーとして返さず、常に分類結果を返す。
func (c *Classifier) Classify(ctx context.Context, text string) model.Classification {
	today := c.now()

	if in, ictx, ok := FastMatch(text); ok {
		return model.Classification{Intent: in, Context: ictx, Source: model.SourceFastPath}
	}

	if c.provider != nil {
		out, usedFallback, err := c.provider.CompleteWithSource(ctx, llm.Request{
			SystemPrompt: SystemPrompt(today),
			Turns:        []model.Turn{{Role: model.RoleUser, Content: text}},
		})
		if err == nil {
			cls, perr := c.parse(out, today)
			if perr == nil {
				cls.Source = model.SourceProvider
				if usedFallback {
					cls.Source = model.SourceFallback
				}
				return cls
			}
			err = perr
		}
		c.logger.Warn("intent provider unusable, using keyword fallback",
			slog.String("error", err.Error()),
		)
	}

	in, ictx := KeywordMatch(text, today)
	if in == model.IntentGeneral {
		ictx.Reply = ApologyReply
	}
	return model.Classification{Intent: in, Context: ictx, Source: model.SourceKeywords}
}

func (c *Classifier) parse(out string, today time.Time) (model.Classification, error) {
	var resp providerResponse
	if err := llm.DecodeJSONObject(out, &resp); err != nil {
		return model.Classification{}, err
	}
	in, ok := model.ParseIntent(strings.TrimSpace(resp.Intent))
	if !ok {
		return model.Classification{}, &unknownIntentError{value: resp.Intent}
	}

	cls := model.Classification{Intent: in}
	if resp.Context.Amount.Valid {
		// 数値として解釈できない金額は推定なしとして扱う
		if d, err := resp.Context.Amount.Price(); err == nil {
			cls.Context.Amount = &d
		}
	}
	switch rt := model.ReportType(resp.Context.ReportType); rt {
	case model.ReportSales, model.ReportExpenses, model.ReportInventory, model.ReportPnL:
		cls.Context.ReportType = rt
	default:
		if in == model.IntentGenerateReport {
			cls.Context.ReportType = model.ReportSales
		}
	}
	if dr := resp.Context.DateRange; dr != nil {
		cls.Context.Range = parseRange(dr.From, dr.To, today.Location())
	}
	cls.Context.Reply = strings.TrimSpace(resp.Context.Reply)
	if in == model.IntentGeneral && cls.Context.Reply == "" {
		cls.Context.Reply = ApologyReply
	}
	return cls, nil
}

// parseRange は YYYY-MM-DD の日付範囲を [from, to+1日) に変換する。不正な場合はnil。
func parseRange(from, to string, loc *time.Location) *model.DateRange {
	f, err := time.ParseInLocation("2006-01-02", from, loc)
	if err != nil {
		return nil
	}
	t, err := time.ParseInLocation("2006-01-02", to, loc)
	if err != nil || t.Before(f) {
		return nil
	}
	return &model.DateRange{From: f, To: t.AddDate(0, 0, 1)}
}

type unknownIntentError struct{ value string }

func (e *unknownIntentError) Error() string { return "unknown intent: " + e.value }
