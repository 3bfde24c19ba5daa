// Package slotfill は会話メモリから記帳コマンドの必須フィールドを収集する。
// AIが完了と判定しても、フローごとの閉じた必須フィールド判定を通過しない限り完了としない。
package slotfill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/chatbooks/internal/llm"
	"github.com/hitoshi/chatbooks/internal/model"
)

// maxMemoryTurns はプロバイダに渡す会話メモリの上限ターン数。
const maxMemoryTurns = 20

// Status は1ターン分の収集結果の種別。
type Status int

const (
	// Incomplete は必須フィールドが不足しており、Reply をユーザーに返す。
	Incomplete Status = iota
	// Complete は Command が検証済みで実行可能。
	Complete
	// Failed はプロバイダ障害または応答不正。状態は維持してよい。
	Failed
)

func (s Status) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Result は Continue の結果。
type Result struct {
	Status  Status
	Reply   string // Incomplete 時の質問
	Command any    // Complete 時の *model.SaleCommand 等
	Reason  string // Failed 時の理由（ログ用）
}

// ProductLookup は既存商品の照会。repository.ProductRepository が実装する。
type ProductLookup interface {
	FindByName(ctx context.Context, userID, name string) (*model.Product, error)
}

// Engine はスロットフィリングエンジン。
type Engine struct {
	provider llm.Provider
	products ProductLookup
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine はEngineを生成する。
func NewEngine(provider llm.Provider, products ProductLookup, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{provider: provider, products: products, logger: logger, now: time.Now}
}

type extraction struct {
	Status string          `json:"status"`
	Reply  string          `json:"reply"`
	Data   json.RawMessage `json:"data"`
}

// Continue はユーザーの発話を1ターン処理する。
// scratch の会話メモリと既知商品はその場で更新されるため、呼び出し側は結果に関わらず永続化する。
func (e *Engine) Continue(ctx context.Context, user *model.User, flow model.FlowKind, scratch *model.CollectScratch, text string) Result {
	spec, ok := specs[flow]
	if !ok {
		return Result{Status: Failed, Reason: fmt.Sprintf("unsupported flow %q", flow)}
	}
	if e.provider == nil {
		return Result{Status: Failed, Reason: "no provider configured"}
	}

	scratch.Memory = appendUserTurn(scratch.Memory, text)

	out, err := e.provider.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt(spec, user, scratch.ProductMatch, e.now()),
		Turns:        scratch.Memory,
	})
	if err != nil {
		e.logger.Warn("スロット抽出プロバイダ呼び出し失敗",
			slog.String("flow", string(flow)),
			slog.String("error", err.Error()),
		)
		return Result{Status: Failed, Reason: err.Error()}
	}

	var ex extraction
	if err := llm.DecodeJSONObject(out, &ex); err != nil {
		e.logger.Warn("スロット抽出応答の解析失敗",
			slog.String("flow", string(flow)),
			slog.String("error", err.Error()),
		)
		return Result{Status: Failed, Reason: err.Error()}
	}
	data := ex.Data
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}

	if spec.lookupField != nil {
		e.refreshProductMatch(ctx, user, scratch, spec.lookupField(data))
	}

	cmd, question, err := spec.build(data, scratch.ProductMatch)
	if err != nil {
		e.logger.Warn("スロット抽出データの型不正",
			slog.String("flow", string(flow)),
			slog.String("error", err.Error()),
		)
		return Result{Status: Failed, Reason: err.Error()}
	}

	reply := strings.TrimSpace(ex.Reply)
	switch {
	case strings.EqualFold(ex.Status, "incomplete") && reply != "":
		// AIの質問をそのまま中継する
	case question != "":
		if strings.EqualFold(ex.Status, "complete") {
			e.logger.Debug("AIの完了判定を必須フィールド判定で差し戻し",
				slog.String("flow", string(flow)),
			)
		}
		reply = question
	default:
		return Result{Status: Complete, Command: cmd}
	}

	scratch.Memory = appendTurn(scratch.Memory, model.Turn{Role: model.RoleAssistant, Content: reply})
	return Result{Status: Incomplete, Reply: reply}
}

// refreshProductMatch は抽出された商品名が既知商品と異なる場合に再照会する。
func (e *Engine) refreshProductMatch(ctx context.Context, user *model.User, scratch *model.CollectScratch, name string) {
	if name == "" || e.products == nil {
		return
	}
	if scratch.ProductMatch != nil && strings.EqualFold(scratch.ProductMatch.Name, name) {
		return
	}
	p, err := e.products.FindByName(ctx, user.ID, name)
	if err != nil {
		e.logger.Warn("商品照会失敗",
			slog.String("product", name),
			slog.String("error", err.Error()),
		)
		return
	}
	if p == nil {
		scratch.ProductMatch = nil
		return
	}
	scratch.ProductMatch = &model.ProductMatch{
		ID:    p.ID,
		Name:  p.Name,
		Stock: p.Stock,
		Cost:  p.Cost,
		Price: p.Price,
	}
}

// appendUserTurn は直前の未応答ターンと同内容であれば追記しない。
// 応答前に失敗して同じメッセージが再送された場合に二重に積まないため。
func appendUserTurn(memory []model.Turn, text string) []model.Turn {
	if n := len(memory); n > 0 && memory[n-1].Role == model.RoleUser && memory[n-1].Content == text {
		return memory
	}
	return appendTurn(memory, model.Turn{Role: model.RoleUser, Content: text})
}

func appendTurn(memory []model.Turn, t model.Turn) []model.Turn {
	memory = append(memory, t)
	if len(memory) > maxMemoryTurns {
		memory = append([]model.Turn(nil), memory[len(memory)-maxMemoryTurns:]...)
	}
	return memory
}
