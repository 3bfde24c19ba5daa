package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chatbooks/internal/channel"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/ratelimit"
	"github.com/hitoshi/chatbooks/internal/repository"
)

// RateLimitWarning は窓ごとに1回だけ送る警告。
const RateLimitWarning = "⚠️ You're sending messages too quickly. Please wait a minute, then try again."

// BusyMessage はキューに投入できなかったときの応答。
const BusyMessage = "⏳ I'm a little busy right now. Please send that again in a moment."

// enqueueWait はシャードが満杯のときに空きを待つ上限。
const enqueueWait = 2 * time.Second

// Verdict は受信イベント1件に対する判定。
type Verdict string

const (
	VerdictQueued      Verdict = "queued"
	VerdictDuplicate   Verdict = "duplicate"
	VerdictRateLimited Verdict = "rate_limited"
	VerdictBusy        Verdict = "busy"
)

// RateLimiter は送信者ごとのレート制限。*ratelimit.Limiter が実装する。
type RateLimiter interface {
	Check(ctx context.Context, identity string) ratelimit.Decision
}

// Sanitizer は受信テキストを無害化する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Enqueuer はイベントを非同期処理へ渡す。*Queue が実装する。
type Enqueuer interface {
	Enqueue(ctx context.Context, ev channel.Event) error
}

// Notifier は送信者への即時応答に使う。
type Notifier interface {
	Text(ctx context.Context, to, text string)
}

// IngestObserver は判定結果を受け取る。metrics.Collector が実装する。
type IngestObserver interface {
	ObserveInbound(eventType, verdict string)
}

// Ingestor は受信イベントを検査してキューへ渡す。処理そのものは待たない。
type Ingestor struct {
	ledger    repository.IdempotencyRepository
	limiter   RateLimiter
	sanitizer Sanitizer
	queue     Enqueuer
	notify    Notifier
	observer  IngestObserver
	logger    *slog.Logger
	now       func() time.Time
}

// IngestorDeps はIngestorの依存先。observer はnil可。
type IngestorDeps struct {
	Ledger    repository.IdempotencyRepository
	Limiter   RateLimiter
	Sanitizer Sanitizer
	Queue     Enqueuer
	Notify    Notifier
	Observer  IngestObserver
}

// NewIngestor はIngestorを生成する。
func NewIngestor(deps IngestorDeps, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		ledger:    deps.Ledger,
		limiter:   deps.Limiter,
		sanitizer: deps.Sanitizer,
		queue:     deps.Queue,
		notify:    deps.Notify,
		observer:  deps.Observer,
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest はメッセージIDで重複を排除し、レート制限を適用してからキューへ投入する。
// メッセージIDは投入前に記録するため、同じイベントの再送は処理されない。
func (g *Ingestor) Ingest(ctx context.Context, ev channel.Event) (Verdict, error) {
	v, err := g.ingest(ctx, ev)
	if err == nil && g.observer != nil {
		g.observer.ObserveInbound(string(ev.Type), string(v))
	}
	return v, err
}

func (g *Ingestor) ingest(ctx context.Context, ev channel.Event) (Verdict, error) {
	log := g.logger.With(
		slog.String("message_id", ev.MessageID),
		slog.String("sender_id", ev.SenderID),
	)

	if ev.MessageID != "" {
		inserted, err := g.ledger.Record(ctx, &model.IdempotencyRecord{
			Kind:      model.IdempotencyMessage,
			Reference: ev.MessageID,
			Outcome:   model.OutcomeReceived,
			CreatedAt: g.now(),
		})
		if err != nil {
			return "", fmt.Errorf("failed to record message id: %w", err)
		}
		if !inserted {
			log.Info("duplicate inbound message")
			return VerdictDuplicate, nil
		}
	}

	switch g.limiter.Check(ctx, ev.SenderID) {
	case ratelimit.DropAndWarn:
		g.notify.Text(ctx, ev.SenderID, RateLimitWarning)
		return VerdictRateLimited, nil
	case ratelimit.Drop:
		return VerdictRateLimited, nil
	}

	if g.sanitizer != nil {
		ev.Body = g.sanitizer.Sanitize(ev.Body)
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, enqueueWait)
	defer cancel()
	if err := g.queue.Enqueue(enqueueCtx, ev); err != nil {
		log.Error("failed to enqueue inbound message", slog.String("error", err.Error()))
		g.notify.Text(ctx, ev.SenderID, BusyMessage)
		return VerdictBusy, nil
	}
	return VerdictQueued, nil
}
