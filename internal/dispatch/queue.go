// Package dispatch は受信イベントの重複排除・レート制限と、送信者ごとの直列処理を提供する。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hitoshi/chatbooks/internal/channel"
)

var (
	// ErrQueueFull は送信者のシャードが満杯で、期限内に投入できなかったことを表す。
	ErrQueueFull = errors.New("dispatch queue is full")
	// ErrQueueClosed は停止済みのキューへの投入を表す。
	ErrQueueClosed = errors.New("dispatch queue is closed")
)

// Handler は1イベントを処理する。*conversation.Engine が実装する。
type Handler interface {
	Handle(ctx context.Context, ev channel.Event) error
}

// TurnObserver はイベント処理の所要時間を受け取る。metrics.Collector が実装する。
type TurnObserver interface {
	ObserveTurn(d time.Duration, failed bool)
}

// QueueConfig はキューの設定。
type QueueConfig struct {
	Workers     int           // シャード（ワーカー）数
	Size        int           // シャードごとのバッファ
	TurnTimeout time.Duration // 1イベントの処理上限
}

// Queue は送信者IDのハッシュでイベントをシャードに振り分ける。
// 各シャードは単一のワーカーが到着順に処理するため、同一ユーザーのイベントは直列に、
// 異なるユーザーのイベントは並行に処理される。
type Queue struct {
	shards   []chan channel.Event
	handler  Handler
	observer TurnObserver
	cfg      QueueConfig
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue はQueueを生成する。observer はnil可。
func NewQueue(handler Handler, observer TurnObserver, cfg QueueConfig, logger *slog.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.Size <= 0 {
		cfg.Size = 64
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	shards := make([]chan channel.Event, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan channel.Event, cfg.Size)
	}
	return &Queue{shards: shards, handler: handler, observer: observer, cfg: cfg, logger: logger}
}

// Start はワーカーを起動する。ctx はイベント処理の親コンテキストとなる。
func (q *Queue) Start(ctx context.Context) {
	for i, ch := range q.shards {
		q.wg.Add(1)
		go q.work(ctx, i, ch)
	}
	q.logger.Info("ディスパッチキューを開始しました",
		slog.Int("workers", q.cfg.Workers),
		slog.Int("queue_size", q.cfg.Size),
	)
}

// Stop は新規投入を止め、投入済みのイベントを処理し終えるまで待つ。
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, ch := range q.shards {
		close(ch)
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("ディスパッチキューを停止しました")
}

func (q *Queue) shardFor(senderID string) chan channel.Event {
	h := fnv.New32a()
	h.Write([]byte(senderID))
	return q.shards[h.Sum32()%uint32(len(q.shards))]
}

// Enqueue はイベントを送信者のシャードへ投入する。処理の完了は待たない。
// シャードが満杯の場合は ctx の期限まで待ち、間に合わなければ ErrQueueFull を返す。
func (q *Queue) Enqueue(ctx context.Context, ev channel.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.shardFor(ev.SenderID) <- ev:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrQueueFull, ctx.Err())
	}
}

func (q *Queue) work(ctx context.Context, shard int, ch <-chan channel.Event) {
	defer q.wg.Done()
	for ev := range ch {
		q.run(ctx, shard, ev)
	}
}

// run は1イベントを処理する。panicはこのイベントに閉じ込め、ワーカーは継続する。
func (q *Queue) run(parent context.Context, shard int, ev channel.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), q.cfg.TurnTimeout)
	defer cancel()

	start := time.Now()
	failed := false
	defer func() {
		if rec := recover(); rec != nil {
			failed = true
			q.logger.Error("panic while handling event",
				slog.Any("panic", rec),
				slog.String("message_id", ev.MessageID),
				slog.String("sender_id", ev.SenderID),
				slog.String("stack", string(debug.Stack())),
			)
		}
		if q.observer != nil {
			q.observer.ObserveTurn(time.Since(start), failed)
		}
	}()

	if err := q.handler.Handle(ctx, ev); err != nil {
		failed = true
		q.logger.Error("イベント処理に失敗しました",
			slog.Int("shard", shard),
			slog.String("message_id", ev.MessageID),
			slog.String("sender_id", ev.SenderID),
			slog.String("error", err.Error()),
		)
	}
}
