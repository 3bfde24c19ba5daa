// Package ratelimit は送信者ごとの受信メッセージ数を制限する。
// カウンタは複数プロセスで共有されるカウンタストアに置き、ストア障害時は通過させる（fail open）。
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// CounterStore は有効期限付きの単一キー原子操作を提供するカウンタストア。
type CounterStore interface {
	// Increment はキーを1増やして増加後の値と窓の期限を返す。窓内で最初の増加の場合は期限を window 後に設定する。
	Increment(ctx context.Context, key string, window time.Duration) (count int64, expiresAt time.Time, err error)
	// SetIfAbsent はキーが未設定（または期限切れ）の場合のみ期限 until で設定し、trueを返す。
	SetIfAbsent(ctx context.Context, key string, until time.Time) (bool, error)
}

// Decision はメッセージ1件に対する判定結果。
type Decision int

const (
	// Allow は処理を続行する。
	Allow Decision = iota
	// Drop はメッセージを破棄する（警告は送信済み）。
	Drop
	// DropAndWarn はメッセージを破棄し、この窓で1回だけの警告を送る。
	DropAndWarn
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Drop:
		return "drop"
	case DropAndWarn:
		return "drop_and_warn"
	}
	return "unknown"
}

// Config はレート制限の設定を保持する。
type Config struct {
	Max    int64         // 窓あたりの許容メッセージ数
	Window time.Duration // カウンタの窓
}

// DefaultConfig はデフォルト設定（60秒あたり10件）を返す。
func DefaultConfig() Config {
	return Config{
		Max:    10,
		Window: 60 * time.Second,
	}
}

// Limiter は送信者ごとのスライディング窓カウンタ。
type Limiter struct {
	store  CounterStore
	config Config
	logger *slog.Logger
}

// New はLimiterを生成する。
func New(store CounterStore, config Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, config: config, logger: logger}
}

func counterKey(identity string) string { return "rate:" + identity }
func warnedKey(identity string) string  { return "rate-warned:" + identity }

// Check は受信メッセージ1件をカウントし、判定を返す。
// カウンタストアが利用できない場合は Allow を返す。
func (l *Limiter) Check(ctx context.Context, identity string) Decision {
	count, expiresAt, err := l.store.Increment(ctx, counterKey(identity), l.config.Window)
	if err != nil {
		l.logger.Warn("rate limiter store unavailable, allowing message",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
		return Allow
	}
	if count <= l.config.Max {
		return Allow
	}

	// マーカーはカウンタと同時に失効させ、次の窓の超過では再び警告する
	first, err := l.store.SetIfAbsent(ctx, warnedKey(identity), expiresAt)
	if err != nil {
		// 警告の重複送信を避けるため、マーカーが確認できない場合は警告しない
		l.logger.Warn("rate limiter warn marker unavailable",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
		return Drop
	}

	l.logger.Warn("rate limit exceeded",
		slog.String("identity", identity),
		slog.Int64("count", count),
		slog.Int64("max", l.config.Max),
		slog.Bool("warned", first),
	)
	if first {
		return DropAndWarn
	}
	return Drop
}
