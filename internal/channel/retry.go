package channel

import (
	"context"
	"errors"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SendResult は送信エラーの分類。
type SendResult int

const (
	// SendResultOK は送信成功。
	SendResultOK SendResult = iota
	// SendResultRetry は時間をおいて再送すべき失敗（429/5xx/通信エラー）。
	SendResultRetry
	// SendResultStop は再送しても成功しない失敗（400/403 など）。
	SendResultStop
)

const (
	// maxSendAttempts は1メッセージあたりの最大送信回数。
	maxSendAttempts = 3
	// initialSendBackoff は指数バックオフの初回遅延。
	initialSendBackoff = 500 * time.Millisecond
	// maxSendBackoff はバックオフおよび Retry-After の上限。これを超える待機は要求されても行わない。
	maxSendBackoff = 10 * time.Second
)

// ClassifySendError は送信エラーを分類し、Bot APIが待機時間を指定した場合はそれも返す。
func ClassifySendError(err error) (SendResult, time.Duration) {
	if err == nil {
		return SendResultOK, 0
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return SendResultStop, 0
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return SendResultRetry, time.Duration(apiErr.RetryAfter) * time.Second
		case apiErr.Code >= 500:
			return SendResultRetry, 0
		default:
			return SendResultStop, 0
		}
	}

	// chat id の解析失敗などは送信前のエラー
	var idErr *chatIDError
	if errors.As(err, &idErr) {
		return SendResultStop, 0
	}
	return SendResultRetry, 0
}

// CalculateSendBackoff は試行回数（0始まり）に基づいて指数バックオフ遅延を計算する。
// 初回500ms、2倍ずつ増加、最大10秒。
func CalculateSendBackoff(attempt int) time.Duration {
	delay := initialSendBackoff
	for range attempt {
		delay *= 2
		if delay > maxSendBackoff {
			return maxSendBackoff
		}
	}
	return delay
}

// sleepContext は d だけ待つ。ctx が先に終わった場合はそのエラーを返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
