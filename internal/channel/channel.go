// Package channel はメッセージングチャネルの受信イベントと送信インターフェースを定義する。
package channel

import (
	"context"
	"log/slog"
	"time"
)

// EventType は受信イベントの種別。
type EventType string

const (
	EventText        EventType = "text"
	EventImage       EventType = "image"
	EventAudio       EventType = "audio"
	EventDocument    EventType = "document"
	EventInteractive EventType = "interactive" // ボタン・リストの選択
)

// Event はチャネルから受信した1件のイベント。
type Event struct {
	MessageID  string // チャネル上で一意のID。重複排除に使用する
	SenderID   string
	Type       EventType
	Body       string // テキスト本文、キャプション、または選択肢ID
	MediaRef   string
	ReceivedAt time.Time
}

// MaxButtons はボタンメッセージに付けられる選択肢の上限。
const MaxButtons = 3

// Button は返信ボタン。押されると ID が Body として届く。
type Button struct {
	ID    string
	Title string
}

// ListRow はリストメッセージの1行。
type ListRow struct {
	ID          string
	Title       string
	Description string
}

// ListSection はリストメッセージのセクション。
type ListSection struct {
	Title string
	Rows  []ListRow
}

// Sender はチャネルへの送信口。
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendButtons(ctx context.Context, to, body string, buttons []Button) error
	SendList(ctx context.Context, to, header, body string, sections []ListSection) error
	SendDocument(ctx context.Context, to, ref, filename, caption string) error
}

// Notifier は Sender の一時的な失敗を再送し、最終的な失敗はログに記録するだけにして呼び出し側へは返さない。
type Notifier struct {
	sender Sender
	logger *slog.Logger
	wait   func(ctx context.Context, d time.Duration) error
}

// NewNotifier はNotifierを生成する。
func NewNotifier(sender Sender, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sender: sender, logger: logger, wait: sleepContext}
}

// deliver は一時的な失敗を指数バックオフで再送し、最終的な失敗はログに記録する。
func (n *Notifier) deliver(ctx context.Context, kind, to string, send func(ctx context.Context) error) {
	var err error
	for attempt := range maxSendAttempts {
		err = send(ctx)
		result, retryAfter := ClassifySendError(err)
		if result != SendResultRetry || attempt == maxSendAttempts-1 {
			break
		}
		delay := CalculateSendBackoff(attempt)
		if retryAfter > delay {
			delay = retryAfter
		}
		if delay > maxSendBackoff {
			break
		}
		if n.wait(ctx, delay) != nil {
			break
		}
	}
	if err != nil {
		n.logger.Warn("outbound message failed",
			slog.String("kind", kind),
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
	}
}

// Text はテキストを送信する。
func (n *Notifier) Text(ctx context.Context, to, text string) {
	n.deliver(ctx, "text", to, func(ctx context.Context) error {
		return n.sender.SendText(ctx, to, text)
	})
}

// Buttons はボタン付きメッセージを送信する。上限を超えた分は切り捨てる。
func (n *Notifier) Buttons(ctx context.Context, to, body string, buttons []Button) {
	if len(buttons) > MaxButtons {
		buttons = buttons[:MaxButtons]
	}
	n.deliver(ctx, "buttons", to, func(ctx context.Context) error {
		return n.sender.SendButtons(ctx, to, body, buttons)
	})
}

// List はリストメッセージを送信する。
func (n *Notifier) List(ctx context.Context, to, header, body string, sections []ListSection) {
	n.deliver(ctx, "list", to, func(ctx context.Context) error {
		return n.sender.SendList(ctx, to, header, body, sections)
	})
}

// Document はドキュメントを送信する。
func (n *Notifier) Document(ctx context.Context, to, ref, filename, caption string) {
	n.deliver(ctx, "document", to, func(ctx context.Context) error {
		return n.sender.SendDocument(ctx, to, ref, filename, caption)
	})
}
