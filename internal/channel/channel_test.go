package channel

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type mockSender struct {
	sendTextFn    func(ctx context.Context, to, text string) error
	buttonsSeen   []Button
	documentsSent int
}

func (m *mockSender) SendText(ctx context.Context, to, text string) error {
	return m.sendTextFn(ctx, to, text)
}
func (m *mockSender) SendButtons(_ context.Context, _, _ string, buttons []Button) error {
	m.buttonsSeen = buttons
	return nil
}
func (m *mockSender) SendList(context.Context, string, string, string, []ListSection) error {
	return nil
}
func (m *mockSender) SendDocument(context.Context, string, string, string, string) error {
	m.documentsSent++
	return nil
}

// recordWaits は待機を行わず、要求された待機時間だけを記録する。
func recordWaits(n *Notifier) *[]time.Duration {
	var waits []time.Duration
	n.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return &waits
}

func TestNotifier_RetriesThenLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	attempts := 0
	sender := &mockSender{sendTextFn: func(context.Context, string, string) error {
		attempts++
		return errors.New("network down")
	}}
	n := NewNotifier(sender, slog.New(slog.NewJSONHandler(&buf, nil)))
	waits := recordWaits(n)

	n.Text(context.Background(), "42", "hi")

	if attempts != maxSendAttempts {
		t.Errorf("attempts = %d, want %d", attempts, maxSendAttempts)
	}
	if len(*waits) != maxSendAttempts-1 || (*waits)[0] != 500*time.Millisecond || (*waits)[1] != time.Second {
		t.Errorf("waits = %v, want [500ms 1s]", *waits)
	}
	if !strings.Contains(buf.String(), "network down") {
		t.Errorf("log = %s, want the send error recorded", buf.String())
	}
}

func TestNotifier_HonoursRetryAfter(t *testing.T) {
	attempts := 0
	sender := &mockSender{sendTextFn: func(context.Context, string, string) error {
		attempts++
		if attempts == 1 {
			return &tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}}
		}
		return nil
	}}
	n := NewNotifier(sender, nil)
	waits := recordWaits(n)

	n.Text(context.Background(), "42", "hi")

	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if len(*waits) != 1 || (*waits)[0] != 3*time.Second {
		t.Errorf("waits = %v, want [3s]", *waits)
	}
}

func TestNotifier_DoesNotRetryPermanentFailures(t *testing.T) {
	attempts := 0
	sender := &mockSender{sendTextFn: func(context.Context, string, string) error {
		attempts++
		return &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	}}
	n := NewNotifier(sender, nil)
	recordWaits(n)

	n.Text(context.Background(), "42", "hi")

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestClassifySendError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		want       SendResult
		retryAfter time.Duration
	}{
		{"nil", nil, SendResultOK, 0},
		{"rate limited", &tgbotapi.Error{Code: 429, ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 5}}, SendResultRetry, 5 * time.Second},
		{"server error", &tgbotapi.Error{Code: 502}, SendResultRetry, 0},
		{"bad request", &tgbotapi.Error{Code: 400}, SendResultStop, 0},
		{"blocked", &tgbotapi.Error{Code: 403}, SendResultStop, 0},
		{"network", errors.New("connection reset"), SendResultRetry, 0},
		{"canceled", context.Canceled, SendResultStop, 0},
		{"bad chat id", &chatIDError{to: "abc", err: errors.New("syntax")}, SendResultStop, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, after := ClassifySendError(tt.err)
			if got != tt.want || after != tt.retryAfter {
				t.Errorf("ClassifySendError() = %v, %v, want %v, %v", got, after, tt.want, tt.retryAfter)
			}
		})
	}
}

func TestCalculateSendBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{20, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := CalculateSendBackoff(tt.attempt); got != tt.want {
			t.Errorf("CalculateSendBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNotifier_TruncatesButtons(t *testing.T) {
	sender := &mockSender{}
	n := NewNotifier(sender, nil)
	n.Buttons(context.Background(), "42", "pick", []Button{{ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}})
	if len(sender.buttonsSeen) != MaxButtons {
		t.Errorf("buttons sent = %d, want %d", len(sender.buttonsSeen), MaxButtons)
	}
	n.Document(context.Background(), "42", "https://example.com/r.pdf", "r.pdf", "")
	if sender.documentsSent != 1 {
		t.Errorf("documents = %d", sender.documentsSent)
	}
}
