package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// redactedKeys は値を出力しない属性キー。
var redactedKeys = map[string]bool{
	"token":   true,
	"secret":  true,
	"api_key": true,
	"otp":     true,
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。level未満のログは出力しない。
// 秘密情報の属性は伏せ字にし、email属性はドメイン部のみ残す。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: maskAttr,
	})
	return slog.New(handler).With(slog.String("service", "chatbooks"))
}

// SetupDefault はSetupのロガーをグローバルロガーとして設定し、設定したロガーを返す。
// writerがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w, level)
	slog.SetDefault(logger)
	return logger
}

func maskAttr(_ []string, a slog.Attr) slog.Attr {
	switch {
	case redactedKeys[a.Key]:
		return slog.String(a.Key, "[REDACTED]")
	case a.Key == "email" && a.Value.Kind() == slog.KindString:
		return slog.String(a.Key, maskEmail(a.Value.String()))
	}
	return a
}

// maskEmail は "ada@example.com" を "***@example.com" にする。
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "***"
	}
	return "***" + email[at:]
}
