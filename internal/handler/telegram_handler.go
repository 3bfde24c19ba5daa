package handler

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/chatbooks/internal/channel"
	"github.com/hitoshi/chatbooks/internal/dispatch"
	"github.com/hitoshi/chatbooks/internal/middleware"
	"github.com/hitoshi/chatbooks/internal/model"
)

// TelegramSecretHeader はsetWebhookで登録したシークレットが載るヘッダー。
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxWebhookBody はWebhookボディの上限バイト数。
const maxWebhookBody = 1 << 20

// Ingestor は受信イベントを重複排除・レート制限してキューへ投入する。
type Ingestor interface {
	Ingest(ctx context.Context, ev channel.Event) (dispatch.Verdict, error)
}

// CallbackAcker はボタン押下の応答（ローディング表示の解除）を行う。
type CallbackAcker interface {
	AckCallback(ctx context.Context, callbackID string) error
}

// TelegramHandler はTelegram Bot APIのWebhookを受け付けるハンドラー。
type TelegramHandler struct {
	secret   string
	ingestor Ingestor
	acker    CallbackAcker
	logger   *slog.Logger
}

// NewTelegramHandler はTelegramHandlerを生成する。acker は nil でもよい。
func NewTelegramHandler(secret string, ingestor Ingestor, acker CallbackAcker, logger *slog.Logger) *TelegramHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramHandler{secret: secret, ingestor: ingestor, acker: acker, logger: logger}
}

// ServeHTTP はWebhookを処理する。
// POST /webhooks/telegram
//
// 重複・レート制限・処理対象外の更新も200で応答し、Telegramの再送を止める。
// 受信台帳に記録できなかった場合のみ503を返し、再送させる。
func (h *TelegramHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !secretMatches(h.secret, r.Header.Get(TelegramSecretHeader)) {
		h.logger.Warn("telegram webhook secret mismatch")
		middleware.WriteErrorResponse(w, r, http.StatusUnauthorized, model.NewInvalidSignatureError())
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		middleware.WriteErrorResponse(w, r, http.StatusBadRequest, model.NewInvalidPayloadError("unreadable body"))
		return
	}

	ev, callbackID, ok, err := channel.DecodeUpdate(body)
	if err != nil {
		middleware.WriteErrorResponse(w, r, http.StatusBadRequest, model.NewInvalidPayloadError("malformed update"))
		return
	}
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	if callbackID != "" && h.acker != nil {
		if err := h.acker.AckCallback(r.Context(), callbackID); err != nil {
			h.logger.Warn("failed to ack callback",
				slog.String("message_id", ev.MessageID),
				slog.String("error", err.Error()),
			)
		}
	}

	verdict, err := h.ingestor.Ingest(r.Context(), ev)
	if err != nil {
		h.logger.Error("failed to ingest telegram update",
			slog.String("message_id", ev.MessageID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, r, http.StatusServiceUnavailable, model.NewQueueUnavailableError())
		return
	}

	h.logger.Debug("telegram update accepted",
		slog.String("message_id", ev.MessageID),
		slog.String("verdict", string(verdict)),
	)
	w.WriteHeader(http.StatusOK)
}

// secretMatches は定数時間でシークレットを比較する。期待値が空の場合は常に不一致。
func secretMatches(want, got string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
