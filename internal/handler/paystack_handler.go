package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/chatbooks/internal/middleware"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/hitoshi/chatbooks/internal/payment"
)

// PaymentProcessor は検証済みの決済イベントを処理する。
type PaymentProcessor interface {
	Process(ctx context.Context, ev *payment.Event) (payment.Outcome, error)
}

// PaystackHandler はPaystackの決済Webhookを受け付けるハンドラー。
type PaystackHandler struct {
	secret    string
	processor PaymentProcessor
	logger    *slog.Logger
}

// paymentResponse は決済Webhookの応答ボディ。
type paymentResponse struct {
	Outcome string `json:"outcome"`
}

// NewPaystackHandler はPaystackHandlerを生成する。
func NewPaystackHandler(secret string, processor PaymentProcessor, logger *slog.Logger) *PaystackHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaystackHandler{secret: secret, processor: processor, logger: logger}
}

// ServeHTTP は決済Webhookを処理する。
// POST /webhooks/paystack
//
// 署名は生のボディに対して検証する。重複・金額不足などの拒否も200で応答し、
// 処理中の障害のみ500を返して再送させる。
func (h *PaystackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		middleware.WriteErrorResponse(w, r, http.StatusBadRequest, model.NewInvalidPayloadError("unreadable body"))
		return
	}

	if !payment.VerifySignature(h.secret, body, r.Header.Get(payment.SignatureHeader)) {
		h.logger.Warn("payment webhook signature mismatch",
			slog.String("remote_addr", r.RemoteAddr),
		)
		middleware.WriteErrorResponse(w, r, http.StatusUnauthorized, model.NewInvalidSignatureError())
		return
	}

	ev, err := payment.ParseEvent(body)
	if err != nil {
		middleware.WriteErrorResponse(w, r, http.StatusBadRequest, model.NewInvalidPayloadError(err.Error()))
		return
	}

	outcome, err := h.processor.Process(r.Context(), ev)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			middleware.WriteErrorResponse(w, r, http.StatusBadRequest, apiErr)
			return
		}
		h.logger.Error("failed to process payment event",
			slog.String("reference", ev.Data.Reference),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(paymentResponse{Outcome: string(outcome)})
}
