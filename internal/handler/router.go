package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/chatbooks/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	RateLimiter    *middleware.RateLimiter
	StatusRecorder middleware.StatusRecorder

	// ヘルスチェック
	DB Pinger

	// メトリクス（nilの場合は /metrics を公開しない）
	Metrics http.Handler

	// Telegram
	TelegramSecret string
	Ingestor       Ingestor
	CallbackAcker  CallbackAcker

	// 決済
	PaystackSecret string
	Payments       PaymentProcessor
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders
//
// Webhookルート（/webhooks/*）にのみ接続元IPごとのレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.Get("/health", HealthHandler(deps.DB))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/webhooks", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Method(http.MethodPost, "/telegram",
			NewTelegramHandler(deps.TelegramSecret, deps.Ingestor, deps.CallbackAcker, logger))
		r.Method(http.MethodPost, "/paystack",
			NewPaystackHandler(deps.PaystackSecret, deps.Payments, logger))
	})

	return r
}
