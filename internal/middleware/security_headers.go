package middleware

import "net/http"

// NewSecurityHeadersMiddleware はJSONのみを返すWebhook APIとしてのセキュリティヘッダーを付与する。
// ブラウザ向けのページは提供しないため、コンテンツの読み込みとキャッシュを一切許可しない。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			// /metrics はPrometheusのスクレイプ用で、結果を中継キャッシュに残さない
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
