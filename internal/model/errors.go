package model

import (
	"errors"
	"fmt"
)

// APIError はHTTPエンドポイントの統一エラーフォーマットを表す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, integrity, system
	Action   string // 呼び出し元向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"
	ErrCodeInvalidPayload   = "INVALID_PAYLOAD"
	ErrCodeQueueUnavailable = "QUEUE_UNAVAILABLE"
)

// NewInvalidSignatureError は署名検証失敗エラーを生成する。
func NewInvalidSignatureError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSignature,
		Message:  "signature verification failed",
		Category: "integrity",
		Action:   "Sign the raw request body with the configured secret.",
	}
}

// NewInvalidPayloadError はリクエストボディ解析失敗エラーを生成する。
func NewInvalidPayloadError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPayload,
		Message:  fmt.Sprintf("invalid payload: %s", reason),
		Category: "validation",
		Action:   "Send a well-formed JSON body.",
	}
}

// NewQueueUnavailableError は処理キューが受け付けられない場合のエラーを生成する。
func NewQueueUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeQueueUnavailable,
		Message:  "event queue is busy",
		Category: "system",
		Action:   "Retry the delivery later.",
	}
}

// --- ドメインエラー分類 ---
// Validation / NotFound / Conflict はユーザーが修正可能で、Message をそのまま返信に使う。

// ValidationError は必須フィールドの欠落・不正を表す。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NotFoundError は参照先エンティティが存在しないことを表す。
type NotFoundError struct {
	Entity  string
	Name    string
	Message string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Name)
}

// ConflictError は作成時の重複や在庫不足などの競合を表す。
type ConflictError struct {
	Reason  string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// 競合理由
const (
	ConflictDuplicateName     = "duplicate_name"
	ConflictInsufficientStock = "insufficient_stock"
)

// UpstreamUnavailableError は分類器などの外部プロバイダ障害を表す。
// ユーザーには技術的なエラーとして見せず、フォールバックに退避する。
type UpstreamUnavailableError struct {
	Provider string
	Err      error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %v", e.Provider, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// IntegrityViolationError は署名のない・偽造されたWebhookを表す。ログに記録して破棄する。
type IntegrityViolationError struct {
	Reason string
}

func (e *IntegrityViolationError) Error() string {
	return fmt.Sprintf("integrity violation: %s", e.Reason)
}

// UserMessage はユーザー修正可能なエラーであれば返信用メッセージを返す。
// それ以外（予期しないエラー）はfalseを返す。
func UserMessage(err error) (string, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message, true
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Message, true
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Message, true
	}
	return "", false
}
