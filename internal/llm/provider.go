// Package llm はJSON応答を返すテキスト生成プロバイダ（分類器・抽出器）への薄いアダプタを提供する。
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/chatbooks/internal/model"
)

// ErrEmptyResponse はプロバイダが空の応答を返したことを表す。
var ErrEmptyResponse = errors.New("provider returned empty response")

// ErrNoJSONObject は応答に単一のJSONオブジェクトが含まれないことを表す。
var ErrNoJSONObject = errors.New("response does not contain a JSON object")

// Request はプロバイダへの1回のリクエスト。
type Request struct {
	SystemPrompt string
	Turns        []model.Turn
}

// Provider はテキスト生成プロバイダ。
// 失敗は *model.UpstreamUnavailableError として返す。
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Fallback は主プロバイダの失敗時に1回だけ副プロバイダを試す Provider。
// 各試行には Timeout が適用される。
type Fallback struct {
	Primary   Provider
	Secondary Provider // nil可
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Name はプロバイダ名を返す。
func (f *Fallback) Name() string {
	if f.Secondary == nil {
		return f.Primary.Name()
	}
	return f.Primary.Name() + "+" + f.Secondary.Name()
}

// Complete は主プロバイダを呼び、失敗した場合は副プロバイダを1回だけ呼ぶ。
func (f *Fallback) Complete(ctx context.Context, req Request) (string, error) {
	out, _, err := f.CompleteWithSource(ctx, req)
	return out, err
}

// CompleteWithSource は Complete と同じだが、応答を返したのが副プロバイダかどうかも返す。
func (f *Fallback) CompleteWithSource(ctx context.Context, req Request) (string, bool, error) {
	out, err := f.attempt(ctx, f.Primary, req)
	if err == nil {
		return out, false, nil
	}
	if f.Secondary == nil {
		return "", false, err
	}
	f.logger().Warn("primary provider failed, trying fallback",
		slog.String("primary", f.Primary.Name()),
		slog.String("fallback", f.Secondary.Name()),
		slog.String("error", err.Error()),
	)
	out, err = f.attempt(ctx, f.Secondary, req)
	return out, true, err
}

func (f *Fallback) attempt(ctx context.Context, p Provider, req Request) (string, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	out, err := p.Complete(ctx, req)
	if err != nil {
		var ue *model.UpstreamUnavailableError
		if errors.As(err, &ue) {
			return "", err
		}
		return "", &model.UpstreamUnavailableError{Provider: p.Name(), Err: err}
	}
	return out, nil
}

func (f *Fallback) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// ExtractJSONObject は応答テキストから単一のJSONオブジェクトを取り出す。
// コードフェンスや前後の説明文は無視する。オブジェクトが見つからないか不正な場合はエラーを返す。
func ExtractJSONObject(text string) ([]byte, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSONObject
	}
	raw := []byte(text[start : end+1])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrNoJSONObject)
	}
	return raw, nil
}

// DecodeJSONObject は応答テキスト中のJSONオブジェクトをvにデコードする。
func DecodeJSONObject(text string, v any) error {
	raw, err := ExtractJSONObject(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrNoJSONObject, err)
	}
	return nil
}

// Static は常に固定の応答またはエラーを返す Provider。プロバイダ未設定時とテストで使用する。
type Static struct {
	ProviderName string
	Response     string
	Err          error
}

// Name はプロバイダ名を返す。
func (s *Static) Name() string {
	if s.ProviderName == "" {
		return "static"
	}
	return s.ProviderName
}

// Complete は固定の応答を返す。
func (s *Static) Complete(ctx context.Context, _ Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Response, nil
}

// Unconfigured はAPIキー未設定時に使う、常に失敗する Provider を返す。
func Unconfigured(name string) Provider {
	return &Static{ProviderName: name, Err: errors.New("provider not configured")}
}
