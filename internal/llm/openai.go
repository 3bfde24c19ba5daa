package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig はOpenAI互換エンドポイントの設定。
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string // 空の場合は公式エンドポイント
	HTTPClient *http.Client
}

// OpenAIProvider はChat Completions APIを使用する Provider。
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider はOpenAIProviderを生成する。
// リトライはFallbackが担うため、SDK内蔵のリトライは無効にする。
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}
}

// Name はプロバイダ名を返す。
func (p *OpenAIProvider) Name() string { return "openai" }

// Complete はシステムプロンプトと会話ターンを送信し、応答テキストを返す。
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Turns)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, turn := range req.Turns {
		if turn.Role == model.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(turn.Content))
			continue
		}
		messages = append(messages, openai.UserMessage(turn.Content))
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: messages,
	})
	if err != nil {
		return "", &model.UpstreamUnavailableError{Provider: p.Name(), Err: fmt.Errorf("chat completion: %w", err)}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &model.UpstreamUnavailableError{Provider: p.Name(), Err: ErrEmptyResponse}
	}
	return resp.Choices[0].Message.Content, nil
}

// compile-time interface check
var _ Provider = (*OpenAIProvider)(nil)
