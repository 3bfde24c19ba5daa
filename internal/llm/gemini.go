package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/chatbooks/internal/model"
	"google.golang.org/genai"
)

// GeminiConfig はGemini APIの設定。
type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string // テスト用。空の場合は公式エンドポイント
	HTTPClient *http.Client
}

// GeminiProvider はGemini API（genai SDK）を使用する Provider。
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider はGeminiProviderを生成する。
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: cfg.Model}, nil
}

// Name はプロバイダ名を返す。
func (p *GeminiProvider) Name() string { return "gemini" }

// Complete は会話ターンを送信し、JSON応答を要求して応答テキストを返す。
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (string, error) {
	contents := make([]*genai.Content, 0, len(req.Turns))
	for _, turn := range req.Turns {
		role := genai.Role(genai.RoleUser)
		if turn.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	res, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", &model.UpstreamUnavailableError{Provider: p.Name(), Err: fmt.Errorf("generate content: %w", err)}
	}
	text := res.Text()
	if text == "" {
		return "", &model.UpstreamUnavailableError{Provider: p.Name(), Err: ErrEmptyResponse}
	}
	return text, nil
}

// compile-time interface check
var _ Provider = (*GeminiProvider)(nil)
