package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/chatbooks/internal/model"
)

func TestOpenAIProvider_Complete(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "{\"intent\":\"log-sale\"}"},
				"finish_reason": "stop"
			}]
		}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", Model: "gpt-4o-mini", BaseURL: srv.URL + "/v1/"})
	out, err := p.Complete(context.Background(), Request{
		SystemPrompt: "classify",
		Turns: []model.Turn{
			{Role: model.RoleUser, Content: "sold 2 rice"},
			{Role: model.RoleAssistant, Content: "how much?"},
			{Role: model.RoleUser, Content: "5k"},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != `{"intent":"log-sale"}` {
		t.Errorf("Complete() = %q", out)
	}

	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d件, want 4（system + 3ターン）", len(msgs))
	}
	if role := msgs[2].(map[string]any)["role"]; role != "assistant" {
		t.Errorf("3件目のrole = %v, want assistant", role)
	}
}

func TestOpenAIProvider_ServerErrorIsUpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", Model: "m", BaseURL: srv.URL + "/v1/"})
	_, err := p.Complete(context.Background(), Request{Turns: []model.Turn{{Role: model.RoleUser, Content: "hi"}}})

	var ue *model.UpstreamUnavailableError
	if !errors.As(err, &ue) || ue.Provider != "openai" {
		t.Fatalf("error = %v, want UpstreamUnavailableError(openai)", err)
	}
}
