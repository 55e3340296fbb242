package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicProviderComplete(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Fatalf("expected api key header")
		}
		if r.Header.Get("Anthropic-Version") == "" {
			t.Fatalf("expected version header")
		}
		if r.URL.Path != "/v1/messages" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.System != "you write blog posts" {
			t.Fatalf("unexpected system prompt %q", req.System)
		}
		if req.MaxTokens != defaultAnthropicMaxTokens {
			t.Fatalf("expected default max_tokens, got %d", req.MaxTokens)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "claude-test",
			"content": []map[string]string{
				{"type": "text", "text": "part one "},
				{"type": "text", "text": "part two"},
			},
			"usage": map[string]int{"input_tokens": 21, "output_tokens": 42},
		})
	}))
	defer server.Close()

	provider := NewAnthropicProvider(Config{
		APIURL: server.URL,
		APIKey: "test-key",
		Model:  "claude-test",
	})

	result, err := provider.Complete(context.Background(), Request{
		System: "you write blog posts",
		Prompt: "write one",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.Text != "part one part two" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.InputTokens != 21 || result.OutputTokens != 42 {
		t.Fatalf("unexpected usage %d/%d", result.InputTokens, result.OutputTokens)
	}
}

func TestNewProviderSelection(t *testing.T) {
	t.Parallel()

	provider, err := NewProvider(Config{Provider: "anthropic", Model: "claude-test"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if provider.Name() != "anthropic" {
		t.Fatalf("unexpected provider %s", provider.Name())
	}

	if _, err := NewProvider(Config{Provider: "bard"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
