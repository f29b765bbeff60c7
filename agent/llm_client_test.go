package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func clientForProvider(provider, url string) *LLMClient {
	cfg := DefaultConfig()
	cfg.LLM.Provider = provider
	cfg.LLM.Model = "test-model"
	switch provider {
	case "openai":
		cfg.LLM.OpenAIURL = url
	case "local", "ollama":
		cfg.LLM.OllamaURL = url
	}
	return NewLLMClient(cfg, nil)
}

func TestCompleteOpenAI(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["model"] != "test-model" {
			t.Errorf("model = %v", req["model"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "the reply"}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	defer ts.Close()

	got, err := clientForProvider("openai", ts.URL).Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "the reply" {
		t.Errorf("reply = %q", got)
	}
}

func TestCompleteOpenAIErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))
	defer ts.Close()

	_, err := clientForProvider("openai", ts.URL).Complete(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected an error on a non-200 status")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want the status code mentioned", err)
	}
}

func TestCompleteOllama(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/api/chat") {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]string{"content": "local reply"},
			"prompt_eval_count": 7,
			"eval_count":        3,
		})
	}))
	defer ts.Close()

	got, err := clientForProvider("local", ts.URL).Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "local reply" {
		t.Errorf("reply = %q", got)
	}
}

func TestCompleteUnsupportedProvider(t *testing.T) {
	if _, err := clientForProvider("carrier-pigeon", "").Complete(context.Background(), "x"); err == nil {
		t.Fatal("expected an error for an unknown provider")
	}
}

func TestCompleteWithImageRequiresAnthropic(t *testing.T) {
	_, err := clientForProvider("openai", "http://unused").CompleteWithImage(context.Background(), "p", "image/png", []byte{1})
	if err == nil {
		t.Fatal("expected an error for image input on a non-anthropic provider")
	}
}

func TestSlotWaitHonorsCancellation(t *testing.T) {
	c := clientForProvider("openai", "http://unused")
	for i := 0; i < cap(c.slots); i++ {
		c.slots <- struct{}{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Complete(ctx, "x"); err == nil {
		t.Fatal("expected a cancellation error while waiting for a slot")
	}
}

func TestMockClientStages(t *testing.T) {
	m := NewMockClient()
	reply, err := m.Complete(WithStage(context.Background(), "strategist"), "p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var strategy Strategy
	raw, err := ExtractJSONObject(reply)
	if err != nil {
		t.Fatalf("mock strategist reply has no JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(raw), &strategy); err != nil {
		t.Fatalf("mock strategist reply does not decode: %v", err)
	}

	codeReply, err := m.Complete(WithStage(context.Background(), "coder"), "p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ExtractCodeBlock(codeReply, "python"); err != nil {
		t.Errorf("mock coder reply has no code block: %v", err)
	}
}
