package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"
)

// ModelClient is the contract every pipeline stage has with the generative
// model: one prompt in, one reply out. Constructed once at process start and
// passed explicitly into each stage so tests can substitute a double without
// touching stage logic.
type ModelClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithImage(ctx context.Context, prompt, mediaType string, image []byte) (string, error)
}

// Context key for stage tracking (token usage is recorded per stage).
type stageKey struct{}

// WithStage tags a context with the pipeline stage issuing the model call.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

func stageFromContext(ctx context.Context) string {
	if stage, ok := ctx.Value(stageKey{}).(string); ok && stage != "" {
		return stage
	}
	return "unknown"
}

// LLMClient talks to the configured provider over HTTP. It is stateless
// apart from its connection pool and safe for concurrent use; a buffered
// slot channel bounds how many calls are in flight at once.
type LLMClient struct {
	provider   string
	model      string
	apiKey     string
	openaiURL  string
	ollamaURL  string
	maxTokens  int
	httpClient *http.Client
	slots      chan struct{}
	usage      *TokenTracker
}

type llmMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type llmUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
}

// NewLLMClient builds a client from config. usage may be nil.
func NewLLMClient(cfg *Config, usage *TokenTracker) *LLMClient {
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	maxConcurrent := cfg.LLM.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	maxTokens := cfg.LLM.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	log.Printf("🔒 [LLM] Client ready: provider=%s model=%s max_concurrent=%d timeout=%s",
		cfg.LLM.Provider, cfg.LLM.Model, maxConcurrent, timeout)
	return &LLMClient{
		provider:  cfg.LLM.Provider,
		model:     cfg.LLM.Model,
		apiKey:    cfg.LLM.APIKey,
		openaiURL: cfg.LLM.OpenAIURL,
		ollamaURL: cfg.LLM.OllamaURL,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		slots: make(chan struct{}, maxConcurrent),
		usage: usage,
	}
}

// Complete sends one prompt and returns the model's text reply.
func (c *LLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, []llmMessage{{Role: "user", Content: prompt}})
}

// CompleteWithImage sends one prompt plus one inline image. Only the
// Anthropic message format carries media; other providers get a clean error
// so the image extractor can record it per file.
func (c *LLMClient) CompleteWithImage(ctx context.Context, prompt, mediaType string, image []byte) (string, error) {
	if c.provider != "anthropic" {
		return "", fmt.Errorf("provider %s does not support image input", c.provider)
	}
	content := []map[string]any{
		{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": mediaType,
				"data":       base64.StdEncoding.EncodeToString(image),
			},
		},
		{"type": "text", "text": prompt},
	}
	return c.call(ctx, []llmMessage{{Role: "user", Content: content}})
}

func (c *LLMClient) call(ctx context.Context, messages []llmMessage) (string, error) {
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return "", fmt.Errorf("cancelled while waiting for LLM slot: %w", ctx.Err())
	}
	defer func() { <-c.slots }()

	var apiURL string
	var body []byte
	var err error

	switch c.provider {
	case "anthropic":
		apiURL = "https://api.anthropic.com/v1/messages"
		body, err = json.Marshal(map[string]any{
			"model":      c.modelName(),
			"max_tokens": c.maxTokens,
			"messages":   messages,
		})
	case "openai":
		apiURL = c.openaiURL
		if apiURL == "" {
			apiURL = "https://api.openai.com/v1/chat/completions"
		}
		body, err = json.Marshal(map[string]any{
			"model":      c.modelName(),
			"messages":   messages,
			"max_tokens": c.maxTokens,
		})
	case "local", "ollama":
		apiURL = normalizeOllamaURL(c.ollamaURL)
		body, err = json.Marshal(map[string]any{
			"model":    c.modelName(),
			"messages": messages,
			"stream":   false,
		})
	default:
		return "", fmt.Errorf("unsupported LLM provider: %s", c.provider)
	}
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	switch c.provider {
	case "anthropic":
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	case "openai":
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	stage := stageFromContext(ctx)
	start := time.Now()
	log.Printf("🌐 [LLM] %s call to %s (payload %d bytes)", stage, apiURL, len(body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("❌ [LLM] %s request failed after %v: %v", stage, time.Since(start), err)
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	log.Printf("⏱️ [LLM] %s call finished in %v (status %d, %d bytes)", stage, time.Since(start), resp.StatusCode, len(respBody))

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("LLM API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	return c.parseReply(ctx, respBody)
}

func (c *LLMClient) parseReply(ctx context.Context, body []byte) (string, error) {
	stage := stageFromContext(ctx)
	switch c.provider {
	case "anthropic":
		var reply struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			Usage *llmUsage `json:"usage"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &reply); err != nil {
			return "", fmt.Errorf("parse anthropic reply: %v", err)
		}
		if reply.Error != nil {
			return "", fmt.Errorf("LLM API error: %s", reply.Error.Message)
		}
		for _, block := range reply.Content {
			if block.Type == "text" {
				if reply.Usage != nil {
					c.trackUsage(ctx, stage, reply.Usage.InputTokens, reply.Usage.OutputTokens)
				}
				return block.Text, nil
			}
		}
		return "", fmt.Errorf("no text content in anthropic reply")
	case "local", "ollama":
		var reply struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			PromptEvalCount int `json:"prompt_eval_count"`
			EvalCount       int `json:"eval_count"`
		}
		if err := json.Unmarshal(body, &reply); err != nil {
			return "", fmt.Errorf("parse ollama reply: %v", err)
		}
		if reply.Message.Content == "" {
			return "", fmt.Errorf("could not extract content from ollama reply")
		}
		c.trackUsage(ctx, stage, reply.PromptEvalCount, reply.EvalCount)
		return reply.Message.Content, nil
	default: // openai and compatibles
		var reply struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			Usage *llmUsage `json:"usage"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &reply); err != nil {
			return "", fmt.Errorf("parse %s reply: %v", c.provider, err)
		}
		if reply.Error != nil {
			return "", fmt.Errorf("LLM API error: %s", reply.Error.Message)
		}
		if len(reply.Choices) == 0 {
			return "", fmt.Errorf("no choices in LLM reply")
		}
		if reply.Usage != nil {
			c.trackUsage(ctx, stage, reply.Usage.PromptTokens, reply.Usage.CompletionTokens)
		}
		return reply.Choices[0].Message.Content, nil
	}
}

func (c *LLMClient) trackUsage(ctx context.Context, stage string, prompt, completion int) {
	if c.usage == nil || prompt+completion == 0 {
		return
	}
	c.usage.Track(ctx, stage, prompt, completion)
}

func (c *LLMClient) modelName() string {
	if c.model != "" {
		return c.model
	}
	switch c.provider {
	case "anthropic":
		return "claude-3-5-sonnet-20241022"
	case "openai":
		return "gpt-4o-mini"
	default:
		return "gemma3:12b"
	}
}

// normalizeOllamaURL ensures the base URL includes the /api/chat endpoint.
func normalizeOllamaURL(base string) string {
	if base == "" {
		return "http://localhost:11434/api/chat"
	}
	trimmed := base
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == '/' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	if len(trimmed) >= 9 && trimmed[len(trimmed)-9:] == "/api/chat" {
		return trimmed
	}
	if len(trimmed) >= 4 && trimmed[len(trimmed)-4:] == "/api" {
		return trimmed + "/chat"
	}
	return trimmed + "/api/chat"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
