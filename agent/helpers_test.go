package main

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// scriptedLLM answers per stage via a function, recording every prompt so
// tests can assert on what a stage was shown.
type scriptedLLM struct {
	mu      sync.Mutex
	prompts []string
	stages  []string
	reply   func(stage, prompt string) (string, error)
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	stage := stageFromContext(ctx)
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.stages = append(s.stages, stage)
	s.mu.Unlock()
	return s.reply(stage, prompt)
}

func (s *scriptedLLM) CompleteWithImage(ctx context.Context, prompt, mediaType string, image []byte) (string, error) {
	return s.Complete(ctx, prompt)
}

func (s *scriptedLLM) promptFor(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.prompts) {
		return ""
	}
	return s.prompts[i]
}

type sandboxCall struct {
	Script  string
	DataDir string
	Timeout time.Duration
}

// stubSandbox plays back a fixed sequence of results. When the sequence runs
// out the last result repeats.
type stubSandbox struct {
	mu      sync.Mutex
	calls   []sandboxCall
	results []ExecutionResult
}

func (s *stubSandbox) Run(ctx context.Context, script, dataDir string, timeout time.Duration) ExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sandboxCall{Script: script, DataDir: dataDir, Timeout: timeout})
	if len(s.results) == 0 {
		return ExecutionResult{Kind: ResultSuccess, Stdout: `{"result": "stub"}`}
	}
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return r
}

func (s *stubSandbox) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Sandbox.BaseTimeoutSeconds = 180
	cfg.Sandbox.TimeoutFloorSeconds = 60
	cfg.Pipeline.MaxAttempts = 4
	cfg.Pipeline.MaxScoutAttempts = 2
	return cfg
}

// defaultStageReplies is a happy-path reply function for full pipeline runs.
func defaultStageReplies(stage, prompt string) (string, error) {
	switch stage {
	case "strategist":
		return `{"scouting_required": true, "image_processing_required": false, "data_source_type": "local_file", "reasoning": "csv upload"}`, nil
	case "scout":
		return "```python\nimport pandas as pd\ndf = pd.read_csv('/data/sales.csv', nrows=100)\nprint(\"COLUMNS:\", df.columns)\nprint(\"HEAD:\", df.head().to_json(orient='split'))\n```", nil
	case "planner":
		return "1. Load /data/sales.csv with pandas.\n2. Sum the amount column.\n3. Print the total as JSON.", nil
	case "coder":
		return "```python\nimport json\nimport pandas as pd\ndf = pd.read_csv('/data/sales.csv')\nprint(json.dumps({\"total\": int(df['amount'].sum())}))\n```", nil
	case "fallback":
		return `{"total": null, "error": "Analysis failed"}`, nil
	default:
		return "", fmt.Errorf("unexpected stage %s", stage)
	}
}
