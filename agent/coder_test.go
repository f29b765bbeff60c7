package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"
)

func newTestCoder(llm ModelClient, sandbox SandboxRunner) *Coder {
	return NewCoder(llm, sandbox, testConfig())
}

func coderReply(code string) string {
	return "```python\n" + code + "\n```"
}

func TestCoderFirstAttemptSuccess(t *testing.T) {
	llm := &scriptedLLM{reply: func(stage, prompt string) (string, error) {
		return coderReply(`print('{"total": 42}')`), nil
	}}
	sandbox := &stubSandbox{results: []ExecutionResult{
		{Kind: ResultSuccess, Stdout: `{"total": 42}`},
	}}

	answer, attempts, err := newTestCoder(llm, sandbox).Solve(context.Background(), "q", "plan", "", "/tmp/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(attempts))
	}
	obj, ok := answer.(map[string]any)
	if !ok || obj["total"] != float64(42) {
		t.Errorf("answer = %#v, want total 42", answer)
	}
}

func TestCoderRepairSeesCodeAndError(t *testing.T) {
	calls := 0
	llm := &scriptedLLM{reply: func(stage, prompt string) (string, error) {
		calls++
		if calls == 1 {
			return coderReply("pd.read_csv('sales.csv')"), nil
		}
		return coderReply("pd.read_csv('/data/sales.csv')"), nil
	}}
	sandbox := &stubSandbox{results: []ExecutionResult{
		{Kind: ResultScriptError, Stderr: "FileNotFoundError: sales.csv", ExitCode: 1},
		{Kind: ResultSuccess, Stdout: `{"ok": true}`},
	}}

	_, attempts, err := newTestCoder(llm, sandbox).Solve(context.Background(), "how many sales?", "plan text", "", "/tmp/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}

	repairPrompt := llm.promptFor(1)
	for _, want := range []string{
		"pd.read_csv('sales.csv')",
		"FileNotFoundError: sales.csv",
		"how many sales?",
		"plan text",
	} {
		if !strings.Contains(repairPrompt, want) {
			t.Errorf("repair prompt missing %q", want)
		}
	}
	if strings.Contains(llm.promptFor(0), "Faulty Code") {
		t.Error("first draft prompt should not be a repair prompt")
	}
}

func TestCoderEmptyOutputDiagnosticFedBack(t *testing.T) {
	calls := 0
	llm := &scriptedLLM{reply: func(stage, prompt string) (string, error) {
		calls++
		return coderReply(fmt.Sprintf("print(%d)", calls)), nil
	}}
	sandbox := &stubSandbox{results: []ExecutionResult{
		{Kind: ResultEmptyOutput},
		{Kind: ResultSuccess, Stdout: `{"ok": true}`},
	}}

	_, _, err := newTestCoder(llm, sandbox).Solve(context.Background(), "q", "plan", "", "/tmp/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(llm.promptFor(1), "The final print() statement is likely missing") {
		t.Error("repair prompt missing the empty-output diagnostic")
	}
}

func TestCoderExhaustionReturnsError(t *testing.T) {
	llm := &scriptedLLM{reply: func(stage, prompt string) (string, error) {
		return coderReply("raise RuntimeError('nope')"), nil
	}}
	sandbox := &stubSandbox{results: []ExecutionResult{
		{Kind: ResultScriptError, Stderr: "RuntimeError: nope", ExitCode: 1},
	}}

	_, attempts, err := newTestCoder(llm, sandbox).Solve(context.Background(), "q", "plan", "", "/tmp/x")
	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if len(attempts) != 4 {
		t.Errorf("attempts = %d, want 4", len(attempts))
	}
	if sandbox.callCount() != 4 {
		t.Errorf("sandbox calls = %d, want 4", sandbox.callCount())
	}
}

func TestCoderUnparsableReplyCountsAsAttempt(t *testing.T) {
	calls := 0
	llm := &scriptedLLM{reply: func(stage, prompt string) (string, error) {
		calls++
		if calls == 1 {
			return "I am sorry, I cannot write that script.", nil
		}
		return coderReply("x = 1\nimport json\nprint(json.dumps({}))"), nil
	}}
	sandbox := &stubSandbox{results: []ExecutionResult{
		{Kind: ResultSuccess, Stdout: `{}`},
	}}

	_, attempts, err := newTestCoder(llm, sandbox).Solve(context.Background(), "q", "plan", "", "/tmp/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}
	if sandbox.callCount() != 1 {
		t.Errorf("sandbox calls = %d, want 1 (no execution for the unparsable reply)", sandbox.callCount())
	}
	if !strings.Contains(llm.promptFor(1), "no runnable Python code block") {
		t.Error("repair prompt missing the no-code complaint")
	}
}

func TestCoderCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	llm := &scriptedLLM{reply: func(stage, prompt string) (string, error) {
		t.Fatal("model should not be called after cancellation")
		return "", nil
	}}
	sandbox := &stubSandbox{}

	_, attempts, err := newTestCoder(llm, sandbox).Solve(ctx, "q", "plan", "", "/tmp/x")
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	if len(attempts) != 0 {
		t.Errorf("attempts = %d, want 0", len(attempts))
	}
}

func TestAttemptTimeoutShrinksToFloor(t *testing.T) {
	c := newTestCoder(&scriptedLLM{}, &stubSandbox{})
	want := []time.Duration{180 * time.Second, 150 * time.Second, 120 * time.Second, 90 * time.Second, 60 * time.Second, 60 * time.Second}
	for n, w := range want {
		if got := c.attemptTimeout(n); got != w {
			t.Errorf("attemptTimeout(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestAttemptTimeoutsRecordedPerAttempt(t *testing.T) {
	llm := &scriptedLLM{reply: func(stage, prompt string) (string, error) {
		return coderReply("raise SystemExit(1)"), nil
	}}
	sandbox := &stubSandbox{results: []ExecutionResult{
		{Kind: ResultScriptError, Stderr: "SystemExit", ExitCode: 1},
		{Kind: ResultScriptError, Stderr: "SystemExit", ExitCode: 1},
		{Kind: ResultSuccess, Stdout: `{}`},
	}}

	_, attempts, err := newTestCoder(llm, sandbox).Solve(context.Background(), "q", "plan", "", "/tmp/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{180, 150, 120}
	for i, w := range want {
		if attempts[i].TimeoutSeconds != w {
			t.Errorf("attempt %d timeout = %d, want %d", i, attempts[i].TimeoutSeconds, w)
		}
	}
	for i, w := range want {
		if sandbox.calls[i].Timeout != time.Duration(w)*time.Second {
			t.Errorf("sandbox call %d timeout = %v, want %ds", i, sandbox.calls[i].Timeout, w)
		}
	}
}

func TestCoderEmbedsImageData(t *testing.T) {
	llm := &scriptedLLM{reply: func(stage, prompt string) (string, error) {
		return coderReply("print(IMAGE_DATA)"), nil
	}}
	sandbox := &stubSandbox{results: []ExecutionResult{
		{Kind: ResultSuccess, Stdout: `{}`},
	}}
	imageJSON := `{"chart.png": {"summary": "a bar chart"}}`

	_, _, err := newTestCoder(llm, sandbox).Solve(context.Background(), "q", "plan", imageJSON, "/tmp/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	script := sandbox.calls[0].Script
	if decoded := embeddedImageJSON(t, script); decoded != imageJSON {
		t.Errorf("embedded payload = %q, want %q", decoded, imageJSON)
	}
	if !strings.Contains(llm.promptFor(0), "IMAGE_DATA") {
		t.Error("draft prompt does not mention IMAGE_DATA")
	}
}

// embeddedImageJSON pulls the base64 constant out of the prologue and
// decodes it back to the original JSON.
func embeddedImageJSON(t *testing.T, script string) string {
	t.Helper()
	const marker = `_b64.b64decode("`
	start := strings.Index(script, marker)
	if start == -1 {
		t.Fatalf("script has no embedded image constant:\n%s", script)
	}
	rest := script[start+len(marker):]
	end := strings.Index(rest, `")`)
	if end == -1 {
		t.Fatalf("embedded constant is unterminated:\n%s", script)
	}
	decoded, err := base64.StdEncoding.DecodeString(rest[:end])
	if err != nil {
		t.Fatalf("embedded constant is not valid base64: %v", err)
	}
	return string(decoded)
}

func TestEmbedImageDataSurvivesTripleQuotes(t *testing.T) {
	imageJSON := `{"a.png": {"text_content": "quote: ''' end"}}`
	script := embedImageData("print(IMAGE_DATA)", imageJSON)

	if strings.Contains(script, "'''") {
		t.Errorf("payload quotes leaked into the script literal:\n%s", script)
	}
	if decoded := embeddedImageJSON(t, script); decoded != imageJSON {
		t.Errorf("decoded payload = %q, want %q", decoded, imageJSON)
	}
	if !strings.HasSuffix(script, "print(IMAGE_DATA)") {
		t.Errorf("script body lost:\n%s", script)
	}
}

func TestEmbedImageDataNoop(t *testing.T) {
	if got := embedImageData("print(1)", ""); got != "print(1)" {
		t.Errorf("embedImageData with no JSON = %q, want the code unchanged", got)
	}
}

func TestParseAnswer(t *testing.T) {
	cases := []struct {
		name   string
		stdout string
		check  func(t *testing.T, got any)
	}{
		{
			name:   "whole output is JSON",
			stdout: "  {\"a\": 1}\n",
			check: func(t *testing.T, got any) {
				if m, ok := got.(map[string]any); !ok || m["a"] != float64(1) {
					t.Errorf("got %#v", got)
				}
			},
		},
		{
			name:   "last line is JSON after log noise",
			stdout: "loading data...\ncleaning...\n[1, 2, 3]",
			check: func(t *testing.T, got any) {
				if arr, ok := got.([]any); !ok || len(arr) != 3 {
					t.Errorf("got %#v", got)
				}
			},
		},
		{
			name:   "plain text wrapped",
			stdout: "the answer is 42",
			check: func(t *testing.T, got any) {
				m, ok := got.(map[string]any)
				if !ok || m["result"] != "the answer is 42" {
					t.Errorf("got %#v", got)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, parseAnswer(tc.stdout))
		})
	}
}
