package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// Coder drives the draft-execute-repair loop: ask the model for a script,
// run it in the sandbox, and on failure feed the code and error back for a
// corrected draft. Bounded by MaxAttempts and by the caller's context.
type Coder struct {
	llm          ModelClient
	sandbox      SandboxRunner
	maxAttempts  int
	baseTimeout  time.Duration
	timeoutFloor time.Duration
}

func NewCoder(llm ModelClient, sandbox SandboxRunner, cfg *Config) *Coder {
	maxAttempts := cfg.Pipeline.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	return &Coder{
		llm:          llm,
		sandbox:      sandbox,
		maxAttempts:  maxAttempts,
		baseTimeout:  cfg.BaseTimeout(),
		timeoutFloor: cfg.TimeoutFloor(),
	}
}

const firstDraftPromptTemplate = `You are an expert Python programmer. Write a single, self-contained Python script to strictly follow the provided execution plan.
**CRITICAL RULES:**
1.  Your output MUST be ONLY the raw Python code inside ` + "```python ... ```" + ` tags. Do not include explanations.
2.  The script must be a complete, runnable program that performs all steps from the plan.
3.  When reading local files, you MUST use the absolute path /data/filename.csv. For example: pd.read_csv('/data/sample-sales.csv').
4.  The script's final output must be printed to standard output in the exact format requested by the user's original question (e.g., a JSON object or array), containing ONLY the answers, not the questions.
5.  DO NOT start with "Here's a script" or any explanatory text.
6.  While cleaning the data do not assume NaN if a value merely contains characters outside the expected data type; strip them and convert.
%s
**Final Execution Plan to Follow:**
%s

**Your Final Python Script:**`

const repairPromptTemplate = `You are an expert Python debugger. The previous attempt failed. Analyze the original user request, the execution plan, the faulty code, and the error message. Then provide a corrected, complete Python script.
Think step-by-step about what went wrong and how to fix it, then provide the full, corrected code inside ` + "```python ... ```" + ` tags.
1.  Your response must contain ONLY Python code, no explanations.
2.  DO NOT start with "Here's a script" or any explanatory text.
3.  While cleaning the data do not assume NaN if a value merely contains characters outside the expected data type; strip them and convert.
4.  DO NOT try to download an entire remote dataset if it is very large; push filtering into the query.
**CRITICAL RULE FOR FILE PATHS:** If the error is a FileNotFoundError, the script is not using the correct absolute path. All data files are in the /data/ directory inside the container (e.g., pd.read_csv('/data/sample-sales.csv')).
%s
**Original User Request (from question.txt):**
%s

**Final Execution Plan:**
%s

**Faulty Code:**
` + "```python\n%s\n```" + `

**Error Message:**
%s

**Your Corrected, Full Python Script:**`

const imageDataNote = `
A Python dict named IMAGE_DATA holding content extracted from the user's uploaded images is prepended to your script automatically. Use IMAGE_DATA instead of trying to open image files.
`

// Solve runs the loop until a script succeeds or attempts run out. It
// returns the parsed answer, the attempt trail for the run record, and an
// error when every attempt failed or the context expired.
func (c *Coder) Solve(ctx context.Context, question, plan, imageJSON, dataDir string) (any, []Attempt, error) {
	attempts := make([]Attempt, 0, c.maxAttempts)
	imageNote := ""
	if imageJSON != "" {
		imageNote = imageDataNote
	}

	for n := 0; n < c.maxAttempts; n++ {
		if ctx.Err() != nil {
			return nil, attempts, fmt.Errorf("coder loop cancelled before attempt %d: %w", n+1, ctx.Err())
		}
		log.Printf("💻 [CODER] Attempt %d of %d", n+1, c.maxAttempts)

		var prompt string
		if n == 0 {
			prompt = fmt.Sprintf(firstDraftPromptTemplate, imageNote, plan)
		} else {
			prev := attempts[n-1]
			prompt = fmt.Sprintf(repairPromptTemplate, imageNote, question, plan, prev.Code, prev.Result.ErrorText())
		}

		reply, err := c.llm.Complete(WithStage(ctx, "coder"), prompt)
		if err != nil {
			return nil, attempts, fmt.Errorf("coder call (attempt %d): %w", n+1, err)
		}
		code, err := ExtractCodeBlock(reply, "python")
		if err != nil {
			// Treat an unparsable reply like a failed run so the next
			// draft gets a concrete complaint.
			attempts = append(attempts, Attempt{
				Code:           reply,
				TimeoutSeconds: int(c.attemptTimeout(n) / time.Second),
				Result: ExecutionResult{
					Kind:   ResultScriptError,
					Stderr: fmt.Sprintf("Your reply contained no runnable Python code block: %v", err),
				},
			})
			log.Printf("⚠️ [CODER] Attempt %d returned no code block", n+1)
			continue
		}
		script := embedImageData(code, imageJSON)

		if ctx.Err() != nil {
			return nil, attempts, fmt.Errorf("coder loop cancelled before executing attempt %d: %w", n+1, ctx.Err())
		}
		timeout := c.attemptTimeout(n)
		result := c.sandbox.Run(ctx, script, dataDir, timeout)
		attempts = append(attempts, Attempt{
			Code:           code,
			TimeoutSeconds: int(timeout / time.Second),
			Result:         result,
		})

		if !result.Failed() {
			log.Printf("🎉 [CODER] Attempt %d succeeded", n+1)
			return parseAnswer(result.Stdout), attempts, nil
		}
		log.Printf("⚠️ [CODER] Attempt %d failed (%s): %s", n+1, result.Kind, firstLine(result.ErrorText()))
	}

	last := attempts[len(attempts)-1]
	return nil, attempts, fmt.Errorf("failed to generate working code after %d attempts, last error: %s",
		c.maxAttempts, firstLine(last.Result.ErrorText()))
}

// attemptTimeout shrinks the sandbox budget on each retry so a pathological
// script cannot eat the whole request deadline, but never below the floor.
func (c *Coder) attemptTimeout(n int) time.Duration {
	t := c.baseTimeout - time.Duration(n)*30*time.Second
	if t < c.timeoutFloor {
		return c.timeoutFloor
	}
	return t
}

// embedImageData prepends the extracted image JSON to the script as a
// constant so the generated code never has to re-read the images. The
// payload goes in as base64: extracted text can contain quotes of any kind,
// so no Python string literal is safe to paste it into directly.
func embedImageData(code, imageJSON string) string {
	if imageJSON == "" {
		return code
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(imageJSON))
	return fmt.Sprintf("import base64 as _b64\nimport json as _json\nIMAGE_DATA = _json.loads(_b64.b64decode(\"%s\"))\n\n%s", encoded, code)
}

// parseAnswer decodes the script's stdout: the whole output as JSON first,
// then the last non-empty line (scripts often log progress before the final
// answer), else the raw text wrapped in a result object.
func parseAnswer(stdout string) any {
	trimmed := strings.TrimSpace(stdout)

	var whole any
	if err := json.Unmarshal([]byte(trimmed), &whole); err == nil {
		return whole
	}

	lines := strings.Split(trimmed, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var last any
		if err := json.Unmarshal([]byte(line), &last); err == nil {
			return last
		}
		break
	}

	return map[string]any{"result": trimmed}
}
