package main

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Sentinel structure description used when scouting is skipped or exhausted.
// The planner is told to fall back to whatever schema the user supplied.
const structureNotAvailable = "Not available. Plan must be based on the user's provided schema."

// DataScout generates and runs a small introspection script so the planner
// can see real column names and sample rows instead of guessing.
type DataScout struct {
	llm         ModelClient
	sandbox     SandboxRunner
	maxAttempts int
	timeout     time.Duration
}

func NewDataScout(llm ModelClient, sandbox SandboxRunner, cfg *Config) *DataScout {
	maxAttempts := cfg.Pipeline.MaxScoutAttempts
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	return &DataScout{
		llm:         llm,
		sandbox:     sandbox,
		maxAttempts: maxAttempts,
		timeout:     cfg.BaseTimeout() / 2,
	}
}

const scoutPromptTemplate = `You are a data acquisition script generator. Based on the user's request, write a Python script to load a SMALL SAMPLE of the data and inspect its structure.

**Instructions:**
- If the data source is a web page, use pandas.read_html().
- If the source is a local file, read it from the /data/ directory (e.g., pd.read_csv('/data/edges.csv', nrows=100)).
- Never load more than 100 rows.
- The script MUST print the DataFrame's columns (print("COLUMNS:", df.columns)) and the first 5 rows as JSON (print("HEAD:", df.head().to_json(orient='split'))).
- CRITICAL: Your output must be ONLY the raw Python code inside `+ "```python ... ```" + ` tags, no other explanation text.
- DO NOT clean the data or do any statistical or visualization analysis. Only show the preview.
%s
**User Request (from question.txt):**
%s

**Available Data File Previews:**
%s

**Your Data Acquisition Script:**`

// Scout tries at most maxAttempts times to capture the data structure,
// feeding the first failure back into the second prompt. On exhaustion it
// returns the sentinel description; the pipeline goes on regardless.
func (s *DataScout) Scout(ctx context.Context, question string, previews []FilePreview, dataDir string) string {
	log.Printf("🔭 [SCOUT] Scouting data structure (timeout %s, max %d attempts)", s.timeout, s.maxAttempts)

	var lastError string
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			log.Printf("⏰ [SCOUT] Cancelled before attempt %d", attempt+1)
			return structureNotAvailable
		}

		errSection := ""
		if lastError != "" {
			errSection = fmt.Sprintf("\n**The previous attempt failed with this error. Fix it:**\n%s\n", lastError)
		}
		prompt := fmt.Sprintf(scoutPromptTemplate, errSection, question, FormatPreviews(previews))

		reply, err := s.llm.Complete(WithStage(ctx, "scout"), prompt)
		if err != nil {
			log.Printf("⚠️ [SCOUT] Attempt %d call failed: %v", attempt+1, err)
			lastError = err.Error()
			continue
		}
		code, err := ExtractCodeBlock(reply, "python")
		if err != nil {
			log.Printf("⚠️ [SCOUT] Attempt %d returned no code block: %v", attempt+1, err)
			lastError = err.Error()
			continue
		}

		result := s.sandbox.Run(ctx, code, dataDir, s.timeout)
		if !result.Failed() {
			log.Printf("✅ [SCOUT] Structure captured (%d bytes)", len(result.Stdout))
			return result.Stdout
		}
		lastError = result.ErrorText()
		log.Printf("⚠️ [SCOUT] Attempt %d execution failed: %s", attempt+1, firstLine(lastError))
	}

	log.Printf("⚠️ [SCOUT] Exhausted %d attempts, continuing without structure", s.maxAttempts)
	return structureNotAvailable
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
