package main

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Planner produces the execution plan the coder will follow. One call, no
// retries; an empty reply fails the stage.
type Planner struct {
	llm ModelClient
}

func NewPlanner(llm ModelClient) *Planner {
	return &Planner{llm: llm}
}

const plannerPromptTemplate = `You are a professional data scientist tasked with creating a final, detailed, and EFFICIENT execution plan. You have been provided with the user's request and, if available, the exact structure of the data and content extracted from uploaded images.

Follow the instructions below exactly. The goal is a Python plan that works on the given data, cleans it correctly, and produces the requested outputs without errors.

## 1. GENERAL RULES
- Always clean data based on the EXPECTED data types of the fields needed to answer the question(s).
- DO NOT skip cleaning for any numeric, date/time, or boolean column.
- DO NOT assume NaN for invalid values; strip unwanted characters according to the expected type, then convert.
- DO NOT use direct conversion functions (astype, pd.to_numeric without errors='coerce') on raw data without cleaning first.

## 2. HTML TABLE PREPROCESSING
When working with HTML-sourced tables, parse with BeautifulSoup before pandas.read_html(). Preserve all visible text content; remove only markup and purely decorative reference tags like <sup> footnotes. Never concatenate numbers from different elements unless they form one logical number.

## 3. CLEANING RULES BY DATATYPE
- Numeric: remove everything except digits and at most one decimal point (e.g. "24RK" -> 24, "T$2,257,844,554" -> 2257844554); int when no decimal point, float otherwise.
- Date/time: pd.to_datetime(..., errors='coerce') after normalizing separators; drop impossible dates.
- Boolean: map yes/y/true/1 to True and no/n/false/0 to False.
- Strings: keep as-is apart from trimming whitespace and control characters; never strip meaningful content.

## 4. PLAN STRUCTURE
1. Identify the exact outputs (JSON object, array, charts) the request asks for.
2. Use the ACTUAL data structure below for exact column names and types when available; otherwise infer from the request.
3. Use pandas for local or scraped data; DuckDB only when explicitly mentioned or the data is SQL/S3; matplotlib for plots.
4. Include data loading, HTML pre-cleaning if scraping, cleaning per the rules above, analysis, and output formatting.
5. For large remote datasets push filtering into the SQL/DuckDB query; do NOT load the full dataset into pandas first.

## 5. DUCKDB RULES (if applicable)
- Date parsing: TRY_STRPTIME(date_column, '%%d-%%m-%%Y')
- Date differences: cast to DATE and subtract; avoid julianday.

## 6. OUTPUT RULES
- The plan must be clear, step-by-step, and directly implementable as a single Python script.
- Do not start with "Here's a plan" or any other filler.

**User Request (from question.txt):**
%s

**ACTUAL Data Structure (if available):**
%s

**Extracted Image Content (if any):**
%s

**Your Final, EFFICIENT Execution Plan:**`

// Plan runs the planning call. The structure and imageContext strings may be
// sentinels when those stages were skipped.
func (p *Planner) Plan(ctx context.Context, question, structure, imageContext string) (string, error) {
	log.Printf("📋 [PLANNER] Generating execution plan")
	if imageContext == "" {
		imageContext = "None."
	}

	prompt := fmt.Sprintf(plannerPromptTemplate, question, structure, imageContext)
	reply, err := p.llm.Complete(WithStage(ctx, "planner"), prompt)
	if err != nil {
		return "", fmt.Errorf("planner call: %w", err)
	}
	plan := strings.TrimSpace(reply)
	if plan == "" {
		return "", &StageParseError{Stage: "planner", Detail: "empty plan reply"}
	}
	log.Printf("✅ [PLANNER] Plan generated (%d bytes)", len(plan))
	return plan, nil
}
