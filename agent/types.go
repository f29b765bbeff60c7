package main

import (
	"encoding/json"
	"strings"
	"time"
)

// DataSourceType classifies where the data for a request lives.
type DataSourceType string

const (
	SourceWeb        DataSourceType = "web"
	SourceDatabase   DataSourceType = "database"
	SourceLocalFile  DataSourceType = "local_file"
	SourceImagesOnly DataSourceType = "images_only"
	SourceMixed      DataSourceType = "mixed"
)

// Strategy is the strategist's classification of an incoming request.
// Produced once per request, immutable afterwards.
type Strategy struct {
	ScoutingRequired        bool           `json:"scouting_required"`
	ImageProcessingRequired bool           `json:"image_processing_required"`
	DataSourceType          DataSourceType `json:"data_source_type"`
	Reasoning               string         `json:"reasoning"`
}

// FileKind tags what a preview was built from.
type FileKind string

const (
	KindText   FileKind = "text"
	KindBinary FileKind = "binary"
	KindImage  FileKind = "image"
)

// FilePreview is a bounded textual preview of one uploaded file.
type FilePreview struct {
	Name    string   `json:"name"`
	Kind    FileKind `json:"kind"`
	Preview string   `json:"preview"`
}

// ImageTable is a table pulled out of an image by the vision model.
type ImageTable struct {
	Title   string     `json:"title,omitempty"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// ImageChart describes a chart found in an image.
type ImageChart struct {
	Type        string            `json:"type"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	DataPoints  map[string]string `json:"data_points,omitempty"`
}

// ImageExtraction is the structured result of one vision call for one image
// file. A non-empty Error marks the extraction as failed; the rest of the
// batch is unaffected.
type ImageExtraction struct {
	Tables      []ImageTable      `json:"tables,omitempty"`
	Charts      []ImageChart      `json:"charts,omitempty"`
	KeyValues   map[string]string `json:"key_values,omitempty"`
	TextContent string            `json:"text_content,omitempty"`
	Summary     string            `json:"summary,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// ResultKind classifies one sandbox execution.
type ResultKind string

const (
	ResultSuccess     ResultKind = "success"
	ResultEmptyOutput ResultKind = "empty_output"
	ResultScriptError ResultKind = "script_error"
	ResultLaunchError ResultKind = "launch_error"
	ResultTimeout     ResultKind = "timeout"
)

// ExecutionResult is the outcome of running one script in the sandbox.
type ExecutionResult struct {
	Kind     ResultKind    `json:"kind"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration_ns"`
}

// Failed reports whether the execution produced anything usable.
func (r ExecutionResult) Failed() bool {
	return r.Kind != ResultSuccess
}

// ErrorText returns the error message the debugger should see. Timeouts and
// launch failures are shaped like script errors so the coder loop can treat
// them uniformly.
func (r ExecutionResult) ErrorText() string {
	switch r.Kind {
	case ResultSuccess:
		return ""
	case ResultTimeout:
		return "Script execution timed out before producing output. Reduce the amount of data processed or avoid slow remote downloads."
	case ResultEmptyOutput:
		return "Script ran without errors but produced no output. The final print() statement is likely missing."
	default:
		if s := strings.TrimSpace(r.Stderr); s != "" {
			return s
		}
		return strings.TrimSpace(r.Stdout)
	}
}

// Attempt is one draft-execute cycle of the coder/debugger loop. Each attempt
// remembers its code and outcome so the next draft can carry them forward.
type Attempt struct {
	Code           string          `json:"code"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	Result         ExecutionResult `json:"result"`
}

// PipelineResult is the orchestrator's answer contract: always produced, on
// every path including total failure.
type PipelineResult struct {
	RunID    string `json:"run_id"`
	Answer   any    `json:"answer"`
	Fallback bool   `json:"fallback"`
}

// RunRecord is the persisted trace of one pipeline run.
type RunRecord struct {
	RunID     string          `json:"run_id"`
	Question  string          `json:"question"`
	Files     []string        `json:"files,omitempty"`
	Strategy  *Strategy       `json:"strategy,omitempty"`
	Structure string          `json:"structure,omitempty"`
	Plan      string          `json:"plan,omitempty"`
	Attempts  int             `json:"attempts"`
	Fallback  bool            `json:"fallback"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}
