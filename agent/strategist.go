package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// Strategist classifies an incoming request: does the pipeline need to scout
// the data first, does it need to read images, and where does the data live.
type Strategist struct {
	llm ModelClient
}

func NewStrategist(llm ModelClient) *Strategist {
	return &Strategist{llm: llm}
}

const strategistPromptTemplate = `You are a Chief Strategist for a data analysis agent. Your job is to analyze the user's request and decide if a data scouting step is necessary and whether any uploaded images must be read first.

**Decision Criteria:**
1.  **Scouting REQUIRED**: If the data source is a web page to be scraped OR a local file (like a CSV, json, pdf, etc), or a mix of sources. The goal is to get column names and a data preview.
2.  **Scouting NOT REQUIRED**: If the request describes a database (like DuckDB on S3) AND provides a clear schema (column names and data types), we trust the provided schema and plan directly. Also NOT required when the only data is images: their content is extracted separately.
3.  **Image processing REQUIRED**: If any uploaded file is an image (chart, table screenshot, scanned document) whose content is needed to answer the question.

Your output must be a single, valid JSON object with four keys, and nothing else:
- "scouting_required": boolean
- "image_processing_required": boolean
- "data_source_type": string ("web", "database", "local_file", "images_only", or "mixed")
- "reasoning": string (one sentence)

**User Request (from question.txt):**
%s

**Available Data File Previews:**
%s

**Your JSON Decision:**`

// Decide runs the classification call and validates the reply.
func (s *Strategist) Decide(ctx context.Context, question string, previews []FilePreview) (*Strategy, error) {
	log.Printf("🧭 [STRATEGIST] Classifying request (%d file previews)", len(previews))

	prompt := fmt.Sprintf(strategistPromptTemplate, question, FormatPreviews(previews))
	reply, err := s.llm.Complete(WithStage(ctx, "strategist"), prompt)
	if err != nil {
		return nil, fmt.Errorf("strategist call: %w", err)
	}

	raw, err := ExtractJSONObject(reply)
	if err != nil {
		return nil, &StageParseError{Stage: "strategist", Detail: err.Error()}
	}
	var strategy Strategy
	if err := json.Unmarshal([]byte(raw), &strategy); err != nil {
		return nil, &StageParseError{Stage: "strategist", Detail: fmt.Sprintf("decode decision: %v", err)}
	}

	switch strategy.DataSourceType {
	case SourceWeb, SourceDatabase, SourceLocalFile, SourceImagesOnly, SourceMixed:
	default:
		log.Printf("⚠️ [STRATEGIST] Unknown data_source_type %q, treating as mixed", strategy.DataSourceType)
		strategy.DataSourceType = SourceMixed
	}

	log.Printf("✅ [STRATEGIST] scouting=%v images=%v source=%s (%s)",
		strategy.ScoutingRequired, strategy.ImageProcessingRequired, strategy.DataSourceType, strategy.Reasoning)
	return &strategy, nil
}
