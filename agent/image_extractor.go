package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
)

// ImageExtractor turns uploaded images into structured JSON via one vision
// call per file. Failures are recorded per file; the batch never aborts.
type ImageExtractor struct {
	llm ModelClient
}

func NewImageExtractor(llm ModelClient) *ImageExtractor {
	return &ImageExtractor{llm: llm}
}

const imageExtractionPrompt = `You are a data extraction specialist. Extract ALL structured information from this image: tables, charts, key/value figures, and any visible text that carries data.

Your output must be a single, valid JSON object with these keys, and nothing else:
- "tables": array of {"title", "columns": [...], "rows": [[...], ...]}
- "charts": array of {"type", "title", "description", "data_points": {label: value}}
- "key_values": object of notable figure name to value
- "text_content": string with any remaining relevant text
- "summary": one-sentence description of what the image shows

Leave keys empty when the image has nothing for them. Transcribe numbers exactly as shown.

**The user's question, for context:**
%s

**Your JSON Extraction:**`

// ExtractAll runs one vision call per image file, in deterministic name
// order. The returned map always has an entry per image; failed extractions
// carry the Error field.
func (e *ImageExtractor) ExtractAll(ctx context.Context, question string, files map[string][]byte) map[string]ImageExtraction {
	names := make([]string, 0, len(files))
	for name, content := range files {
		if isImageFile(name, content) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	results := make(map[string]ImageExtraction, len(names))
	for _, name := range names {
		log.Printf("🖼️ [IMAGE] Extracting %s (%d bytes)", name, len(files[name]))
		extraction, err := e.extractOne(ctx, question, name, files[name])
		if err != nil {
			log.Printf("⚠️ [IMAGE] Extraction failed for %s: %v", name, err)
			results[name] = ImageExtraction{Error: err.Error()}
			continue
		}
		log.Printf("✅ [IMAGE] %s: %d tables, %d charts", name, len(extraction.Tables), len(extraction.Charts))
		results[name] = extraction
	}
	return results
}

func (e *ImageExtractor) extractOne(ctx context.Context, question, name string, content []byte) (ImageExtraction, error) {
	prompt := fmt.Sprintf(imageExtractionPrompt, question)
	reply, err := e.llm.CompleteWithImage(WithStage(ctx, "image_extractor"), prompt, mediaTypeFor(name, content), content)
	if err != nil {
		return ImageExtraction{}, err
	}
	raw, err := ExtractJSONObject(reply)
	if err != nil {
		return ImageExtraction{}, &StageParseError{Stage: "image_extractor", Detail: err.Error()}
	}
	var extraction ImageExtraction
	if err := json.Unmarshal([]byte(raw), &extraction); err != nil {
		return ImageExtraction{}, &StageParseError{Stage: "image_extractor", Detail: fmt.Sprintf("decode extraction: %v", err)}
	}
	return extraction, nil
}

// mediaTypeFor picks the MIME type for the vision payload, preferring magic
// bytes over the file extension.
func mediaTypeFor(name string, content []byte) string {
	switch {
	case bytes.HasPrefix(content, []byte("\x89PNG")):
		return "image/png"
	case bytes.HasPrefix(content, []byte("\xff\xd8\xff")):
		return "image/jpeg"
	case bytes.HasPrefix(content, []byte("GIF8")):
		return "image/gif"
	case len(content) >= 12 && bytes.Equal(content[8:12], []byte("WEBP")):
		return "image/webp"
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
