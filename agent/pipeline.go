package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Pipeline is the orchestrator: it owns the stage sequence and guarantees
// that Run always returns an answer, falling back on every failure path.
// One instance per process, safe for concurrent Run calls.
type Pipeline struct {
	cfg        *Config
	strategist *Strategist
	images     *ImageExtractor
	scout      *DataScout
	planner    *Planner
	coder      *Coder
	fallback   *FallbackGenerator
	storage    *RunStorage
	events     *EventBus
}

func NewPipeline(cfg *Config, llm ModelClient, sandbox SandboxRunner, storage *RunStorage, events *EventBus) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		strategist: NewStrategist(llm),
		images:     NewImageExtractor(llm),
		scout:      NewDataScout(llm, sandbox, cfg),
		planner:    NewPlanner(llm),
		coder:      NewCoder(llm, sandbox, cfg),
		fallback:   NewFallbackGenerator(llm),
		storage:    storage,
		events:     events,
	}
}

// Run executes the full pipeline for one request. It never returns an
// error: every failure path degrades to a fallback answer. The outer
// deadline bounds everything except the fallback itself, which runs under a
// short detached grace context so an expired deadline still yields a body.
func (p *Pipeline) Run(parent context.Context, question string, files map[string][]byte) (result PipelineResult) {
	runID := uuid.NewString()
	start := time.Now()
	log.Printf("🚀 [PIPELINE] Run %s started (%d files)", runID, len(files))

	record := &RunRecord{
		RunID:     runID,
		Question:  question,
		Files:     sortedNames(files),
		CreatedAt: start.UTC(),
	}

	ctx, cancel := context.WithTimeout(parent, p.cfg.PipelineDeadline())
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("💥 [PIPELINE] Run %s panicked: %v", runID, r)
			record.Error = fmt.Sprintf("internal panic: %v", r)
			result = p.finish(runID, question, record, nil, true)
		}
	}()

	dataDir, err := p.writeScratch(runID, files)
	if err != nil {
		log.Printf("❌ [PIPELINE] Run %s scratch setup failed: %v", runID, err)
		record.Error = err.Error()
		return p.finish(runID, question, record, nil, true)
	}
	defer os.RemoveAll(dataDir)

	previews := BuildPreviews(files)
	p.events.Publish(runID, "strategist", "")

	strategy, err := p.strategist.Decide(ctx, question, previews)
	if err != nil {
		log.Printf("❌ [PIPELINE] Run %s strategist failed: %v", runID, err)
		record.Error = err.Error()
		return p.finish(runID, question, record, nil, true)
	}
	record.Strategy = strategy

	imageJSON := ""
	if strategy.ImageProcessingRequired && HasImages(previews) {
		p.events.Publish(runID, "image_extractor", "")
		extractions := p.images.ExtractAll(ctx, question, files)
		if len(extractions) > 0 {
			encoded, err := json.Marshal(extractions)
			if err == nil {
				imageJSON = string(encoded)
			}
		}
	}

	structure := structureNotAvailable
	if strategy.ScoutingRequired {
		p.events.Publish(runID, "scout", "")
		structure = p.scout.Scout(ctx, question, previews, dataDir)
	}
	record.Structure = structure

	p.events.Publish(runID, "planner", "")
	plan, err := p.planner.Plan(ctx, question, structure, imageJSON)
	if err != nil {
		log.Printf("❌ [PIPELINE] Run %s planner failed: %v", runID, err)
		record.Error = err.Error()
		return p.finish(runID, question, record, nil, true)
	}
	record.Plan = plan

	p.events.Publish(runID, "coder", "")
	answer, attempts, err := p.coder.Solve(ctx, question, plan, imageJSON, dataDir)
	record.Attempts = len(attempts)
	if err != nil {
		log.Printf("❌ [PIPELINE] Run %s coder loop failed after %d attempts: %v", runID, len(attempts), err)
		record.Error = err.Error()
		return p.finish(runID, question, record, nil, true)
	}

	log.Printf("🎉 [PIPELINE] Run %s succeeded in %v (%d attempts)", runID, time.Since(start), len(attempts))
	return p.finish(runID, question, record, answer, false)
}

// finish produces the final PipelineResult, generating the fallback answer
// when needed, and persists the run record. The fallback runs under its own
// grace context so it works even after the run deadline expired.
func (p *Pipeline) finish(runID, question string, record *RunRecord, answer any, useFallback bool) PipelineResult {
	if useFallback {
		graceCtx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
		defer cancel()
		p.events.Publish(runID, "fallback", record.Error)
		answer = p.fallback.Generate(graceCtx, question)
	}

	record.Fallback = useFallback
	if encoded, err := json.Marshal(answer); err == nil {
		record.Answer = encoded
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.storage.Save(saveCtx, record)
	p.events.Publish(runID, "done", "")

	return PipelineResult{RunID: runID, Answer: answer, Fallback: useFallback}
}

// writeScratch creates the run's private data directory and copies the
// uploaded files into it. Names are cleaned to their base so an upload can
// never escape the directory.
func (p *Pipeline) writeScratch(runID string, files map[string][]byte) (string, error) {
	root := p.cfg.Pipeline.ScratchRoot
	if root == "" {
		root = os.TempDir()
	}
	dataDir := filepath.Join(root, "analyst-"+runID)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	for name, content := range files {
		base := filepath.Base(filepath.Clean(name))
		if base == "." || base == ".." || base == string(filepath.Separator) {
			continue
		}
		if err := os.WriteFile(filepath.Join(dataDir, base), content, 0o644); err != nil {
			os.RemoveAll(dataDir)
			return "", fmt.Errorf("write %s: %w", base, err)
		}
	}
	log.Printf("📁 [PIPELINE] Run %s data written to %s", runID, dataDir)
	return dataDir, nil
}

func sortedNames(files map[string][]byte) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
