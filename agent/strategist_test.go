package main

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestStrategistDecide(t *testing.T) {
	llm := &scriptedLLM{reply: func(stage, prompt string) (string, error) {
		return "Here is my decision:\n" +
			`{"scouting_required": true, "image_processing_required": false, "data_source_type": "web", "reasoning": "wikipedia table"}`, nil
	}}
	s := NewStrategist(llm)

	strategy, err := s.Decide(context.Background(), "Scrape the table", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strategy.ScoutingRequired {
		t.Error("ScoutingRequired = false, want true")
	}
	if strategy.DataSourceType != SourceWeb {
		t.Errorf("DataSourceType = %s, want web", strategy.DataSourceType)
	}
	if strategy.Reasoning == "" {
		t.Error("Reasoning is empty")
	}
}

func TestStrategistPromptCarriesQuestionAndPreviews(t *testing.T) {
	llm := &scriptedLLM{reply: func(stage, prompt string) (string, error) {
		return `{"scouting_required": false, "image_processing_required": false, "data_source_type": "database", "reasoning": "schema given"}`, nil
	}}
	s := NewStrategist(llm)
	previews := []FilePreview{{Name: "schema.txt", Kind: KindText, Preview: "CREATE TABLE trades"}}

	if _, err := s.Decide(context.Background(), "How many trades?", previews); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prompt := llm.promptFor(0)
	if !strings.Contains(prompt, "How many trades?") {
		t.Error("prompt missing the question")
	}
	if !strings.Contains(prompt, "schema.txt") || !strings.Contains(prompt, "CREATE TABLE trades") {
		t.Error("prompt missing the file previews")
	}
}

func TestStrategistUnknownSourceCoercedToMixed(t *testing.T) {
	llm := &scriptedLLM{reply: func(stage, prompt string) (string, error) {
		return `{"scouting_required": true, "image_processing_required": false, "data_source_type": "spreadsheet", "reasoning": "?"}`, nil
	}}
	strategy, err := NewStrategist(llm).Decide(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strategy.DataSourceType != SourceMixed {
		t.Errorf("DataSourceType = %s, want mixed", strategy.DataSourceType)
	}
}

func TestStrategistNoJSONIsParseError(t *testing.T) {
	llm := &scriptedLLM{reply: func(stage, prompt string) (string, error) {
		return "I think scouting would be a good idea.", nil
	}}
	_, err := NewStrategist(llm).Decide(context.Background(), "q", nil)
	var parseErr *StageParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want StageParseError", err)
	}
	if parseErr.Stage != "strategist" {
		t.Errorf("stage = %s, want strategist", parseErr.Stage)
	}
}

func TestStrategistCallErrorPropagates(t *testing.T) {
	llm := &scriptedLLM{reply: func(stage, prompt string) (string, error) {
		return "", errors.New("boom")
	}}
	if _, err := NewStrategist(llm).Decide(context.Background(), "q", nil); err == nil {
		t.Fatal("expected an error when the model call fails")
	}
}
