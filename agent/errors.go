package main

import "fmt"

// StageParseError means a model reply lacked the structure a stage required.
// Fatal for the strategist and planner; the image extractor and data scout
// absorb it locally.
type StageParseError struct {
	Stage  string
	Detail string
}

func (e *StageParseError) Error() string {
	return fmt.Sprintf("%s: could not parse model reply: %s", e.Stage, e.Detail)
}
