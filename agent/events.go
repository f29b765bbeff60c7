package main

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// PipelineEvent is the message published on every stage transition so other
// systems can follow a run without polling.
type PipelineEvent struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventBus publishes pipeline events over NATS. A nil bus is valid and
// publishes nothing, so the pipeline never branches on whether NATS is
// configured.
type EventBus struct {
	nc      *nats.Conn
	subject string
}

// NewEventBus connects to NATS. Returns an error only on a configured URL
// that cannot be reached; an empty URL yields a nil bus.
func NewEventBus(url, subject string) (*EventBus, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("analyst-agent"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	if subject == "" {
		subject = "analyst.pipeline.events"
	}
	log.Printf("📡 [EVENTS] Connected to NATS at %s (subject %s)", url, subject)
	return &EventBus{nc: nc, subject: subject}, nil
}

// Publish sends one stage-transition event, best effort.
func (b *EventBus) Publish(runID, stage, detail string) {
	if b == nil || b.nc == nil {
		return
	}
	data, err := json.Marshal(PipelineEvent{
		RunID:     runID,
		Stage:     stage,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		log.Printf("⚠️ [EVENTS] Publish failed: %v", err)
	}
}

// Close drains the connection.
func (b *EventBus) Close() {
	if b == nil || b.nc == nil {
		return
	}
	_ = b.nc.Drain()
}
