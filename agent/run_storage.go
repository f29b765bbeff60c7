package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunStorage persists one RunRecord per pipeline run in Redis, with a TTL so
// old runs age out on their own.
type RunStorage struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRunStorage wraps an existing Redis client. rdb may be nil; storage then
// degrades to no-ops and lookups report not found.
func NewRunStorage(rdb *redis.Client, ttl time.Duration) *RunStorage {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RunStorage{rdb: rdb, ttl: ttl}
}

func runKey(runID string) string {
	return "analyst:run:" + runID
}

// Save writes the record, stamping its expiry. Failures are logged, not
// returned; losing a trace record must never fail the request.
func (s *RunStorage) Save(ctx context.Context, record *RunRecord) {
	if s == nil || s.rdb == nil {
		return
	}
	record.ExpiresAt = time.Now().Add(s.ttl)
	data, err := json.Marshal(record)
	if err != nil {
		log.Printf("⚠️ [STORAGE] Failed to encode run %s: %v", record.RunID, err)
		return
	}
	if err := s.rdb.Set(ctx, runKey(record.RunID), data, s.ttl).Err(); err != nil {
		log.Printf("⚠️ [STORAGE] Failed to save run %s: %v", record.RunID, err)
		return
	}
	log.Printf("💾 [STORAGE] Run %s saved (ttl %s)", record.RunID, s.ttl)
}

// Load fetches one run record. A missing key or nil client returns
// (nil, nil); callers translate that into 404.
func (s *RunStorage) Load(ctx context.Context, runID string) (*RunRecord, error) {
	if s == nil || s.rdb == nil {
		return nil, nil
	}
	data, err := s.rdb.Get(ctx, runKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &record, nil
}
