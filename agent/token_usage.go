package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// TokenTracker records per-day and per-stage token counters in Redis for
// usage reporting. Safe to call even when Redis is down; tracking is best
// effort and never blocks a model call on an error.
type TokenTracker struct {
	rdb  *redis.Client
	cron *cron.Cron
}

// NewTokenTracker wraps an existing Redis client. rdb may be nil, in which
// case every method is a no-op.
func NewTokenTracker(rdb *redis.Client) *TokenTracker {
	return &TokenTracker{rdb: rdb}
}

// Track atomically bumps the daily and per-stage counters.
func (t *TokenTracker) Track(ctx context.Context, stage string, promptTokens, completionTokens int) {
	if t == nil || t.rdb == nil {
		return
	}
	total := promptTokens + completionTokens
	if total == 0 {
		return
	}
	stage = sanitizeStage(stage)
	today := time.Now().UTC().Format("2006-01-02")

	pipe := t.rdb.Pipeline()
	keys := []struct {
		key string
		n   int
	}{
		{fmt.Sprintf("token_usage:%s:prompt", today), promptTokens},
		{fmt.Sprintf("token_usage:%s:completion", today), completionTokens},
		{fmt.Sprintf("token_usage:%s:total", today), total},
		{fmt.Sprintf("token_usage:%s:stage:%s:prompt", today, stage), promptTokens},
		{fmt.Sprintf("token_usage:%s:stage:%s:completion", today, stage), completionTokens},
		{fmt.Sprintf("token_usage:%s:stage:%s:total", today, stage), total},
	}
	for _, k := range keys {
		pipe.IncrBy(ctx, k.key, int64(k.n))
		pipe.Expire(ctx, k.key, 48*time.Hour)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("⚠️ [TOKEN-TRACK] Failed to track usage: %v", err)
		return
	}
	log.Printf("📊 [TOKEN-TRACK] %s: +%d prompt, +%d completion tokens", stage, promptTokens, completionTokens)
}

// StartAggregation schedules an hourly job that rolls the live counters into
// a per-day summary hash with a long TTL, so reporting keeps working after
// the raw counters expire.
func (t *TokenTracker) StartAggregation() {
	if t == nil || t.rdb == nil {
		return
	}
	t.cron = cron.New()
	if _, err := t.cron.AddFunc("@hourly", t.aggregate); err != nil {
		log.Printf("⚠️ [TOKEN-TRACK] Failed to schedule aggregation: %v", err)
		return
	}
	t.cron.Start()
	log.Printf("⏲️ [TOKEN-TRACK] Hourly usage aggregation scheduled")
}

// StopAggregation halts the scheduler, waiting for a running job.
func (t *TokenTracker) StopAggregation() {
	if t == nil || t.cron == nil {
		return
	}
	<-t.cron.Stop().Done()
}

func (t *TokenTracker) aggregate() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	today := time.Now().UTC().Format("2006-01-02")
	summaryKey := fmt.Sprintf("token_usage:aggregate:%s", today)
	fields := map[string]string{
		"prompt":     fmt.Sprintf("token_usage:%s:prompt", today),
		"completion": fmt.Sprintf("token_usage:%s:completion", today),
		"total":      fmt.Sprintf("token_usage:%s:total", today),
	}
	for field, key := range fields {
		v, err := t.rdb.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			log.Printf("⚠️ [TOKEN-TRACK] Aggregation read failed for %s: %v", key, err)
			return
		}
		n, _ := strconv.ParseInt(v, 10, 64)
		if err := t.rdb.HSet(ctx, summaryKey, field, n).Err(); err != nil {
			log.Printf("⚠️ [TOKEN-TRACK] Aggregation write failed: %v", err)
			return
		}
	}
	t.rdb.Expire(ctx, summaryKey, 30*24*time.Hour)
	log.Printf("📊 [TOKEN-TRACK] Aggregated usage for %s", today)
}

func sanitizeStage(stage string) string {
	stage = strings.ToLower(strings.TrimSpace(stage))
	stage = strings.ReplaceAll(stage, " ", "-")
	stage = strings.ReplaceAll(stage, "_", "-")
	if stage == "" {
		return "unknown"
	}
	return stage
}
