package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStorage(t *testing.T, ttl time.Duration) (*RunStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRunStorage(rdb, ttl), mr
}

func TestRunStorageRoundTrip(t *testing.T) {
	storage, _ := newTestStorage(t, time.Hour)
	ctx := context.Background()

	record := &RunRecord{
		RunID:     "run-1",
		Question:  "total sales?",
		Attempts:  2,
		CreatedAt: time.Now().UTC(),
	}
	storage.Save(ctx, record)

	loaded, err := storage.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("record not found")
	}
	if loaded.Question != "total sales?" || loaded.Attempts != 2 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.ExpiresAt.IsZero() {
		t.Error("ExpiresAt not stamped on save")
	}
}

func TestRunStorageTTL(t *testing.T) {
	storage, mr := newTestStorage(t, time.Hour)
	storage.Save(context.Background(), &RunRecord{RunID: "run-ttl"})

	if ttl := mr.TTL(runKey("run-ttl")); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	loaded, err := storage.Load(context.Background(), "run-ttl")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != nil {
		t.Error("record survived past its TTL")
	}
}

func TestRunStorageMissing(t *testing.T) {
	storage, _ := newTestStorage(t, time.Hour)
	loaded, err := storage.Load(context.Background(), "nope")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != nil {
		t.Errorf("loaded = %+v, want nil", loaded)
	}
}

func TestRunStorageNilClient(t *testing.T) {
	storage := NewRunStorage(nil, time.Hour)
	storage.Save(context.Background(), &RunRecord{RunID: "x"})
	loaded, err := storage.Load(context.Background(), "x")
	if err != nil || loaded != nil {
		t.Errorf("nil-client storage = (%+v, %v), want (nil, nil)", loaded, err)
	}
}
