package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := loadEnvFile(); err != nil {
		log.Printf("Note: Could not load .env file: %v (continuing without it)", err)
	}

	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		port       = flag.Int("port", 0, "Port to run the server on (overrides config)")
	)
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Printf("Warning: Could not load config %s: %v (using defaults)", *configPath, err)
		cfg = DefaultConfig()
	}
	ApplyEnvOverrides(cfg)
	if *port != 0 {
		cfg.Server.Port = *port
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		log.Printf("💾 [MAIN] Redis configured at %s", cfg.Redis.Addr)
	} else {
		log.Printf("⚠️ [MAIN] No Redis configured, run records and token tracking disabled")
	}

	tracker := NewTokenTracker(rdb)
	tracker.StartAggregation()
	defer tracker.StopAggregation()

	var llm ModelClient
	if cfg.LLM.Provider == "mock" {
		log.Printf("🎭 [MAIN] Using mock LLM provider")
		llm = NewMockClient()
	} else {
		llm = NewLLMClient(cfg, tracker)
	}

	sandbox, err := NewDockerExecutor(cfg)
	if err != nil {
		log.Fatalf("❌ [MAIN] Sandbox setup failed: %v", err)
	}

	events, err := NewEventBus(cfg.NATS.URL, cfg.NATS.Subject)
	if err != nil {
		log.Printf("⚠️ [MAIN] NATS unavailable, events disabled: %v", err)
		events = nil
	}
	defer events.Close()

	storage := NewRunStorage(rdb, cfg.RunTTL())
	pipeline := NewPipeline(cfg, llm, sandbox, storage, events)
	server := NewAPIServer(cfg, pipeline, storage)

	if err := server.Start(); err != nil {
		log.Fatalf("❌ [MAIN] Server stopped: %v", err)
	}
}

// loadEnvFile looks for a .env in the working directory, then walks up a few
// levels so running from a subdirectory still finds the project file.
func loadEnvFile() error {
	if err := godotenv.Load(".env"); err == nil {
		return nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		dir = filepath.Dir(dir)
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return godotenv.Load(envPath)
		}
	}
	return os.ErrNotExist
}
