package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface. Values come from a YAML file,
// then environment variables override the ones operators most often change.
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	LLM struct {
		Provider       string `yaml:"provider"` // openai, anthropic, local, mock
		Model          string `yaml:"model"`
		APIKey         string `yaml:"api_key"`
		OpenAIURL      string `yaml:"openai_url"`
		OllamaURL      string `yaml:"ollama_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		MaxConcurrent  int    `yaml:"max_concurrent"`
		MaxTokens      int    `yaml:"max_tokens"`
	} `yaml:"llm"`

	Sandbox struct {
		Image               string `yaml:"image"`
		BaseTimeoutSeconds  int    `yaml:"base_timeout_seconds"`
		TimeoutFloorSeconds int    `yaml:"timeout_floor_seconds"`
		MemoryLimit         string `yaml:"memory_limit"`
		CPULimit            string `yaml:"cpu_limit"`
		PidsLimit           string `yaml:"pids_limit"`
		TmpfsSize           string `yaml:"tmpfs_size"`
	} `yaml:"sandbox"`

	Pipeline struct {
		DeadlineMinutes  int    `yaml:"deadline_minutes"`
		MaxAttempts      int    `yaml:"max_attempts"`
		MaxScoutAttempts int    `yaml:"max_scout_attempts"`
		MaxConcurrent    int    `yaml:"max_concurrent"`
		ScratchRoot      string `yaml:"scratch_root"`
	} `yaml:"pipeline"`

	Redis struct {
		Addr     string `yaml:"addr"`
		TTLHours int    `yaml:"ttl_hours"`
	} `yaml:"redis"`

	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
}

// DefaultConfig returns the built-in defaults, used when no config file is
// present.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.TimeoutSeconds = 120
	cfg.LLM.MaxConcurrent = 2
	cfg.LLM.MaxTokens = 4096
	cfg.Sandbox.Image = "analyst-sandbox"
	cfg.Sandbox.BaseTimeoutSeconds = 180
	cfg.Sandbox.TimeoutFloorSeconds = 60
	cfg.Sandbox.MemoryLimit = "512m"
	cfg.Sandbox.CPULimit = "1.0"
	cfg.Sandbox.PidsLimit = "256"
	cfg.Sandbox.TmpfsSize = "128m"
	cfg.Pipeline.DeadlineMinutes = 5
	cfg.Pipeline.MaxAttempts = 4
	cfg.Pipeline.MaxScoutAttempts = 2
	cfg.Pipeline.MaxConcurrent = 3
	cfg.Redis.TTLHours = 24
	cfg.NATS.Subject = "analyst.pipeline.events"
	return cfg
}

// LoadConfig reads the YAML config at path on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %v", path, err)
	}
	return cfg, nil
}

// ApplyEnvOverrides lets environment variables override the settings
// operators most often change at deploy time.
func ApplyEnvOverrides(cfg *Config) {
	if v := getenvTrim("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := getenvTrim("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := getenvTrim("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := getenvTrim("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := getenvTrim("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := getenvTrim("OPENAI_BASE_URL"); v != "" {
		cfg.LLM.OpenAIURL = v
	}
	if v := getenvTrim("OLLAMA_BASE_URL"); v != "" {
		cfg.LLM.OllamaURL = v
	}
	if v := getenvTrim("SANDBOX_IMAGE"); v != "" {
		cfg.Sandbox.Image = v
	}
	if v := getenvInt("SANDBOX_TIMEOUT_SECONDS"); v > 0 {
		cfg.Sandbox.BaseTimeoutSeconds = v
	}
	if v := getenvInt("PIPELINE_DEADLINE_MINUTES"); v > 0 {
		cfg.Pipeline.DeadlineMinutes = v
	}
	if v := getenvInt("MAX_DEBUG_ATTEMPTS"); v > 0 {
		cfg.Pipeline.MaxAttempts = v
	}
	if v := getenvInt("MAX_SCOUT_ATTEMPTS"); v > 0 {
		cfg.Pipeline.MaxScoutAttempts = v
	}
	if v := getenvInt("MAX_CONCURRENT_PIPELINES"); v > 0 {
		cfg.Pipeline.MaxConcurrent = v
	}
	if v := getenvInt("LLM_MAX_CONCURRENT_REQUESTS"); v > 0 {
		cfg.LLM.MaxConcurrent = v
	}
	if v := getenvTrim("REDIS_URL"); v != "" {
		cfg.Redis.Addr = normalizeRedisAddr(v)
	}
	if v := getenvTrim("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
}

func getenvTrim(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func getenvInt(key string) int {
	v := getenvTrim(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// normalizeRedisAddr strips the redis:// scheme and supplies the default port
// so the value can be handed straight to the client.
func normalizeRedisAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	addr = strings.TrimPrefix(addr, "redis://")
	addr = strings.TrimPrefix(addr, "rediss://")
	addr = strings.TrimSuffix(addr, "/")
	if !strings.Contains(addr, ":") {
		addr += ":6379"
	}
	return addr
}

// Derived durations, so conversions live in one place.

func (c *Config) BaseTimeout() time.Duration {
	return time.Duration(c.Sandbox.BaseTimeoutSeconds) * time.Second
}

func (c *Config) TimeoutFloor() time.Duration {
	return time.Duration(c.Sandbox.TimeoutFloorSeconds) * time.Second
}

func (c *Config) PipelineDeadline() time.Duration {
	return time.Duration(c.Pipeline.DeadlineMinutes) * time.Minute
}

func (c *Config) RunTTL() time.Duration {
	return time.Duration(c.Redis.TTLHours) * time.Hour
}
