package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a configuration from the given YAML file path.
// Defaults fill unset fields, then environment overrides apply.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg, os.Getenv)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./casepilot.yaml, ~/.casepilot/config.yaml.
// With no file it returns the built-in defaults.
func LoadDefault() (*Config, error) {
	candidates := []string{"casepilot.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".casepilot", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Default(), nil
}

// Default returns the built-in configuration with environment overrides.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	applyEnv(&cfg, os.Getenv)
	return &cfg
}

// HomeDir is ~/.casepilot, or ./.casepilot when the home directory is unknown.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".casepilot"
	}
	return filepath.Join(home, ".casepilot")
}

func applyDefaults(cfg *Config) {
	setString(&cfg.LLM.BaseURL, "https://api.openai.com")
	setString(&cfg.LLM.Model, "gpt-4o-mini")
	setString(&cfg.LLM.Timeout, "120s")
	setString(&cfg.LLM.Backoff, "2s")
	setInt(&cfg.LLM.MaxAttempts, 3)

	setString(&cfg.Retrieval.Timeout, "30s")
	if cfg.Retrieval.Threshold == 0 {
		cfg.Retrieval.Threshold = 0.7
	}

	setString(&cfg.Dispatcher.Timeout, "300s")
	setInt(&cfg.Dispatcher.Window, 10)

	w := &cfg.Workflows
	setInt(&w.PriorDocLimit, 5)
	setInt(&w.PriorCaseLimit, 5)
	setInt(&w.ImpactCaseLimit, 10)
	setInt(&w.RegressionPerModule, 20)
	setInt(&w.RegressionLimit, 50)
	setInt(&w.RegressionConcurrency, 4)
	setInt(&w.OptimizationCaseLimit, 10)

	if cfg.Quality.DuplicateThreshold == 0 {
		cfg.Quality.DuplicateThreshold = 0.85
	}

	setString(&cfg.Storage.DBPath, filepath.Join(HomeDir(), "casepilot.db"))
	setString(&cfg.Storage.RunsDir, filepath.Join(HomeDir(), "runs"))

	setString(&cfg.Queue.Stream, "casepilot:requests")
	setString(&cfg.Queue.ResultStream, "casepilot:results")
	setString(&cfg.Queue.Group, "casepilot-workers")
	setString(&cfg.Queue.BlockInterval, "5s")

	setString(&cfg.Server.Addr, ":8080")

	setString(&cfg.Log.Level, "info")
	setString(&cfg.Log.Format, "json")
}

// envOverrides maps environment variables onto config fields.
var envOverrides = []struct {
	key string
	set func(*Config, string)
}{
	{"CASEPILOT_LLM_API_KEY", func(c *Config, v string) { c.LLM.APIKey = v }},
	{"CASEPILOT_LLM_BASE_URL", func(c *Config, v string) { c.LLM.BaseURL = v }},
	{"CASEPILOT_LLM_MODEL", func(c *Config, v string) { c.LLM.Model = v }},
	{"CASEPILOT_RETRIEVAL_URL", func(c *Config, v string) { c.Retrieval.URL = v }},
	{"CASEPILOT_POSTGRES_DSN", func(c *Config, v string) { c.Storage.PostgresDSN = v }},
	{"CASEPILOT_REDIS_URL", func(c *Config, v string) { c.Queue.RedisURL = v }},
	{"CASEPILOT_LOG_LEVEL", func(c *Config, v string) { c.Log.Level = v }},
}

func applyEnv(cfg *Config, getenv func(string) string) {
	for _, o := range envOverrides {
		if v := getenv(o.key); v != "" {
			o.set(cfg, v)
		}
	}
}

func setString(p *string, def string) {
	if *p == "" {
		*p = def
	}
}

func setInt(p *int, def int) {
	if *p == 0 {
		*p = def
	}
}
