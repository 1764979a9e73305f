package config

import "time"

// Config is the top-level configuration parsed from casepilot YAML.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Workflows  WorkflowsConfig  `yaml:"workflows"`
	Quality    QualityConfig    `yaml:"quality"`
	Prompts    PromptsConfig    `yaml:"prompts"`
	Storage    StorageConfig    `yaml:"storage"`
	Queue      QueueConfig      `yaml:"queue"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// LLMConfig points at an OpenAI-compatible chat-completion endpoint.
type LLMConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	Timeout     string `yaml:"timeout"`
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"`
}

// RetrievalConfig points at the knowledge-base search service. An empty URL
// disables retrieval; retrieval stages then degrade to warnings.
type RetrievalConfig struct {
	URL       string  `yaml:"url"`
	Timeout   string  `yaml:"timeout"`
	Threshold float64 `yaml:"threshold"`
}

// DispatcherConfig bounds request handling.
type DispatcherConfig struct {
	Timeout string `yaml:"timeout"`
	Window  int    `yaml:"window"`
}

// WorkflowsConfig tunes the four workflows.
type WorkflowsConfig struct {
	StrictReview          bool `yaml:"strict_review"`
	PriorDocLimit         int  `yaml:"prior_doc_limit"`
	PriorCaseLimit        int  `yaml:"prior_case_limit"`
	ImpactCaseLimit       int  `yaml:"impact_case_limit"`
	RegressionPerModule   int  `yaml:"regression_per_module"`
	RegressionLimit       int  `yaml:"regression_limit"`
	RegressionConcurrency int  `yaml:"regression_concurrency"`
	OptimizationCaseLimit int  `yaml:"optimization_case_limit"`
}

// QualityConfig holds the quality gate thresholds.
type QualityConfig struct {
	MinCoverage        float64 `yaml:"min_coverage"`
	MaxDuplicationRate float64 `yaml:"max_duplication_rate"`
	MaxErrors          int     `yaml:"max_errors"`
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`
}

// PromptsConfig locates template overrides.
type PromptsConfig struct {
	Dir string `yaml:"dir"`
}

// StorageConfig locates persistent state. An empty PostgresDSN keeps saved
// test cases in memory.
type StorageConfig struct {
	DBPath      string `yaml:"db_path"`
	RunsDir     string `yaml:"runs_dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// QueueConfig configures the Redis stream used for asynchronous requests.
type QueueConfig struct {
	RedisURL      string `yaml:"redis_url"`
	Stream        string `yaml:"stream"`
	ResultStream  string `yaml:"result_stream"`
	Group         string `yaml:"group"`
	BlockInterval string `yaml:"block_interval"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DispatchTimeout resolves Dispatcher.Timeout.
func (c *Config) DispatchTimeout() time.Duration {
	return parseDuration(c.Dispatcher.Timeout, 300*time.Second)
}

// LLMTimeout resolves LLM.Timeout.
func (c *Config) LLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// LLMBackoff resolves LLM.Backoff.
func (c *Config) LLMBackoff() time.Duration {
	return parseDuration(c.LLM.Backoff, 2*time.Second)
}

// RetrievalTimeout resolves Retrieval.Timeout.
func (c *Config) RetrievalTimeout() time.Duration {
	return parseDuration(c.Retrieval.Timeout, 30*time.Second)
}

// QueueBlock resolves Queue.BlockInterval.
func (c *Config) QueueBlock() time.Duration {
	return parseDuration(c.Queue.BlockInterval, 5*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
