// Package config loads MentorMesh settings: defaults, then a TOML file, then
// a .env file, then environment variables (env wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/hupe1980/mentormesh/core"
)

// Default file names looked up when Load gets empty paths.
const (
	DefaultPath    = "mentormesh.toml"
	DefaultEnvPath = ".env"
)

type Config struct {
	LLM        LLMConfig        `toml:"llm"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Retrieval  RetrievalConfig  `toml:"retrieval"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Search     SearchConfig     `toml:"search"`
	Agent      AgentConfig      `toml:"agent"`
	Server     ServerConfig     `toml:"server"`
	Log        LogConfig        `toml:"log"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
}

type LLMConfig struct {
	Provider    string  `toml:"provider"` // openai or anthropic
	Model       string  `toml:"model"` // empty selects the provider default
	APIKey      string  `toml:"api_key"`
	BaseURL     string  `toml:"base_url"`
	Temperature float64 `toml:"temperature"`
}

type EmbeddingConfig struct {
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
}

type RetrievalConfig struct {
	Store     string `toml:"store"` // pgvector or memory
	DSN       string `toml:"dsn"`
	Table     string `toml:"table"`
	TopK      int    `toml:"top_k"`
	Overfetch int    `toml:"overfetch"`
}

type CheckpointConfig struct {
	Driver string `toml:"driver"` // memory, sqlite or postgres
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

type SearchConfig struct {
	TavilyAPIKey string `toml:"tavily_api_key"`
	MaxResults   int    `toml:"max_results"`
}

type AgentConfig struct {
	MaxLoops         int    `toml:"max_loops"`
	DefaultUser      string `toml:"default_user"`
	MaxHistory       int    `toml:"max_history"`
	MaxParallelTools int    `toml:"max_parallel_tools"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json, text or zerolog
}

type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM:        LLMConfig{Provider: "openai", Temperature: 0.3},
		Embedding:  EmbeddingConfig{Model: "text-embedding-3-small", Dimensions: 1536},
		Retrieval:  RetrievalConfig{Store: "pgvector", Table: "documents", TopK: 5, Overfetch: 10},
		Checkpoint: CheckpointConfig{Driver: "sqlite", Path: "mentormesh.db"},
		Search:     SearchConfig{MaxResults: 3},
		Agent:      AgentConfig{MaxLoops: 3, DefaultUser: "Employee", MaxParallelTools: 1},
		Server:     ServerConfig{Addr: ":8080"},
		Log:        LogConfig{Level: "info", Format: "json"},
		Telemetry:  TelemetryConfig{ServiceName: "mentormesh"},
	}
}

// Load reads config: defaults -> TOML file -> .env -> env vars. Missing files
// are skipped; malformed ones are errors. Values already present in the
// process environment are not overwritten by the .env file.
func Load(path, envPath string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if envPath == "" {
		envPath = DefaultEnvPath
	}

	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: read %s: %w", envPath, err)
	}

	applyEnv(&cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.LLM.Provider, "MENTORMESH_LLM_PROVIDER")
	setString(&cfg.LLM.Model, "MENTORMESH_LLM_MODEL")
	setString(&cfg.LLM.APIKey, "MENTORMESH_LLM_API_KEY")
	setString(&cfg.LLM.BaseURL, "MENTORMESH_LLM_BASE_URL")
	setFloat(&cfg.LLM.Temperature, "MENTORMESH_LLM_TEMPERATURE")

	setString(&cfg.Embedding.Model, "MENTORMESH_EMBEDDING_MODEL")
	setInt(&cfg.Embedding.Dimensions, "MENTORMESH_EMBEDDING_DIMENSIONS")
	setString(&cfg.Embedding.APIKey, "MENTORMESH_EMBEDDING_API_KEY")

	setString(&cfg.Retrieval.Store, "MENTORMESH_RETRIEVAL_STORE")
	setString(&cfg.Retrieval.DSN, "MENTORMESH_RETRIEVAL_DSN")
	setString(&cfg.Retrieval.Table, "MENTORMESH_RETRIEVAL_TABLE")
	setInt(&cfg.Retrieval.TopK, "MENTORMESH_RETRIEVAL_TOP_K")
	setInt(&cfg.Retrieval.Overfetch, "MENTORMESH_RETRIEVAL_OVERFETCH")

	setString(&cfg.Checkpoint.Driver, "MENTORMESH_CHECKPOINT_DRIVER")
	setString(&cfg.Checkpoint.Path, "MENTORMESH_CHECKPOINT_PATH")
	setString(&cfg.Checkpoint.DSN, "MENTORMESH_CHECKPOINT_DSN")

	setString(&cfg.Search.TavilyAPIKey, "MENTORMESH_TAVILY_API_KEY")
	setInt(&cfg.Search.MaxResults, "MENTORMESH_SEARCH_MAX_RESULTS")

	setInt(&cfg.Agent.MaxLoops, "MENTORMESH_MAX_LOOPS")
	setString(&cfg.Agent.DefaultUser, "MENTORMESH_DEFAULT_USER")
	setInt(&cfg.Agent.MaxHistory, "MENTORMESH_MAX_HISTORY")

	setString(&cfg.Server.Addr, "MENTORMESH_SERVER_ADDR")
	setString(&cfg.Log.Level, "MENTORMESH_LOG_LEVEL")
	setString(&cfg.Log.Format, "MENTORMESH_LOG_FORMAT")
	setBool(&cfg.Telemetry.Enabled, "MENTORMESH_TELEMETRY_ENABLED")

	// Provider specific fallbacks.
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}

	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if cfg.Search.TavilyAPIKey == "" {
		cfg.Search.TavilyAPIKey = os.Getenv("TAVILY_API_KEY")
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		if cfg.Retrieval.DSN == "" {
			cfg.Retrieval.DSN = dsn
		}

		if cfg.Checkpoint.DSN == "" {
			cfg.Checkpoint.DSN = dsn
		}
	}
}

// Validate reports the first missing or invalid setting as a
// *core.ConfigError.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return &core.ConfigError{Field: "llm.provider", Reason: fmt.Sprintf("unsupported provider %q", c.LLM.Provider)}
	}

	if c.LLM.APIKey == "" {
		return core.NewConfigError("llm.api_key")
	}

	if c.Embedding.APIKey == "" {
		return core.NewConfigError("embedding.api_key")
	}

	if c.Embedding.Dimensions <= 0 {
		return &core.ConfigError{Field: "embedding.dimensions", Reason: "must be positive"}
	}

	switch c.Retrieval.Store {
	case "memory":
	case "pgvector":
		if c.Retrieval.DSN == "" {
			return core.NewConfigError("retrieval.dsn")
		}

		if c.Retrieval.Table == "" {
			return core.NewConfigError("retrieval.table")
		}
	default:
		return &core.ConfigError{Field: "retrieval.store", Reason: fmt.Sprintf("unsupported store %q", c.Retrieval.Store)}
	}

	if c.Retrieval.TopK <= 0 {
		return &core.ConfigError{Field: "retrieval.top_k", Reason: "must be positive"}
	}

	switch c.Checkpoint.Driver {
	case "memory":
	case "sqlite":
		if c.Checkpoint.Path == "" {
			return core.NewConfigError("checkpoint.path")
		}
	case "postgres":
		if c.Checkpoint.DSN == "" {
			return core.NewConfigError("checkpoint.dsn")
		}
	default:
		return &core.ConfigError{Field: "checkpoint.driver", Reason: fmt.Sprintf("unsupported driver %q", c.Checkpoint.Driver)}
	}

	if c.Agent.MaxLoops < 0 {
		return &core.ConfigError{Field: "agent.max_loops", Reason: "must not be negative"}
	}

	switch c.Log.Format {
	case "json", "text", "zerolog":
	default:
		return &core.ConfigError{Field: "log.format", Reason: fmt.Sprintf("unsupported format %q", c.Log.Format)}
	}

	return nil
}

// SearchEnabled reports whether the web search tool can be registered.
func (c Config) SearchEnabled() bool {
	return c.Search.TavilyAPIKey != ""
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}

	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}
