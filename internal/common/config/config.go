// Package config provides configuration management for the radbot server.
// It supports loading configuration from environment variables, a config
// file, built-in defaults, and database overrides applied at boot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the radbot server.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Push      PushConfig      `mapstructure:"push"`
	Sanitize  SanitizeConfig  `mapstructure:"sanitize"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	MCP       []MCPServer     `mapstructure:"mcp"`
	Creds     CredsConfig     `mapstructure:"creds"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds Postgres connection configuration.
type DatabaseConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbName"`
	SSLMode    string `mapstructure:"sslMode"`
	MaxConns   int    `mapstructure:"maxConns"`
	MinConns   int    `mapstructure:"minConns"`
	ChatSchema string `mapstructure:"chatSchema"` // schema for chat history tables
}

// QdrantConfig holds vector store configuration.
type QdrantConfig struct {
	URL        string `mapstructure:"url"` // takes precedence over host/port when set
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"apiKey"`
	UseTLS     bool   `mapstructure:"useTls"`
	Collection string `mapstructure:"collection"`
	VectorSize int    `mapstructure:"vectorSize"`
}

// NATSConfig holds event bus configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// AgentConfig holds agent runtime configuration.
type AgentConfig struct {
	// GeminiAPIKey authenticates against the Gemini API (GEMINI_API_KEY).
	GeminiAPIKey string `mapstructure:"geminiApiKey"`

	// RootAgentName names the root agent; the app name is derived from it.
	RootAgentName string `mapstructure:"rootAgentName"`

	// MainModel is the root agent's model (RADBOT_MAIN_MODEL).
	MainModel string `mapstructure:"mainModel"`

	// SubModel is used by sub-agents (RADBOT_SUB_MODEL).
	SubModel string `mapstructure:"subModel"`

	// EmbeddingModel produces memory vectors.
	EmbeddingModel string `mapstructure:"embeddingModel"`

	// HistoryReplay is the number of persisted messages replayed into a
	// fresh runtime session.
	HistoryReplay int `mapstructure:"historyReplay"`

	// MaxToolLoops bounds the tool-calling loop per turn.
	MaxToolLoops int `mapstructure:"maxToolLoops"`
}

// SchedulerConfig holds scheduler engine configuration.
type SchedulerConfig struct {
	ResultCap   int `mapstructure:"resultCap"`   // bytes of a task result persisted
	PushBodyCap int `mapstructure:"pushBodyCap"` // bytes of a push notification body
}

// PushConfig holds ntfy-compatible push notification configuration.
type PushConfig struct {
	URL     string `mapstructure:"url"`
	Topic   string `mapstructure:"topic"`
	Token   string `mapstructure:"token"`
	Enabled bool   `mapstructure:"enabled"`
}

// SanitizeConfig bounds untrusted content entering the pipeline.
type SanitizeConfig struct {
	MaxLen int `mapstructure:"maxLen"`
}

// ModelPrice holds per-million-token prices for one model prefix.
type ModelPrice struct {
	Input  float64 `mapstructure:"input"`
	Cached float64 `mapstructure:"cached"`
	Output float64 `mapstructure:"output"`
}

// TelemetryConfig holds the model price table, keyed by model-name prefix.
// The "_default" row is used when no prefix matches.
type TelemetryConfig struct {
	Prices map[string]ModelPrice `mapstructure:"prices"`
}

// MCPServer describes one MCP server the agent can pull tools from.
type MCPServer struct {
	Name      string            `mapstructure:"name"`
	Transport string            `mapstructure:"transport"` // sse or stdio
	URL       string            `mapstructure:"url"`
	Command   string            `mapstructure:"command"`
	Args      []string          `mapstructure:"args"`
	Env       map[string]string `mapstructure:"env"`

	// Auth for HTTP transports: bearer token, basic credentials, or raw
	// headers. Only one is typically set.
	AuthToken string            `mapstructure:"authToken"`
	BasicUser string            `mapstructure:"basicUser"`
	BasicPass string            `mapstructure:"basicPass"`
	Headers   map[string]string `mapstructure:"headers"`

	TimeoutSeconds  int `mapstructure:"timeoutSeconds"`
	PostInitDelayMs int `mapstructure:"postInitDelayMs"`
}

// CredsConfig holds credentials for external integrations the tools use.
type CredsConfig struct {
	HAURL   string `mapstructure:"haUrl"`
	HAToken string `mapstructure:"haToken"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// DSN returns the Postgres connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// detectDefaultLogFormat mirrors logger.detectLogFormat for config defaults.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("RADBOT_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "radbot")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "radbot")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 5)
	v.SetDefault("database.minConns", 1)
	v.SetDefault("database.chatSchema", "radbot_chathistory")

	// Qdrant defaults
	v.SetDefault("qdrant.url", "")
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "radbot_memories")
	v.SetDefault("qdrant.vectorSize", 768)

	// NATS defaults - empty URL means use the in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "radbot-server")
	v.SetDefault("nats.maxReconnects", 10)

	// Agent defaults
	v.SetDefault("agent.rootAgentName", "beto")
	v.SetDefault("agent.mainModel", "gemini-2.5-pro")
	v.SetDefault("agent.subModel", "gemini-2.0-flash")
	v.SetDefault("agent.embeddingModel", "text-embedding-004")
	v.SetDefault("agent.historyReplay", 15)
	v.SetDefault("agent.maxToolLoops", 12)

	// Scheduler defaults
	v.SetDefault("scheduler.resultCap", 4096)
	v.SetDefault("scheduler.pushBodyCap", 2048)

	// Push defaults
	v.SetDefault("push.url", "https://ntfy.sh")
	v.SetDefault("push.topic", "")
	v.SetDefault("push.enabled", false)

	// Sanitize defaults
	v.SetDefault("sanitize.maxLen", 16384)

	// Telemetry price table, per million tokens. Prefixes are matched
	// longest-first; "_default" applies on miss.
	v.SetDefault("telemetry.prices", map[string]map[string]float64{
		"gemini-2.5-pro":   {"input": 1.25, "cached": 0.31, "output": 10.00},
		"gemini-2.5-flash": {"input": 0.30, "cached": 0.075, "output": 2.50},
		"gemini-2.0-flash": {"input": 0.10, "cached": 0.025, "output": 0.40},
		"_default":         {"input": 1.00, "cached": 0.25, "output": 4.00},
	})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix RADBOT_ with snake_case
// naming; legacy variable names used by existing deployments are bound
// explicitly.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("RADBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy env var names predate the RADBOT_ prefix and are still what
	// deployments export; bind them explicitly.
	_ = v.BindEnv("agent.geminiApiKey", "GEMINI_API_KEY", "RADBOT_AGENT_GEMINI_API_KEY")
	_ = v.BindEnv("agent.mainModel", "RADBOT_MAIN_MODEL")
	_ = v.BindEnv("agent.subModel", "RADBOT_SUB_MODEL")
	_ = v.BindEnv("database.host", "POSTGRES_HOST", "RADBOT_DATABASE_HOST")
	_ = v.BindEnv("database.port", "POSTGRES_PORT", "RADBOT_DATABASE_PORT")
	_ = v.BindEnv("database.user", "POSTGRES_USER", "RADBOT_DATABASE_USER")
	_ = v.BindEnv("database.password", "POSTGRES_PASSWORD", "RADBOT_DATABASE_PASSWORD")
	_ = v.BindEnv("database.dbName", "POSTGRES_DB", "RADBOT_DATABASE_DBNAME")
	_ = v.BindEnv("qdrant.url", "QDRANT_URL")
	_ = v.BindEnv("qdrant.host", "QDRANT_HOST")
	_ = v.BindEnv("qdrant.port", "QDRANT_PORT")
	_ = v.BindEnv("qdrant.apiKey", "QDRANT_API_KEY")
	_ = v.BindEnv("qdrant.collection", "QDRANT_COLLECTION")
	_ = v.BindEnv("creds.haUrl", "HA_URL")
	_ = v.BindEnv("creds.haToken", "HA_TOKEN")
	_ = v.BindEnv("logging.level", "LOG_LEVEL", "RADBOT_LOGGING_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/radbot/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ApplyOverrides applies key/value overrides loaded from the database on top
// of the already-loaded configuration. Keys use dotted config paths
// ("agent.mainModel"); unknown keys are returned so the caller can log them.
func (c *Config) ApplyOverrides(overrides map[string]string) []string {
	var unknown []string
	for key, value := range overrides {
		switch key {
		case "agent.mainModel":
			c.Agent.MainModel = value
		case "agent.subModel":
			c.Agent.SubModel = value
		case "agent.embeddingModel":
			c.Agent.EmbeddingModel = value
		case "push.url":
			c.Push.URL = value
		case "push.topic":
			c.Push.Topic = value
		case "push.enabled":
			c.Push.Enabled = strings.EqualFold(value, "true")
		case "qdrant.collection":
			c.Qdrant.Collection = value
		default:
			unknown = append(unknown, key)
		}
	}
	return unknown
}

// validate checks that all required configuration fields are set. In
// development mode most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.Host != "" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required when database.host is set")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required when database.host is set")
		}
	}

	if cfg.Database.MinConns > cfg.Database.MaxConns {
		errs = append(errs, "database.minConns must not exceed database.maxConns")
	}

	if cfg.Agent.HistoryReplay < 0 {
		errs = append(errs, "agent.historyReplay must not be negative")
	}

	if cfg.Sanitize.MaxLen <= 0 {
		errs = append(errs, "sanitize.maxLen must be positive")
	}

	for i, srv := range cfg.MCP {
		switch srv.Transport {
		case "sse", "":
			if srv.URL == "" {
				errs = append(errs, fmt.Sprintf("mcp[%d]: url is required for sse transport", i))
			}
		case "stdio":
			if srv.Command == "" {
				errs = append(errs, fmt.Sprintf("mcp[%d]: command is required for stdio transport", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("mcp[%d]: transport must be sse or stdio", i))
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
