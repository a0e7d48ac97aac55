package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envBindings maps config keys to the environment variables that override them
var envBindings = map[string]string{
	"transport.mode":       "MCP_TRANSPORT",
	"transport.port":       "MCP_PORT",
	"transport.host":       "MCP_HOST",
	"transport.token":      "MCP_HTTP_TOKEN",
	"transport.rate_limit": "MCP_RATE_LIMIT",

	"database.driver":      "BCS_DB_DRIVER",
	"database.host":        "BCS_DB_HOST",
	"database.port":        "BCS_DB_PORT",
	"database.user":        "BCS_DB_USER",
	"database.password":    "BCS_DB_PASSWORD",
	"database.market":      "BCS_DB_MARKET",
	"database.private":     "BCS_DB_PRIVATE",
	"database.market_dsn":  "BCS_DB_MARKET_DSN",
	"database.private_dsn": "BCS_DB_PRIVATE_DSN",

	"broker.refresh_token": "BCS_REFRESH_TOKEN",
	"broker.client_id":     "BCS_CLIENT_ID",
	"broker.base_url":      "BCS_API_BASE_URL",
	"broker.token_url":     "BCS_TOKEN_URL",

	"llm.ollama_base_url":   "OLLAMA_BASE_URL",
	"llm.embed_model":       "OLLAMA_EMBED_MODEL",
	"llm.chat_model":        "OLLAMA_CHAT_MODEL",
	"llm.openai_api_key":    "OPENAI_API_KEY",
	"llm.anthropic_api_key": "ANTHROPIC_API_KEY",

	"scripts.manifest": "SCRIPTS_MANIFEST",
	"scripts.runner":   "SCRIPTS_RUNNER",

	"tools.audit_file": "TOOLS_AUDIT_FILE",

	"query.max_limit": "QUERY_MAX_LIMIT",
	"logging.level":   "LOG_LEVEL",
}

// AllowWriteEnv is the write flag variable. It accepts 1, true, yes and y.
const AllowWriteEnv = "BCS_ALLOW_WRITE"

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFile:    ".env",
	}
}

// WithEnvFile overrides the dotenv file path; empty skips dotenv loading
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Load reads .env, the optional config file and the environment, in
// increasing precedence, over the defaults.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		// existing variables win over the file
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", l.envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", l.configPath, err)
		}
		v.SetConfigFile(l.configPath)
		v.SetConfigType(configType(l.configPath))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if raw, ok := os.LookupEnv(AllowWriteEnv); ok {
		cfg.Broker.AllowWrite = truthy(raw)
	}
	if cfg.Logging.File != "" {
		cfg.Logging.File = filepath.Clean(cfg.Logging.File)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	return l.configPath
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

// setDefaults registers every scalar default so environment bindings of
// nested keys are visible to Unmarshal
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("transport.mode", cfg.Transport.Mode)
	v.SetDefault("transport.host", cfg.Transport.Host)
	v.SetDefault("transport.port", cfg.Transport.Port)
	v.SetDefault("transport.token", cfg.Transport.Token)
	v.SetDefault("transport.rate_limit", cfg.Transport.RateLimit)

	v.SetDefault("database.driver", cfg.Database.Driver)
	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.market", cfg.Database.Market)
	v.SetDefault("database.private", cfg.Database.Private)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)

	v.SetDefault("broker.base_url", cfg.Broker.BaseURL)
	v.SetDefault("broker.token_url", cfg.Broker.TokenURL)
	v.SetDefault("broker.client_id", cfg.Broker.ClientID)
	v.SetDefault("broker.timeout_seconds", cfg.Broker.TimeoutSeconds)

	v.SetDefault("llm.ollama_base_url", cfg.LLM.OllamaBaseURL)
	v.SetDefault("llm.embed_model", cfg.LLM.EmbedModel)
	v.SetDefault("llm.chat_model", cfg.LLM.ChatModel)
	v.SetDefault("llm.openai_embed_model", cfg.LLM.OpenAIEmbedModel)
	v.SetDefault("llm.anthropic_model", cfg.LLM.AnthropicModel)

	v.SetDefault("scripts.runner", cfg.Scripts.Runner)
	v.SetDefault("scripts.timeout_seconds", cfg.Scripts.TimeoutSeconds)
	v.SetDefault("scripts.watch", cfg.Scripts.Watch)

	v.SetDefault("query.max_limit", cfg.Query.MaxLimit)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

func truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}
