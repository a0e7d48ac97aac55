package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/harun/tradegate/internal/logger"
	"github.com/harun/tradegate/pkg/broker"
	"github.com/harun/tradegate/pkg/query"
	"github.com/harun/tradegate/pkg/store"
	"github.com/harun/tradegate/pkg/toolexecutor"
	"github.com/harun/tradegate/pkg/warmup"
)

// Transport modes
const (
	TransportStdio = "stdio" // pipe protocol on stdin/stdout plus the HTTP surface
	TransportHTTP  = "http"  // HTTP surface only
)

// Config represents the main tradegate configuration
type Config struct {
	// Transport
	Transport TransportConfig `json:"transport" mapstructure:"transport"`

	// Database
	Database DatabaseConfig `json:"database" mapstructure:"database"`

	// Broker
	Broker BrokerConfig `json:"broker" mapstructure:"broker"`

	// LLM providers
	LLM LLMConfig `json:"llm" mapstructure:"llm"`

	// External computation
	Scripts ScriptsConfig `json:"scripts" mapstructure:"scripts"`

	// Query engine
	Query QueryConfig `json:"query" mapstructure:"query"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Cache warming
	Warmup []warmup.Job `json:"warmup" mapstructure:"warmup"`
}

// TransportConfig holds the pipe and HTTP transport settings
type TransportConfig struct {
	Mode      string `json:"mode" mapstructure:"mode"` // stdio, http
	Host      string `json:"host" mapstructure:"host"`
	Port      int    `json:"port" mapstructure:"port"` // 0 disables the HTTP surface
	Token     string `json:"token" mapstructure:"token"`
	RateLimit int    `json:"rate_limit" mapstructure:"rate_limit"` // requests per minute per client
}

// Addr is the HTTP listen address
func (t TransportConfig) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// DatabaseConfig holds both store pools
type DatabaseConfig struct {
	Driver       string `json:"driver" mapstructure:"driver"` // postgres, sqlite3
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	User         string `json:"user" mapstructure:"user"`
	Password     string `json:"password" mapstructure:"password"`
	Market       string `json:"market" mapstructure:"market"`
	Private      string `json:"private" mapstructure:"private"`
	MarketDSN    string `json:"market_dsn" mapstructure:"market_dsn"`
	PrivateDSN   string `json:"private_dsn" mapstructure:"private_dsn"`
	MaxOpenConns int    `json:"max_open_conns" mapstructure:"max_open_conns"`
	Migrate      bool   `json:"migrate" mapstructure:"migrate"` // create missing tables on startup
}

// MarketStore is the store config of the market namespace
func (d DatabaseConfig) MarketStore() store.Config {
	return d.storeConfig(d.Market, d.MarketDSN)
}

// PrivateStore is the store config of the private namespace
func (d DatabaseConfig) PrivateStore() store.Config {
	return d.storeConfig(d.Private, d.PrivateDSN)
}

func (d DatabaseConfig) storeConfig(database, dsn string) store.Config {
	return store.Config{
		Driver:       d.Driver,
		Host:         d.Host,
		Port:         d.Port,
		User:         d.User,
		Password:     d.Password,
		Database:     database,
		DSN:          dsn,
		MaxOpenConns: d.MaxOpenConns,
	}
}

// BrokerConfig holds broker API access
type BrokerConfig struct {
	BaseURL        string `json:"base_url" mapstructure:"base_url"`
	TokenURL       string `json:"token_url" mapstructure:"token_url"`
	ClientID       string `json:"client_id" mapstructure:"client_id"`
	RefreshToken   string `json:"refresh_token" mapstructure:"refresh_token"`
	AllowWrite     bool   `json:"allow_write" mapstructure:"allow_write"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// Timeout is the per-request broker timeout
func (b BrokerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// LLMConfig holds the embedding and text-generation providers
type LLMConfig struct {
	OllamaBaseURL    string `json:"ollama_base_url" mapstructure:"ollama_base_url"`
	EmbedModel       string `json:"embed_model" mapstructure:"embed_model"`
	ChatModel        string `json:"chat_model" mapstructure:"chat_model"`
	OpenAIAPIKey     string `json:"openai_api_key" mapstructure:"openai_api_key"`
	OpenAIEmbedModel string `json:"openai_embed_model" mapstructure:"openai_embed_model"`
	AnthropicAPIKey  string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	AnthropicModel   string `json:"anthropic_model" mapstructure:"anthropic_model"`
}

// ScriptsConfig holds the external computation runner
type ScriptsConfig struct {
	Manifest       string `json:"manifest" mapstructure:"manifest"`
	Runner         string `json:"runner" mapstructure:"runner"` // command; the script name is appended
	Dir            string `json:"dir" mapstructure:"dir"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	Watch          bool   `json:"watch" mapstructure:"watch"`
}

// QueryConfig holds query engine limits
type QueryConfig struct {
	MaxLimit int `json:"max_limit" mapstructure:"max_limit"`
}

// ToolsConfig holds dispatcher settings
type ToolsConfig struct {
	Policy         toolexecutor.ToolPolicy `json:"policy" mapstructure:"policy"`
	TimeoutSeconds int                     `json:"timeout_seconds" mapstructure:"timeout_seconds"` // 0 means no deadline
	AuditFile      string                  `json:"audit_file" mapstructure:"audit_file"`           // JSON lines of every write-tool call
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// Logger converts to the logger package config. Console output goes to
// stderr whenever stdout carries the pipe protocol.
func (l LoggingConfig) Logger(mode string) logger.Config {
	return logger.Config{
		Level:     l.Level,
		File:      l.File,
		Console:   true,
		Pretty:    l.Pretty,
		Stderr:    mode == TransportStdio,
		Redaction: l.Redaction,
		MaxSize:   l.MaxSize,
		MaxAge:    l.MaxAge,
		Compress:  l.Compress,
	}
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Mode:      TransportStdio,
			Host:      "0.0.0.0",
			Port:      3333,
			RateLimit: 120,
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			Host:         "127.0.0.1",
			Port:         5433,
			User:         "bcs",
			Password:     "bcs_secret",
			Market:       "bcs_market",
			Private:      "bcs_private",
			MaxOpenConns: 10,
		},
		Broker: BrokerConfig{
			BaseURL:        broker.DefaultBaseURL,
			TokenURL:       broker.DefaultTokenURL,
			ClientID:       broker.DefaultClientID,
			TimeoutSeconds: 30,
		},
		LLM: LLMConfig{
			OllamaBaseURL:    "http://127.0.0.1:11434",
			EmbedModel:       "nomic-embed-text",
			ChatModel:        "llama3.2:3b",
			OpenAIEmbedModel: "text-embedding-3-small",
			AnthropicModel:   "claude-3-5-haiku-latest",
		},
		Scripts: ScriptsConfig{
			Runner:         "python3 scripts/run.py",
			TimeoutSeconds: 120,
			Watch:          true,
		},
		Query: QueryConfig{
			MaxLimit: query.DefaultMaxLimit,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Warmup: []warmup.Job{},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.Transport.Token = mask(c.Transport.Token)
	masked.Database.Password = mask(c.Database.Password)
	masked.Database.MarketDSN = mask(c.Database.MarketDSN)
	masked.Database.PrivateDSN = mask(c.Database.PrivateDSN)
	masked.Broker.RefreshToken = mask(c.Broker.RefreshToken)
	masked.LLM.OpenAIAPIKey = mask(c.LLM.OpenAIAPIKey)
	masked.LLM.AnthropicAPIKey = mask(c.LLM.AnthropicAPIKey)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errs[0])
	}
	return nil
}
