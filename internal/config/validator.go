package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harun/tradegate/pkg/query"
	"github.com/harun/tradegate/pkg/tools"
	"github.com/harun/tradegate/pkg/warmup"
)

// Validator validates configuration values
type Validator struct {
	logger zerolog.Logger
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{logger: zerolog.Nop()}
}

// WithLogger sets the logger used for warnings
func (v *Validator) WithLogger(logger zerolog.Logger) *Validator {
	v.logger = logger
	return v
}

// ValidateDriver validates a database driver name
func (v *Validator) ValidateDriver(driver string) error {
	if driver == "" {
		return fmt.Errorf("database driver cannot be empty")
	}
	if _, err := query.DialectFor(driver); err != nil {
		return fmt.Errorf("invalid database driver: %s (must be one of: postgres, sqlite3)", driver)
	}
	return nil
}

// ValidatePort validates a TCP port. Zero is accepted when allowZero is set.
func (v *Validator) ValidatePort(port int, allowZero bool) error {
	if port == 0 && allowZero {
		return nil
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateTransport validates the transport mode
func (v *Validator) ValidateTransport(mode string) error {
	validModes := []string{TransportStdio, TransportHTTP}
	for _, valid := range validModes {
		if mode == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid transport: %s (must be one of: %s)", mode, strings.Join(validModes, ", "))
}

// ValidateURL validates an absolute http(s) URL
func (v *Validator) ValidateURL(name, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateMaxLimit validates the query row cap
func (v *Validator) ValidateMaxLimit(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("query max limit must be positive, got %d", limit)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Validate transport
	if err := v.ValidateTransport(cfg.Transport.Mode); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidatePort(cfg.Transport.Port, cfg.Transport.Mode == TransportStdio); err != nil {
		errors = append(errors, fmt.Errorf("transport: %w", err))
	}
	if cfg.Transport.RateLimit < 0 {
		errors = append(errors, fmt.Errorf("transport.rate_limit must be >= 0"))
	}
	if cfg.Transport.Token == "" && cfg.Transport.Port != 0 && cfg.Transport.Host != "127.0.0.1" && cfg.Transport.Host != "localhost" {
		v.logger.Warn().Str("host", cfg.Transport.Host).Msg("HTTP surface has no bearer token")
	}

	// Validate database
	if err := v.ValidateDriver(cfg.Database.Driver); err != nil {
		errors = append(errors, err)
	}
	if cfg.Database.MarketDSN == "" || cfg.Database.PrivateDSN == "" {
		if err := v.ValidatePort(cfg.Database.Port, false); err != nil {
			errors = append(errors, fmt.Errorf("database: %w", err))
		}
		if cfg.Database.MarketDSN == "" && cfg.Database.Market == "" {
			errors = append(errors, fmt.Errorf("database.market is required"))
		}
		if cfg.Database.PrivateDSN == "" && cfg.Database.Private == "" {
			errors = append(errors, fmt.Errorf("database.private is required"))
		}
	}

	// Validate broker
	if err := v.ValidateURL("broker.base_url", cfg.Broker.BaseURL); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateURL("broker.token_url", cfg.Broker.TokenURL); err != nil {
		errors = append(errors, err)
	}
	if cfg.Broker.TimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("broker.timeout_seconds must be >= 0"))
	}
	if cfg.Broker.RefreshToken == "" {
		v.logger.Warn().Msg("No broker refresh token; broker tools will fail with an auth error")
	}

	// Validate LLM
	if err := v.ValidateURL("llm.ollama_base_url", cfg.LLM.OllamaBaseURL); err != nil {
		errors = append(errors, err)
	}

	// Validate scripts
	if cfg.Scripts.TimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("scripts.timeout_seconds must be >= 0"))
	}

	// Validate query
	if err := v.ValidateMaxLimit(cfg.Query.MaxLimit); err != nil {
		errors = append(errors, err)
	}

	// Validate tools
	if err := cfg.Tools.Policy.Validate(v.logger); err != nil {
		errors = append(errors, err)
	}
	if cfg.Tools.TimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("tools.timeout_seconds must be >= 0"))
	}

	// Validate warmup jobs
	kinds := tools.ResourceKinds()
	for i, job := range cfg.Warmup {
		if err := warmup.Validate(job, kinds); err != nil {
			errors = append(errors, fmt.Errorf("warmup %d: %w", i, err))
		}
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
