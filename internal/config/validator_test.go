package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDriver(t *testing.T) {
	v := NewValidator()

	t.Run("postgres", func(t *testing.T) {
		assert.NoError(t, v.ValidateDriver("postgres"))
	})

	t.Run("sqlite", func(t *testing.T) {
		assert.NoError(t, v.ValidateDriver("sqlite3"))
	})

	t.Run("unsupported driver", func(t *testing.T) {
		assert.Error(t, v.ValidateDriver("mysql"))
	})

	t.Run("empty driver", func(t *testing.T) {
		assert.Error(t, v.ValidateDriver(""))
	})
}

func TestValidatePort(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePort(3333, false))
	assert.NoError(t, v.ValidatePort(0, true))
	assert.Error(t, v.ValidatePort(0, false))
	assert.Error(t, v.ValidatePort(70000, true))
	assert.Error(t, v.ValidatePort(-1, true))
}

func TestValidateTransport(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateTransport("stdio"))
	assert.NoError(t, v.ValidateTransport("http"))
	assert.Error(t, v.ValidateTransport("websocket"))
}

func TestValidateURL(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateURL("broker.base_url", "https://be.broker.ru"))
	assert.NoError(t, v.ValidateURL("broker.base_url", ""))
	assert.Error(t, v.ValidateURL("broker.base_url", "be.broker.ru"))
	assert.Error(t, v.ValidateURL("broker.base_url", "ftp://be.broker.ru"))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			assert.NoError(t, v.ValidateLogLevel(level))
		})
	}

	t.Run("invalid level", func(t *testing.T) {
		assert.Error(t, v.ValidateLogLevel("verbose"))
	})
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("defaults are valid", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(DefaultConfig()))
	})

	t.Run("collects every error", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Transport.Mode = "grpc"
		cfg.Database.Driver = "mysql"
		cfg.Query.MaxLimit = 0
		cfg.Logging.Level = "trace"

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 4)
	})

	t.Run("dsn replaces host settings", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Database.Port = 0
		cfg.Database.Market = ""
		cfg.Database.Private = ""
		cfg.Database.MarketDSN = "postgres://m"
		cfg.Database.PrivateDSN = "postgres://p"

		assert.Empty(t, v.ValidateConfig(cfg))
	})
}
