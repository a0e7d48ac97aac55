// Package store owns the relational connection pools, one per namespace.
//
// Statements are written with '?' placeholders and rebound for the pool's
// dialect, so the same persistence code runs on Postgres in production and on
// SQLite in local mode and tests.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/harun/tradegate/internal/metrics"
	"github.com/harun/tradegate/pkg/apperr"
	"github.com/harun/tradegate/pkg/query"
	"github.com/harun/tradegate/pkg/schema"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// Config describes how to reach one database
type Config struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	DSN          string // overrides the fields above when set
	MaxOpenConns int
}

// Pool is a namespace-scoped connection pool
type Pool struct {
	name    string
	db      *sql.DB
	dialect query.Dialect
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Open connects to the database described by cfg and verifies it with a ping
func Open(ctx context.Context, name string, cfg Config, logger zerolog.Logger, m *metrics.Metrics) (*Pool, error) {
	dialect, err := query.DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	driver, dsn, err := dataSource(dialect, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", name, err)
	}

	if dialect == query.SQLite {
		// a single connection keeps in-memory databases alive and serializes writers
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	p := &Pool{
		name:    name,
		db:      db,
		dialect: dialect,
		logger:  logger.With().Str("component", "store").Str("db", name).Logger(),
		metrics: m,
	}

	if err := p.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	p.logger.Info().Str("driver", dialect.Name()).Msg("db.open")
	return p, nil
}

// OpenMemory opens a private in-memory SQLite database and migrates ns into it
func OpenMemory(ctx context.Context, name string, ns schema.Namespace, logger zerolog.Logger) (*Pool, error) {
	p, err := Open(ctx, name, Config{
		Driver: "sqlite3",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", url.PathEscape(name)),
	}, logger, nil)
	if err != nil {
		return nil, err
	}
	if err := p.Migrate(ctx, ns); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func dataSource(dialect query.Dialect, cfg Config) (string, string, error) {
	switch dialect {
	case query.Postgres:
		if cfg.DSN != "" {
			return "pgx", cfg.DSN, nil
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
			Path:     "/" + cfg.Database,
			RawQuery: "sslmode=disable",
		}
		return "pgx", u.String(), nil
	case query.SQLite:
		if cfg.DSN != "" {
			return "sqlite3", cfg.DSN, nil
		}
		if cfg.Database == "" {
			return "", "", errors.New("sqlite database path is required")
		}
		return "sqlite3", cfg.Database, nil
	}
	return "", "", fmt.Errorf("unsupported dialect: %s", dialect.Name())
}

// Name returns the namespace label
func (p *Pool) Name() string {
	return p.name
}

// Dialect returns the pool's SQL dialect
func (p *Pool) Dialect() query.Dialect {
	return p.dialect
}

// Ping checks liveness
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return apperr.Store(fmt.Sprintf("%s database unreachable", p.name), err)
	}
	return nil
}

// Close releases the pool
func (p *Pool) Close() error {
	return p.db.Close()
}

// Query runs a statement and returns every row as a column map.
// The result is never nil.
func (p *Pool) Query(ctx context.Context, text string, args ...interface{}) ([]query.Row, error) {
	text = p.dialect.Rebind(text)
	started := time.Now()
	p.logger.Debug().Str("text", compact(text)).Int("args", len(args)).Msg("db.query")

	rows, err := p.db.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, p.fail(text, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, p.fail(text, err)
	}

	out := make([]query.Row, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, p.fail(text, err)
		}
		row := make(query.Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, p.fail(text, err)
	}

	p.metrics.RecordStoreQuery(p.name, "ok")
	p.logger.Debug().Int("rowCount", len(out)).Dur("elapsed", time.Since(started)).Msg("db.result")
	return out, nil
}

// Exec runs a statement that returns no rows and reports the affected count
func (p *Pool) Exec(ctx context.Context, text string, args ...interface{}) (int64, error) {
	text = p.dialect.Rebind(text)
	started := time.Now()
	p.logger.Debug().Str("text", compact(text)).Int("args", len(args)).Msg("db.exec")

	res, err := p.db.ExecContext(ctx, text, args...)
	if err != nil {
		return 0, p.fail(text, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = -1
	}

	p.metrics.RecordStoreQuery(p.name, "ok")
	p.logger.Debug().Int64("rowCount", affected).Dur("elapsed", time.Since(started)).Msg("db.result")
	return affected, nil
}

func (p *Pool) fail(text string, err error) error {
	p.metrics.RecordStoreQuery(p.name, "error")
	p.logger.Error().Err(err).Str("text", compact(text)).Msg("db.error")
	return apperr.Store(fmt.Sprintf("%s query failed", p.name), err)
}

func compact(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
