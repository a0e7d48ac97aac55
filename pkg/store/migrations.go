package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/tradegate/pkg/query"
	"github.com/harun/tradegate/pkg/schema"
)

// column types per dialect, substituted into the DDL templates below
var columnTypes = map[string]map[string]string{
	"postgres": {
		"{id}":   "BIGSERIAL PRIMARY KEY",
		"{ts}":   "TIMESTAMPTZ",
		"{now}":  "now()",
		"{num}":  "DOUBLE PRECISION",
		"{int}":  "BIGINT",
		"{bool}": "BOOLEAN",
		"{json}": "JSONB",
		"{vec}":  "vector",
		"{day}":  "DATE",
	},
	"sqlite": {
		"{id}":   "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{ts}":   "TIMESTAMP",
		"{now}":  "CURRENT_TIMESTAMP",
		"{num}":  "REAL",
		"{int}":  "INTEGER",
		"{bool}": "BOOLEAN",
		"{json}": "TEXT",
		"{vec}":  "TEXT",
		"{day}":  "TEXT",
	},
}

var marketDDL = []string{
	`CREATE TABLE IF NOT EXISTS candles (
		ticker TEXT NOT NULL,
		class_code TEXT NOT NULL,
		time_frame TEXT NOT NULL,
		ts {ts} NOT NULL,
		open {num},
		high {num},
		low {num},
		close {num},
		volume {num},
		data {json},
		PRIMARY KEY (ticker, class_code, time_frame, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS quotes (
		id {id},
		ticker TEXT NOT NULL,
		class_code TEXT NOT NULL,
		ts {ts} NOT NULL DEFAULT {now},
		bid {num},
		offer {num},
		last {num},
		open {num},
		close {num},
		high {num},
		low {num},
		change {num},
		change_rate {num},
		currency TEXT,
		security_trading_status TEXT,
		data {json}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quotes_ticker_ts ON quotes (ticker, class_code, ts)`,
	`CREATE TABLE IF NOT EXISTS order_book_snapshots (
		id {id},
		ticker TEXT NOT NULL,
		class_code TEXT NOT NULL,
		ts {ts} NOT NULL DEFAULT {now},
		depth {int},
		bid_volume {num},
		ask_volume {num},
		bids {json},
		asks {json},
		data {json}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_book_ticker_ts ON order_book_snapshots (ticker, class_code, ts)`,
	`CREATE TABLE IF NOT EXISTS last_trades (
		id {id},
		ticker TEXT NOT NULL,
		class_code TEXT NOT NULL,
		ts {ts} NOT NULL DEFAULT {now},
		side TEXT,
		price {num},
		quantity {num},
		volume {num},
		data {json}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_last_trades_ticker_ts ON last_trades (ticker, class_code, ts)`,
	`CREATE TABLE IF NOT EXISTS trading_status_snapshots (
		id {id},
		class_code TEXT NOT NULL,
		ts {ts} NOT NULL DEFAULT {now},
		data {json}
	)`,
	`CREATE TABLE IF NOT EXISTS trading_schedule_snapshots (
		id {id},
		class_code TEXT NOT NULL,
		ticker TEXT NOT NULL,
		ts {ts} NOT NULL DEFAULT {now},
		data {json}
	)`,
	`CREATE TABLE IF NOT EXISTS instrument_discounts (
		id {id},
		ticker TEXT NOT NULL,
		ts {ts} NOT NULL DEFAULT {now},
		discount_long {num},
		discount_short {num},
		data {json}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_instrument_discounts_ts ON instrument_discounts (ts)`,
	`CREATE TABLE IF NOT EXISTS instruments (
		id {id},
		ticker TEXT NOT NULL,
		class_code TEXT NOT NULL,
		isin TEXT,
		instrument_type TEXT,
		display_name TEXT,
		data {json},
		updated_at {ts} NOT NULL DEFAULT {now},
		UNIQUE (ticker, class_code)
	)`,
}

var privateDDL = []string{
	`CREATE TABLE IF NOT EXISTS selected_assets (
		id {id},
		ticker TEXT NOT NULL,
		class_code TEXT NOT NULL,
		instrument_type TEXT,
		currency TEXT,
		enabled {bool} NOT NULL DEFAULT TRUE,
		notes TEXT,
		created_at {ts} NOT NULL DEFAULT {now},
		updated_at {ts} NOT NULL DEFAULT {now},
		UNIQUE (ticker, class_code)
	)`,
	`CREATE TABLE IF NOT EXISTS decision_logs (
		id {id},
		ts {ts} NOT NULL DEFAULT {now},
		model TEXT,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		metadata {json}
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_operations (
		id {id},
		ts {ts} NOT NULL DEFAULT {now},
		currency TEXT,
		amount {num},
		op_type TEXT,
		details {json}
	)`,
	`CREATE TABLE IF NOT EXISTS holdings_current (
		id {id},
		account TEXT NOT NULL DEFAULT '',
		ticker TEXT NOT NULL,
		class_code TEXT NOT NULL,
		quantity {num},
		avg_price {num},
		currency TEXT,
		data {json},
		updated_at {ts} NOT NULL DEFAULT {now},
		UNIQUE (account, ticker, class_code)
	)`,
	`CREATE TABLE IF NOT EXISTS holdings_snapshots (
		id {id},
		ts {ts} NOT NULL DEFAULT {now},
		account TEXT,
		data {json}
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		original_client_order_id TEXT PRIMARY KEY,
		client_order_id TEXT,
		ticker TEXT,
		class_code TEXT,
		side TEXT,
		order_type TEXT,
		quantity {num},
		price {num},
		status TEXT,
		data {json},
		created_at {ts} NOT NULL DEFAULT {now},
		updated_at {ts} NOT NULL DEFAULT {now}
	)`,
	`CREATE TABLE IF NOT EXISTS order_events (
		id {id},
		ts {ts} NOT NULL DEFAULT {now},
		original_client_order_id TEXT,
		client_order_id TEXT,
		order_status TEXT,
		execution_type TEXT,
		ticker TEXT,
		class_code TEXT,
		data {json}
	)`,
	`CREATE TABLE IF NOT EXISTS limits_snapshots (
		id {id},
		ts {ts} NOT NULL DEFAULT {now},
		data {json}
	)`,
	`CREATE TABLE IF NOT EXISTS marginal_indicators_snapshots (
		id {id},
		ts {ts} NOT NULL DEFAULT {now},
		data {json}
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id {id},
		execution_id TEXT,
		ts {ts} NOT NULL DEFAULT {now},
		ticker TEXT,
		class_code TEXT,
		side TEXT,
		price {num},
		quantity {num},
		commission {num},
		data {json}
	)`,
	`CREATE TABLE IF NOT EXISTS pnl_daily (
		day {day} PRIMARY KEY,
		realized {num},
		unrealized {num},
		total {num},
		currency TEXT,
		details {json}
	)`,
	`CREATE TABLE IF NOT EXISTS pnl_events (
		id {id},
		ts {ts} NOT NULL DEFAULT {now},
		pnl_value {num},
		currency TEXT,
		source TEXT,
		details {json}
	)`,
	`CREATE TABLE IF NOT EXISTS mistake_logs (
		id {id},
		ts {ts} NOT NULL DEFAULT {now},
		ticker TEXT,
		class_code TEXT,
		expected {num},
		actual {num},
		delta {num},
		notes TEXT,
		metadata {json}
	)`,
	`CREATE TABLE IF NOT EXISTS embedding_queue (
		id {id},
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		text TEXT NOT NULL,
		metadata {json},
		status TEXT NOT NULL DEFAULT 'pending',
		created_at {ts} NOT NULL DEFAULT {now}
	)`,
	`CREATE TABLE IF NOT EXISTS embeddings (
		id {id},
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		metadata {json},
		embedding {vec},
		created_at {ts} NOT NULL DEFAULT {now}
	)`,
	`CREATE TABLE IF NOT EXISTS policy_docs (
		key TEXT PRIMARY KEY,
		data {json},
		updated_at {ts} NOT NULL DEFAULT {now}
	)`,
	`CREATE TABLE IF NOT EXISTS signal_features (
		id {id},
		ts {ts} NOT NULL DEFAULT {now},
		ticker TEXT NOT NULL,
		class_code TEXT NOT NULL,
		time_frame TEXT,
		lookback {int},
		features {json}
	)`,
	`CREATE TABLE IF NOT EXISTS signal_probs (
		id {id},
		ts {ts} NOT NULL DEFAULT {now},
		ticker TEXT NOT NULL,
		class_code TEXT NOT NULL,
		time_frame TEXT,
		model TEXT,
		probs {json},
		direction {json},
		features_id {int}
	)`,
}

// Statements returns the DDL for ns rendered for dialect
func Statements(dialect query.Dialect, ns schema.Namespace) ([]string, error) {
	types, ok := columnTypes[dialect.Name()]
	if !ok {
		return nil, fmt.Errorf("no migrations for dialect %s", dialect.Name())
	}

	var ddl []string
	switch ns {
	case schema.Market:
		ddl = marketDDL
	case schema.Private:
		ddl = privateDDL
		if dialect == query.Postgres {
			ddl = append([]string{"CREATE EXTENSION IF NOT EXISTS vector"}, ddl...)
		}
	default:
		return nil, fmt.Errorf("unknown namespace: %s", ns)
	}

	out := make([]string, 0, len(ddl))
	for _, stmt := range ddl {
		for placeholder, typ := range types {
			stmt = strings.ReplaceAll(stmt, placeholder, typ)
		}
		out = append(out, stmt)
	}
	return out, nil
}

// Migrate creates the tables of ns if they do not exist
func (p *Pool) Migrate(ctx context.Context, ns schema.Namespace) error {
	stmts, err := Statements(p.dialect, ns)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", ns, err)
		}
	}
	p.logger.Info().Str("namespace", string(ns)).Int("statements", len(stmts)).Msg("db.migrate")
	return nil
}
