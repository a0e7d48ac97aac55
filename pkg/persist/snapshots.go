// Package persist maps broker payloads onto the market and private tables.
//
// Snapshot readers and writers back the freshness coordinator; the record
// writers store search results, orders and derived analytics. Every statement
// is written with '?' placeholders and rebound by the pool.
package persist

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/tradegate/pkg/freshness"
	"github.com/harun/tradegate/pkg/query"
)

// DB is the pool surface used for persistence
type DB interface {
	Query(ctx context.Context, text string, args ...interface{}) ([]query.Row, error)
	Exec(ctx context.Context, text string, args ...interface{}) (int64, error)
	Dialect() query.Dialect
}

// Store reads and writes snapshots and records in both namespaces
type Store struct {
	market  DB
	private DB
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the timestamp source for written rows
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a Store over the market and private pools
func New(market, private DB, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		market:  market,
		private: private,
		now:     time.Now,
		logger:  logger.With().Str("component", "persist").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// latest reads the newest (ts, data) row returned by text
func latest(ctx context.Context, db DB, text string, args ...interface{}) (*freshness.Snapshot, error) {
	rows, err := db.Query(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ts, ok := query.ParseTime(rows[0]["ts"])
	if !ok {
		return nil, nil
	}
	return &freshness.Snapshot{Timestamp: ts, Data: decodeJSON(rows[0]["data"])}, nil
}

// ReadPortfolio returns the newest holdings snapshot
func (s *Store) ReadPortfolio(ctx context.Context, _ freshness.Key) (*freshness.Snapshot, error) {
	return latest(ctx, s.private, `SELECT ts, data FROM holdings_snapshots ORDER BY ts DESC LIMIT 1`)
}

// WritePortfolio appends a holdings snapshot and upserts the current holdings.
// Payloads that are not a position list are not stored.
func (s *Store) WritePortfolio(ctx context.Context, _ freshness.Key, data interface{}) error {
	positions, ok := data.([]interface{})
	if !ok {
		return nil
	}
	ts := s.timestamp()

	payload, err := encodeJSON(data)
	if err != nil {
		return err
	}
	if _, err := s.private.Exec(ctx,
		`INSERT INTO holdings_snapshots (ts, account, data) VALUES (?, ?, ?)`,
		ts, nil, payload); err != nil {
		return err
	}

	for _, raw := range positions {
		item, ok := asMap(raw)
		if !ok {
			continue
		}
		ticker := pickString(item, "ticker")
		classCode := pickString(item, "board", "classCode", "class_code")
		if ticker == "" || classCode == "" {
			continue
		}
		itemData, err := encodeJSON(item)
		if err != nil {
			return err
		}
		if _, err := s.private.Exec(ctx, `
			INSERT INTO holdings_current (account, ticker, class_code, quantity, avg_price, currency, data, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (account, ticker, class_code) DO UPDATE SET
				quantity = excluded.quantity,
				avg_price = excluded.avg_price,
				currency = excluded.currency,
				data = excluded.data,
				updated_at = excluded.updated_at`,
			pickString(item, "account"),
			ticker,
			classCode,
			pickNumber(item, "quantity"),
			pickNumber(item, "balancePrice", "averagePrice"),
			nullable(pickString(item, "currency")),
			itemData,
			ts,
		); err != nil {
			return err
		}
	}
	return nil
}

// ReadLimits returns the newest limits snapshot
func (s *Store) ReadLimits(ctx context.Context, _ freshness.Key) (*freshness.Snapshot, error) {
	return latest(ctx, s.private, `SELECT ts, data FROM limits_snapshots ORDER BY ts DESC LIMIT 1`)
}

// WriteLimits appends a limits snapshot
func (s *Store) WriteLimits(ctx context.Context, _ freshness.Key, data interface{}) error {
	if data == nil {
		return nil
	}
	payload, err := encodeJSON(data)
	if err != nil {
		return err
	}
	_, err = s.private.Exec(ctx, `INSERT INTO limits_snapshots (ts, data) VALUES (?, ?)`, s.timestamp(), payload)
	return err
}

// ReadDiscounts returns every discount row written by the newest fetch
func (s *Store) ReadDiscounts(ctx context.Context, _ freshness.Key) (*freshness.Snapshot, error) {
	head, err := s.market.Query(ctx, `SELECT ts FROM instrument_discounts ORDER BY ts DESC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if len(head) == 0 {
		return nil, nil
	}
	ts, ok := query.ParseTime(head[0]["ts"])
	if !ok {
		return nil, nil
	}

	rows, err := s.market.Query(ctx,
		`SELECT data FROM instrument_discounts WHERE ts = ? ORDER BY ticker`, head[0]["ts"])
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		out = append(out, decodeJSON(row["data"]))
	}
	return &freshness.Snapshot{Timestamp: ts, Data: out}, nil
}

// WriteDiscounts appends one row per instrument, all sharing one timestamp
func (s *Store) WriteDiscounts(ctx context.Context, _ freshness.Key, data interface{}) error {
	ts := s.timestamp()
	for _, raw := range items(data) {
		item, ok := asMap(raw)
		if !ok {
			continue
		}
		ticker := pickString(item, "ticker")
		if ticker == "" {
			continue
		}
		payload, err := encodeJSON(item)
		if err != nil {
			return err
		}
		if _, err := s.market.Exec(ctx, `
			INSERT INTO instrument_discounts (ticker, ts, discount_long, discount_short, data)
			VALUES (?, ?, ?, ?, ?)`,
			ticker, ts, pickNumber(item, "discountLong"), pickNumber(item, "discountShort"), payload,
		); err != nil {
			return err
		}
	}
	return nil
}

// ReadTradingStatus returns the newest status snapshot for the class code
func (s *Store) ReadTradingStatus(ctx context.Context, key freshness.Key) (*freshness.Snapshot, error) {
	return latest(ctx, s.market,
		`SELECT ts, data FROM trading_status_snapshots WHERE class_code = ? ORDER BY ts DESC LIMIT 1`,
		key.ClassCode)
}

// WriteTradingStatus appends a status snapshot
func (s *Store) WriteTradingStatus(ctx context.Context, key freshness.Key, data interface{}) error {
	payload, err := encodeJSON(data)
	if err != nil {
		return err
	}
	_, err = s.market.Exec(ctx,
		`INSERT INTO trading_status_snapshots (class_code, ts, data) VALUES (?, ?, ?)`,
		key.ClassCode, s.timestamp(), payload)
	return err
}

// ReadTradingSchedule returns the newest schedule snapshot for the instrument
func (s *Store) ReadTradingSchedule(ctx context.Context, key freshness.Key) (*freshness.Snapshot, error) {
	return latest(ctx, s.market, `
		SELECT ts, data FROM trading_schedule_snapshots
		WHERE class_code = ? AND ticker = ?
		ORDER BY ts DESC LIMIT 1`,
		key.ClassCode, key.Ticker)
}

// WriteTradingSchedule appends a schedule snapshot
func (s *Store) WriteTradingSchedule(ctx context.Context, key freshness.Key, data interface{}) error {
	payload, err := encodeJSON(data)
	if err != nil {
		return err
	}
	_, err = s.market.Exec(ctx,
		`INSERT INTO trading_schedule_snapshots (class_code, ticker, ts, data) VALUES (?, ?, ?, ?)`,
		key.ClassCode, key.Ticker, s.timestamp(), payload)
	return err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
