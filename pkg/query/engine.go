package query

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/harun/tradegate/pkg/apperr"
	"github.com/harun/tradegate/pkg/schema"
)

const (
	DefaultLimit         = 1000
	DefaultMaxLimit      = 10000
	DefaultBucketSeconds = 60
	MaxBucketSeconds     = 31536000
	AggregateLimitCap    = 10000
)

// Row is one result row keyed by column name
type Row = map[string]interface{}

// Querier runs a parameterized statement and returns its rows
type Querier interface {
	Query(ctx context.Context, text string, args ...interface{}) ([]Row, error)
}

// Statement is a compiled query with its bound arguments
type Statement struct {
	Text string
	Args []interface{}
}

// Range bounds a time-like column; both ends are inclusive and optional
type Range struct {
	Field string `json:"field,omitempty" mapstructure:"field"`
	Start string `json:"start,omitempty" mapstructure:"start"`
	End   string `json:"end,omitempty" mapstructure:"end"`
}

// QueryRequest describes a plain SELECT
type QueryRequest struct {
	Table    string
	Columns  []string
	Filters  []Filter
	Range    *Range
	Limit    int
	Offset   int
	Order    string
	MaxLimit int
}

// LatestRequest is a QueryRequest reduced to the newest row
type LatestRequest struct {
	QueryRequest
	MaxAgeSeconds int
}

// LatestResult carries the newest row and its age
type LatestResult struct {
	Row        Row    `json:"row"`
	AgeSeconds *int64 `json:"ageSeconds"`
	Stale      bool   `json:"stale"`
}

// AggregateRequest describes a bucketed min/max/avg/sum/count
type AggregateRequest struct {
	Table         string
	ValueField    string
	Filters       []Filter
	Range         *Range
	BucketSeconds int
	Limit         int
	Order         string
}

// Bucket is one aggregation window
type Bucket struct {
	Bucket time.Time `json:"bucket"`
	Min    *float64  `json:"min"`
	Max    *float64  `json:"max"`
	Avg    *float64  `json:"avg"`
	Sum    *float64  `json:"sum"`
	Count  int64     `json:"count"`
}

// Engine compiles and runs requests against one namespace
type Engine struct {
	catalog  *schema.Catalog
	db       Querier
	dialect  Dialect
	now      func() time.Time
	maxLimit int
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the clock used for latest-row ages
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMaxLimit overrides the default row cap
func WithMaxLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxLimit = n
		}
	}
}

// NewEngine creates an engine for catalog backed by db
func NewEngine(catalog *schema.Catalog, db Querier, dialect Dialect, opts ...Option) *Engine {
	e := &Engine{
		catalog:  catalog,
		db:       db,
		dialect:  dialect,
		now:      time.Now,
		maxLimit: DefaultMaxLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the engine's table catalog
func (e *Engine) Catalog() *schema.Catalog {
	return e.catalog
}

// Dialect returns the engine's SQL dialect
func (e *Engine) Dialect() Dialect {
	return e.dialect
}

func (e *Engine) table(name string) (*schema.TableMeta, error) {
	meta, ok := e.catalog.Table(name)
	if !ok {
		return nil, apperr.InvalidRequest("invalid table: %s", name)
	}
	return meta, nil
}

// BuildQuery compiles req without touching the store
func (e *Engine) BuildQuery(req QueryRequest) (Statement, error) {
	meta, err := e.table(req.Table)
	if err != nil {
		return Statement{}, err
	}

	columns := meta.Columns
	if len(req.Columns) > 0 {
		columns = make([]string, 0, len(req.Columns))
		for _, col := range req.Columns {
			if meta.HasColumn(col) {
				columns = append(columns, col)
			}
		}
		if len(columns) == 0 {
			return Statement{}, apperr.InvalidRequest("no valid columns requested")
		}
	}

	order, err := normalizeOrder(req.Order)
	if err != nil {
		return Statement{}, err
	}

	b := NewBuilder(e.dialect)
	where, err := e.buildWhere(b, meta, req.Filters, req.Range)
	if err != nil {
		return Statement{}, err
	}

	maxLimit := e.maxLimit
	if req.MaxLimit > 0 {
		maxLimit = req.MaxLimit
	}
	limit := clamp(req.Limit, DefaultLimit, 1, maxLimit)
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(columns, ", "), meta.Name)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if meta.TimeField != "" {
		fmt.Fprintf(&sb, " ORDER BY %s %s", meta.TimeField, order)
	}
	fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", limit, offset)

	return Statement{Text: sb.String(), Args: b.Args()}, nil
}

// Query runs req and returns normalized rows
func (e *Engine) Query(ctx context.Context, req QueryRequest) ([]Row, error) {
	stmt, err := e.BuildQuery(req)
	if err != nil {
		return nil, err
	}
	meta, _ := e.catalog.Table(req.Table)

	rows, err := e.db.Query(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return nil, storeError(err)
	}
	for _, row := range rows {
		NormalizeRow(meta, row)
	}
	return rows, nil
}

// Latest returns the newest matching row with its age in seconds
func (e *Engine) Latest(ctx context.Context, req LatestRequest) (LatestResult, error) {
	q := req.QueryRequest
	q.Limit = 1
	q.Offset = 0
	q.Order = "desc"

	rows, err := e.Query(ctx, q)
	if err != nil {
		return LatestResult{}, err
	}
	if len(rows) == 0 {
		return LatestResult{}, nil
	}

	row := rows[0]
	meta, _ := e.catalog.Table(req.Table)
	if meta.TimeField == "" {
		return LatestResult{Row: row}, nil
	}
	ts, ok := ParseTime(row[meta.TimeField])
	if !ok {
		return LatestResult{Row: row}, nil
	}

	age := AgeSeconds(e.now(), ts)
	stale := req.MaxAgeSeconds > 0 && age > int64(req.MaxAgeSeconds)
	return LatestResult{Row: row, AgeSeconds: &age, Stale: stale}, nil
}

// BuildAggregate compiles req without touching the store
func (e *Engine) BuildAggregate(req AggregateRequest) (Statement, error) {
	meta, err := e.table(req.Table)
	if err != nil {
		return Statement{}, err
	}
	if meta.TimeField == "" {
		return Statement{}, apperr.InvalidRequest("table has no time field: %s", meta.Name)
	}
	if !meta.HasColumn(req.ValueField) {
		return Statement{}, apperr.InvalidRequest("invalid valueField: %s", req.ValueField)
	}
	if !isNumericField(meta, req.ValueField) {
		return Statement{}, apperr.InvalidRequest("valueField not numeric: %s", req.ValueField)
	}

	order, err := normalizeOrder(req.Order)
	if err != nil {
		return Statement{}, err
	}

	bucketSeconds := clamp(req.BucketSeconds, DefaultBucketSeconds, 1, MaxBucketSeconds)
	limit := clamp(req.Limit, DefaultLimit, 1, AggregateLimitCap)

	b := NewBuilder(e.dialect)
	// the bucket expression precedes WHERE in the statement text, so it binds first
	bucketExpr := e.dialect.BucketExpr(b, meta.TimeField, bucketSeconds)
	where, err := e.buildWhere(b, meta, req.Filters, req.Range)
	if err != nil {
		return Statement{}, err
	}

	v := req.ValueField
	var sb strings.Builder
	fmt.Fprintf(&sb,
		"SELECT %s AS bucket, min(%s) AS min, max(%s) AS max, avg(%s) AS avg, sum(%s) AS sum, count(*) AS count FROM %s",
		bucketExpr, v, v, v, v, meta.Name)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	fmt.Fprintf(&sb, " GROUP BY bucket ORDER BY bucket %s LIMIT %d", order, limit)

	return Statement{Text: sb.String(), Args: b.Args()}, nil
}

// Aggregate runs req and returns one Bucket per window
func (e *Engine) Aggregate(ctx context.Context, req AggregateRequest) ([]Bucket, error) {
	stmt, err := e.BuildAggregate(req)
	if err != nil {
		return nil, err
	}

	rows, err := e.db.Query(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return nil, storeError(err)
	}

	buckets := make([]Bucket, 0, len(rows))
	for _, row := range rows {
		var bucket Bucket
		if ts, ok := ParseTime(row["bucket"]); ok {
			bucket.Bucket = ts
		} else if f, ok := toFloat(row["bucket"]); ok {
			bucket.Bucket = time.Unix(int64(f), 0).UTC()
		}
		bucket.Min = floatPtr(row["min"])
		bucket.Max = floatPtr(row["max"])
		bucket.Avg = floatPtr(row["avg"])
		bucket.Sum = floatPtr(row["sum"])
		if c, ok := toFloat(row["count"]); ok {
			bucket.Count = int64(c)
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

func (e *Engine) buildWhere(b *Builder, meta *schema.TableMeta, filters []Filter, rng *Range) ([]string, error) {
	where := make([]string, 0, len(filters)+2)
	for _, f := range filters {
		if !meta.HasColumn(f.Column) {
			return nil, apperr.InvalidRequest("invalid filter column: %s", f.Column)
		}
		clause, err := compileFilter(b, f)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
	}

	if rng == nil || meta.TimeField == "" {
		return where, nil
	}
	field := rng.Field
	if field == "" {
		field = meta.TimeField
	}
	if !meta.HasColumn(field) {
		return nil, apperr.InvalidRequest("invalid range field: %s", field)
	}
	if rng.Start != "" {
		start, ok := ParseTime(rng.Start)
		if !ok {
			return nil, apperr.InvalidRequest("invalid range start: %s", rng.Start)
		}
		where = append(where, fmt.Sprintf("%s >= %s", field, b.Bind(start)))
	}
	if rng.End != "" {
		end, ok := ParseTime(rng.End)
		if !ok {
			return nil, apperr.InvalidRequest("invalid range end: %s", rng.End)
		}
		where = append(where, fmt.Sprintf("%s <= %s", field, b.Bind(end)))
	}
	return where, nil
}

// opaque payload columns that are never aggregated, in addition to each table's JSON columns
var nonNumeric = map[string]bool{"data": true, "metadata": true, "bids": true, "asks": true}

func isNumericField(meta *schema.TableMeta, col string) bool {
	return !nonNumeric[col] && !meta.IsJSON(col) && col != meta.TimeField
}

func normalizeOrder(order string) (string, error) {
	switch strings.ToLower(order) {
	case "", "desc":
		return "DESC", nil
	case "asc":
		return "ASC", nil
	}
	return "", apperr.InvalidRequest("invalid order: %s", order)
}

func clamp(v, def, lo, hi int) int {
	if v == 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func storeError(err error) error {
	if apperr.KindOf(err) != apperr.KindExecution {
		return err
	}
	return apperr.Store("query failed", err)
}

// AgeSeconds is the whole seconds elapsed from ts to now, never negative
func AgeSeconds(now, ts time.Time) int64 {
	age := int64(math.Floor(now.Sub(ts).Seconds()))
	if age < 0 {
		return 0
	}
	return age
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime accepts time.Time, epoch seconds and the common textual layouts.
// Results are in UTC.
func ParseTime(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return x.UTC(), true
	case []byte:
		return ParseTime(string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		return time.Time{}, false
	case int64:
		return time.Unix(x, 0).UTC(), true
	case float64:
		return time.Unix(int64(x), 0).UTC(), true
	}
	return time.Time{}, false
}

// NormalizeRow decodes JSON payload columns and turns raw bytes into strings
func NormalizeRow(meta *schema.TableMeta, row Row) Row {
	for col, v := range row {
		var raw []byte
		switch x := v.(type) {
		case []byte:
			raw = x
		case string:
			if meta != nil && meta.IsJSON(col) {
				raw = []byte(x)
			}
		}
		if raw == nil {
			continue
		}
		if meta != nil && meta.IsJSON(col) {
			var decoded interface{}
			if err := json.Unmarshal(raw, &decoded); err == nil {
				row[col] = decoded
				continue
			}
		}
		row[col] = string(raw)
	}
	return row
}

func floatPtr(v interface{}) *float64 {
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(x), 64)
		return f, err == nil
	}
	return 0, false
}
