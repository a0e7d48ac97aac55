// Package schema holds the static table catalog for the market and private
// namespaces. Every column a caller may filter, project or aggregate on is
// listed here; anything else is rejected by the query engine.
package schema

import (
	"sort"
)

// Namespace identifies one of the two relational stores
type Namespace string

const (
	Market  Namespace = "market"
	Private Namespace = "private"
)

// TableMeta describes one allow-listed table
type TableMeta struct {
	Name        string
	Columns     []string
	TimeField   string   // empty when the table has no time field
	JSONColumns []string // opaque payload columns, never aggregated
}

// HasColumn reports whether col is on the allow-list
func (m *TableMeta) HasColumn(col string) bool {
	for _, c := range m.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// IsJSON reports whether col holds an opaque JSON payload
func (m *TableMeta) IsJSON(col string) bool {
	for _, c := range m.JSONColumns {
		if c == col {
			return true
		}
	}
	return false
}

// Catalog is an immutable set of tables in one namespace
type Catalog struct {
	namespace Namespace
	tables    map[string]*TableMeta
}

func newCatalog(ns Namespace, tables ...TableMeta) *Catalog {
	c := &Catalog{namespace: ns, tables: make(map[string]*TableMeta, len(tables))}
	for i := range tables {
		t := tables[i]
		c.tables[t.Name] = &t
	}
	return c
}

// Namespace returns the catalog namespace
func (c *Catalog) Namespace() Namespace {
	return c.namespace
}

// Table returns the metadata for name
func (c *Catalog) Table(name string) (*TableMeta, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// Names returns the sorted table names
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarketTables is the market namespace catalog
var MarketTables = newCatalog(Market,
	TableMeta{
		Name:        "candles",
		TimeField:   "ts",
		Columns:     []string{"ticker", "class_code", "time_frame", "ts", "open", "high", "low", "close", "volume", "data"},
		JSONColumns: []string{"data"},
	},
	TableMeta{
		Name:      "quotes",
		TimeField: "ts",
		Columns: []string{
			"id", "ticker", "class_code", "ts", "bid", "offer", "last", "open", "close", "high", "low",
			"change", "change_rate", "currency", "security_trading_status", "data",
		},
		JSONColumns: []string{"data"},
	},
	TableMeta{
		Name:        "order_book_snapshots",
		TimeField:   "ts",
		Columns:     []string{"id", "ticker", "class_code", "ts", "depth", "bid_volume", "ask_volume", "bids", "asks", "data"},
		JSONColumns: []string{"bids", "asks", "data"},
	},
	TableMeta{
		Name:        "last_trades",
		TimeField:   "ts",
		Columns:     []string{"id", "ticker", "class_code", "ts", "side", "price", "quantity", "volume", "data"},
		JSONColumns: []string{"data"},
	},
	TableMeta{
		Name:        "trading_status_snapshots",
		TimeField:   "ts",
		Columns:     []string{"id", "class_code", "ts", "data"},
		JSONColumns: []string{"data"},
	},
	TableMeta{
		Name:        "trading_schedule_snapshots",
		TimeField:   "ts",
		Columns:     []string{"id", "class_code", "ticker", "ts", "data"},
		JSONColumns: []string{"data"},
	},
	TableMeta{
		Name:        "instrument_discounts",
		TimeField:   "ts",
		Columns:     []string{"id", "ticker", "ts", "discount_long", "discount_short", "data"},
		JSONColumns: []string{"data"},
	},
	TableMeta{
		Name:        "instruments",
		TimeField:   "updated_at",
		Columns:     []string{"id", "ticker", "class_code", "isin", "instrument_type", "display_name", "data", "updated_at"},
		JSONColumns: []string{"data"},
	},
)

// PrivateTables is the private namespace catalog
var PrivateTables = newCatalog(Private,
	TableMeta{
		Name:      "selected_assets",
		TimeField: "updated_at",
		Columns: []string{
			"id", "ticker", "class_code", "instrument_type", "currency", "enabled", "notes", "created_at", "updated_at",
		},
	},
	TableMeta{
		Name:        "decision_logs",
		TimeField:   "ts",
		Columns:     []string{"id", "ts", "model", "prompt", "response", "metadata"},
		JSONColumns: []string{"metadata"},
	},
	TableMeta{
		Name:        "wallet_operations",
		TimeField:   "ts",
		Columns:     []string{"id", "ts", "currency", "amount", "op_type", "details"},
		JSONColumns: []string{"details"},
	},
	TableMeta{
		Name:      "holdings_current",
		TimeField: "updated_at",
		Columns: []string{
			"id", "account", "ticker", "class_code", "quantity", "avg_price", "currency", "data", "updated_at",
		},
		JSONColumns: []string{"data"},
	},
	TableMeta{
		Name:        "holdings_snapshots",
		TimeField:   "ts",
		Columns:     []string{"id", "ts", "account", "data"},
		JSONColumns: []string{"data"},
	},
	TableMeta{
		Name:      "orders",
		TimeField: "created_at",
		Columns: []string{
			"original_client_order_id", "client_order_id", "ticker", "class_code", "side", "order_type",
			"quantity", "price", "status", "data", "created_at", "updated_at",
		},
		JSONColumns: []string{"data"},
	},
	TableMeta{
		Name:      "order_events",
		TimeField: "ts",
		Columns: []string{
			"id", "ts", "original_client_order_id", "client_order_id", "order_status", "execution_type",
			"ticker", "class_code", "data",
		},
		JSONColumns: []string{"data"},
	},
	TableMeta{
		Name:        "limits_snapshots",
		TimeField:   "ts",
		Columns:     []string{"id", "ts", "data"},
		JSONColumns: []string{"data"},
	},
	TableMeta{
		Name:        "marginal_indicators_snapshots",
		TimeField:   "ts",
		Columns:     []string{"id", "ts", "data"},
		JSONColumns: []string{"data"},
	},
	TableMeta{
		Name:      "trades",
		TimeField: "ts",
		Columns: []string{
			"id", "execution_id", "ts", "ticker", "class_code", "side", "price", "quantity", "commission", "data",
		},
		JSONColumns: []string{"data"},
	},
	TableMeta{
		Name:        "pnl_daily",
		Columns:     []string{"day", "realized", "unrealized", "total", "currency", "details"},
		JSONColumns: []string{"details"},
	},
	TableMeta{
		Name:        "pnl_events",
		TimeField:   "ts",
		Columns:     []string{"id", "ts", "pnl_value", "currency", "source", "details"},
		JSONColumns: []string{"details"},
	},
	TableMeta{
		Name:      "mistake_logs",
		TimeField: "ts",
		Columns: []string{
			"id", "ts", "ticker", "class_code", "expected", "actual", "delta", "notes", "metadata",
		},
		JSONColumns: []string{"metadata"},
	},
	TableMeta{
		Name:        "embedding_queue",
		TimeField:   "created_at",
		Columns:     []string{"id", "entity_type", "entity_id", "text", "metadata", "status", "created_at"},
		JSONColumns: []string{"metadata"},
	},
	TableMeta{
		Name:        "embeddings",
		TimeField:   "created_at",
		Columns:     []string{"id", "entity_type", "entity_id", "metadata", "created_at"},
		JSONColumns: []string{"metadata"},
	},
	TableMeta{
		Name:        "policy_docs",
		TimeField:   "updated_at",
		Columns:     []string{"key", "data", "updated_at"},
		JSONColumns: []string{"data"},
	},
	TableMeta{
		Name:        "signal_features",
		TimeField:   "ts",
		Columns:     []string{"id", "ts", "ticker", "class_code", "time_frame", "lookback", "features"},
		JSONColumns: []string{"features"},
	},
	TableMeta{
		Name:      "signal_probs",
		TimeField: "ts",
		Columns: []string{
			"id", "ts", "ticker", "class_code", "time_frame", "model", "probs", "direction", "features_id",
		},
		JSONColumns: []string{"probs", "direction"},
	},
)
