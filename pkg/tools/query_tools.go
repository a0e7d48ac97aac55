package tools

import (
	"context"
	"fmt"

	"github.com/harun/tradegate/pkg/apperr"
	"github.com/harun/tradegate/pkg/query"
	"github.com/harun/tradegate/pkg/toolexecutor"
)

const (
	computeDefaultLimit = 5000
	computeMaxLimit     = 200000
	snapshotMaxAge      = 60
)

type rangeArgs struct {
	Field string `json:"field"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func (r *rangeArgs) toRange() *query.Range {
	if r == nil {
		return nil
	}
	return &query.Range{Field: r.Field, Start: r.Start, End: r.End}
}

type fetchArgs struct {
	Table         string                 `json:"table"`
	Columns       []string               `json:"columns"`
	Filters       map[string]interface{} `json:"filters"`
	Range         *rangeArgs             `json:"range"`
	Limit         int                    `json:"limit"`
	Offset        int                    `json:"offset"`
	Order         string                 `json:"order"`
	MaxAgeSeconds int                    `json:"maxAgeSeconds"`
}

func (a fetchArgs) request() (query.QueryRequest, error) {
	filters, err := query.ParseFilters(a.Filters)
	if err != nil {
		return query.QueryRequest{}, err
	}
	return query.QueryRequest{
		Table:   a.Table,
		Columns: a.Columns,
		Filters: filters,
		Range:   a.Range.toRange(),
		Limit:   a.Limit,
		Offset:  a.Offset,
		Order:   a.Order,
	}, nil
}

type aggregateArgs struct {
	Table         string                 `json:"table"`
	ValueField    string                 `json:"valueField"`
	Filters       map[string]interface{} `json:"filters"`
	Range         *rangeArgs             `json:"range"`
	BucketSeconds int                    `json:"bucketSeconds"`
	Limit         int                    `json:"limit"`
	Order         string                 `json:"order"`
}

type namespaceTools struct {
	prefix string
	label  string
	engine func() *query.Engine
}

func queryTools(d *Deps) []toolexecutor.ToolDefinition {
	namespaces := []namespaceTools{
		{prefix: "market", label: "market data", engine: func() *query.Engine { return d.Market }},
		{prefix: "private", label: "private account data", engine: func() *query.Engine { return d.Private }},
	}

	var defs []toolexecutor.ToolDefinition
	for _, ns := range namespaces {
		tables := tableNames(ns.engine())
		defs = append(defs,
			fetchTool(ns, tables),
			latestTool(ns, tables),
			aggregateTool(ns, tables),
		)
	}
	return append(defs, computeTool(d), snapshotTool(d))
}

func tableNames(e *query.Engine) []interface{} {
	if e == nil {
		return nil
	}
	return enum(e.Catalog().Names()...)
}

func tableParam(tables []interface{}) toolexecutor.ToolParameter {
	return toolexecutor.ToolParameter{Name: "table", Type: "string", Description: "Table to read", Required: true, Enum: tables}
}

func filterParams() []toolexecutor.ToolParameter {
	return []toolexecutor.ToolParameter{
		object("filters", "Column filters: value for equality, null for IS NULL, list for IN, or {op, value} with op in gt|gte|lt|lte|neq|like|ilike|in", false),
		{
			Name:        "range",
			Type:        "object",
			Description: "Inclusive time range on the table's time column or on field",
			Properties: []toolexecutor.ToolParameter{
				{Name: "field", Type: "string", Description: "Column to range over"},
				{Name: "start", Type: "string", Description: "Lower bound (RFC3339 or YYYY-MM-DD)"},
				{Name: "end", Type: "string", Description: "Upper bound (RFC3339 or YYYY-MM-DD)"},
			},
		},
	}
}

func orderParam() toolexecutor.ToolParameter {
	return toolexecutor.ToolParameter{Name: "order", Type: "string", Description: "Sort direction on the time column", Enum: enum("asc", "desc")}
}

func columnsParam() toolexecutor.ToolParameter {
	return stringList("columns", "Columns to return; unknown names are ignored", false)
}

func fetchTool(ns namespaceTools, tables []interface{}) toolexecutor.ToolDefinition {
	params := []toolexecutor.ToolParameter{tableParam(tables), columnsParam()}
	params = append(params, filterParams()...)
	params = append(params,
		integer("limit", "Maximum rows", toolexecutor.Float(1), toolexecutor.Float(query.DefaultMaxLimit), nil),
		integer("offset", "Rows to skip", toolexecutor.Float(0), nil, nil),
		orderParam(),
	)

	return toolexecutor.ToolDefinition{
		Name:        ns.prefix + ".fetch",
		Description: fmt.Sprintf("Read %s rows with filters and time ranges", ns.label),
		Parameters:  params,
		Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
			var args fetchArgs
			if err := toolexecutor.Bind(p, &args); err != nil {
				return nil, err
			}
			req, err := args.request()
			if err != nil {
				return nil, err
			}
			return ns.engine().Query(ctx, req)
		},
	}
}

func latestTool(ns namespaceTools, tables []interface{}) toolexecutor.ToolDefinition {
	params := []toolexecutor.ToolParameter{tableParam(tables), columnsParam()}
	params = append(params, filterParams()...)
	params = append(params, integer("maxAgeSeconds", "Mark the row stale when older than this", toolexecutor.Float(1), nil, nil))

	return toolexecutor.ToolDefinition{
		Name:        ns.prefix + ".latest",
		Description: fmt.Sprintf("Read the newest %s row with its age and staleness", ns.label),
		Parameters:  params,
		Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
			var args fetchArgs
			if err := toolexecutor.Bind(p, &args); err != nil {
				return nil, err
			}
			req, err := args.request()
			if err != nil {
				return nil, err
			}
			return ns.engine().Latest(ctx, query.LatestRequest{QueryRequest: req, MaxAgeSeconds: args.MaxAgeSeconds})
		},
	}
}

func aggregateTool(ns namespaceTools, tables []interface{}) toolexecutor.ToolDefinition {
	params := []toolexecutor.ToolParameter{tableParam(tables), str("valueField", "Numeric column to aggregate", true)}
	params = append(params, filterParams()...)
	params = append(params,
		integer("bucketSeconds", "Bucket width in seconds", toolexecutor.Float(1), toolexecutor.Float(query.MaxBucketSeconds), nil),
		integer("limit", "Maximum buckets", toolexecutor.Float(1), toolexecutor.Float(query.AggregateLimitCap), nil),
		orderParam(),
	)

	return toolexecutor.ToolDefinition{
		Name:        ns.prefix + ".aggregate",
		Description: fmt.Sprintf("Aggregate a %s time series into min/max/avg/sum/count buckets", ns.label),
		Parameters:  params,
		Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
			var args aggregateArgs
			if err := toolexecutor.Bind(p, &args); err != nil {
				return nil, err
			}
			filters, err := query.ParseFilters(args.Filters)
			if err != nil {
				return nil, err
			}
			return ns.engine().Aggregate(ctx, query.AggregateRequest{
				Table:         args.Table,
				ValueField:    args.ValueField,
				Filters:       filters,
				Range:         args.Range.toRange(),
				BucketSeconds: args.BucketSeconds,
				Limit:         args.Limit,
				Order:         args.Order,
			})
		},
	}
}

type computeArgs struct {
	Table      string                 `json:"table"`
	ValueField string                 `json:"valueField"`
	Fields     []string               `json:"fields"`
	Filters    map[string]interface{} `json:"filters"`
	Range      *rangeArgs             `json:"range"`
	Limit      int                    `json:"limit"`
	Order      string                 `json:"order"`
	Script     string                 `json:"script"`
	Payload    map[string]interface{} `json:"payload"`
}

func computeTool(d *Deps) toolexecutor.ToolDefinition {
	params := []toolexecutor.ToolParameter{
		tableParam(tableNames(d.Market)),
		str("valueField", "Single column to pass as the series", false),
		stringList("fields", "Columns to pass as series; takes precedence over valueField", false),
	}
	params = append(params, filterParams()...)
	params = append(params,
		integer("limit", "Maximum rows", toolexecutor.Float(1), toolexecutor.Float(computeMaxLimit), computeDefaultLimit),
		toolexecutor.ToolParameter{Name: "order", Type: "string", Description: "Sort direction on the time column", Enum: enum("asc", "desc"), Default: "asc"},
		str("script", "Script to run over the series", true),
		object("payload", "Extra script input merged with the series", false),
	)

	return toolexecutor.ToolDefinition{
		Name:        "market.compute",
		Description: "Run a script over a market time series; only the script result is returned",
		Parameters:  params,
		Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
			var args computeArgs
			if err := toolexecutor.Bind(p, &args); err != nil {
				return nil, err
			}
			fields := args.Fields
			if len(fields) == 0 && args.ValueField != "" {
				fields = []string{args.ValueField}
			}
			if len(fields) == 0 {
				return nil, apperr.InvalidRequest("valueField or fields is required")
			}
			if d.Runner == nil {
				return nil, apperr.Execution("script runner is not configured", nil)
			}
			filters, err := query.ParseFilters(args.Filters)
			if err != nil {
				return nil, err
			}

			rows, err := d.Market.Query(ctx, query.QueryRequest{
				Table:    args.Table,
				Columns:  fields,
				Filters:  filters,
				Range:    args.Range.toRange(),
				Limit:    args.Limit,
				Order:    args.Order,
				MaxLimit: computeMaxLimit,
			})
			if err != nil {
				return nil, err
			}

			series := make(map[string]interface{}, len(fields))
			for _, field := range fields {
				values := make([]interface{}, 0, len(rows))
				for _, row := range rows {
					if v := row[field]; v != nil {
						values = append(values, v)
					}
				}
				series[field] = values
			}

			payload := make(map[string]interface{}, len(args.Payload)+2)
			for k, v := range args.Payload {
				payload[k] = v
			}
			payload["series"] = series
			if len(fields) == 1 {
				payload["values"] = series[fields[0]]
			}
			return d.Runner.Run(ctx, args.Script, payload)
		},
	}
}

type snapshotArgs struct {
	Ticker        string `json:"ticker"`
	ClassCode     string `json:"classCode"`
	MaxAgeSeconds int    `json:"maxAgeSeconds"`
	IncludeBook   bool   `json:"includeBook"`
}

func snapshotTool(d *Deps) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "market.snapshot",
		Description: "Compact market view from the store: latest quote, last trade and top of book",
		Parameters: []toolexecutor.ToolParameter{
			str("ticker", "Instrument ticker", true),
			str("classCode", "Trading venue class code", true),
			integer("maxAgeSeconds", "Mark the snapshot stale when any source is older", toolexecutor.Float(1), nil, snapshotMaxAge),
			boolean("includeBook", "Include full bid/ask ladders", false),
		},
		Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
			var args snapshotArgs
			if err := toolexecutor.Bind(p, &args); err != nil {
				return nil, err
			}
			return marketSnapshot(ctx, d.Market, args)
		},
	}
}

func marketSnapshot(ctx context.Context, engine *query.Engine, args snapshotArgs) (map[string]interface{}, error) {
	filters := []query.Filter{query.Eq("ticker", args.Ticker), query.Eq("class_code", args.ClassCode)}
	latest := func(table string) (query.LatestResult, error) {
		return engine.Latest(ctx, query.LatestRequest{
			QueryRequest:  query.QueryRequest{Table: table, Filters: filters},
			MaxAgeSeconds: args.MaxAgeSeconds,
		})
	}

	quote, err := latest("quotes")
	if err != nil {
		return nil, err
	}
	trade, err := latest("last_trades")
	if err != nil {
		return nil, err
	}
	book, err := latest("order_book_snapshots")
	if err != nil {
		return nil, err
	}

	stale := quote.Stale || trade.Stale || book.Stale
	missing := []string{}
	for _, src := range []struct {
		name string
		res  query.LatestResult
	}{{"quote", quote}, {"trade", trade}, {"book", book}} {
		if src.res.Row == nil {
			missing = append(missing, src.name)
		}
	}

	return map[string]interface{}{
		"ticker":    args.Ticker,
		"classCode": args.ClassCode,
		"stale":     stale,
		"missing":   missing,
		"ages": map[string]interface{}{
			"quoteAge": quote.AgeSeconds,
			"tradeAge": trade.AgeSeconds,
			"bookAge":  book.AgeSeconds,
		},
		"quote": quoteView(quote.Row),
		"trade": tradeView(trade.Row),
		"book":  bookView(book.Row, args.IncludeBook),
	}, nil
}

func quoteView(row query.Row) interface{} {
	if row == nil {
		return nil
	}
	return map[string]interface{}{
		"ts":                    row["ts"],
		"bid":                   row["bid"],
		"offer":                 row["offer"],
		"last":                  row["last"],
		"open":                  row["open"],
		"close":                 row["close"],
		"high":                  row["high"],
		"low":                   row["low"],
		"change":                row["change"],
		"changeRate":            row["change_rate"],
		"currency":              row["currency"],
		"securityTradingStatus": row["security_trading_status"],
	}
}

func tradeView(row query.Row) interface{} {
	if row == nil {
		return nil
	}
	return map[string]interface{}{
		"ts":       row["ts"],
		"side":     row["side"],
		"price":    row["price"],
		"quantity": row["quantity"],
		"volume":   row["volume"],
	}
}

func bookView(row query.Row, includeLadders bool) interface{} {
	if row == nil {
		return nil
	}
	bestBid := topPrice(row["bids"])
	bestAsk := topPrice(row["asks"])

	var spread, spreadPct, imbalance *float64
	if bestBid != nil && bestAsk != nil {
		s := *bestAsk - *bestBid
		spread = &s
		if *bestAsk != 0 {
			pct := s / *bestAsk * 100
			spreadPct = &pct
		}
	}
	bv, bok := number(row["bid_volume"])
	av, aok := number(row["ask_volume"])
	if bok && aok && bv+av != 0 {
		imb := (bv - av) / (bv + av)
		imbalance = &imb
	}

	view := map[string]interface{}{
		"ts":        row["ts"],
		"depth":     row["depth"],
		"bidVolume": row["bid_volume"],
		"askVolume": row["ask_volume"],
		"bestBid":   bestBid,
		"bestAsk":   bestAsk,
		"spread":    spread,
		"spreadPct": spreadPct,
		"imbalance": imbalance,
	}
	if includeLadders {
		view["bids"] = row["bids"]
		view["asks"] = row["asks"]
	}
	return view
}

// topPrice reads levels[0].price from a decoded ladder
func topPrice(levels interface{}) *float64 {
	list, ok := levels.([]interface{})
	if !ok || len(list) == 0 {
		return nil
	}
	level, ok := list[0].(map[string]interface{})
	if !ok {
		return nil
	}
	if v, ok := number(level["price"]); ok {
		return &v
	}
	return nil
}

func number(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	}
	return 0, false
}
