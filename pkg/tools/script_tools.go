package tools

import (
	"context"

	"github.com/harun/tradegate/pkg/apperr"
	"github.com/harun/tradegate/pkg/llm"
	"github.com/harun/tradegate/pkg/persist"
	"github.com/harun/tradegate/pkg/query"
	"github.com/harun/tradegate/pkg/scripts"
	"github.com/harun/tradegate/pkg/toolexecutor"
)

const (
	signalScript       = "signal_score"
	signalDefaultModel = "heuristic-v1"
)

func scriptTools(d *Deps) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "scripts.list",
			Description: "Return the script manifest",
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				if d.Catalog == nil {
					return scripts.Manifest{Scripts: []scripts.Script{}}, nil
				}
				return d.Catalog.Manifest(), nil
			},
		},
		{
			Name:        "scripts.catalog",
			Description: "List scripts by category or strategy with their input shapes",
			Parameters: []toolexecutor.ToolParameter{
				str("category", "Only scripts in this category", false),
				str("strategy", "Only scripts tagged with this strategy", false),
			},
			Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
				var args struct {
					Category string `json:"category"`
					Strategy string `json:"strategy"`
				}
				if err := toolexecutor.Bind(p, &args); err != nil {
					return nil, err
				}
				entries := []scripts.Entry{}
				if d.Catalog != nil {
					entries = append(entries, d.Catalog.Filter(args.Category, args.Strategy)...)
				}
				return map[string]interface{}{"scripts": entries}, nil
			},
		},
		{
			Name:        "scripts.run",
			Description: "Run a script with a JSON payload and return its JSON result",
			Parameters: []toolexecutor.ToolParameter{
				str("name", "Script name", true),
				object("payload", "Script input", false),
			},
			Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
				var args struct {
					Name    string                 `json:"name"`
					Payload map[string]interface{} `json:"payload"`
				}
				if err := toolexecutor.Bind(p, &args); err != nil {
					return nil, err
				}
				if d.Runner == nil {
					return nil, apperr.Execution("script runner is not configured", nil)
				}
				return d.Runner.Run(ctx, args.Name, args.Payload)
			},
		},
		signalsTool(d),
	}
}

type signalArgs struct {
	Ticker          string `json:"ticker"`
	ClassCode       string `json:"classCode"`
	TimeFrame       string `json:"timeFrame"`
	Lookback        int    `json:"lookback"`
	IncludeFeatures bool   `json:"includeFeatures"`
	Store           bool   `json:"store"`
	MaxAgeSeconds   int    `json:"maxAgeSeconds"`
	Enrich          bool   `json:"enrich"`
}

func signalsTool(d *Deps) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "signals.run",
		Description: "Score stored candles and the latest order book into direction probabilities",
		Parameters: []toolexecutor.ToolParameter{
			str("ticker", "Instrument ticker", true),
			str("classCode", "Trading venue class code", true),
			{Name: "timeFrame", Type: "string", Description: "Candle time frame", Enum: timeFrames, Default: "M1"},
			integer("lookback", "Number of most recent candles", toolexecutor.Float(20), toolexecutor.Float(5000), 200),
			boolean("includeFeatures", "Return the computed features", false),
			boolean("store", "Persist features and probabilities", true),
			integer("maxAgeSeconds", "Mark the signal stale when the last candle is older", toolexecutor.Float(1), nil, nil),
			boolean("enrich", "Ask the text model for a bias review", false),
		},
		Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
			var args signalArgs
			if err := toolexecutor.Bind(p, &args); err != nil {
				return nil, err
			}
			return runSignal(ctx, d, args)
		},
	}
}

func runSignal(ctx context.Context, d *Deps, args signalArgs) (map[string]interface{}, error) {
	if d.Runner == nil {
		return nil, apperr.Execution("script runner is not configured", nil)
	}

	rows, err := d.Market.Query(ctx, query.QueryRequest{
		Table:   "candles",
		Columns: []string{"ts", "open", "high", "low", "close", "volume"},
		Filters: []query.Filter{
			query.Eq("ticker", args.Ticker),
			query.Eq("class_code", args.ClassCode),
			query.Eq("time_frame", args.TimeFrame),
		},
		Limit: args.Lookback,
		Order: "desc",
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return map[string]interface{}{"ok": false, "error": "no candles available"}, nil
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	series := map[string]interface{}{}
	for _, field := range []string{"open", "high", "low", "close", "volume"} {
		values := make([]interface{}, 0, len(rows))
		for _, row := range rows {
			if v := row[field]; v != nil {
				values = append(values, v)
			}
		}
		series[field] = values
	}

	var ageSeconds *int64
	if ts, ok := query.ParseTime(rows[len(rows)-1]["ts"]); ok {
		age := query.AgeSeconds(d.Now(), ts)
		ageSeconds = &age
	}
	stale := args.MaxAgeSeconds > 0 && ageSeconds != nil && *ageSeconds > int64(args.MaxAgeSeconds)

	book, err := d.Market.Latest(ctx, query.LatestRequest{
		QueryRequest: query.QueryRequest{
			Table:   "order_book_snapshots",
			Columns: []string{"ts", "bids", "asks", "bid_volume", "ask_volume"},
			Filters: []query.Filter{query.Eq("ticker", args.Ticker), query.Eq("class_code", args.ClassCode)},
		},
	})
	if err != nil {
		return nil, err
	}
	var orderbook interface{}
	if book.Row != nil {
		orderbook = map[string]interface{}{
			"bids":      book.Row["bids"],
			"asks":      book.Row["asks"],
			"bidVolume": book.Row["bid_volume"],
			"askVolume": book.Row["ask_volume"],
			"ts":        book.Row["ts"],
		}
	}

	out, err := d.Runner.Run(ctx, signalScript, map[string]interface{}{"series": series, "orderbook": orderbook})
	if err != nil {
		return nil, err
	}
	wrapped, _ := out.(map[string]interface{})
	if ok, present := wrapped["ok"].(bool); present && !ok {
		return map[string]interface{}{"ok": false, "error": wrapped["error"]}, nil
	}
	result := wrapped
	if inner, isMap := wrapped["result"].(map[string]interface{}); isMap {
		result = inner
	}
	if result == nil {
		return nil, apperr.Execution("signal script returned no result", nil)
	}
	if msg, failed := result["error"]; failed && msg != nil {
		return map[string]interface{}{"ok": false, "error": msg, "details": result["details"]}, nil
	}

	model, _ := result["model"].(string)
	if model == "" {
		model = signalDefaultModel
	}
	probs, _ := result["probs"].(map[string]interface{})
	direction, _ := result["direction"].(map[string]interface{})
	features := result["features"]

	var featuresID interface{}
	if args.Store {
		id, _, err := d.Store.StoreSignal(ctx, persist.Signal{
			Ticker:    args.Ticker,
			ClassCode: args.ClassCode,
			TimeFrame: args.TimeFrame,
			Lookback:  len(series["close"].([]interface{})),
			Features:  features,
			Model:     model,
			Probs:     probs,
			Direction: direction,
		})
		if err != nil {
			return nil, err
		}
		featuresID = id
	}

	response := map[string]interface{}{
		"ok":         true,
		"ticker":     args.Ticker,
		"classCode":  args.ClassCode,
		"timeFrame":  args.TimeFrame,
		"lookback":   len(series["close"].([]interface{})),
		"model":      model,
		"probs":      probs,
		"direction":  direction,
		"ageSeconds": ageSeconds,
		"stale":      stale,
		"featuresId": featuresID,
	}
	if args.IncludeFeatures {
		response["features"] = features
	}

	if args.Enrich {
		if d.Generator == nil {
			response["enrichmentError"] = "text model is not configured"
			return response, nil
		}
		review, err := llm.EnrichSignal(ctx, d.Generator, llm.SignalContext{
			Ticker:    args.Ticker,
			ClassCode: args.ClassCode,
			TimeFrame: args.TimeFrame,
			Probs:     probs,
			Direction: direction,
		})
		if err != nil {
			d.Logger.Warn().Err(err).Str("ticker", args.Ticker).Msg("signals.enrich.error")
			response["enrichmentError"] = "enrichment failed"
		} else {
			response["enrichment"] = review
		}
	}
	return response, nil
}
