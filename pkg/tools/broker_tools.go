package tools

import (
	"context"
	"net/url"
	"strconv"

	"github.com/harun/tradegate/pkg/broker"
	"github.com/harun/tradegate/pkg/freshness"
	"github.com/harun/tradegate/pkg/persist"
	"github.com/harun/tradegate/pkg/toolexecutor"
)

var instrumentTypes = enum(
	"CURRENCY", "STOCK", "FOREIGN_STOCK", "BONDS", "NOTES", "DEPOSITARY_RECEIPTS", "EURO_BONDS",
	"MUTUAL_FUNDS", "ETF", "FUTURES", "OPTIONS", "GOODS", "INDICES",
)

func brokerTools(d *Deps) []toolexecutor.ToolDefinition {
	defs := []toolexecutor.ToolDefinition{
		cachedTool(d, "bcs.portfolio.get", "Account portfolio, served from the latest snapshot when fresh enough",
			ResourcePortfolio, 30, 3600, false, nil),
		cachedTool(d, "bcs.limits.get", "Account limits, served from the latest snapshot when fresh enough",
			ResourceLimits, 30, 3600, false, nil),
		cachedTool(d, "bcs.instruments.discounts", "Margin discounts per instrument",
			ResourceDiscounts, 300, 86400, true, nil),
		cachedTool(d, "bcs.trading.status", "Trading session status for a class code",
			ResourceTradingStatus, 60, 86400, true, []toolexecutor.ToolParameter{
				str("classCode", "Trading venue class code", true),
			}),
		cachedTool(d, "bcs.trading.schedule", "Daily trading schedule for an instrument",
			ResourceTradingSchedule, 300, 86400, true, []toolexecutor.ToolParameter{
				str("classCode", "Trading venue class code", true),
				str("ticker", "Instrument ticker", true),
			}),
	}
	defs = append(defs, orderTools(d)...)
	defs = append(defs, searchTool(d, "bcs.orders.search", "Search orders with filters and paging", broker.KindOrdersSearch, d.Store.StoreOrderRecords))
	defs = append(defs, searchTool(d, "bcs.trades.search", "Search trades with filters and paging", broker.KindTradesSearch, d.Store.StoreTrades))
	defs = append(defs, candleTools(d)...)
	defs = append(defs, instrumentTools(d)...)
	return defs
}

type cachedArgs struct {
	ClassCode    string `json:"classCode"`
	Ticker       string `json:"ticker"`
	CacheSeconds int    `json:"cacheSeconds"`
	Store        *bool  `json:"store"`
}

func cachedTool(d *Deps, name, desc, resource string, def, max float64, storeFlag bool, keyParams []toolexecutor.ToolParameter) toolexecutor.ToolDefinition {
	params := append([]toolexecutor.ToolParameter{}, keyParams...)
	params = append(params, cacheSeconds(def, max))
	if storeFlag {
		params = append(params, boolean("store", "Persist freshly fetched data", true))
	}

	return toolexecutor.ToolDefinition{
		Name:        name,
		Description: desc,
		Parameters:  params,
		Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
			var args cachedArgs
			if err := toolexecutor.Bind(p, &args); err != nil {
				return nil, err
			}
			return d.Coordinator.Resolve(ctx, freshness.Request{
				Kind:          resource,
				Key:           freshnessKey(args.ClassCode, args.Ticker),
				MaxAgeSeconds: args.CacheSeconds,
				SkipPersist:   args.Store != nil && !*args.Store,
			})
		},
	}
}

func orderTools(d *Deps) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "bcs.orders.create",
			Description: "Place an order (requires write access)",
			Mutating:    true,
			Parameters: []toolexecutor.ToolParameter{
				uuidParam("clientOrderId", "Client order id; generated when omitted", false),
				{Name: "side", Type: "integer", Description: "1 buy, 2 sell", Required: true, Enum: []interface{}{1, 2}},
				{Name: "orderType", Type: "integer", Description: "1 market, 2 limit", Required: true, Enum: []interface{}{1, 2}},
				{Name: "orderQuantity", Type: "integer", Description: "Quantity in lots", Required: true, Minimum: toolexecutor.Float(1)},
				str("ticker", "Instrument ticker", true),
				str("classCode", "Trading venue class code", true),
				{Name: "price", Type: "number", Description: "Limit price"},
			},
			Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
				var args struct {
					ClientOrderID string   `json:"clientOrderId"`
					Side          int      `json:"side"`
					OrderType     int      `json:"orderType"`
					OrderQuantity int      `json:"orderQuantity"`
					Ticker        string   `json:"ticker"`
					ClassCode     string   `json:"classCode"`
					Price         *float64 `json:"price"`
				}
				if err := toolexecutor.Bind(p, &args); err != nil {
					return nil, err
				}
				id := args.ClientOrderID
				if id == "" {
					id = d.NewID()
				}

				payload := map[string]interface{}{
					"clientOrderId": id,
					"side":          args.Side,
					"orderType":     args.OrderType,
					"orderQuantity": args.OrderQuantity,
					"ticker":        args.Ticker,
					"classCode":     args.ClassCode,
				}
				var price interface{}
				if args.Price != nil {
					payload["price"] = *args.Price
					price = *args.Price
				}

				result, err := d.Broker.SubmitOrder(ctx, payload)
				if err != nil {
					return nil, err
				}
				err = d.Store.UpsertOrder(ctx, persist.Order{
					OriginalClientOrderID: id,
					ClientOrderID:         id,
					Ticker:                args.Ticker,
					ClassCode:             args.ClassCode,
					Side:                  args.Side,
					OrderType:             args.OrderType,
					Quantity:              args.OrderQuantity,
					Price:                 price,
					Status:                statusOf(result),
					Data:                  result,
				})
				if err != nil {
					d.Logger.Error().Err(err).Str("clientOrderId", id).Msg("order.persist.error")
				}
				return map[string]interface{}{"clientOrderId": id, "result": result}, nil
			},
		},
		{
			Name:        "bcs.orders.cancel",
			Description: "Cancel an order (requires write access)",
			Mutating:    true,
			Parameters: []toolexecutor.ToolParameter{
				uuidParam("originalClientOrderId", "Client id the order was placed with", true),
				uuidParam("clientOrderId", "Client id of the cancel request; generated when omitted", false),
			},
			Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
				var args struct {
					OriginalClientOrderID string `json:"originalClientOrderId"`
					ClientOrderID         string `json:"clientOrderId"`
				}
				if err := toolexecutor.Bind(p, &args); err != nil {
					return nil, err
				}
				payload := map[string]interface{}{"clientOrderId": orDefault(args.ClientOrderID, d.NewID)}

				result, err := d.Broker.CancelOrder(ctx, args.OriginalClientOrderID, payload)
				if err != nil {
					return nil, err
				}
				if err := d.Store.UpdateOrder(ctx, args.OriginalClientOrderID, statusOf(result), result); err != nil {
					d.Logger.Error().Err(err).Str("clientOrderId", args.OriginalClientOrderID).Msg("order.persist.error")
				}
				return result, nil
			},
		},
		{
			Name:        "bcs.orders.replace",
			Description: "Change price or quantity of an order (requires write access)",
			Mutating:    true,
			Parameters: []toolexecutor.ToolParameter{
				uuidParam("originalClientOrderId", "Client id the order was placed with", true),
				uuidParam("clientOrderId", "Client id of the replace request; generated when omitted", false),
				{Name: "price", Type: "number", Description: "New limit price"},
				{Name: "orderQuantity", Type: "integer", Description: "New quantity in lots", Required: true, Minimum: toolexecutor.Float(1)},
			},
			Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
				var args struct {
					OriginalClientOrderID string   `json:"originalClientOrderId"`
					ClientOrderID         string   `json:"clientOrderId"`
					Price                 *float64 `json:"price"`
					OrderQuantity         int      `json:"orderQuantity"`
				}
				if err := toolexecutor.Bind(p, &args); err != nil {
					return nil, err
				}
				payload := map[string]interface{}{
					"clientOrderId": orDefault(args.ClientOrderID, d.NewID),
					"orderQuantity": args.OrderQuantity,
				}
				if args.Price != nil {
					payload["price"] = *args.Price
				}

				result, err := d.Broker.ReplaceOrder(ctx, args.OriginalClientOrderID, payload)
				if err != nil {
					return nil, err
				}
				if err := d.Store.UpdateOrder(ctx, args.OriginalClientOrderID, nil, result); err != nil {
					d.Logger.Error().Err(err).Str("clientOrderId", args.OriginalClientOrderID).Msg("order.persist.error")
				}
				return result, nil
			},
		},
		{
			Name:        "bcs.orders.status",
			Description: "Current state of an order",
			Parameters: []toolexecutor.ToolParameter{
				uuidParam("originalClientOrderId", "Client id the order was placed with", true),
			},
			Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
				var args struct {
					OriginalClientOrderID string `json:"originalClientOrderId"`
				}
				if err := toolexecutor.Bind(p, &args); err != nil {
					return nil, err
				}
				return d.Broker.OrderStatus(ctx, args.OriginalClientOrderID)
			},
		},
	}
}

func pagingParams() []toolexecutor.ToolParameter {
	return []toolexecutor.ToolParameter{
		integer("page", "Zero-based page", toolexecutor.Float(0), nil, nil),
		integer("size", "Page size", toolexecutor.Float(1), toolexecutor.Float(100), nil),
	}
}

func pageValues(page, size *int) url.Values {
	q := url.Values{}
	if page != nil {
		q.Set("page", strconv.Itoa(*page))
	}
	if size != nil {
		q.Set("size", strconv.Itoa(*size))
	}
	return q
}

func searchTool(d *Deps, name, desc string, kind broker.Kind, store func(context.Context, interface{}) int) toolexecutor.ToolDefinition {
	params := pagingParams()
	params = append(params,
		stringList("sort", "Sort expressions such as field,desc", false),
		object("body", "Search filter document", false),
		boolean("store", "Persist the returned records", false),
	)

	return toolexecutor.ToolDefinition{
		Name:        name,
		Description: desc,
		Parameters:  params,
		Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
			var args struct {
				Page  *int                   `json:"page"`
				Size  *int                   `json:"size"`
				Sort  []string               `json:"sort"`
				Body  map[string]interface{} `json:"body"`
				Store bool                   `json:"store"`
			}
			if err := toolexecutor.Bind(p, &args); err != nil {
				return nil, err
			}
			q := pageValues(args.Page, args.Size)
			for _, s := range args.Sort {
				q.Add("sort", s)
			}
			body := args.Body
			if body == nil {
				body = map[string]interface{}{}
			}

			data, err := d.Broker.Fetch(ctx, kind, q, body)
			if err != nil {
				return nil, err
			}
			if args.Store {
				stored := store(ctx, data)
				d.Logger.Info().Str("tool", name).Int("stored", stored).Msg("search.stored")
			}
			return data, nil
		},
	}
}

type candleArgs struct {
	ClassCode string `json:"classCode"`
	Ticker    string `json:"ticker"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	TimeFrame string `json:"timeFrame"`
}

func (a candleArgs) values() url.Values {
	return url.Values{
		"classCode": {a.ClassCode},
		"ticker":    {a.Ticker},
		"startDate": {a.StartDate},
		"endDate":   {a.EndDate},
		"timeFrame": {a.TimeFrame},
	}
}

func candleParams() []toolexecutor.ToolParameter {
	return []toolexecutor.ToolParameter{
		str("classCode", "Trading venue class code", true),
		str("ticker", "Instrument ticker", true),
		str("startDate", "Start of the period (ISO 8601)", true),
		str("endDate", "End of the period (ISO 8601)", true),
		{Name: "timeFrame", Type: "string", Description: "Candle time frame", Required: true, Enum: timeFrames},
	}
}

func candleTools(d *Deps) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "bcs.candles.get",
			Description: "Historical candles from the broker",
			Parameters:  candleParams(),
			Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
				var args candleArgs
				if err := toolexecutor.Bind(p, &args); err != nil {
					return nil, err
				}
				return d.Broker.Fetch(ctx, broker.KindCandles, args.values(), nil)
			},
		},
		{
			Name:        "bcs.candles.backfill",
			Description: "Fetch historical candles and upsert them into the market store",
			Parameters:  candleParams(),
			Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
				var args candleArgs
				if err := toolexecutor.Bind(p, &args); err != nil {
					return nil, err
				}
				data, err := d.Broker.Fetch(ctx, broker.KindCandles, args.values(), nil)
				if err != nil {
					return nil, err
				}
				count, err := d.Store.UpsertCandles(ctx, persist.CandleKey{
					Ticker:    args.Ticker,
					ClassCode: args.ClassCode,
					TimeFrame: args.TimeFrame,
				}, data)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"ok": true, "count": count}, nil
			},
		},
	}
}

func instrumentTools(d *Deps) []toolexecutor.ToolDefinition {
	lookup := func(name, desc, field string, kind broker.Kind) toolexecutor.ToolDefinition {
		params := []toolexecutor.ToolParameter{stringList(field, "Values to look up", true)}
		params = append(params, pagingParams()...)
		params = append(params, boolean("store", "Upsert the returned instruments", false))

		return toolexecutor.ToolDefinition{
			Name:        name,
			Description: desc,
			Parameters:  params,
			Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
				var args struct {
					Page  *int `json:"page"`
					Size  *int `json:"size"`
					Store bool `json:"store"`
				}
				if err := toolexecutor.Bind(p, &args); err != nil {
					return nil, err
				}
				data, err := d.Broker.Fetch(ctx, kind, pageValues(args.Page, args.Size), map[string]interface{}{field: p[field]})
				if err != nil {
					return nil, err
				}
				return storedInstruments(ctx, d, data, args.Store), nil
			},
		}
	}

	byType := toolexecutor.ToolDefinition{
		Name:        "bcs.instruments.by_type",
		Description: "Instruments of one type",
		Parameters: append([]toolexecutor.ToolParameter{
			{Name: "type", Type: "string", Description: "Instrument type", Required: true, Enum: instrumentTypes},
			str("baseAssetTicker", "Underlying ticker for derivatives", false),
			boolean("store", "Upsert the returned instruments", false),
		}, pagingParams()...),
		Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
			var args struct {
				Page            *int   `json:"page"`
				Size            *int   `json:"size"`
				Type            string `json:"type"`
				BaseAssetTicker string `json:"baseAssetTicker"`
				Store           bool   `json:"store"`
			}
			if err := toolexecutor.Bind(p, &args); err != nil {
				return nil, err
			}
			q := pageValues(args.Page, args.Size)
			q.Set("type", args.Type)
			if args.BaseAssetTicker != "" {
				q.Set("baseAssetTicker", args.BaseAssetTicker)
			}
			data, err := d.Broker.Fetch(ctx, broker.KindInstrumentsByType, q, nil)
			if err != nil {
				return nil, err
			}
			return storedInstruments(ctx, d, data, args.Store), nil
		},
	}

	return []toolexecutor.ToolDefinition{
		lookup("bcs.instruments.by_tickers", "Instruments by ticker", "tickers", broker.KindInstrumentsByTickers),
		lookup("bcs.instruments.by_isins", "Instruments by ISIN", "isins", broker.KindInstrumentsByIsins),
		byType,
	}
}

// storedInstruments upserts list responses when asked and reports the count
func storedInstruments(ctx context.Context, d *Deps, data interface{}, store bool) interface{} {
	if _, isList := data.([]interface{}); !store || !isList {
		return data
	}
	return map[string]interface{}{"data": data, "stored": d.Store.UpsertInstruments(ctx, data)}
}

func statusOf(result interface{}) interface{} {
	if m, ok := result.(map[string]interface{}); ok {
		return m["status"]
	}
	return nil
}

func orDefault(v string, gen func() string) string {
	if v != "" {
		return v
	}
	return gen()
}
