package persist

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harun/tradegate/pkg/apperr"
	"github.com/harun/tradegate/pkg/query"
)

// UpsertInstruments stores instrument metadata keyed by ticker and class code.
// Rows that fail are logged and left out of the returned count.
func (s *Store) UpsertInstruments(ctx context.Context, data interface{}) int {
	ts := s.timestamp()
	stored := 0
	for _, raw := range items(data) {
		item, ok := asMap(raw)
		if !ok {
			continue
		}
		ticker := pickString(item, "ticker")
		classCode := pickString(item, "primaryBoard", "classCode", "board")
		if classCode == "" {
			if boards, ok := item["secondaryBoards"].([]interface{}); ok && len(boards) > 0 {
				classCode, _ = boards[0].(string)
			}
		}
		if ticker == "" || classCode == "" {
			continue
		}

		payload, err := encodeJSON(item)
		if err != nil {
			s.logger.Warn().Err(err).Str("ticker", ticker).Msg("instrument.encode.error")
			continue
		}
		_, err = s.market.Exec(ctx, `
			INSERT INTO instruments (ticker, class_code, isin, instrument_type, display_name, data, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (ticker, class_code) DO UPDATE SET
				isin = excluded.isin,
				instrument_type = excluded.instrument_type,
				display_name = excluded.display_name,
				data = excluded.data,
				updated_at = excluded.updated_at`,
			ticker,
			classCode,
			nullable(pickString(item, "isin")),
			nullable(pickString(item, "instrumentType", "type")),
			nullable(pickString(item, "displayName", "shortName")),
			payload,
			ts,
		)
		if err != nil {
			s.logger.Warn().Err(err).Str("ticker", ticker).Str("classCode", classCode).Msg("instrument.upsert.error")
			continue
		}
		stored++
	}
	return stored
}

// Order is the local record of an order placed through the gateway
type Order struct {
	OriginalClientOrderID string
	ClientOrderID         string
	Ticker                string
	ClassCode             string
	Side                  interface{}
	OrderType             interface{}
	Quantity              interface{}
	Price                 interface{}
	Status                interface{}
	Data                  interface{}
}

// UpsertOrder inserts or replaces the order keyed by its original client id
func (s *Store) UpsertOrder(ctx context.Context, o Order) error {
	if o.OriginalClientOrderID == "" {
		return apperr.InvalidRequest("order id is required")
	}
	payload, err := encodeJSON(o.Data)
	if err != nil {
		return err
	}
	ts := s.timestamp()
	clientID := o.ClientOrderID
	if clientID == "" {
		clientID = o.OriginalClientOrderID
	}

	_, err = s.private.Exec(ctx, `
		INSERT INTO orders (
			original_client_order_id, client_order_id, ticker, class_code, side, order_type,
			quantity, price, status, data, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (original_client_order_id) DO UPDATE SET
			client_order_id = excluded.client_order_id,
			ticker = COALESCE(excluded.ticker, orders.ticker),
			class_code = COALESCE(excluded.class_code, orders.class_code),
			side = COALESCE(excluded.side, orders.side),
			order_type = COALESCE(excluded.order_type, orders.order_type),
			quantity = COALESCE(excluded.quantity, orders.quantity),
			price = COALESCE(excluded.price, orders.price),
			status = COALESCE(excluded.status, orders.status),
			data = excluded.data,
			updated_at = excluded.updated_at`,
		o.OriginalClientOrderID,
		clientID,
		nullable(o.Ticker),
		nullable(o.ClassCode),
		textOrNil(o.Side),
		textOrNil(o.OrderType),
		numberOrNil(o.Quantity),
		numberOrNil(o.Price),
		textOrNil(o.Status),
		payload,
		ts,
		ts,
	)
	return err
}

// UpdateOrder records the broker response to a cancel or replace. A nil
// status leaves the stored status untouched.
func (s *Store) UpdateOrder(ctx context.Context, originalID string, status interface{}, data interface{}) error {
	payload, err := encodeJSON(data)
	if err != nil {
		return err
	}
	_, err = s.private.Exec(ctx, `
		UPDATE orders SET status = COALESCE(?, status), updated_at = ?, data = ?
		WHERE original_client_order_id = ?`,
		textOrNil(status), s.timestamp(), payload, originalID)
	return err
}

// StoreOrderRecords upserts the orders of a search response
func (s *Store) StoreOrderRecords(ctx context.Context, data interface{}) int {
	stored := 0
	for _, raw := range items(data) {
		item, ok := asMap(raw)
		if !ok {
			continue
		}
		id := pickString(item, "originalClientOrderId", "original_client_order_id", "clientOrderId", "client_order_id")
		if id == "" {
			continue
		}
		err := s.UpsertOrder(ctx, Order{
			OriginalClientOrderID: id,
			ClientOrderID:         pickString(item, "clientOrderId", "client_order_id"),
			Ticker:                pickString(item, "ticker"),
			ClassCode:             pickString(item, "classCode", "class_code", "board"),
			Side:                  first(item, "side"),
			OrderType:             first(item, "orderType", "order_type"),
			Quantity:              pickNumber(item, "orderQuantity", "quantity"),
			Price:                 pickNumber(item, "price"),
			Status:                first(item, "orderStatus", "status"),
			Data:                  item,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("orderId", id).Msg("order.upsert.error")
			continue
		}
		stored++
	}
	return stored
}

// StoreTrades appends the trades of a search response
func (s *Store) StoreTrades(ctx context.Context, data interface{}) int {
	stored := 0
	for _, raw := range items(data) {
		item, ok := asMap(raw)
		if !ok {
			continue
		}
		ts, ok := query.ParseTime(first(item, "tradeDateTime", "trade_date_time", "dateTime", "transactionTime"))
		if !ok {
			ts = s.timestamp()
		}
		payload, err := encodeJSON(item)
		if err != nil {
			continue
		}
		_, err = s.private.Exec(ctx, `
			INSERT INTO trades (execution_id, ts, ticker, class_code, side, price, quantity, commission, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullable(pickString(item, "executionId", "execution_id", "tradeId", "id")),
			ts.UTC(),
			nullable(pickString(item, "ticker")),
			nullable(pickString(item, "classCode", "class_code", "board")),
			textOrNil(first(item, "side")),
			pickNumber(item, "price"),
			pickNumber(item, "quantity", "tradeQuantity"),
			pickNumber(item, "commission"),
			payload,
		)
		if err != nil {
			s.logger.Warn().Err(err).Msg("trade.insert.error")
			continue
		}
		stored++
	}
	return stored
}

// CandleKey identifies a candle series
type CandleKey struct {
	Ticker    string
	ClassCode string
	TimeFrame string
}

// UpsertCandles stores the bars of a candles response and returns how many were written
func (s *Store) UpsertCandles(ctx context.Context, key CandleKey, data interface{}) (int, error) {
	count := 0
	for _, raw := range items(data) {
		bar, ok := asMap(raw)
		if !ok {
			continue
		}
		ts, ok := query.ParseTime(first(bar, "time", "ts", "dateTime"))
		if !ok {
			continue
		}
		payload, err := encodeJSON(bar)
		if err != nil {
			return count, err
		}
		if _, err := s.market.Exec(ctx, `
			INSERT INTO candles (ticker, class_code, time_frame, ts, open, high, low, close, volume, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (ticker, class_code, time_frame, ts) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume,
				data = excluded.data`,
			key.Ticker, key.ClassCode, key.TimeFrame, ts.UTC(),
			pickNumber(bar, "open"),
			pickNumber(bar, "high"),
			pickNumber(bar, "low"),
			pickNumber(bar, "close"),
			pickNumber(bar, "volume"),
			payload,
		); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// SelectedAsset is an instrument on the watch list
type SelectedAsset struct {
	Ticker    string `json:"ticker"`
	ClassCode string `json:"class_code"`
	Enabled   bool   `json:"enabled"`
	Notes     string `json:"notes,omitempty"`
}

// ListSelectedAssets returns the watch list ordered by ticker
func (s *Store) ListSelectedAssets(ctx context.Context) ([]query.Row, error) {
	rows, err := s.private.Query(ctx, `SELECT ticker, class_code, enabled, notes FROM selected_assets ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		row["enabled"] = truthy(row["enabled"])
	}
	return rows, nil
}

// UpsertSelectedAsset adds or updates a watch list entry
func (s *Store) UpsertSelectedAsset(ctx context.Context, a SelectedAsset) error {
	ts := s.timestamp()
	_, err := s.private.Exec(ctx, `
		INSERT INTO selected_assets (ticker, class_code, enabled, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticker, class_code) DO UPDATE SET
			enabled = excluded.enabled,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		a.Ticker, a.ClassCode, a.Enabled, nullable(a.Notes), ts, ts)
	return err
}

// Decision is one model decision to be logged
type Decision struct {
	Model    string
	Prompt   string
	Response string
	Metadata interface{}
	Embed    bool
}

// LogDecision stores d and, when requested, queues its text for embedding
func (s *Store) LogDecision(ctx context.Context, d Decision) (int64, error) {
	metadata, err := encodeJSON(d.Metadata)
	if err != nil {
		return 0, err
	}
	rows, err := s.private.Query(ctx, `
		INSERT INTO decision_logs (ts, model, prompt, response, metadata)
		VALUES (?, ?, ?, ?, ?) RETURNING id`,
		s.timestamp(), nullable(d.Model), d.Prompt, d.Response, metadata)
	if err != nil {
		return 0, err
	}
	id, err := returnedID(rows)
	if err != nil {
		return 0, err
	}

	if d.Embed {
		text := fmt.Sprintf("PROMPT:\n%s\n\nRESPONSE:\n%s", d.Prompt, d.Response)
		if _, err := s.EnqueueEmbedding(ctx, "decision", strconv.FormatInt(id, 10), text, d.Metadata); err != nil {
			return id, err
		}
	}
	return id, nil
}

// EnqueueEmbedding queues text for the background embedding worker
func (s *Store) EnqueueEmbedding(ctx context.Context, entityType, entityID, text string, metadata interface{}) (int64, error) {
	payload, err := encodeJSON(metadata)
	if err != nil {
		return 0, err
	}
	rows, err := s.private.Query(ctx, `
		INSERT INTO embedding_queue (entity_type, entity_id, text, metadata, status, created_at)
		VALUES (?, ?, ?, ?, 'pending', ?) RETURNING id`,
		entityType, entityID, text, payload, s.timestamp())
	if err != nil {
		return 0, err
	}
	return returnedID(rows)
}

// SearchEmbeddings returns the stored embeddings nearest to vector
func (s *Store) SearchEmbeddings(ctx context.Context, vector []float64, limit int) ([]query.Row, error) {
	if len(vector) == 0 {
		return nil, apperr.InvalidRequest("embedding vector is empty")
	}
	b := query.NewBuilder(s.private.Dialect())
	distance := s.private.Dialect().VectorDistance(b, "embedding", FormatVector(vector))
	text := fmt.Sprintf(`
		SELECT entity_type, entity_id, metadata, created_at, %s AS distance
		FROM embeddings
		ORDER BY distance ASC
		LIMIT %s`, distance, b.Bind(limit))

	rows, err := s.private.Query(ctx, text, b.Args()...)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		row["metadata"] = decodeJSON(row["metadata"])
	}
	return rows, nil
}

// StoreEmbedding writes a computed embedding
func (s *Store) StoreEmbedding(ctx context.Context, entityType, entityID string, vector []float64, metadata interface{}) error {
	payload, err := encodeJSON(metadata)
	if err != nil {
		return err
	}
	_, err = s.private.Exec(ctx, `
		INSERT INTO embeddings (entity_type, entity_id, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entityType, entityID, payload, FormatVector(vector), s.timestamp())
	return err
}

// FormatVector renders vector in the '[a,b,c]' text form both vector
// extensions accept
func FormatVector(vector []float64) string {
	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Policy is a stored policy document
type Policy struct {
	Key       string
	Data      interface{}
	UpdatedAt time.Time
}

// GetPolicy loads the policy document stored under key, or nil when absent
func (s *Store) GetPolicy(ctx context.Context, key string) (*Policy, error) {
	rows, err := s.private.Query(ctx, `SELECT key, data, updated_at FROM policy_docs WHERE key = ?`, key)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	p := &Policy{Key: key, Data: decodeJSON(rows[0]["data"])}
	if ts, ok := query.ParseTime(rows[0]["updated_at"]); ok {
		p.UpdatedAt = ts
	}
	return p, nil
}

// PutPolicy replaces the policy document stored under key
func (s *Store) PutPolicy(ctx context.Context, key string, data interface{}) error {
	payload, err := encodeJSON(data)
	if err != nil {
		return err
	}
	_, err = s.private.Exec(ctx, `
		INSERT INTO policy_docs (key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, payload, s.timestamp())
	return err
}

// Signal is one scored signal with the features it was computed from
type Signal struct {
	Ticker    string
	ClassCode string
	TimeFrame string
	Lookback  int
	Features  interface{}
	Model     string
	Probs     interface{}
	Direction interface{}
}

// StoreSignal writes the features row and the probabilities row referencing it
func (s *Store) StoreSignal(ctx context.Context, sig Signal) (featuresID, probsID int64, err error) {
	ts := s.timestamp()
	features, err := encodeJSON(sig.Features)
	if err != nil {
		return 0, 0, err
	}
	rows, err := s.private.Query(ctx, `
		INSERT INTO signal_features (ts, ticker, class_code, time_frame, lookback, features)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		ts, sig.Ticker, sig.ClassCode, sig.TimeFrame, sig.Lookback, features)
	if err != nil {
		return 0, 0, err
	}
	if featuresID, err = returnedID(rows); err != nil {
		return 0, 0, err
	}

	probs, err := encodeJSON(sig.Probs)
	if err != nil {
		return featuresID, 0, err
	}
	direction, err := encodeJSON(sig.Direction)
	if err != nil {
		return featuresID, 0, err
	}
	model := sig.Model
	if model == "" {
		model = "heuristic-v1"
	}
	rows, err = s.private.Query(ctx, `
		INSERT INTO signal_probs (ts, ticker, class_code, time_frame, model, probs, direction, features_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		ts, sig.Ticker, sig.ClassCode, sig.TimeFrame, model, probs, direction, featuresID)
	if err != nil {
		return featuresID, 0, err
	}
	probsID, err = returnedID(rows)
	return featuresID, probsID, err
}

func returnedID(rows []query.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, apperr.Store("insert returned no id", nil)
	}
	switch v := rows[0]["id"].(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, apperr.Store(fmt.Sprintf("unexpected id type %T", rows[0]["id"]), nil)
}

func first(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func numberOrNil(v interface{}) interface{} {
	if f, ok := toNumber(v); ok {
		return f
	}
	return nil
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t == "1" || strings.EqualFold(t, "true") || t == "t"
	}
	return false
}
