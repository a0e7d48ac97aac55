package persist

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/tradegate/pkg/freshness"
	"github.com/harun/tradegate/pkg/schema"
	"github.com/harun/tradegate/pkg/store"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T) (*Store, *store.Pool, *store.Pool, *testClock) {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	ctx := context.Background()

	market, err := store.OpenMemory(ctx, t.Name()+"-market", schema.Market, logger)
	require.NoError(t, err)
	t.Cleanup(func() { market.Close() })

	private, err := store.OpenMemory(ctx, t.Name()+"-private", schema.Private, logger)
	require.NoError(t, err)
	t.Cleanup(func() { private.Close() })

	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return New(market, private, logger, WithClock(clock.Now)), market, private, clock
}

func TestPortfolio_WriteThenRead(t *testing.T) {
	s, _, private, clock := newTestStore(t)
	ctx := context.Background()

	snap, err := s.ReadPortfolio(ctx, freshness.Key{})
	require.NoError(t, err)
	assert.Nil(t, snap)

	positions := []interface{}{
		map[string]interface{}{"ticker": "SBER", "board": "TQBR", "quantity": 10.0, "balancePrice": 250.5, "currency": "RUB"},
		map[string]interface{}{"ticker": "GAZP", "classCode": "TQBR", "quantity": 5.0, "averagePrice": 160.0},
		map[string]interface{}{"ticker": "NOBOARD"},
	}
	require.NoError(t, s.WritePortfolio(ctx, freshness.Key{}, positions))

	clock.now = clock.now.Add(time.Minute)
	positions[0].(map[string]interface{})["quantity"] = 12.0
	require.NoError(t, s.WritePortfolio(ctx, freshness.Key{}, positions))

	snap, err = s.ReadPortfolio(ctx, freshness.Key{})
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, clock.now.Equal(snap.Timestamp))
	require.Len(t, snap.Data, 3)

	rows, err := private.Query(ctx, `SELECT ticker, quantity, avg_price FROM holdings_current ORDER BY ticker`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "GAZP", rows[0]["ticker"])
	assert.Equal(t, 160.0, rows[0]["avg_price"])
	assert.Equal(t, "SBER", rows[1]["ticker"])
	assert.Equal(t, 12.0, rows[1]["quantity"])

	snapshots, err := private.Query(ctx, `SELECT id FROM holdings_snapshots`)
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
}

func TestPortfolio_NonListIsNotStored(t *testing.T) {
	s, _, private, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WritePortfolio(ctx, freshness.Key{}, map[string]interface{}{"error": "x"}))
	rows, err := private.Query(ctx, `SELECT id FROM holdings_snapshots`)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLimits_WriteThenRead(t *testing.T) {
	s, _, _, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteLimits(ctx, freshness.Key{}, map[string]interface{}{"cash": 100.0}))
	clock.now = clock.now.Add(time.Second)
	require.NoError(t, s.WriteLimits(ctx, freshness.Key{}, map[string]interface{}{"cash": 200.0}))
	require.NoError(t, s.WriteLimits(ctx, freshness.Key{}, nil))

	snap, err := s.ReadLimits(ctx, freshness.Key{})
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, map[string]interface{}{"cash": 200.0}, snap.Data)
}

func TestDiscounts_ReadReturnsLatestBatch(t *testing.T) {
	s, _, _, clock := newTestStore(t)
	ctx := context.Background()

	first := []interface{}{
		map[string]interface{}{"ticker": "SBER", "discountLong": 0.1, "discountShort": 0.2},
		map[string]interface{}{"ticker": "GAZP", "discountLong": 0.15, "discountShort": 0.25},
		map[string]interface{}{"discountLong": 0.3},
	}
	require.NoError(t, s.WriteDiscounts(ctx, freshness.Key{}, first))

	clock.now = clock.now.Add(5 * time.Minute)
	second := []interface{}{
		map[string]interface{}{"ticker": "LKOH", "discountLong": 0.12, "discountShort": 0.22},
	}
	require.NoError(t, s.WriteDiscounts(ctx, freshness.Key{}, second))

	snap, err := s.ReadDiscounts(ctx, freshness.Key{})
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, clock.now.Equal(snap.Timestamp))
	require.Len(t, snap.Data, 1)
	assert.Equal(t, "LKOH", snap.Data.([]interface{})[0].(map[string]interface{})["ticker"])
}

func TestTradingStatusAndSchedule_AreKeyed(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	ctx := context.Background()

	tqbr := freshness.Key{ClassCode: "TQBR"}
	spbfut := freshness.Key{ClassCode: "SPBFUT"}
	require.NoError(t, s.WriteTradingStatus(ctx, tqbr, map[string]interface{}{"status": "open"}))

	snap, err := s.ReadTradingStatus(ctx, tqbr)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, map[string]interface{}{"status": "open"}, snap.Data)

	snap, err = s.ReadTradingStatus(ctx, spbfut)
	require.NoError(t, err)
	assert.Nil(t, snap)

	sber := freshness.Key{ClassCode: "TQBR", Ticker: "SBER"}
	require.NoError(t, s.WriteTradingSchedule(ctx, sber, []interface{}{"10:00-18:45"}))

	snap, err = s.ReadTradingSchedule(ctx, sber)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, []interface{}{"10:00-18:45"}, snap.Data)

	snap, err = s.ReadTradingSchedule(ctx, freshness.Key{ClassCode: "TQBR", Ticker: "GAZP"})
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestUpsertInstruments_CountsStoredRows(t *testing.T) {
	s, market, _, _ := newTestStore(t)
	ctx := context.Background()

	data := []interface{}{
		map[string]interface{}{"ticker": "SBER", "primaryBoard": "TQBR", "isin": "RU0009029540", "instrumentType": "STOCK", "displayName": "Sberbank"},
		map[string]interface{}{"ticker": "SiM4", "secondaryBoards": []interface{}{"SPBFUT"}, "type": "FUTURES", "shortName": "Si-6.24"},
		map[string]interface{}{"ticker": "ORPHAN"},
	}
	assert.Equal(t, 2, s.UpsertInstruments(ctx, data))
	assert.Equal(t, 2, s.UpsertInstruments(ctx, map[string]interface{}{"records": data}))

	rows, err := market.Query(ctx, `SELECT ticker, class_code, display_name FROM instruments ORDER BY ticker`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "SPBFUT", rows[1]["class_code"])
	assert.Equal(t, "Si-6.24", rows[1]["display_name"])
}

func TestOrders_UpsertAndUpdate(t *testing.T) {
	s, _, private, _ := newTestStore(t)
	ctx := context.Background()

	id := "9b2f6c1e-4d3a-4f4e-8a57-1b2c3d4e5f60"
	require.NoError(t, s.UpsertOrder(ctx, Order{
		OriginalClientOrderID: id,
		Ticker:                "SBER",
		ClassCode:             "TQBR",
		Side:                  1.0,
		OrderType:             2.0,
		Quantity:              3.0,
		Price:                 250.0,
		Status:                "NEW",
		Data:                  map[string]interface{}{"status": "NEW"},
	}))

	require.NoError(t, s.UpdateOrder(ctx, id, "CANCELED", map[string]interface{}{"status": "CANCELED"}))
	require.NoError(t, s.UpdateOrder(ctx, id, nil, map[string]interface{}{"note": "replaced"}))

	rows, err := private.Query(ctx, `SELECT client_order_id, side, order_type, quantity, status, data FROM orders`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0]["client_order_id"])
	assert.Equal(t, "1", rows[0]["side"])
	assert.Equal(t, "2", rows[0]["order_type"])
	assert.Equal(t, 3.0, rows[0]["quantity"])
	assert.Equal(t, "CANCELED", rows[0]["status"])
	assert.JSONEq(t, `{"note":"replaced"}`, rows[0]["data"].(string))

	assert.Error(t, s.UpsertOrder(ctx, Order{}))
}

func TestStoreOrderRecordsAndTrades(t *testing.T) {
	s, _, private, _ := newTestStore(t)
	ctx := context.Background()

	orders := map[string]interface{}{"records": []interface{}{
		map[string]interface{}{"originalClientOrderId": "a", "ticker": "SBER", "orderStatus": "FILLED", "orderQuantity": 1.0},
		map[string]interface{}{"client_order_id": "b", "ticker": "GAZP"},
		map[string]interface{}{"ticker": "NOID"},
	}}
	assert.Equal(t, 2, s.StoreOrderRecords(ctx, orders))

	trades := []interface{}{
		map[string]interface{}{"executionId": "e1", "ticker": "SBER", "price": 250.0, "quantity": 1.0, "tradeDateTime": "2024-05-01T10:00:00Z"},
		map[string]interface{}{"ticker": "GAZP", "price": 160.0},
	}
	assert.Equal(t, 2, s.StoreTrades(ctx, trades))

	rows, err := private.Query(ctx, `SELECT execution_id, ts FROM trades ORDER BY ts`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "e1", rows[0]["execution_id"])
}

func TestUpsertCandles_IsIdempotent(t *testing.T) {
	s, market, _, _ := newTestStore(t)
	ctx := context.Background()
	key := CandleKey{Ticker: "SBER", ClassCode: "TQBR", TimeFrame: "M1"}

	bars := map[string]interface{}{"bars": []interface{}{
		map[string]interface{}{"time": "2024-05-01T10:00:00Z", "open": 1.0, "high": 2.0, "low": 0.5, "close": 1.5, "volume": 100.0},
		map[string]interface{}{"time": "2024-05-01T10:01:00Z", "open": 1.5, "high": 2.5, "low": 1.0, "close": 2.0, "volume": 50.0},
		map[string]interface{}{"open": 9.0},
	}}
	n, err := s.UpsertCandles(ctx, key, bars)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	bars["bars"].([]interface{})[1].(map[string]interface{})["close"] = 2.2
	n, err = s.UpsertCandles(ctx, key, bars)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := market.Query(ctx, `SELECT close FROM candles ORDER BY ts`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2.2, rows[1]["close"])
}

func TestSelectedAssets(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSelectedAsset(ctx, SelectedAsset{Ticker: "SBER", ClassCode: "TQBR", Enabled: true}))
	require.NoError(t, s.UpsertSelectedAsset(ctx, SelectedAsset{Ticker: "AFLT", ClassCode: "TQBR", Enabled: true}))
	require.NoError(t, s.UpsertSelectedAsset(ctx, SelectedAsset{Ticker: "SBER", ClassCode: "TQBR", Enabled: false, Notes: "paused"}))

	rows, err := s.ListSelectedAssets(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "AFLT", rows[0]["ticker"])
	assert.Equal(t, true, rows[0]["enabled"])
	assert.Equal(t, false, rows[1]["enabled"])
	assert.Equal(t, "paused", rows[1]["notes"])
}

func TestLogDecision_EnqueuesEmbedding(t *testing.T) {
	s, _, private, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.LogDecision(ctx, Decision{Model: "m", Prompt: "buy?", Response: "hold", Embed: true, Metadata: map[string]interface{}{"ticker": "SBER"}})
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = s.LogDecision(ctx, Decision{Prompt: "p", Response: "r"})
	require.NoError(t, err)

	rows, err := private.Query(ctx, `SELECT entity_type, entity_id, text, status FROM embedding_queue`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "decision", rows[0]["entity_type"])
	assert.Equal(t, "PROMPT:\nbuy?\n\nRESPONSE:\nhold", rows[0]["text"])
	assert.Equal(t, "pending", rows[0]["status"])
}

func TestPolicy(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.GetPolicy(ctx, "bcs_policy_v1")
	require.NoError(t, err)
	assert.Nil(t, p)

	doc := map[string]interface{}{"compact": "be careful", "risk": map[string]interface{}{"max": 0.02}}
	require.NoError(t, s.PutPolicy(ctx, "bcs_policy_v1", doc))

	p, err = s.GetPolicy(ctx, "bcs_policy_v1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, doc, p.Data)
	assert.False(t, p.UpdatedAt.IsZero())
}

func TestStoreSignal_LinksProbsToFeatures(t *testing.T) {
	s, _, private, _ := newTestStore(t)
	ctx := context.Background()

	featuresID, probsID, err := s.StoreSignal(ctx, Signal{
		Ticker: "SBER", ClassCode: "TQBR", TimeFrame: "M1", Lookback: 200,
		Features:  map[string]interface{}{"rsi": 55.0},
		Probs:     map[string]interface{}{"up": 0.6, "down": 0.4},
		Direction: "up",
	})
	require.NoError(t, err)
	assert.Positive(t, featuresID)
	assert.Positive(t, probsID)

	rows, err := private.Query(ctx, `SELECT model, features_id FROM signal_probs`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "heuristic-v1", rows[0]["model"])
	assert.Equal(t, featuresID, rows[0]["features_id"])
}

func TestSearchEmbeddings_NearestFirst(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreEmbedding(ctx, "decision", "1", []float64{1, 0, 0}, nil))
	require.NoError(t, s.StoreEmbedding(ctx, "decision", "2", []float64{0, 1, 0}, map[string]interface{}{"k": "v"}))

	rows, err := s.SearchEmbeddings(ctx, []float64{0.1, 0.9, 0}, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0]["entity_id"])
	assert.Equal(t, map[string]interface{}{"k": "v"}, rows[0]["metadata"])

	_, err = s.SearchEmbeddings(ctx, nil, 1)
	assert.Error(t, err)
}

func TestFormatVector(t *testing.T) {
	assert.Equal(t, "[1,0.5,-2]", FormatVector([]float64{1, 0.5, -2}))
	assert.Equal(t, "[]", FormatVector(nil))
}
