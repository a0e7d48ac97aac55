package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/tradegate/pkg/apperr"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Acquire(ctx context.Context) (string, error) {
	return s.token, s.err
}

type recorded struct {
	method string
	path   string
	query  url.Values
	auth   string
	body   map[string]interface{}
}

func newBrokerServer(t *testing.T, status int, response string) (*httptest.Server, *[]recorded) {
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			auth:   r.Header.Get("Authorization"),
		}
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			assert.NoError(t, json.Unmarshal(data, &rec.body))
		}
		calls = append(calls, rec)
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClient_Fetch(t *testing.T) {
	tests := []struct {
		name   string
		kind   Kind
		query  url.Values
		body   interface{}
		method string
		path   string
	}{
		{name: "portfolio", kind: KindPortfolio, method: "GET", path: "/trade-api-bff-portfolio/api/v1/portfolio"},
		{name: "limits", kind: KindLimits, method: "GET", path: "/trade-api-bff-limit/api/v1/limits"},
		{
			name:   "orders search",
			kind:   KindOrdersSearch,
			query:  url.Values{"page": {"0"}, "size": {"10"}},
			method: "POST",
			path:   "/trade-api-bff-order-details/api/v1/orders/search",
		},
		{
			name:   "by tickers",
			kind:   KindInstrumentsByTickers,
			body:   map[string]interface{}{"tickers": []string{"SBER"}},
			method: "POST",
			path:   "/trade-api-information-service/api/v1/instruments/by-tickers",
		},
		{
			name:   "trading status",
			kind:   KindTradingStatus,
			query:  url.Values{"classCode": {"TQBR"}},
			method: "GET",
			path:   "/trade-api-information-service/api/v1/trading-schedule/status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := newBrokerServer(t, http.StatusOK, `{"ok":true}`)
			c := NewClient(Config{BaseURL: srv.URL, Tokens: staticTokens{token: "abc"}, Logger: testLogger()})

			out, err := c.Fetch(context.Background(), tt.kind, tt.query, tt.body)
			require.NoError(t, err)
			assert.Equal(t, map[string]interface{}{"ok": true}, out)

			require.Len(t, *calls, 1)
			call := (*calls)[0]
			assert.Equal(t, tt.method, call.method)
			assert.Equal(t, tt.path, call.path)
			assert.Equal(t, "Bearer abc", call.auth)
			for k, v := range tt.query {
				assert.Equal(t, v, call.query[k])
			}
			if tt.method == "GET" {
				assert.Nil(t, call.body)
			} else {
				assert.NotNil(t, call.body)
			}
		})
	}
}

func TestClient_Orders(t *testing.T) {
	srv, calls := newBrokerServer(t, http.StatusOK, `{"status":"NEW"}`)
	c := NewClient(Config{BaseURL: srv.URL + "/", Tokens: staticTokens{token: "abc"}, Logger: testLogger()})
	ctx := context.Background()

	_, err := c.SubmitOrder(ctx, map[string]interface{}{"ticker": "SBER"})
	require.NoError(t, err)
	_, err = c.CancelOrder(ctx, "id-1", map[string]interface{}{"clientOrderId": "id-2"})
	require.NoError(t, err)
	_, err = c.ReplaceOrder(ctx, "id-1", map[string]interface{}{"orderQuantity": 2})
	require.NoError(t, err)
	_, err = c.OrderStatus(ctx, "id-1")
	require.NoError(t, err)

	require.Len(t, *calls, 4)
	assert.Equal(t, "/trade-api-bff-operations/api/v1/orders", (*calls)[0].path)
	assert.Equal(t, "/trade-api-bff-operations/api/v1/orders/id-1/cancel", (*calls)[1].path)
	assert.Equal(t, "POST", (*calls)[2].method)
	assert.Equal(t, "/trade-api-bff-operations/api/v1/orders/id-1", (*calls)[2].path)
	assert.Equal(t, "GET", (*calls)[3].method)
}

func TestClient_RemoteError(t *testing.T) {
	srv, _ := newBrokerServer(t, http.StatusBadRequest, `{"message":"bad quantity"}`)
	c := NewClient(Config{BaseURL: srv.URL, Tokens: staticTokens{token: "abc"}, Logger: testLogger()})

	_, err := c.Fetch(context.Background(), KindLimits, nil, nil)
	require.Error(t, err)

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.KindRemote, appErr.Kind)
	assert.Equal(t, http.StatusBadRequest, appErr.Status)
	assert.Equal(t, `{"message":"bad quantity"}`, appErr.Body)
}

func TestClient_TokenFailureSkipsRequest(t *testing.T) {
	srv, calls := newBrokerServer(t, http.StatusOK, `{}`)
	c := NewClient(Config{
		BaseURL: srv.URL,
		Tokens:  staticTokens{err: apperr.Auth("BCS_REFRESH_TOKEN is empty", nil)},
		Logger:  testLogger(),
	})

	_, err := c.Fetch(context.Background(), KindPortfolio, nil, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindAuth))
	assert.Empty(t, *calls)
}

func TestClient_UnknownKind(t *testing.T) {
	c := NewClient(Config{Tokens: staticTokens{token: "abc"}, Logger: testLogger()})
	_, err := c.Fetch(context.Background(), Kind("nope"), nil, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidRequest))
}
