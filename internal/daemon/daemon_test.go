package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/tradegate/internal/config"
	"github.com/harun/tradegate/internal/logger"
	"github.com/harun/tradegate/pkg/mcp"
	"github.com/harun/tradegate/pkg/warmup"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())

	cfg := config.DefaultConfig()
	cfg.Transport.Port = 0
	cfg.Database.Driver = "sqlite3"
	cfg.Database.MarketDSN = fmt.Sprintf("file:%s_market?mode=memory&cache=shared", name)
	cfg.Database.PrivateDSN = fmt.Sprintf("file:%s_private?mode=memory&cache=shared", name)
	cfg.Database.Migrate = true
	cfg.LLM.OllamaBaseURL = ""
	cfg.Scripts.Runner = ""
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transport.Mode = "carrier-pigeon"

	_, err := New(context.Background(), cfg, testLogger(t))
	assert.Error(t, err)
}

func TestNew_UnreachableStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.MarketDSN = "file:/nonexistent/dir/market.db?mode=ro"

	_, err := New(context.Background(), cfg, testLogger(t))
	assert.Error(t, err)
}

func TestDaemon_StdioLifecycle(t *testing.T) {
	cfg := testConfig(t)
	stdinReader, stdinWriter := io.Pipe()
	stdout := &syncBuffer{}

	d, err := New(context.Background(), cfg, testLogger(t), WithStdio(stdinReader, stdout))
	require.NoError(t, err)
	assert.Nil(t, d.GetHTTPHandler())
	assert.Equal(t, 37, d.GetToolExecutor().GetToolCount())

	require.NoError(t, d.Start())
	assert.True(t, d.Status().Running)
	assert.Error(t, d.Start(), "second start is rejected")

	_, err = io.WriteString(stdinWriter, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`+"\n")
	require.NoError(t, err)
	_, err = io.WriteString(stdinWriter, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"health","arguments":{}}}`+"\n")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return strings.Count(stdout.String(), "\n") >= 2
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, stdinWriter.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
	assert.False(t, d.Status().Running)

	out := stdout.String()
	assert.Contains(t, out, `"bcs.orders.create"`)
	assert.Contains(t, out, `\"ok\": true`)
}

func TestDaemon_StopOnSignal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transport.Mode = config.TransportHTTP
	cfg.Transport.Host = "127.0.0.1"
	cfg.Transport.Port = 1
	cfg.Warmup = []warmup.Job{{Resource: "portfolio", Schedule: "@hourly", MaxAgeSeconds: 30}}

	d, err := New(context.Background(), cfg, testLogger(t))
	require.NoError(t, err)
	assert.Nil(t, d.Done())

	// Exercise the HTTP surface without binding the port
	srv := httptest.NewServer(d.GetHTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])

	resp2, err := http.Post(srv.URL+"/tools/bcs.orders.create", "application/json", strings.NewReader(`{"ticker":"SBER","classCode":"TQBR","side":1,"orderType":1,"orderQuantity":1}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp2.StatusCode)

	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Wait(ctx))
	assert.Error(t, d.Stop(), "already stopped")
}

func TestDaemon_ScriptManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/tradegate/scripts.yaml", []byte(`
scripts:
  - name: signal_score
    path: signals/score.py
    description: Heuristic direction score
    category: signals
`), 0644))

	cfg := testConfig(t)
	cfg.Scripts.Manifest = "/etc/tradegate/scripts.yaml"
	cfg.Scripts.Watch = false
	stdinReader, stdinWriter := io.Pipe()
	stdout := &syncBuffer{}

	d, err := New(context.Background(), cfg, testLogger(t), WithFs(fs), WithStdio(stdinReader, stdout))
	require.NoError(t, err)
	require.NoError(t, d.Start())

	_, err = io.WriteString(stdinWriter, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"scripts.list","arguments":{}}}`+"\n")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "signal_score")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, stdinWriter.Close())
	require.NoError(t, d.Wait(context.Background()))
}

func TestTracingOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Broker.AllowWrite = true

	opts := tracingOptions(cfg)
	assert.Equal(t, "tradegate", opts.ServiceName)
	assert.Equal(t, mcp.ServerVersion, opts.Version)
	assert.Contains(t, opts.Attributes, attribute.String("tradegate.store.driver", "sqlite3"))
	assert.Contains(t, opts.Attributes, attribute.String("tradegate.transport", cfg.Transport.Mode))
	assert.Contains(t, opts.Attributes, attribute.Bool("tradegate.write_enabled", true))
}
