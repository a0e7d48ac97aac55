package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/tradegate/pkg/apperr"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

type stubEmbedder struct {
	vec   []float64
	err   error
	calls int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	s.calls++
	return s.vec, s.err
}

type stubGenerator struct {
	text   string
	err    error
	prompt string
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.text, s.err
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "nomic-embed-text", body["model"])
		assert.Equal(t, "buy SBER", body["prompt"])
		w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{BaseURL: srv.URL + "/", EmbedModel: "nomic-embed-text"})
	vec, err := o.Embed(context.Background(), "buy SBER")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestOllamaErrors(t *testing.T) {
	t.Run("non-2xx is remote", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`model not found`))
		}))
		defer srv.Close()

		_, err := NewOllama(OllamaConfig{BaseURL: srv.URL}).Embed(context.Background(), "x")
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindRemote))
	})

	t.Run("missing embedding", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		_, err := NewOllama(OllamaConfig{BaseURL: srv.URL}).Embed(context.Background(), "x")
		assert.ErrorContains(t, err, "embedding missing")
	})

	t.Run("empty generation", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"response":"  "}`))
		}))
		defer srv.Close()

		_, err := NewOllama(OllamaConfig{BaseURL: srv.URL}).Generate(context.Background(), "x")
		assert.ErrorContains(t, err, "empty response")
	})
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, false, body["stream"])
		assert.Equal(t, "llama3.2:3b", body["model"])
		w.Write([]byte(`{"response":"{\"bias\":\"neutral\"}"}`))
	}))
	defer srv.Close()

	text, err := NewOllama(OllamaConfig{BaseURL: srv.URL}).Generate(context.Background(), "review")
	require.NoError(t, err)
	assert.Equal(t, `{"bias":"neutral"}`, text)
}

func TestEmbedderWithFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("primary succeeds", func(t *testing.T) {
		primary := &stubEmbedder{vec: []float64{1}}
		fallback := &stubEmbedder{vec: []float64{2}}
		vec, err := EmbedderWithFallback(primary, fallback, testLogger()).Embed(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, []float64{1}, vec)
		assert.Equal(t, 0, fallback.calls)
	})

	t.Run("primary fails", func(t *testing.T) {
		primary := &stubEmbedder{err: errors.New("connection refused")}
		fallback := &stubEmbedder{vec: []float64{2}}
		vec, err := EmbedderWithFallback(primary, fallback, testLogger()).Embed(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, []float64{2}, vec)
	})

	t.Run("canceled context skips fallback", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		primary := &stubEmbedder{err: context.Canceled}
		fallback := &stubEmbedder{vec: []float64{2}}
		_, err := EmbedderWithFallback(primary, fallback, testLogger()).Embed(cctx, "x")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, fallback.calls)
	})

	t.Run("nil fallback", func(t *testing.T) {
		primary := &stubEmbedder{vec: []float64{1}}
		assert.Same(t, primary, EmbedderWithFallback(primary, nil, testLogger()))
	})
}

func TestGeneratorWithFallback(t *testing.T) {
	primary := &stubGenerator{err: errors.New("down")}
	fallback := &stubGenerator{text: "ok"}
	text, err := GeneratorWithFallback(primary, fallback, testLogger()).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, "p", fallback.prompt)
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]interface{}
	}{
		{"plain object", `{"bias":"bullish","confidence":0.7}`, map[string]interface{}{"bias": "bullish", "confidence": 0.7}},
		{"wrapped in prose", "Sure! Here it is:\n```json\n{\"bias\":\"bearish\"}\n```", map[string]interface{}{"bias": "bearish"}},
		{"array", `[1,2]`, nil},
		{"no object", "no json here", nil},
		{"broken", `{"bias":`, nil},
		{"empty", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSONObject(tt.in))
		})
	}
}

func TestEnrichSignal(t *testing.T) {
	gen := &stubGenerator{text: `analysis: {"bias":"neutral","confidence":0.4}`}
	out, err := EnrichSignal(context.Background(), gen, SignalContext{
		Ticker: "SBER", ClassCode: "TQBR", TimeFrame: "M5",
		Probs: map[string]interface{}{"trend": 0.6},
	})
	require.NoError(t, err)
	assert.Equal(t, "neutral", out["bias"])
	assert.True(t, strings.Contains(gen.prompt, `"ticker":"SBER"`))

	_, err = EnrichSignal(context.Background(), &stubGenerator{text: "no idea"}, SignalContext{})
	assert.Error(t, err)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":0,"embedding":[0.5,0.25]}],
			"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder("test-key", "", srv.URL+"/v1/")
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.25}, vec)
}

func TestAnthropicGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"))
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-latest",
			"content":[{"type":"text","text":"{\"bias\":\"bullish\"}"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":5}}`))
	}))
	defer srv.Close()

	g := NewAnthropicGenerator("test-key", "", srv.URL)
	text, err := g.Generate(context.Background(), "review")
	require.NoError(t, err)
	assert.Equal(t, `{"bias":"bullish"}`, text)
}
