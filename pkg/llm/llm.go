// Package llm provides the embedding and text-generation oracle used by
// semantic search and signal enrichment. Ollama is the primary backend;
// hosted providers can be chained behind it as fallbacks.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Generator completes a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type fallbackEmbedder struct {
	primary  Embedder
	fallback Embedder
	logger   zerolog.Logger
}

// EmbedderWithFallback tries primary, then fallback. A nil fallback returns
// primary unchanged.
func EmbedderWithFallback(primary, fallback Embedder, logger zerolog.Logger) Embedder {
	if fallback == nil {
		return primary
	}
	if primary == nil {
		return fallback
	}
	return &fallbackEmbedder{primary: primary, fallback: fallback, logger: logger.With().Str("component", "llm").Logger()}
}

func (f *fallbackEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vec, err := f.primary.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	f.logger.Warn().Err(err).Msg("llm.embed.primary_failed")
	return f.fallback.Embed(ctx, text)
}

type fallbackGenerator struct {
	primary  Generator
	fallback Generator
	logger   zerolog.Logger
}

// GeneratorWithFallback tries primary, then fallback
func GeneratorWithFallback(primary, fallback Generator, logger zerolog.Logger) Generator {
	if fallback == nil {
		return primary
	}
	if primary == nil {
		return fallback
	}
	return &fallbackGenerator{primary: primary, fallback: fallback, logger: logger.With().Str("component", "llm").Logger()}
}

func (f *fallbackGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	text, err := f.primary.Generate(ctx, prompt)
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	f.logger.Warn().Err(err).Msg("llm.generate.primary_failed")
	return f.fallback.Generate(ctx, prompt)
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractJSONObject returns the JSON object in text, either the whole text
// or the outermost brace-delimited span. Arrays and scalars yield nil.
func ExtractJSONObject(text string) map[string]interface{} {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if obj := decodeObject(text); obj != nil {
		return obj
	}
	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return nil
	}
	return decodeObject(match)
}

func decodeObject(s string) map[string]interface{} {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil
	}
	return obj
}

// SignalContext is what a direction review is asked about
type SignalContext struct {
	Ticker    string                 `json:"ticker"`
	ClassCode string                 `json:"classCode"`
	TimeFrame string                 `json:"timeFrame"`
	Probs     map[string]interface{} `json:"probs"`
	Direction map[string]interface{} `json:"direction"`
}

// EnrichSignal asks gen for a bias review of a computed signal. A reply
// without a JSON object is an error.
func EnrichSignal(ctx context.Context, gen Generator, signal SignalContext) (map[string]interface{}, error) {
	data, err := json.Marshal(signal)
	if err != nil {
		return nil, err
	}
	prompt := strings.Join([]string{
		"Return only JSON with fields: bias, confidence, rationale, risk_flags, timeframe_hint.",
		"bias: bullish|bearish|neutral, confidence: 0..1.",
		"Data:",
		string(data),
	}, "\n\n")

	text, err := gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	obj := ExtractJSONObject(text)
	if obj == nil {
		return nil, fmt.Errorf("generator reply has no JSON object")
	}
	return obj, nil
}
