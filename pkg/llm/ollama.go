package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harun/tradegate/pkg/apperr"
)

// OllamaConfig configures an Ollama client
type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
	ChatModel  string
	HTTPClient *http.Client
}

// Ollama talks to a local Ollama daemon
type Ollama struct {
	baseURL    string
	embedModel string
	chatModel  string
	http       *http.Client
}

// NewOllama creates an Ollama client
func NewOllama(cfg OllamaConfig) *Ollama {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	chat := cfg.ChatModel
	if chat == "" {
		chat = "llama3.2:3b"
	}
	return &Ollama{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		embedModel: cfg.EmbedModel,
		chatModel:  chat,
		http:       client,
	}
}

// Embed calls /api/embeddings
func (o *Ollama) Embed(ctx context.Context, text string) ([]float64, error) {
	var out struct {
		Embedding []float64 `json:"embedding"`
	}
	err := o.post(ctx, "/api/embeddings", map[string]interface{}{
		"model":  o.embedModel,
		"prompt": text,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embedding missing in response")
	}
	return out.Embedding, nil
}

// Generate calls /api/generate without streaming
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	var out struct {
		Response string `json:"response"`
	}
	err := o.post(ctx, "/api/generate", map[string]interface{}{
		"model":   o.chatModel,
		"prompt":  prompt,
		"stream":  false,
		"options": map[string]interface{}{"temperature": 0.2},
	}, &out)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", fmt.Errorf("ollama generate empty response")
	}
	return out.Response, nil
}

func (o *Ollama) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ollama response read failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Remote(resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("ollama response decode failed: %w", err)
	}
	return nil
}
