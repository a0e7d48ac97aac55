package tools

import (
	"context"
	"time"

	"github.com/harun/tradegate/pkg/apperr"
	"github.com/harun/tradegate/pkg/persist"
	"github.com/harun/tradegate/pkg/toolexecutor"
)

const defaultPolicyKey = "bcs_policy_v1"

func privateTools(d *Deps) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "selected_assets.list",
			Description: "List the instruments on the watch list",
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				return d.Store.ListSelectedAssets(ctx)
			},
		},
		{
			Name:        "selected_assets.upsert",
			Description: "Add or update a watch list instrument",
			Parameters: []toolexecutor.ToolParameter{
				str("ticker", "Instrument ticker", true),
				str("classCode", "Trading venue class code", true),
				boolean("enabled", "Whether the instrument is active", true),
				str("notes", "Free-form notes", false),
			},
			Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
				var args struct {
					Ticker    string `json:"ticker"`
					ClassCode string `json:"classCode"`
					Enabled   bool   `json:"enabled"`
					Notes     string `json:"notes"`
				}
				if err := toolexecutor.Bind(p, &args); err != nil {
					return nil, err
				}
				err := d.Store.UpsertSelectedAsset(ctx, persist.SelectedAsset{
					Ticker:    args.Ticker,
					ClassCode: args.ClassCode,
					Enabled:   args.Enabled,
					Notes:     args.Notes,
				})
				if err != nil {
					return nil, err
				}
				return okResult(), nil
			},
		},
		{
			Name:        "decision.log",
			Description: "Record a model decision and optionally queue it for embedding",
			Parameters: []toolexecutor.ToolParameter{
				str("model", "Model that produced the decision", false),
				str("prompt", "Prompt text", true),
				str("response", "Response text", true),
				object("metadata", "Arbitrary metadata", false),
				boolean("embed", "Queue the prompt and response for embedding", true),
			},
			Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
				var args struct {
					Model    string                 `json:"model"`
					Prompt   string                 `json:"prompt"`
					Response string                 `json:"response"`
					Metadata map[string]interface{} `json:"metadata"`
					Embed    bool                   `json:"embed"`
				}
				if err := toolexecutor.Bind(p, &args); err != nil {
					return nil, err
				}
				id, err := d.Store.LogDecision(ctx, persist.Decision{
					Model:    args.Model,
					Prompt:   args.Prompt,
					Response: args.Response,
					Metadata: args.Metadata,
					Embed:    args.Embed,
				})
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"ok": true, "id": id}, nil
			},
		},
		{
			Name:        "policy.get",
			Description: "Read a stored trading policy document",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "key", Type: "string", Description: "Policy key", Default: defaultPolicyKey},
			},
			Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
				key := policyKey(p)
				policy, err := d.Store.GetPolicy(ctx, key)
				if err != nil {
					return nil, err
				}
				if policy == nil {
					return policyMissing(), nil
				}
				return map[string]interface{}{
					"ok":         true,
					"key":        policy.Key,
					"data":       policy.Data,
					"updated_at": policy.UpdatedAt.UTC().Format(time.RFC3339),
				}, nil
			},
		},
		{
			Name:        "policy.compact",
			Description: "Read the compact form of the default trading policy",
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				policy, err := d.Store.GetPolicy(ctx, defaultPolicyKey)
				if err != nil {
					return nil, err
				}
				if policy == nil {
					return policyMissing(), nil
				}
				data, _ := policy.Data.(map[string]interface{})
				return map[string]interface{}{"ok": true, "compact": data["compact"]}, nil
			},
		},
		{
			Name:        "policy.section",
			Description: "Read one section of the default trading policy",
			Parameters: []toolexecutor.ToolParameter{
				str("section", "Section name", true),
				boolean("compact", "Return the compact rendering of the section", true),
			},
			Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
				var args struct {
					Section string `json:"section"`
					Compact bool   `json:"compact"`
				}
				if err := toolexecutor.Bind(p, &args); err != nil {
					return nil, err
				}
				policy, err := d.Store.GetPolicy(ctx, defaultPolicyKey)
				if err != nil {
					return nil, err
				}
				if policy == nil {
					return policyMissing(), nil
				}
				data, _ := policy.Data.(map[string]interface{})
				if !args.Compact {
					return map[string]interface{}{"ok": true, "section": args.Section, "data": data[args.Section]}, nil
				}
				sections, _ := data["compact_sections"].(map[string]interface{})
				return map[string]interface{}{"ok": true, "section": args.Section, "compact": sections[args.Section]}, nil
			},
		},
		{
			Name:        "embedding.enqueue",
			Description: "Queue text for background embedding",
			Parameters: []toolexecutor.ToolParameter{
				str("entityType", "Kind of entity the text belongs to", true),
				str("entityId", "Entity identifier", true),
				str("text", "Text to embed", true),
				object("metadata", "Arbitrary metadata", false),
			},
			Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
				var args struct {
					EntityType string                 `json:"entityType"`
					EntityID   string                 `json:"entityId"`
					Text       string                 `json:"text"`
					Metadata   map[string]interface{} `json:"metadata"`
				}
				if err := toolexecutor.Bind(p, &args); err != nil {
					return nil, err
				}
				if _, err := d.Store.EnqueueEmbedding(ctx, args.EntityType, args.EntityID, args.Text, args.Metadata); err != nil {
					return nil, err
				}
				return okResult(), nil
			},
		},
		{
			Name:        "embedding.search",
			Description: "Find stored embeddings nearest to a query text",
			Parameters: []toolexecutor.ToolParameter{
				str("query", "Text to search for", true),
				integer("limit", "Maximum matches", toolexecutor.Float(1), toolexecutor.Float(50), 10),
			},
			Handler: func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
				var args struct {
					Query string `json:"query"`
					Limit int    `json:"limit"`
				}
				if err := toolexecutor.Bind(p, &args); err != nil {
					return nil, err
				}
				if d.Embedder == nil {
					return nil, apperr.Execution("embedding provider is not configured", nil)
				}
				vector, err := d.Embedder.Embed(ctx, args.Query)
				if err != nil {
					return nil, apperr.Execution("embedding failed", err)
				}
				return d.Store.SearchEmbeddings(ctx, vector, args.Limit)
			},
		},
	}
}

func okResult() map[string]interface{} {
	return map[string]interface{}{"ok": true}
}

func policyMissing() map[string]interface{} {
	return map[string]interface{}{"ok": false, "error": "policy not found"}
}

func policyKey(p map[string]interface{}) string {
	if key, ok := p["key"].(string); ok && key != "" {
		return key
	}
	return defaultPolicyKey
}
