// Package tools is the gateway's tool catalog. Each tool pairs a parameter
// declaration with a handler wired to the query engines, the freshness
// coordinator, the persistence layer, the broker client, the script runner
// and the LLM oracle.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harun/tradegate/pkg/broker"
	"github.com/harun/tradegate/pkg/freshness"
	"github.com/harun/tradegate/pkg/llm"
	"github.com/harun/tradegate/pkg/persist"
	"github.com/harun/tradegate/pkg/query"
	"github.com/harun/tradegate/pkg/scripts"
	"github.com/harun/tradegate/pkg/toolexecutor"
)

// Pinger reports store liveness
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the catalog is wired to. Embedder, Generator,
// Catalog and Runner may be nil; the tools needing them then fail at call time.
type Deps struct {
	Market      *query.Engine
	Private     *query.Engine
	MarketDB    Pinger
	PrivateDB   Pinger
	Store       *persist.Store
	Coordinator *freshness.Coordinator
	Broker      broker.API
	Runner      scripts.Runner
	Catalog     *scripts.Catalog
	Embedder    llm.Embedder
	Generator   llm.Generator
	Logger      zerolog.Logger
	NewID       func() string
	Now         func() time.Time
}

// Register adds the whole catalog to executor
func Register(executor *toolexecutor.ToolExecutor, deps Deps) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return uuid.NewString() }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.Logger = deps.Logger.With().Str("component", "tools").Logger()
	d := &deps

	var defs []toolexecutor.ToolDefinition
	defs = append(defs, healthTool(d))
	defs = append(defs, queryTools(d)...)
	defs = append(defs, privateTools(d)...)
	defs = append(defs, scriptTools(d)...)
	defs = append(defs, brokerTools(d)...)

	for _, def := range defs {
		if err := executor.RegisterTool(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func healthTool(d *Deps) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "health",
		Description: "Check server and database liveness",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			market := ping(ctx, d.MarketDB)
			private := ping(ctx, d.PrivateDB)
			return map[string]interface{}{
				"ok":      market && private,
				"market":  market,
				"private": private,
			}, nil
		},
	}
}

func ping(ctx context.Context, p Pinger) bool {
	return p != nil && p.Ping(ctx) == nil
}

var timeFrames = []interface{}{"M1", "M5", "M15", "M30", "H1", "H4", "D", "W", "MN"}

func enum(values ...string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func str(name, desc string, required bool) toolexecutor.ToolParameter {
	p := toolexecutor.ToolParameter{Name: name, Type: "string", Description: desc, Required: required}
	if required {
		p.MinLength = toolexecutor.Int(1)
	}
	return p
}

func uuidParam(name, desc string, required bool) toolexecutor.ToolParameter {
	return toolexecutor.ToolParameter{Name: name, Type: "string", Description: desc, Required: required, Format: "uuid"}
}

func integer(name, desc string, min, max *float64, def interface{}) toolexecutor.ToolParameter {
	return toolexecutor.ToolParameter{Name: name, Type: "integer", Description: desc, Minimum: min, Maximum: max, Default: def}
}

func boolean(name, desc string, def interface{}) toolexecutor.ToolParameter {
	return toolexecutor.ToolParameter{Name: name, Type: "boolean", Description: desc, Default: def}
}

func object(name, desc string, required bool) toolexecutor.ToolParameter {
	return toolexecutor.ToolParameter{Name: name, Type: "object", Description: desc, Required: required}
}

func stringList(name, desc string, required bool) toolexecutor.ToolParameter {
	p := toolexecutor.ToolParameter{
		Name:        name,
		Type:        "array",
		Description: desc,
		Required:    required,
		Items:       &toolexecutor.ToolParameter{Type: "string"},
	}
	if required {
		p.MinItems = toolexecutor.Int(1)
	}
	return p
}

func cacheSeconds(def, max float64) toolexecutor.ToolParameter {
	return integer("cacheSeconds", "Serve the stored snapshot when it is at most this many seconds old; 0 always refetches",
		toolexecutor.Float(0), toolexecutor.Float(max), int(def))
}

func freshnessKey(classCode, ticker string) freshness.Key {
	return freshness.Key{ClassCode: classCode, Ticker: ticker}
}
