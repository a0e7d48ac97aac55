package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/tradegate/internal/logger"
	"github.com/harun/tradegate/internal/metrics"
	"github.com/harun/tradegate/internal/observability"
	"github.com/harun/tradegate/internal/tracing"
	"github.com/harun/tradegate/pkg/apperr"
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Required    bool            `json:"required"`
	Default     interface{}     `json:"default,omitempty"`
	Enum        []interface{}   `json:"enum,omitempty"`
	Minimum     *float64        `json:"minimum,omitempty"`
	Maximum     *float64        `json:"maximum,omitempty"`
	MinLength   *int            `json:"minLength,omitempty"`
	MinItems    *int            `json:"minItems,omitempty"`
	MaxItems    *int            `json:"maxItems,omitempty"`
	Format      string          `json:"format,omitempty"`
	Items       *ToolParameter  `json:"items,omitempty"`
	Properties  []ToolParameter `json:"properties,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Mutating    bool            `json:"mutating,omitempty"` // gated by the write flag
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution.
// params are validated, stripped of undeclared keys and defaulted.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolInfo is the advertised shape of a tool, identical on every transport
type ToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Config configures a ToolExecutor
type Config struct {
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	AllowWrite bool
	Policy     *ToolPolicy
	Timeout    time.Duration // zero means no per-call deadline
	Redactor   *logger.Redactor
	Audit      *observability.AuditLogger // records every mutating call
}

type registeredTool struct {
	def    ToolDefinition
	info   ToolInfo
	schema *gojsonschema.Schema
}

// ToolExecutor is the tool registry and dispatcher shared by all transports
type ToolExecutor struct {
	tools      map[string]*registeredTool
	allowWrite atomic.Bool
	policy     *ToolPolicy
	timeout    time.Duration
	redactor   *logger.Redactor
	audit      *observability.AuditLogger
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	mu         sync.RWMutex
}

// New creates a new ToolExecutor
func New(cfg Config) *ToolExecutor {
	te := &ToolExecutor{
		tools:    make(map[string]*registeredTool),
		policy:   cfg.Policy,
		timeout:  cfg.Timeout,
		redactor: cfg.Redactor,
		audit:    cfg.Audit,
		logger:   cfg.Logger.With().Str("component", "toolexecutor").Logger(),
		metrics:  cfg.Metrics,
	}
	if te.redactor == nil {
		te.redactor = logger.NewRedactor()
	}
	te.allowWrite.Store(cfg.AllowWrite)

	te.logger.Info().Bool("allowWrite", cfg.AllowWrite).Msg("Tool executor initialized")

	return te
}

// SetAllowWrite flips the process-wide write flag
func (te *ToolExecutor) SetAllowWrite(allow bool) {
	te.allowWrite.Store(allow)
}

// AllowWrite reports whether mutating tools may run
func (te *ToolExecutor) AllowWrite() bool {
	return te.allowWrite.Load()
}

// RegisterTool registers a new tool. Names are unique.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	// Validate tool definition
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	// Generate JSON Schema
	advertised := inputSchema(def)
	schema, err := generateJSONSchema(advertised)
	if err != nil {
		return fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	te.tools[def.Name] = &registeredTool{
		def:    def,
		info:   ToolInfo{Name: def.Name, Description: def.Description, InputSchema: advertised},
		schema: schema,
	}

	te.logger.Debug().Str("tool", def.Name).Bool("mutating", def.Mutating).Msg("Tool registered")

	return nil
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	t := te.lookup(name)
	if t == nil {
		return nil
	}
	def := t.def
	return &def
}

func (te *ToolExecutor) lookup(name string) *registeredTool {
	te.mu.RLock()
	defer te.mu.RUnlock()

	t := te.tools[name]
	if t == nil || !te.policy.IsToolAllowed(name) {
		return nil
	}
	return t
}

// ListTools returns the exposed tools sorted by name
func (te *ToolExecutor) ListTools() []ToolInfo {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]ToolInfo, 0, len(te.tools))
	for name, t := range te.tools {
		if !te.policy.IsToolAllowed(name) {
			continue
		}
		tools = append(tools, t.info)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	return tools
}

// GetToolCount returns the number of exposed tools
func (te *ToolExecutor) GetToolCount() int {
	return len(te.ListTools())
}

// Execute dispatches one call: lookup, validation, write gate, handler.
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}) Result {
	startTime := time.Now()
	call := CallInfoFromContext(ctx)
	log := te.logger.With().
		Str("tool", toolName).
		Str("transport", call.Transport).
		Str("requestId", call.RequestID).
		Logger()

	ctx, span := tracing.StartSpan(ctx, "tradegate/toolexecutor", "tool."+toolName,
		attribute.String("tool.name", toolName),
		attribute.String("tool.transport", call.Transport),
	)
	defer span.End()

	result := te.dispatch(ctx, log, toolName, params)

	duration := time.Since(startTime)
	switch r := result.(type) {
	case Success:
		te.metrics.RecordTool(toolName, "ok", duration)
		log.Info().
			Dur("duration", duration).
			Str("result", logger.Summarize(r.Output)).
			Msg("tool.ok")
	case Failure:
		te.metrics.RecordTool(toolName, string(r.Kind), duration)
		span.SetStatus(codes.Error, r.Message)
		span.SetAttributes(attribute.String("tool.failure", string(r.Kind)))
		log.Warn().
			Dur("duration", duration).
			Str("kind", string(r.Kind)).
			Str("error", r.Message).
			Msg("tool.error")
	}

	return result
}

func (te *ToolExecutor) dispatch(ctx context.Context, log zerolog.Logger, toolName string, params map[string]interface{}) Result {
	tool := te.lookup(toolName)
	if tool == nil {
		return Failure{Kind: FailureNotFound, Message: fmt.Sprintf("tool not found: %s", toolName)}
	}

	params = withoutNulls(params)

	// Validate parameters
	if err := validateParameters(tool.schema, params); err != nil {
		return Failure{Kind: FailureValidation, Message: te.redactor.Redact(err.Error())}
	}
	params = normalizeParameters(&tool.def, params)

	if tool.def.Mutating && !te.allowWrite.Load() {
		te.recordAudit(ctx, toolName, observability.StatusRejected, params, nil)
		return Failure{Kind: FailureWriteDisabled, Message: apperr.WriteDisabled(toolName).Message}
	}

	log.Debug().Interface("params", logger.Sanitize(params)).Msg("tool.call")

	if te.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, te.timeout)
		defer cancel()
	}

	output, err := te.invoke(ctx, tool.def.Handler, params)
	if err != nil {
		f := te.failure(err)
		if tool.def.Mutating {
			te.recordAudit(ctx, toolName, observability.StatusFailure, params, &f)
		}
		return f
	}
	if tool.def.Mutating {
		te.recordAudit(ctx, toolName, observability.StatusSuccess, params, nil)
	}
	return Success{Output: output}
}

func (te *ToolExecutor) recordAudit(ctx context.Context, toolName, status string, params map[string]interface{}, f *Failure) {
	if te.audit == nil {
		return
	}
	call := CallInfoFromContext(ctx)
	metadata := map[string]interface{}{"params": logger.Sanitize(params)}
	if f != nil {
		metadata["kind"] = string(f.Kind)
		metadata["error"] = f.Message
	}
	te.audit.RecordTool(ctx, toolName, call.Transport, call.RequestID, status, metadata)
}

func (te *ToolExecutor) invoke(ctx context.Context, handler ToolHandler, params map[string]interface{}) (output interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool handler panicked: %v", r)
		}
	}()
	return handler(ctx, params)
}

// failure renders err without exposing wrapped causes
func (te *ToolExecutor) failure(err error) Failure {
	var f Failure
	if errors.As(err, &f) {
		return f
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		msg := appErr.Message
		if msg == "" {
			msg = appErr.Error()
		}
		return Failure{
			Kind:    failureKind(appErr.Kind),
			Message: te.redactor.Redact(msg),
			Status:  appErr.Status,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Failure{Kind: FailureExecution, Message: "tool execution timed out"}
	}
	return Failure{Kind: FailureExecution, Message: te.redactor.Redact(err.Error())}
}

// validateToolDefinition validates a tool definition
func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	seen := make(map[string]bool, len(def.Parameters))
	for _, param := range def.Parameters {
		if err := validateParameter(param, false); err != nil {
			return err
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
	}

	return nil
}

func withoutNulls(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		if v != nil {
			out[k] = v
		}
	}
	return out
}
