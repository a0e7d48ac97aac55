// Package mcp serves the tool catalog over the Model Context Protocol:
// newline-delimited JSON-RPC 2.0 on stdio, and the same message handling
// reused by the HTTP websocket carrier.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/tradegate/internal/logger"
	"github.com/harun/tradegate/pkg/toolexecutor"
)

const (
	ServerName      = "bcs-mcp"
	ServerVersion   = "26.02.1"
	ProtocolVersion = "2024-11-05"

	maxMessageSize = 4 << 20
)

// Dispatcher is the tool registry surface the server needs
type Dispatcher interface {
	ListTools() []toolexecutor.ToolInfo
	Execute(ctx context.Context, name string, params map[string]interface{}) toolexecutor.Result
}

// Config configures a Server
type Config struct {
	Tools   Dispatcher
	Logger  zerolog.Logger
	Name    string
	Version string
}

type methodHandler func(ctx context.Context, params json.RawMessage) (interface{}, *RPCError)

// Server answers MCP requests against a Dispatcher
type Server struct {
	tools   Dispatcher
	name    string
	version string
	methods map[string]methodHandler
	logger  zerolog.Logger
}

// NewServer creates a new MCP server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Tools == nil {
		return nil, errors.New("tool dispatcher is required")
	}
	if cfg.Name == "" {
		cfg.Name = ServerName
	}
	if cfg.Version == "" {
		cfg.Version = ServerVersion
	}

	s := &Server{
		tools:   cfg.Tools,
		name:    cfg.Name,
		version: cfg.Version,
		logger:  cfg.Logger.With().Str("component", "mcp").Logger(),
	}
	s.methods = map[string]methodHandler{
		"initialize": s.initialize,
		"ping": func(context.Context, json.RawMessage) (interface{}, *RPCError) {
			return map[string]interface{}{}, nil
		},
		"tools/list": s.listTools,
		"tools/call": s.callTool,
	}
	return s, nil
}

// Serve reads newline-delimited requests from r and writes responses to w
// until r is exhausted or ctx is cancelled. Requests are handled
// concurrently; writes are serialized.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		writeMu  sync.Mutex
		inFlight sync.WaitGroup
	)
	encoder := json.NewEncoder(w)
	write := func(resp *Response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := encoder.Encode(resp); err != nil {
			s.logger.Error().Err(err).Msg("mcp.write.error")
		}
	}

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxMessageSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	s.logger.Info().Str("transport", "stdio").Msg("mcp.transport.ready")

	for {
		select {
		case <-ctx.Done():
			inFlight.Wait()
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				inFlight.Wait()
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}
			inFlight.Add(1)
			go func() {
				defer inFlight.Done()
				if resp := s.HandleMessage(ctx, line, "stdio"); resp != nil {
					write(resp)
				}
			}()
		}
	}
}

// HandleMessage processes one raw JSON-RPC message. It returns nil for
// notifications.
func (s *Server) HandleMessage(ctx context.Context, data []byte, transport string) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse(nil, &RPCError{Code: ParseError, Message: "Parse error", Data: err.Error()})
	}
	if req.Method == "" {
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing method field"})
	}

	handler, exists := s.methods[req.Method]
	if req.IsNotification() {
		// notifications/initialized and friends need no answer
		s.logger.Debug().Str("method", req.Method).Msg("mcp.notification")
		return nil
	}
	if !exists {
		return errorResponse(req.ID, &RPCError{Code: MethodNotFound, Message: fmt.Sprintf("Method not found: %s", req.Method)})
	}

	requestID, err := gonanoid.New()
	if err != nil {
		requestID = string(req.ID)
	}
	ctx = toolexecutor.ContextWithCallInfo(ctx, toolexecutor.CallInfo{Transport: transport, RequestID: requestID})

	result, rpcErr := handler(ctx, req.Params)
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr)
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func errorResponse(id json.RawMessage, err *RPCError) *Response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &Response{JSONRPC: "2.0", ID: id, Error: err}
}

func (s *Server) initialize(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	var p initializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &RPCError{Code: InvalidParams, Message: "Invalid params", Data: err.Error()}
		}
	}
	version := p.ProtocolVersion
	if version == "" {
		version = ProtocolVersion
	}
	s.logger.Info().Str("protocolVersion", version).Msg("mcp.initialize")
	return map[string]interface{}{
		"protocolVersion": version,
		"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
		"serverInfo":      map[string]interface{}{"name": s.name, "version": s.version},
	}, nil
}

func (s *Server) listTools(ctx context.Context, _ json.RawMessage) (interface{}, *RPCError) {
	s.logger.Debug().Msg("mcp.list_tools")
	return map[string]interface{}{"tools": s.tools.ListTools()}, nil
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	var p callParams
	if len(params) == 0 {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params: name is required"}
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	if p.Name == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params: name is required"}
	}
	if p.Arguments == nil {
		p.Arguments = map[string]interface{}{}
	}

	call := toolexecutor.CallInfoFromContext(ctx)
	log := s.logger.With().Str("id", call.RequestID).Str("tool", p.Name).Logger()
	log.Info().Interface("args", logger.Sanitize(p.Arguments)).Msg("mcp.tool.call")

	switch res := s.tools.Execute(ctx, p.Name, p.Arguments).(type) {
	case toolexecutor.Success:
		text, err := json.MarshalIndent(res.Output, "", "  ")
		if err != nil {
			return errorResult("Tool error: " + err.Error()), nil
		}
		return CallResult{Content: []Content{{Type: "text", Text: string(text)}}}, nil
	case toolexecutor.Failure:
		switch res.Kind {
		case toolexecutor.FailureNotFound:
			log.Warn().Msg("mcp.tool.unknown")
			return errorResult("Unknown tool: " + p.Name), nil
		case toolexecutor.FailureValidation:
			log.Warn().Str("error", res.Message).Msg("mcp.tool.invalid")
			return errorResult("Invalid input: " + res.Message), nil
		default:
			log.Error().Str("kind", string(res.Kind)).Str("error", res.Message).Msg("mcp.tool.error")
			return errorResult("Tool error: " + res.Message), nil
		}
	}
	return nil, &RPCError{Code: InternalError, Message: "unexpected dispatch result"}
}

func errorResult(text string) CallResult {
	return CallResult{Content: []Content{{Type: "text", Text: text}}, IsError: true}
}
