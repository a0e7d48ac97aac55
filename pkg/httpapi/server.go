// Package httpapi exposes the tool catalog over HTTP: a JSON call surface,
// the MCP message handling on a websocket, health and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/tradegate/internal/logger"
	"github.com/harun/tradegate/internal/metrics"
	"github.com/harun/tradegate/internal/tracing"
	"github.com/harun/tradegate/pkg/mcp"
	"github.com/harun/tradegate/pkg/toolexecutor"
)

const (
	maxBodySize   = 1 << 20
	pingTimeout   = 2 * time.Second
	shutdownGrace = 5 * time.Second
)

// Pinger reports store liveness
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures a Server
type Config struct {
	Addr      string
	Token     string
	RateLimit int // requests per minute per client IP; zero disables limiting
	Version   string
	Tools     mcp.Dispatcher
	MCP       *mcp.Server
	MarketDB  Pinger
	PrivateDB Pinger
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// Server is the HTTP transport
type Server struct {
	cfg      Config
	engine   *gin.Engine
	server   *http.Server
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	now      func() time.Time
}

// NewServer builds the router
func NewServer(cfg Config) (*Server, error) {
	if cfg.Tools == nil {
		return nil, errors.New("tool dispatcher is required")
	}
	if cfg.Version == "" {
		cfg.Version = mcp.ServerVersion
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:     cfg,
		engine:  gin.New(),
		limiter: NewRateLimiter(cfg.RateLimit, time.Minute),
		logger:  cfg.Logger.With().Str("component", "http").Logger(),
		now:     time.Now,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.engine.GET("/health", s.handleHealth)
	if cfg.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	guarded := s.engine.Group("/", s.limiter.middleware(), bearerAuth(cfg.Token))
	guarded.GET("/tools", s.handleListTools)
	guarded.POST("/tools/:name", s.handleCallTool)
	if cfg.MCP != nil {
		guarded.GET("/mcp", s.handleWebSocket)
	}

	return s, nil
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address in the background
func (s *Server) Start() error {
	if s.cfg.Addr == "" {
		return errors.New("listen address is required")
	}
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("http.listen")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("http.server.error")
		}
	}()
	return nil
}

// Stop gracefully shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	s.logger.Info().Msg("http.stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = tracing.NewTraceID()
		}
		ctx := tracing.WithTraceID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-Id", requestID)

		log := tracing.LoggerFromContext(ctx, s.logger)
		log.Info().Str("method", c.Request.Method).Str("path", c.Request.URL.Path).Msg("http.request")

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.cfg.Metrics.RecordHTTP(c.Request.Method, route, fmt.Sprintf("%d", status))
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(started)).
			Msg("http.response")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	market := ping(ctx, s.cfg.MarketDB)
	private := ping(ctx, s.cfg.PrivateDB)

	status, code := "ok", http.StatusOK
	if !market || !private {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"version": s.cfg.Version,
		"time":    s.now().UTC().Format(time.RFC3339),
		"market":  market,
		"private": private,
	})
}

func ping(ctx context.Context, p Pinger) bool {
	return p != nil && p.Ping(ctx) == nil
}

func (s *Server) handleListTools(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Tools.ListTools())
}

func (s *Server) handleCallTool(c *gin.Context) {
	name := c.Param("name")
	params, err := readParams(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": string(toolexecutor.FailureValidation)})
		return
	}

	ctx := toolexecutor.ContextWithCallInfo(c.Request.Context(), toolexecutor.CallInfo{
		Transport: "http",
		RequestID: tracing.GetTraceID(c.Request.Context()),
	})
	log := tracing.LoggerFromContext(ctx, s.logger).With().Str("tool", name).Logger()
	log.Debug().Interface("args", logger.Sanitize(params)).Msg("http.tool.call")

	switch res := s.cfg.Tools.Execute(ctx, name, params).(type) {
	case toolexecutor.Success:
		log.Info().Str("result", logger.Summarize(res.Output)).Msg("http.tool.ok")
		c.JSON(http.StatusOK, res.Output)
	case toolexecutor.Failure:
		log.Warn().Str("kind", string(res.Kind)).Str("error", res.Message).Msg("http.tool.error")
		body := gin.H{"error": res.Message, "kind": string(res.Kind)}
		if res.Status != 0 {
			body["status"] = res.Status
		}
		c.JSON(StatusFor(res.Kind), body)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unexpected dispatch result"})
	}
}

// StatusFor maps a failure kind to its HTTP status
func StatusFor(kind toolexecutor.FailureKind) int {
	switch kind {
	case toolexecutor.FailureValidation, toolexecutor.FailureInvalidRequest:
		return http.StatusBadRequest
	case toolexecutor.FailureNotFound:
		return http.StatusNotFound
	case toolexecutor.FailureWriteDisabled:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// readParams decodes a JSON object body; an empty body is an empty object
func readParams(body io.Reader) (map[string]interface{}, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body")
	}
	if len(data) > maxBodySize {
		return nil, fmt.Errorf("request body too large")
	}
	params := map[string]interface{}{}
	if len(data) == 0 {
		return params, nil
	}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("request body must be a JSON object")
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return params, nil
}

// handleWebSocket carries MCP messages over a websocket, one message per frame
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("http.ws.upgrade_failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	log := tracing.LoggerFromContext(ctx, s.logger)
	log.Info().Str("ip", c.ClientIP()).Msg("http.ws.connected")

	var (
		writeMu  sync.Mutex
		inFlight sync.WaitGroup
	)
	defer inFlight.Wait()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("http.ws.error")
			}
			cancel()
			log.Info().Msg("http.ws.disconnected")
			return
		}

		inFlight.Add(1)
		go func() {
			defer inFlight.Done()
			resp := s.cfg.MCP.HandleMessage(ctx, message, "websocket")
			if resp == nil {
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.WriteJSON(resp); err != nil {
				log.Error().Err(err).Msg("http.ws.write_failed")
			}
		}()
	}
}
