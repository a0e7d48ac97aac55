package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/tradegate/internal/config"
	"github.com/harun/tradegate/internal/logger"
	"github.com/harun/tradegate/internal/metrics"
	"github.com/harun/tradegate/internal/observability"
	"github.com/harun/tradegate/internal/tracing"
	"github.com/harun/tradegate/pkg/broker"
	"github.com/harun/tradegate/pkg/freshness"
	"github.com/harun/tradegate/pkg/httpapi"
	"github.com/harun/tradegate/pkg/llm"
	"github.com/harun/tradegate/pkg/mcp"
	"github.com/harun/tradegate/pkg/persist"
	"github.com/harun/tradegate/pkg/query"
	"github.com/harun/tradegate/pkg/schema"
	"github.com/harun/tradegate/pkg/scripts"
	"github.com/harun/tradegate/pkg/store"
	"github.com/harun/tradegate/pkg/toolexecutor"
	"github.com/harun/tradegate/pkg/tools"
	"github.com/harun/tradegate/pkg/warmup"
)

const shutdownTimeout = 10 * time.Second

// Daemon owns every long-lived component of a tradegate process
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	log    zerolog.Logger

	// Stores
	market  *store.Pool
	private *store.Pool

	// Core modules
	metrics     *metrics.Metrics
	audit       *observability.AuditLogger
	tokens      *broker.TokenManager
	coordinator *freshness.Coordinator
	catalog     *scripts.Catalog
	executor    *toolexecutor.ToolExecutor

	// Services
	mcpServer  *mcp.Server
	httpServer *httpapi.Server
	watcher    *scripts.Watcher
	scheduler  *warmup.Scheduler

	// Pipe transport
	stdin     io.Reader
	stdout    io.Writer
	stdioDone chan struct{}
	stdioErr  error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	fs afero.Fs

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Option customizes a Daemon
type Option func(*Daemon)

// WithStdio replaces os.Stdin and os.Stdout as the pipe transport carrier
func WithStdio(r io.Reader, w io.Writer) Option {
	return func(d *Daemon) {
		d.stdin = r
		d.stdout = w
	}
}

// WithFs replaces the filesystem the script manifest is read from
func WithFs(fs afero.Fs) Option {
	return func(d *Daemon) {
		d.fs = fs
	}
}

// New connects the stores and builds every component. Nothing listens
// until Start.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config:    cfg,
		logger:    log,
		log:       log.GetZerolog().With().Str("component", "daemon").Logger(),
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stdioDone: make(chan struct{}),
		ctx:       dctx,
		cancel:    cancel,
		fs:        afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := tracing.InitOpenTelemetry(tracingOptions(cfg)); err != nil {
		d.log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without spans")
	} else {
		d.tracingEnabled = true
	}

	if err := d.initializeCoreModules(ctx); err != nil {
		d.close()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}
	if err := d.initializeServices(); err != nil {
		d.close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.log.Debug().
		Str("transport", cfg.Transport.Mode).
		Str("db", cfg.Database.Driver).
		Bool("allowWrite", cfg.Broker.AllowWrite).
		Int("tools", d.executor.GetToolCount()).
		Msg("startup.config")

	return d, nil
}

// tracingOptions describes this process on every span
func tracingOptions(cfg *config.Config) tracing.Options {
	return tracing.Options{
		ServiceName: "tradegate",
		Version:     mcp.ServerVersion,
		Attributes: []attribute.KeyValue{
			attribute.String("tradegate.transport", cfg.Transport.Mode),
			attribute.String("tradegate.store.driver", cfg.Database.Driver),
			attribute.String("tradegate.broker.base_url", cfg.Broker.BaseURL),
			attribute.Bool("tradegate.write_enabled", cfg.Broker.AllowWrite),
		},
	}
}

func (d *Daemon) initializeCoreModules(ctx context.Context) error {
	cfg := d.config
	zl := d.logger.GetZerolog()

	d.metrics = metrics.NewMetrics()

	// Stores
	var err error
	d.market, err = store.Open(ctx, "market", cfg.Database.MarketStore(), zl, d.metrics)
	if err != nil {
		return fmt.Errorf("market store: %w", err)
	}
	d.private, err = store.Open(ctx, "private", cfg.Database.PrivateStore(), zl, d.metrics)
	if err != nil {
		return fmt.Errorf("private store: %w", err)
	}
	if cfg.Database.Migrate {
		if err := d.market.Migrate(ctx, schema.Market); err != nil {
			return err
		}
		if err := d.private.Migrate(ctx, schema.Private); err != nil {
			return err
		}
		d.log.Info().Msg("Store migrations applied")
	}

	// Broker
	httpClient := &http.Client{Timeout: cfg.Broker.Timeout()}
	d.tokens = broker.NewTokenManager(broker.TokenConfig{
		TokenURL:     cfg.Broker.TokenURL,
		ClientID:     cfg.Broker.ClientID,
		RefreshToken: cfg.Broker.RefreshToken,
		HTTPClient:   httpClient,
		Logger:       zl,
		Metrics:      d.metrics,
	})
	client := broker.NewClient(broker.Config{
		BaseURL:    cfg.Broker.BaseURL,
		HTTPClient: httpClient,
		Tokens:     d.tokens,
		Logger:     zl,
		Metrics:    d.metrics,
	})

	// Freshness
	snapshots := persist.New(d.market, d.private, zl)
	d.coordinator = freshness.New(zl, freshness.WithMetrics(d.metrics))
	if err := tools.RegisterResources(d.coordinator, snapshots, client); err != nil {
		return err
	}

	// External computation
	d.catalog, err = scripts.NewCatalog(d.fs, cfg.Scripts.Manifest, zl)
	if err != nil {
		return err
	}
	var runner scripts.Runner
	if cfg.Scripts.Runner != "" {
		pr, err := scripts.NewProcessRunner(scripts.ProcessConfig{
			Command: cfg.Scripts.Runner,
			Dir:     cfg.Scripts.Dir,
			Timeout: time.Duration(cfg.Scripts.TimeoutSeconds) * time.Second,
			Logger:  zl,
		})
		if err != nil {
			return err
		}
		runner = pr
	}

	// Tools
	if cfg.Tools.AuditFile != "" {
		d.audit, err = observability.OpenAuditLog(cfg.Tools.AuditFile)
		if err != nil {
			return err
		}
	}
	d.executor = toolexecutor.New(toolexecutor.Config{
		Logger:     zl,
		Metrics:    d.metrics,
		AllowWrite: cfg.Broker.AllowWrite,
		Policy:     &cfg.Tools.Policy,
		Timeout:    time.Duration(cfg.Tools.TimeoutSeconds) * time.Second,
		Redactor:   d.logger.Redactor(),
		Audit:      d.audit,
	})
	embedder, generator := d.oracles()
	return tools.Register(d.executor, tools.Deps{
		Market:      query.NewEngine(schema.MarketTables, d.market, d.market.Dialect(), query.WithMaxLimit(cfg.Query.MaxLimit)),
		Private:     query.NewEngine(schema.PrivateTables, d.private, d.private.Dialect(), query.WithMaxLimit(cfg.Query.MaxLimit)),
		MarketDB:    d.market,
		PrivateDB:   d.private,
		Store:       snapshots,
		Coordinator: d.coordinator,
		Broker:      client,
		Runner:      runner,
		Catalog:     d.catalog,
		Embedder:    embedder,
		Generator:   generator,
		Logger:      zl,
	})
}

// oracles composes the local Ollama models with the hosted fallbacks that have keys
func (d *Daemon) oracles() (llm.Embedder, llm.Generator) {
	cfg := d.config.LLM
	zl := d.logger.GetZerolog()

	var embedder llm.Embedder
	var generator llm.Generator
	if cfg.OllamaBaseURL != "" {
		ollama := llm.NewOllama(llm.OllamaConfig{
			BaseURL:    cfg.OllamaBaseURL,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
		})
		embedder, generator = ollama, ollama
	}
	if cfg.OpenAIAPIKey != "" {
		embedder = llm.EmbedderWithFallback(embedder, llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIEmbedModel, ""), zl)
	}
	if cfg.AnthropicAPIKey != "" {
		generator = llm.GeneratorWithFallback(generator, llm.NewAnthropicGenerator(cfg.AnthropicAPIKey, cfg.AnthropicModel, ""), zl)
	}
	return embedder, generator
}

func (d *Daemon) initializeServices() error {
	cfg := d.config
	zl := d.logger.GetZerolog()

	var err error
	d.mcpServer, err = mcp.NewServer(mcp.Config{Tools: d.executor, Logger: zl})
	if err != nil {
		return err
	}

	if cfg.Transport.Port != 0 {
		d.httpServer, err = httpapi.NewServer(httpapi.Config{
			Addr:      cfg.Transport.Addr(),
			Token:     cfg.Transport.Token,
			RateLimit: cfg.Transport.RateLimit,
			Tools:     d.executor,
			MCP:       d.mcpServer,
			MarketDB:  d.market,
			PrivateDB: d.private,
			Metrics:   d.metrics,
			Logger:    zl,
		})
		if err != nil {
			return err
		}
	}

	if cfg.Scripts.Watch && d.catalog.Path() != "" {
		d.watcher, err = scripts.NewWatcher(d.catalog, scripts.WatcherConfig{Logger: zl})
		if err != nil {
			return err
		}
	}

	if len(cfg.Warmup) > 0 {
		d.scheduler, err = warmup.New(d.coordinator, cfg.Warmup, zl)
		if err != nil {
			return err
		}
	}

	return nil
}

// Start starts every service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	log := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Str("version", mcp.ServerVersion).Msg("Starting tradegate")

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to watch script manifest")
		}
	}

	if d.httpServer != nil {
		if err := d.httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start http server: %w", err)
		}
	}

	if d.scheduler != nil {
		d.scheduler.Start()
	}

	if d.config.Transport.Mode == config.TransportStdio {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer close(d.stdioDone)
			d.stdioErr = d.mcpServer.Serve(d.ctx, d.stdin, d.stdout)
			if d.stdioErr != nil && !errors.Is(d.stdioErr, context.Canceled) {
				log.Error().Err(d.stdioErr).Msg("mcp.transport.error")
			}
		}()
	}

	log.Info().Msg("tradegate started")
	return nil
}

// Done is closed when the pipe transport ends. It never closes in http mode.
func (d *Daemon) Done() <-chan struct{} {
	if d.config.Transport.Mode != config.TransportStdio {
		return nil
	}
	return d.stdioDone
}

// Stop stops every service and closes the stores
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	log := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Stopping tradegate")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	d.cancel()

	if d.httpServer != nil {
		if err := d.httpServer.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to stop http server")
		}
	}

	if d.scheduler != nil {
		d.scheduler.Stop(ctx)
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop manifest watcher")
		}
	}

	d.wg.Wait()
	d.close()

	log.Info().Msg("tradegate stopped")
	return nil
}

func (d *Daemon) close() {
	d.cancel()
	if d.market != nil {
		if err := d.market.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close market store")
		}
	}
	if d.private != nil {
		if err := d.private.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close private store")
		}
	}
	if err := d.audit.Close(); err != nil {
		d.log.Error().Err(err).Msg("Failed to close audit log")
	}
	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			d.log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}
}

// Status represents the daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until ctx is done or the pipe transport ends, then stops the daemon
func (d *Daemon) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		d.log.Info().Msg("Received shutdown signal")
	case <-d.Done():
		d.log.Info().Msg("Pipe transport closed")
	}
	return d.Stop()
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetToolExecutor returns the tool executor
func (d *Daemon) GetToolExecutor() *toolexecutor.ToolExecutor {
	return d.executor
}

// GetHTTPHandler returns the HTTP surface, nil when it is disabled
func (d *Daemon) GetHTTPHandler() http.Handler {
	if d.httpServer == nil {
		return nil
	}
	return d.httpServer.Handler()
}
