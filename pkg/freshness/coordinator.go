// Package freshness decides per call whether a cached snapshot is fresh
// enough to serve or whether the resource must be refetched from the broker
// and persisted.
package freshness

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/tradegate/internal/metrics"
	"github.com/harun/tradegate/pkg/apperr"
	"github.com/harun/tradegate/pkg/query"
)

const (
	SourceCache  = "cache"
	SourceRemote = "remote"
)

// Key identifies one instance of a resource. Fields unused by a resource are empty.
type Key struct {
	ClassCode string `json:"classCode,omitempty"`
	Ticker    string `json:"ticker,omitempty"`
}

// Snapshot is the most recent persisted copy of a resource
type Snapshot struct {
	Timestamp time.Time
	Data      interface{}
}

// ReadFunc returns the newest snapshot for key, or nil when none exists
type ReadFunc func(ctx context.Context, key Key) (*Snapshot, error)

// FetchFunc retrieves the resource from the broker
type FetchFunc func(ctx context.Context, key Key) (interface{}, error)

// WriteFunc persists freshly fetched data
type WriteFunc func(ctx context.Context, key Key, data interface{}) error

// Resource binds the read, fetch and write steps of one cached resource kind
type Resource struct {
	Kind  string
	Read  ReadFunc
	Fetch FetchFunc
	Write WriteFunc
}

// Request asks for a resource no older than MaxAgeSeconds.
// MaxAgeSeconds == 0 always goes to the broker.
type Request struct {
	Kind          string
	Key           Key
	MaxAgeSeconds int
	SkipPersist   bool
}

// Result is the resolved payload and where it came from
type Result struct {
	Source     string      `json:"source"`
	AgeSeconds int64       `json:"ageSeconds"`
	Data       interface{} `json:"data"`
}

// Coordinator resolves registered resources
type Coordinator struct {
	mu        sync.RWMutex
	resources map[string]Resource
	now       func() time.Time
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock overrides the clock used for snapshot ages
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithMetrics records cache/remote outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New creates a coordinator
func New(logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		resources: make(map[string]Resource),
		now:       time.Now,
		logger:    logger.With().Str("component", "freshness").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a resource kind
func (c *Coordinator) Register(r Resource) error {
	if r.Kind == "" {
		return fmt.Errorf("resource kind cannot be empty")
	}
	if r.Read == nil || r.Fetch == nil || r.Write == nil {
		return fmt.Errorf("resource %s requires read, fetch and write", r.Kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.resources[r.Kind]; exists {
		return fmt.Errorf("resource %s already registered", r.Kind)
	}
	c.resources[r.Kind] = r
	return nil
}

// Kinds returns the registered resource kinds, sorted
func (c *Coordinator) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]string, 0, len(c.resources))
	for k := range c.resources {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Resolve serves req from the newest snapshot when it is young enough and
// otherwise fetches, persists and returns fresh data.
func (c *Coordinator) Resolve(ctx context.Context, req Request) (Result, error) {
	c.mu.RLock()
	r, ok := c.resources[req.Kind]
	c.mu.RUnlock()
	if !ok {
		return Result{}, apperr.InvalidRequest("unknown resource: %s", req.Kind)
	}

	logger := c.logger.With().Str("resource", req.Kind).Logger()

	if req.MaxAgeSeconds > 0 {
		snap, err := r.Read(ctx, req.Key)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindExecution {
				err = apperr.Store(fmt.Sprintf("failed to read %s snapshot", req.Kind), err)
			}
			return Result{}, err
		}
		if snap != nil && !snap.Timestamp.IsZero() {
			age := query.AgeSeconds(c.now(), snap.Timestamp)
			if age <= int64(req.MaxAgeSeconds) {
				c.metrics.RecordFreshness(req.Kind, SourceCache)
				logger.Debug().Int64("ageSeconds", age).Msg("freshness.cache.hit")
				return Result{Source: SourceCache, AgeSeconds: age, Data: snap.Data}, nil
			}
			logger.Debug().Int64("ageSeconds", age).Int("maxAgeSeconds", req.MaxAgeSeconds).Msg("freshness.cache.stale")
		}
	}

	data, err := r.Fetch(ctx, req.Key)
	if err != nil {
		return Result{}, err
	}
	c.metrics.RecordFreshness(req.Kind, SourceRemote)

	if !req.SkipPersist {
		if err := r.Write(ctx, req.Key, data); err != nil {
			logger.Error().Err(err).Msg("freshness.persist.error")
		}
	}

	return Result{Source: SourceRemote, AgeSeconds: 0, Data: data}, nil
}
