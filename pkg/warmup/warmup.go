// Package warmup keeps cached broker resources fresh on a cron schedule by
// resolving them through the freshness coordinator ahead of tool calls.
package warmup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/tradegate/pkg/freshness"
)

const defaultJobTimeout = 30 * time.Second

// Job is one scheduled resolution
type Job struct {
	Resource      string `mapstructure:"resource" json:"resource"`
	Schedule      string `mapstructure:"schedule" json:"schedule"` // cron expression or descriptor such as "@every 5m"
	MaxAgeSeconds int    `mapstructure:"max_age_seconds" json:"maxAgeSeconds"`
	ClassCode     string `mapstructure:"class_code" json:"classCode"`
	Ticker        string `mapstructure:"ticker" json:"ticker"`
}

// Name identifies the job in logs
func (j Job) Name() string {
	name := j.Resource
	if j.ClassCode != "" {
		name += ":" + j.ClassCode
	}
	if j.Ticker != "" {
		name += ":" + j.Ticker
	}
	return name
}

// Resolver is the part of the coordinator the scheduler needs
type Resolver interface {
	Resolve(ctx context.Context, req freshness.Request) (freshness.Result, error)
	Kinds() []string
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule checks a cron expression
func ParseSchedule(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("schedule is required")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Validate checks a job against the registered resource kinds
func Validate(job Job, kinds []string) error {
	known := false
	for _, k := range kinds {
		if k == job.Resource {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown warmup resource: %s", job.Resource)
	}
	if job.MaxAgeSeconds < 0 {
		return fmt.Errorf("warmup %s: maxAgeSeconds must not be negative", job.Name())
	}
	if _, err := ParseSchedule(job.Schedule); err != nil {
		return fmt.Errorf("warmup %s: %w", job.Name(), err)
	}
	return nil
}

// Scheduler runs warmup jobs
type Scheduler struct {
	cron     *cron.Cron
	resolver Resolver
	jobs     []Job
	timeout  time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	started bool
}

// New registers every job with a cron runner. Nothing runs until Start.
func New(resolver Resolver, jobs []Job, logger zerolog.Logger) (*Scheduler, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	s := &Scheduler{
		cron:     cron.New(cron.WithParser(parser)),
		resolver: resolver,
		timeout:  defaultJobTimeout,
		logger:   logger.With().Str("component", "warmup").Logger(),
	}

	kinds := resolver.Kinds()
	for _, job := range jobs {
		if err := Validate(job, kinds); err != nil {
			return nil, err
		}
		sched, err := ParseSchedule(job.Schedule)
		if err != nil {
			return nil, fmt.Errorf("warmup %s: %w", job.Name(), err)
		}
		job := job
		s.cron.Schedule(sched, cron.FuncJob(func() {
			s.Run(context.Background(), job)
		}))
		s.jobs = append(s.jobs, job)
	}

	return s, nil
}

// Jobs returns the scheduled jobs
func (s *Scheduler) Jobs() []Job {
	return append([]Job(nil), s.jobs...)
}

// Start begins scheduling
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || len(s.jobs) == 0 {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("warmup.started")
}

// Stop halts scheduling and waits for running jobs
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return
	}

	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.logger.Info().Msg("warmup.stopped")
}

// Run resolves one job now. Failures are logged, never returned.
func (s *Scheduler) Run(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	result, err := s.resolver.Resolve(ctx, freshness.Request{
		Kind:          job.Resource,
		Key:           freshness.Key{ClassCode: job.ClassCode, Ticker: job.Ticker},
		MaxAgeSeconds: job.MaxAgeSeconds,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("job", job.Name()).Msg("warmup.error")
		return
	}
	s.logger.Debug().
		Str("job", job.Name()).
		Str("source", result.Source).
		Int64("age", result.AgeSeconds).
		Dur("duration", time.Since(started)).
		Msg("warmup.ok")
}
