package scripts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/tradegate/internal/logger"
	"github.com/harun/tradegate/pkg/apperr"
)

// Runner executes a named computation with a JSON payload
type Runner interface {
	Run(ctx context.Context, name string, payload interface{}) (interface{}, error)
}

// ProcessConfig configures a ProcessRunner
type ProcessConfig struct {
	// Command is split on whitespace; the script name is appended as the
	// last argument, e.g. "python3 /app/scripts/run.py".
	Command string
	Dir     string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// ProcessRunner spawns one process per call
type ProcessRunner struct {
	argv    []string
	dir     string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewProcessRunner creates a runner for cfg.Command
func NewProcessRunner(cfg ProcessConfig) (*ProcessRunner, error) {
	argv := strings.Fields(cfg.Command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("script runner command is empty")
	}
	return &ProcessRunner{
		argv:    argv,
		dir:     cfg.Dir,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With().Str("component", "scripts").Logger(),
	}, nil
}

// Run writes payload to the process stdin and decodes its stdout. A non-zero
// exit is an error only when nothing was printed; computations report their
// own failures as JSON.
func (r *ProcessRunner) Run(ctx context.Context, name string, payload interface{}) (interface{}, error) {
	if name == "" {
		return nil, apperr.InvalidRequest("script name is required")
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.InvalidRequest("payload is not serializable: %v", err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	started := time.Now()
	r.logger.Debug().Str("name", name).Interface("payload", logger.Sanitize(payload)).Msg("script.run.start")

	args := append(append([]string{}, r.argv[1:]...), name)
	cmd := exec.CommandContext(ctx, r.argv[0], args...)
	cmd.Dir = r.dir
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	out := bytes.TrimSpace(stdout.Bytes())

	if runErr != nil && len(out) == 0 {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = fmt.Sprintf("script exited with code %d", code)
		}
		r.logger.Error().
			Str("name", name).
			Int("code", code).
			Str("stderr", msg).
			Dur("duration", time.Since(started)).
			Msg("script.run.error")
		return nil, apperr.Execution(msg, runErr)
	}

	if len(out) == 0 {
		out = []byte("{}")
	}
	var result interface{}
	if err := json.Unmarshal(out, &result); err != nil {
		r.logger.Error().Err(err).Str("name", name).Msg("script.run.parse_error")
		return nil, apperr.Execution(fmt.Sprintf("script %s returned invalid JSON", name), err)
	}

	r.logger.Debug().
		Str("name", name).
		Dur("duration", time.Since(started)).
		Str("result", logger.Summarize(result)).
		Msg("script.run.ok")

	return result, nil
}
