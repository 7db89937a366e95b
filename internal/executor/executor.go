// Package executor runs synthesized commands as subprocesses and walks a
// recommendation's alternatives when the primary fails.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"github.com/nvandessel/skillroute/internal/metrics"
	"github.com/nvandessel/skillroute/internal/models"
)

// Config tunes subprocess execution.
type Config struct {
	// Timeout bounds each subprocess.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the stock executor settings.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// Result captures one subprocess run. Failures to start, tokenize, or
// finish in time are reported in Error with ReturnCode -1.
type Result struct {
	Command    string        `json:"command"`
	ReturnCode int           `json:"return_code"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	Error      string        `json:"error,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// OK reports whether the command ran and exited 0.
func (r Result) OK() bool {
	return r.Error == "" && r.ReturnCode == 0
}

// FallbackResult is the adopted Result plus every attempt made.
type FallbackResult struct {
	Result

	// Attempts lists each run in order, primary first.
	Attempts []Result `json:"attempts"`

	// UsedAlternative is the index of the adopted alternative, or -1 when
	// the primary's result was returned.
	UsedAlternative int `json:"used_alternative"`
}

// Executor runs commands by name from the caller's PATH.
type Executor struct {
	cfg    Config
	logger *zap.Logger
}

// New returns an Executor.
func New(cfg Config, logger *zap.Logger) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, logger: logger.Named("executor")}
}

// Split tokenizes command with shell word rules, falling back to plain
// whitespace splitting when the quoting is malformed.
func Split(command string) []string {
	args, err := shlex.Split(command)
	if err != nil {
		return strings.Fields(command)
	}
	return args
}

// Execute runs command and never returns an error; see Result.
func (e *Executor) Execute(ctx context.Context, command string) Result {
	res := Result{Command: command}
	args := Split(command)
	if len(args) == 0 {
		res.ReturnCode = -1
		res.Error = "empty command"
		metrics.Executions.WithLabelValues("error").Inc()
		return res
	}

	tctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(tctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	metrics.ExecutionDuration.Observe(res.Duration.Seconds())

	var exitErr *exec.ExitError
	switch {
	case errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.ReturnCode = -1
		res.TimedOut = true
		res.Stderr = fmt.Sprintf("Command timed out after %s", e.cfg.Timeout)
		res.Error = "timeout"
		metrics.Executions.WithLabelValues("timeout").Inc()
	case ctx.Err() != nil:
		res.ReturnCode = -1
		res.Error = ctx.Err().Error()
		metrics.Executions.WithLabelValues("error").Inc()
	case err == nil:
		metrics.Executions.WithLabelValues("success").Inc()
	case errors.As(err, &exitErr):
		res.ReturnCode = exitErr.ExitCode()
		metrics.Executions.WithLabelValues("failure").Inc()
	default:
		res.ReturnCode = -1
		res.Error = err.Error()
		metrics.Executions.WithLabelValues("error").Inc()
	}

	e.logger.Debug("command finished",
		zap.String("command", command),
		zap.Int("return_code", res.ReturnCode),
		zap.Duration("duration", res.Duration),
		zap.String("error", res.Error))
	return res
}

// ExecuteWithFallback runs rec's primary command, then each alternative in
// order, adopting the first that runs cleanly and exits 0. If none does,
// the primary's result is returned.
func (e *Executor) ExecuteWithFallback(ctx context.Context, rec models.Recommendation) FallbackResult {
	primary := e.Execute(ctx, rec.Primary.Command)
	out := FallbackResult{Result: primary, Attempts: []Result{primary}, UsedAlternative: -1}
	if primary.OK() {
		return out
	}

	for i, alt := range rec.Alternatives {
		if ctx.Err() != nil {
			break
		}
		res := e.Execute(ctx, alt.Command)
		out.Attempts = append(out.Attempts, res)
		if res.OK() {
			out.Result = res
			out.UsedAlternative = i
			metrics.Fallbacks.Inc()
			e.logger.Info("fell back to alternative",
				zap.String("primary", rec.Primary.Command),
				zap.String("alternative", alt.Command))
			return out
		}
	}
	return out
}
