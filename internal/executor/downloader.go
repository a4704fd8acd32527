package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
	"unicode/utf8"

	"github.com/hochfrequenz/twmd-batch/internal/classify"
	"github.com/hochfrequenz/twmd-batch/internal/domain"
)

// DefaultTimeout bounds the wait for the downloader to exit
const DefaultTimeout = 5 * time.Minute

// maxLineBytes is the longest output line that is classified. Longer lines
// are consumed and dropped.
const maxLineBytes = 1024 * 1024

// Params selects how the downloader is invoked for one target
type Params struct {
	Target      string
	Login       bool
	RetweetOnly bool
}

// Args returns the downloader argument list for p
func Args(p Params) []string {
	args := []string{"-B"}
	if p.Login {
		args = append(args, "--login")
	}
	args = append(args, "--all", "--update")
	if p.RetweetOnly {
		args = append(args, "--retweet-only")
	}
	return append(args, "--user", p.Target)
}

// LineSink receives every decoded output line with its classification
type LineSink func(line string, outcome domain.Outcome)

// Config configures the downloader runner
type Config struct {
	Binary  string
	WorkDir string        // child working directory, the batch root
	Timeout time.Duration // bound on waiting for exit once output closes
	MaxRun  time.Duration // ceiling for a whole run, zero disables
	Stderr  io.Writer     // defaults to os.Stderr
	Logger  *slog.Logger
}

// Runner launches the downloader and classifies its output as it streams
type Runner struct {
	config Config
	logger *slog.Logger
}

// NewRunner creates a Runner
func NewRunner(config Config) *Runner {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Stderr == nil {
		config.Stderr = os.Stderr
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Runner{config: config, logger: logger.With("component", "executor")}
}

// Run executes the downloader for one target. The returned error is non-nil
// only when the child could not be started or ctx was cancelled; early
// termination and timeouts are reported through the result.
func (r *Runner) Run(ctx context.Context, p Params, sink LineSink) (domain.RunResult, error) {
	start := time.Now()

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.config.MaxRun > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.config.MaxRun)
	}
	defer cancel()

	args := Args(p)
	cmd := exec.CommandContext(runCtx, r.config.Binary, args...)
	cmd.Dir = r.config.WorkDir
	cmd.Stderr = r.config.Stderr
	cmd.WaitDelay = time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return domain.RunResult{}, fmt.Errorf("starting %s: %w", r.config.Binary, err)
	}
	r.logger.Debug("downloader started", "target", p.Target, "pid", cmd.Process.Pid, "args", args)

	// a killed child can leave grandchildren holding the pipe open
	stop := context.AfterFunc(runCtx, func() { stdout.Close() })
	defer stop()

	tally := classify.NewTally(p.Target, p.Login)
	rd := bufio.NewReaderSize(stdout, maxLineBytes)

	terminated := false
	for {
		raw, tooLong, err := nextLine(rd)
		switch {
		case tooLong:
			r.logger.Debug("dropping over-long line", "target", p.Target, "max_bytes", maxLineBytes)
		case err != nil && len(raw) == 0:
		case !utf8.Valid(raw):
			r.logger.Debug("dropping undecodable line", "target", p.Target, "bytes", len(raw))
		default:
			line := string(raw)
			outcome := tally.Observe(line)
			if sink != nil {
				sink(line, outcome)
			}
			if outcome.Terminates() {
				r.kill(cmd, p.Target, outcome.String())
				terminated = true
			}
		}
		if terminated {
			break
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && runCtx.Err() == nil {
				r.logger.Warn("reading downloader output", "target", p.Target, "error", err)
				// keep the pipe drained so the child cannot block on a full buffer
				io.Copy(io.Discard, stdout)
			}
			break
		}
	}

	result := tally.Result()
	timedOut, waitErr := r.wait(cmd, p.Target)
	result.TimedOut = timedOut
	result.Duration = time.Since(start)

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("downloader exceeded max run time", "target", p.Target, "max_run", r.config.MaxRun)
		result.TimedOut = true
	}

	if waitErr != nil && !terminated && !result.TimedOut {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			r.logger.Info("downloader exited with error", "target", p.Target, "code", exitErr.ExitCode())
		} else {
			r.logger.Warn("waiting for downloader", "target", p.Target, "error", waitErr)
		}
	}
	return result, nil
}

// wait reaps the child, killing it if it does not exit within the timeout
func (r *Runner) wait(cmd *exec.Cmd, target string) (bool, error) {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(r.config.Timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return false, err
	case <-timer.C:
		r.logger.Warn("downloader did not exit in time, killing", "target", target, "timeout", r.config.Timeout)
		r.kill(cmd, target, "timeout")
		return true, <-done
	}
}

// kill terminates the child. The child may already be gone, so failure is
// only logged.
func (r *Runner) kill(cmd *exec.Cmd, target, reason string) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.logger.Warn("failed to kill downloader", "target", target, "reason", reason, "error", err)
		return
	}
	r.logger.Debug("downloader killed", "target", target, "reason", reason)
}

// nextLine reads one output line without its terminator. A line that does
// not fit the reader buffer is consumed up to its newline and reported with
// tooLong set so reading can continue after it.
func nextLine(rd *bufio.Reader) (line []byte, tooLong bool, err error) {
	line, err = rd.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = rd.ReadSlice('\n')
		}
		return nil, true, err
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r")), false, err
}
