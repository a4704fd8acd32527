// Package policy decides per target whether the downloader runs, how it is
// invoked, and which sentinels the outcome leaves behind.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/twmd-batch/internal/domain"
	"github.com/hochfrequenz/twmd-batch/internal/executor"
	"github.com/hochfrequenz/twmd-batch/internal/sentinel"
)

// DefaultTempSkipWindow is how long a successful run rests a target
const DefaultTempSkipWindow = 24 * time.Hour

// mediaDirs are created inside every target before the downloader runs
var mediaDirs = []string{"img", "video"}

// Store is the sentinel persistence the engine needs
type Store interface {
	Exists(target string, flag domain.Flag) (bool, error)
	Age(target string, flag domain.Flag) (time.Duration, error)
	Set(target string, flag domain.Flag) error
	WriteLines(target string, artifact domain.Artifact, lines []string) error
}

// Runner executes the downloader
type Runner interface {
	Run(ctx context.Context, p executor.Params, sink executor.LineSink) (domain.RunResult, error)
}

// Options tune the engine
type Options struct {
	NoLogin        bool // do not log in unless the target demands it
	IgnoreTempSkip bool
	TempSkipWindow time.Duration
}

// Engine applies the run-state machine to one target at a time
type Engine struct {
	store  Store
	runner Runner
	opts   Options
	logger *slog.Logger
}

// New creates an Engine
func New(store Store, runner Runner, opts Options, logger *slog.Logger) *Engine {
	if opts.TempSkipWindow <= 0 {
		opts.TempSkipWindow = DefaultTempSkipWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, runner: runner, opts: opts, logger: logger.With("component", "policy")}
}

// Window returns the temporary skip window in effect
func (e *Engine) Window() time.Duration {
	return e.opts.TempSkipWindow
}

// Gate decides whether target runs this pass. For a temporary skip the age
// of the skip flag is returned as well.
func (e *Engine) Gate(target string) (domain.Decision, time.Duration, error) {
	perm, err := e.store.Exists(target, domain.FlagPermaSkip)
	if err != nil {
		return "", 0, err
	}
	if perm {
		return domain.DecisionSkipPermanent, 0, nil
	}

	if !e.opts.IgnoreTempSkip {
		age, err := e.store.Age(target, domain.FlagTempSkip)
		switch {
		case err == nil:
			if age < e.opts.TempSkipWindow {
				return domain.DecisionSkipTemporary, age, nil
			}
		case !errors.Is(err, sentinel.ErrNotFound):
			return "", 0, err
		}
	}

	return domain.DecisionRun, 0, nil
}

// Params derives the downloader invocation for target from its flags
func (e *Engine) Params(target string) (executor.Params, error) {
	p := executor.Params{Target: target, Login: !e.opts.NoLogin}

	if !p.Login {
		forced, err := e.store.Exists(target, domain.FlagNeedsLogin)
		if err != nil {
			return p, err
		}
		p.Login = forced
	}

	retweetOnly, err := e.store.Exists(target, domain.FlagRetweetOnly)
	if err != nil {
		return p, err
	}
	p.RetweetOnly = retweetOnly
	return p, nil
}

// Apply writes the sentinels that follow a finished run. A not-found user
// is disabled for good. Otherwise the error ratio picks between resting the
// target, forcing a login next time, or retrying unchanged. Abnormal lines
// are kept regardless.
func (e *Engine) Apply(target string, result domain.RunResult) (domain.Verdict, error) {
	if result.UserNotFound() {
		if err := e.set(target, domain.FlagPermaSkip); err != nil {
			return domain.VerdictNone, err
		}
		return domain.VerdictPermaSkip, nil
	}

	var verdict domain.Verdict
	var errs []error

	switch {
	case result.TotalLines <= 0:
		verdict = domain.VerdictEmptyRun
		errs = append(errs, e.set(target, domain.FlagNeedsLogin))
	case result.Errors*10 <= result.TotalLines:
		verdict = domain.VerdictTempSkip
		errs = append(errs, e.set(target, domain.FlagTempSkip))
	case result.Errors*3 >= result.TotalLines:
		verdict = domain.VerdictNeedsLogin
		errs = append(errs, e.set(target, domain.FlagNeedsLogin))
	default:
		verdict = domain.VerdictRetryNextRun
	}

	if len(result.Abnormal) > 0 {
		if err := e.store.WriteLines(target, domain.ArtifactAbnormal, result.Abnormal); err != nil {
			errs = append(errs, err)
		} else {
			e.logger.Info("recorded abnormal output", "target", target, "lines", len(result.Abnormal))
		}
	}

	return verdict, errors.Join(errs...)
}

func (e *Engine) set(target string, flag domain.Flag) error {
	if err := e.store.Set(target, flag); err != nil {
		return err
	}
	e.logger.Info("sentinel written", "target", target, "flag", string(flag))
	return nil
}

// Process runs the full state machine for one target. sink receives the
// downloader output as it streams. Failures of any step are reported in
// Report.Err; the fields filled before the failure stay set.
func (e *Engine) Process(ctx context.Context, t domain.Target, sink executor.LineSink) domain.Report {
	report := domain.Report{Target: t}

	decision, age, err := e.Gate(t.Name)
	if err != nil {
		report.Err = fmt.Errorf("checking sentinels: %w", err)
		return report
	}
	report.Decision = decision
	report.TempSkipAge = age
	if decision != domain.DecisionRun {
		return report
	}

	if err := prepare(t.Dir); err != nil {
		report.Err = err
		return report
	}

	params, err := e.Params(t.Name)
	if err != nil {
		report.Err = fmt.Errorf("checking sentinels: %w", err)
		return report
	}
	report.Login = params.Login
	report.RetweetOnly = params.RetweetOnly
	report.StartedAt = time.Now()

	result, err := e.runner.Run(ctx, params, sink)
	if err != nil {
		report.Err = fmt.Errorf("running downloader: %w", err)
		return report
	}
	report.Result = &result

	report.Verdict, err = e.Apply(t.Name, result)
	if err != nil {
		report.Err = fmt.Errorf("writing sentinels: %w", err)
	}
	return report
}

// prepare creates the media directories of a target
func prepare(dir string) error {
	for _, sub := range mediaDirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return fmt.Errorf("creating %s: %w", sub, err)
		}
	}
	return nil
}
