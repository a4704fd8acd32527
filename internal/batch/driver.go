package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hochfrequenz/twmd-batch/internal/display"
	"github.com/hochfrequenz/twmd-batch/internal/domain"
	"github.com/hochfrequenz/twmd-batch/internal/executor"
	"github.com/hochfrequenz/twmd-batch/internal/notify"
)

// Processor runs the per-target state machine
type Processor interface {
	Process(ctx context.Context, t domain.Target, sink executor.LineSink) domain.Report
	Window() time.Duration
}

// Pacer waits between targets
type Pacer interface {
	Wait(ctx context.Context, d time.Duration) error
}

// Recorder stores the history of executed runs
type Recorder interface {
	RecordReport(r domain.Report) error
}

// SleepPacer waits in real time
type SleepPacer struct{}

// Wait blocks for d or until ctx is done
func (SleepPacer) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options configures a Driver
type Options struct {
	Dir      string
	SkipDirs []string
	Shuffle  bool
	Interval time.Duration // pause after every executed target
	Cooldown time.Duration // pause after a rate-limited target
}

// Driver runs batch passes over the targets of a work dir
type Driver struct {
	proc     Processor
	printer  *display.Printer
	opts     Options
	pacer    Pacer
	notifier notify.Notifier
	recorder Recorder
	logger   *slog.Logger

	// cooldownDue is owed by a rate limit on the last target of the
	// previous pass
	cooldownDue time.Duration
}

// Option customises a Driver
type Option func(*Driver)

// WithPacer replaces the real-time pacer
func WithPacer(p Pacer) Option {
	return func(d *Driver) { d.pacer = p }
}

// WithNotifier sets where rate-limit and pass notifications go
func WithNotifier(n notify.Notifier) Option {
	return func(d *Driver) { d.notifier = n }
}

// WithRecorder records every executed run
func WithRecorder(r Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// NewDriver creates a Driver
func NewDriver(proc Processor, printer *display.Printer, opts Options, options ...Option) *Driver {
	d := &Driver{
		proc:     proc,
		printer:  printer,
		opts:     opts,
		pacer:    SleepPacer{},
		notifier: notify.NoopNotifier{},
		logger:   slog.Default(),
	}
	for _, o := range options {
		o(d)
	}
	d.logger = d.logger.With("component", "batch")
	return d
}

// PassReport aggregates one pass over all targets
type PassReport struct {
	StartedAt   time.Time
	Duration    time.Duration
	Total       int
	Ran         int
	Skipped     int // permanently or temporarily skipped
	Failed      int // I/O, launch or sentinel write failures
	RateLimited int
	// PermaSkipped lists targets disabled during this pass
	PermaSkipped []string
	Interrupted  bool
	// CooldownDue is set when the last target was rate limited; the next
	// pass of the same Driver waits it out before its first target
	CooldownDue time.Duration
}

func (p *PassReport) add(r domain.Report) {
	switch {
	case r.Err != nil:
		p.Failed++
	case r.Decision != domain.DecisionRun:
		p.Skipped++
	}
	if !r.Ran() {
		return
	}
	p.Ran++
	if r.Result.RateLimited() {
		p.RateLimited++
	}
	if r.Verdict == domain.VerdictPermaSkip {
		p.PermaSkipped = append(p.PermaSkipped, r.Target.Name)
	}
}

// RunPass processes every target once. Listing failure is returned as an
// error; per-target failures are logged and counted. A cancelled context
// ends the pass early and is reported through the returned error.
func (d *Driver) RunPass(ctx context.Context) (PassReport, error) {
	report := PassReport{StartedAt: time.Now()}

	targets, err := ListTargets(d.opts.Dir, d.opts.SkipDirs, d.opts.Shuffle)
	if err != nil {
		return report, err
	}
	report.Total = len(targets)
	d.logger.Info("pass started", "dir", d.opts.Dir, "targets", len(targets))

	sink := func(line string, _ domain.Outcome) { d.printer.Line(line) }

	var stopErr error
	if d.cooldownDue > 0 && len(targets) > 0 {
		d.printer.Cooldown(d.cooldownDue, true)
		if stopErr = d.pacer.Wait(ctx, d.cooldownDue); stopErr == nil {
			d.cooldownDue = 0
		}
	}

	for i, t := range targets {
		if stopErr == nil {
			stopErr = ctx.Err()
		}
		if stopErr != nil {
			break
		}

		d.printer.Header(i+1, len(targets), t.Name)
		r := d.proc.Process(ctx, t, sink)
		d.printer.EndLine()
		report.add(r)
		d.show(r)
		d.record(r)

		if !r.Ran() {
			continue
		}

		rateLimited := r.Result.RateLimited()
		if rateLimited {
			d.notify(notify.RateLimited(t.Name, display.HumanDuration(d.opts.Cooldown)))
		}
		if i == len(targets)-1 {
			if rateLimited {
				d.cooldownDue = d.opts.Cooldown
				report.CooldownDue = d.opts.Cooldown
			}
			continue
		}

		wait := d.opts.Interval
		if rateLimited {
			wait = d.opts.Cooldown
		}
		d.printer.Cooldown(wait, rateLimited)
		if err := d.pacer.Wait(ctx, wait); err != nil {
			stopErr = err
			break
		}
	}

	report.Interrupted = stopErr != nil
	report.Duration = time.Since(report.StartedAt)
	d.printer.PassSummary(report.Ran, report.Skipped, report.Failed, report.PermaSkipped)
	d.logger.Info("pass finished",
		"ran", report.Ran,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"rate_limited", report.RateLimited,
		"duration", report.Duration)

	if report.Interrupted {
		return report, fmt.Errorf("pass interrupted: %w", stopErr)
	}
	d.notify(notify.PassComplete(report.Ran, report.Skipped, report.Failed, report.PermaSkipped))
	return report, nil
}

func (d *Driver) show(r domain.Report) {
	if r.Decision != domain.DecisionRun && r.Err == nil {
		d.printer.Decision(r.Decision, r.TempSkipAge, d.proc.Window())
		return
	}
	if r.Ran() {
		d.printer.Launch(r.Login, r.RetweetOnly)
		d.printer.Summary(*r.Result)
		d.printer.Verdict(r.Verdict)
	}
	if r.Err != nil {
		d.printer.Error(r.Err)
		d.logger.Error("target failed", "target", r.Target.Name, "error", r.Err)
	}
}

func (d *Driver) record(r domain.Report) {
	if d.recorder == nil || !r.Ran() {
		return
	}
	if err := d.recorder.RecordReport(r); err != nil {
		d.logger.Warn("recording run history", "target", r.Target.Name, "error", err)
	}
}

func (d *Driver) notify(n notify.Notification) {
	if err := d.notifier.Send(n); err != nil {
		d.logger.Warn("sending notification", "title", n.Title, "error", err)
	}
}
