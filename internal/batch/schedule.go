package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a five-field cron expression or a descriptor such as
// "@every 1h"
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// PassFunc runs one batch pass
type PassFunc func(ctx context.Context) error

// Loop runs passes on a cron schedule and on demand. Passes never overlap:
// triggers arriving while a pass runs collapse into one follow-up pass.
type Loop struct {
	expr    string
	pass    PassFunc
	trigger chan string
	logger  *slog.Logger
}

// NewLoop creates a Loop firing on the cron expression expr
func NewLoop(expr string, pass PassFunc, logger *slog.Logger) (*Loop, error) {
	if _, err := ParseCron(expr); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		expr:    expr,
		pass:    pass,
		trigger: make(chan string, 1),
		logger:  logger.With("component", "schedule"),
	}, nil
}

// Trigger requests a pass. It never blocks; a request made while another is
// pending is dropped.
func (l *Loop) Trigger(reason string) {
	select {
	case l.trigger <- reason:
	default:
		l.logger.Debug("pass already pending", "reason", reason)
	}
}

// NextRun returns the next scheduled time after t
func (l *Loop) NextRun(t time.Time) time.Time {
	sched, err := ParseCron(l.expr)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(t)
}

// Run serves triggers until ctx is done. Pass errors are logged; the loop
// keeps going.
func (l *Loop) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(l.expr, func() { l.Trigger("cron") }); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	l.logger.Info("watching", "cron", l.expr, "next", l.NextRun(time.Now()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-l.trigger:
			l.logger.Info("starting pass", "reason", reason)
			if err := l.pass(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				l.logger.Error("pass failed", "error", err)
			}
			l.logger.Info("pass done", "next", l.NextRun(time.Now()))
		}
	}
}
