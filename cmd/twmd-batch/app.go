package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hochfrequenz/twmd-batch/internal/batch"
	"github.com/hochfrequenz/twmd-batch/internal/config"
	"github.com/hochfrequenz/twmd-batch/internal/display"
	"github.com/hochfrequenz/twmd-batch/internal/executor"
	"github.com/hochfrequenz/twmd-batch/internal/logging"
	"github.com/hochfrequenz/twmd-batch/internal/notify"
	"github.com/hochfrequenz/twmd-batch/internal/policy"
	"github.com/hochfrequenz/twmd-batch/internal/runstore"
	"github.com/hochfrequenz/twmd-batch/internal/sentinel"
)

// app holds what every command needs: the effective configuration and the
// logger built from it
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []io.Closer
}

// loadApp resolves configuration in order: defaults, config file, .env and
// environment, then flags (via override)
func loadApp(override func(*config.Config)) (*app, error) {
	cfg, err := config.LoadWithLocalFallback(configPath)
	if err != nil {
		return nil, err
	}

	// the work dir decides which .env is read, so apply it on both sides
	if workDir != "" {
		cfg.General.WorkDir = config.ExpandPath(workDir)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if workDir != "" {
		cfg.General.WorkDir = config.ExpandPath(workDir)
	}
	if override != nil {
		override(cfg)
	}

	abs, err := filepath.Abs(cfg.General.WorkDir)
	if err != nil {
		return nil, err
	}
	cfg.General.WorkDir = abs

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closer, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	return &app{cfg: cfg, logger: logger, closers: []io.Closer{closer}}, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

func (a *app) store() *sentinel.Store {
	return sentinel.New(a.cfg.General.WorkDir)
}

// driver wires the batch driver: sentinel store, downloader, decision
// engine, notifications and run history
func (a *app) driver(printer *display.Printer, opts ...batch.Option) (*batch.Driver, error) {
	cfg := a.cfg

	runner := executor.NewRunner(executor.Config{
		Binary:  cfg.Downloader.Binary,
		WorkDir: cfg.General.WorkDir,
		Timeout: cfg.Downloader.Timeout.Std(),
		MaxRun:  cfg.Downloader.MaxRun.Std(),
		Logger:  a.logger,
	})

	engine := policy.New(a.store(), runner, policy.Options{
		NoLogin:        cfg.Downloader.NoLogin,
		IgnoreTempSkip: cfg.General.IgnoreTempSkip,
		TempSkipWindow: cfg.Policy.TempSkipWindow.Std(),
	}, a.logger)

	opts = append([]batch.Option{
		batch.WithLogger(a.logger),
		batch.WithNotifier(notify.FromConfig(cfg.Notifications)),
	}, opts...)

	if cfg.History.Enabled {
		history, err := runstore.New(cfg.History.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("opening run history: %w", err)
		}
		a.closers = append(a.closers, history)
		opts = append(opts, batch.WithRecorder(history))
	}

	return batch.NewDriver(engine, printer, batch.Options{
		Dir:      cfg.General.WorkDir,
		SkipDirs: cfg.General.SkipDirs,
		Shuffle:  cfg.General.Shuffle,
		Interval: cfg.Pacing.Interval.Std(),
		Cooldown: cfg.RateLimitCooldown(),
	}, opts...), nil
}
