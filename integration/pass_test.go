//go:build integration

package integration

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/twmd-batch/internal/batch"
	"github.com/hochfrequenz/twmd-batch/internal/display"
	"github.com/hochfrequenz/twmd-batch/internal/executor"
	"github.com/hochfrequenz/twmd-batch/internal/logging"
	"github.com/hochfrequenz/twmd-batch/internal/policy"
	"github.com/hochfrequenz/twmd-batch/internal/runstore"
	"github.com/hochfrequenz/twmd-batch/internal/sentinel"
)

type noPacer struct{}

func (noPacer) Wait(ctx context.Context, d time.Duration) error { return ctx.Err() }

// TestPassFlow runs the real engine, runner and driver against the fake
// downloader and checks the marker files two passes leave behind
func TestPassFlow(t *testing.T) {
	RequireShell(t)
	workDir := MakeWorkDir(t, "alice", "bob", "ghost", "carol")
	binary := WriteFakeDownloader(t)
	logger := logging.Discard()

	history, err := runstore.New(TempDBPath(t))
	if err != nil {
		t.Fatal(err)
	}
	defer history.Close()

	runner := executor.NewRunner(executor.Config{
		Binary:  binary,
		WorkDir: workDir,
		Timeout: 5 * time.Second,
		Logger:  logger,
	})
	engine := policy.New(sentinel.New(workDir), runner, policy.Options{}, logger)

	var out bytes.Buffer
	driver := batch.NewDriver(engine, display.New(&out, false), batch.Options{
		Dir:      workDir,
		SkipDirs: []string{"script"},
		Interval: time.Second,
		Cooldown: time.Minute,
	}, batch.WithPacer(noPacer{}), batch.WithRecorder(history), batch.WithLogger(logger))

	report, err := driver.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v\n%s", err, out.String())
	}

	if report.Ran != 4 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
	if len(report.PermaSkipped) != 1 || report.PermaSkipped[0] != "ghost" {
		t.Errorf("PermaSkipped = %v", report.PermaSkipped)
	}

	checks := []struct {
		user, flag string
		want       bool
	}{
		{"alice", ".skip", true},
		{"alice", ".login", false},
		{"carol", ".skip", true},
		{"ghost", ".perm_skip", true},
		{"ghost", ".abnormal", false},
		{"bob", ".login", true},
		{"bob", ".abnormal", true},
		{"bob", ".skip", false},
		{"script", ".skip", false},
	}
	for _, c := range checks {
		if got := HasFlag(workDir, c.user, c.flag); got != c.want {
			t.Errorf("%s/%s present = %v, want %v", c.user, c.flag, got, c.want)
		}
	}

	abnormal, err := os.ReadFile(filepath.Join(workDir, "bob", ".abnormal"))
	if err != nil {
		t.Fatal(err)
	}
	if string(abnormal) != "unexpected banner\n" {
		t.Errorf(".abnormal = %q", abnormal)
	}
	if _, err := os.Stat(filepath.Join(workDir, "alice", "img")); err != nil {
		t.Errorf("media dir not prepared: %v", err)
	}

	// second pass: only bob is due
	if _, err := driver.RunPass(context.Background()); err != nil {
		t.Fatal(err)
	}
	calls := Calls(t, workDir)
	if len(calls) != 5 {
		t.Fatalf("calls = %d, want 5:\n%s", len(calls), strings.Join(calls, "\n"))
	}
	if last := calls[4]; !strings.Contains(last, "--user bob") || !strings.Contains(last, "--login") {
		t.Errorf("second pass call = %q", last)
	}

	runs, err := history.List(runstore.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 5 {
		t.Errorf("history rows = %d, want 5", len(runs))
	}
}
