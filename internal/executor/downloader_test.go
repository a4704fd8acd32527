package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/twmd-batch/internal/domain"
	"github.com/hochfrequenz/twmd-batch/internal/logging"
)

// fakeDownloader writes a shell script standing in for the real downloader
func fakeDownloader(t *testing.T, body string) (binary, workDir string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake downloader needs a POSIX shell")
	}
	workDir = t.TempDir()
	binary = filepath.Join(t.TempDir(), "twmd")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(binary, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return binary, workDir
}

func newTestRunner(binary, workDir string, timeout time.Duration) *Runner {
	return NewRunner(Config{
		Binary:  binary,
		WorkDir: workDir,
		Timeout: timeout,
		Stderr:  &bytes.Buffer{},
		Logger:  logging.Discard(),
	})
}

func TestArgs(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   []string
	}{
		{
			name:   "no login",
			params: Params{Target: "alice"},
			want:   []string{"-B", "--all", "--update", "--user", "alice"},
		},
		{
			name:   "login and retweet only",
			params: Params{Target: "bob", Login: true, RetweetOnly: true},
			want:   []string{"-B", "--login", "--all", "--update", "--retweet-only", "--user", "bob"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Args(tt.params); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Args() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunner_StreamsAndClassifies(t *testing.T) {
	binary, workDir := fakeDownloader(t, `printf '%s\n' "$@" > args.txt
echo "Logged in"
echo "Downloaded pic1.jpg"
echo "pic2.jpg already exists"
echo "error"
echo "Downloaded pic3.jpg"`)

	var seen []string
	runner := newTestRunner(binary, workDir, 5*time.Second)
	result, err := runner.Run(context.Background(), Params{Target: "alice", Login: true}, func(line string, _ domain.Outcome) {
		seen = append(seen, line)
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.TotalLines != 4 || result.Downloaded != 2 || result.Exists != 1 || result.Errors != 1 {
		t.Errorf("unexpected counters: %+v", result)
	}
	if len(seen) != 5 {
		t.Errorf("sink saw %d lines, want 5", len(seen))
	}
	if result.TimedOut {
		t.Error("run should not time out")
	}

	args, err := os.ReadFile(filepath.Join(workDir, "args.txt"))
	if err != nil {
		t.Fatal(err)
	}
	want := "-B\n--login\n--all\n--update\n--user\nalice\n"
	if string(args) != want {
		t.Errorf("downloader args = %q, want %q", args, want)
	}
}

func TestRunner_RateLimitKillsChild(t *testing.T) {
	binary, workDir := fakeDownloader(t, `echo "Downloaded a.jpg"
echo "Rate limit exceeded"
sleep 30
echo "Downloaded late.jpg"`)

	runner := newTestRunner(binary, workDir, 5*time.Second)
	start := time.Now()
	result, err := runner.Run(context.Background(), Params{Target: "alice"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !result.RateLimited() {
		t.Errorf("Terminated = %v, want rate_limited", result.Terminated)
	}
	if result.Downloaded != 1 {
		t.Errorf("Downloaded = %d, want 1 (no lines after the rate limit)", result.Downloaded)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("run took %v, child was not killed", elapsed)
	}
}

func TestRunner_OverlongLineDoesNotStopReading(t *testing.T) {
	binary, workDir := fakeDownloader(t, `echo "Downloaded a.jpg"
head -c 1100000 /dev/zero | tr '\000' 'a'
echo
echo "error"
echo "error"
echo "error"
echo "Rate limit exceeded"
sleep 30`)

	runner := newTestRunner(binary, workDir, 5*time.Second)
	start := time.Now()
	result, err := runner.Run(context.Background(), Params{Target: "alice"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !result.RateLimited() {
		t.Errorf("Terminated = %v, want rate_limited after the long line", result.Terminated)
	}
	if result.Errors != 3 {
		t.Errorf("Errors = %d, want 3", result.Errors)
	}
	// Downloaded, three errors and the rate limit; the long line counts nowhere
	if result.TotalLines != 5 {
		t.Errorf("TotalLines = %d, want 5", result.TotalLines)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("run took %v, child was not killed", elapsed)
	}
}

func TestNextLine(t *testing.T) {
	long := strings.Repeat("x", 40)
	rd := bufio.NewReaderSize(strings.NewReader("one\r\n"+long+"\ntwo\nlast"), 16)

	type read struct {
		line    string
		tooLong bool
	}
	var got []read
	for {
		line, tooLong, err := nextLine(rd)
		if err == nil || len(line) > 0 {
			got = append(got, read{string(line), tooLong})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatal(err)
			}
			break
		}
	}

	want := []read{{"one", false}, {"", true}, {"two", false}, {"last", false}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("lines = %+v, want %+v", got, want)
	}
}

func TestRunner_UserNotFoundStopsReading(t *testing.T) {
	binary, workDir := fakeDownloader(t, `echo "User 'ghost' not found"
echo "garbage after"
sleep 30`)

	runner := newTestRunner(binary, workDir, 5*time.Second)
	result, err := runner.Run(context.Background(), Params{Target: "ghost"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !result.UserNotFound() {
		t.Errorf("Terminated = %v, want user_not_found", result.Terminated)
	}
	if len(result.Abnormal) != 0 {
		t.Errorf("Abnormal = %q, lines after not-found should not be read", result.Abnormal)
	}
}

func TestRunner_TimeoutAfterOutputCloses(t *testing.T) {
	binary, workDir := fakeDownloader(t, `echo "Downloaded a.jpg"
exec 1>&-
sleep 30`)

	runner := newTestRunner(binary, workDir, 200*time.Millisecond)
	result, err := runner.Run(context.Background(), Params{Target: "alice"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !result.TimedOut {
		t.Error("expected TimedOut")
	}
	if result.Downloaded != 1 {
		t.Errorf("partial counters lost: %+v", result)
	}
}

func TestRunner_MaxRun(t *testing.T) {
	binary, workDir := fakeDownloader(t, `echo "Downloaded a.jpg"
sleep 30`)

	runner := NewRunner(Config{
		Binary:  binary,
		WorkDir: workDir,
		Timeout: 5 * time.Second,
		MaxRun:  300 * time.Millisecond,
		Stderr:  &bytes.Buffer{},
		Logger:  logging.Discard(),
	})
	result, err := runner.Run(context.Background(), Params{Target: "alice"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.TimedOut {
		t.Error("expected TimedOut after max run")
	}
}

func TestRunner_SkipsInvalidUTF8(t *testing.T) {
	binary, workDir := fakeDownloader(t, `printf '\377\376 broken\n'
echo "Downloaded a.jpg"`)

	runner := newTestRunner(binary, workDir, 5*time.Second)
	result, err := runner.Run(context.Background(), Params{Target: "alice"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if result.TotalLines != 1 {
		t.Errorf("TotalLines = %d, want 1 (undecodable line counted nowhere)", result.TotalLines)
	}
	if len(result.Abnormal) != 0 {
		t.Errorf("Abnormal = %q, want none", result.Abnormal)
	}
}

func TestRunner_StderrPassThrough(t *testing.T) {
	binary, workDir := fakeDownloader(t, `echo "warning: slow" >&2
echo "Downloaded a.jpg"`)

	var stderr bytes.Buffer
	runner := NewRunner(Config{
		Binary:  binary,
		WorkDir: workDir,
		Timeout: 5 * time.Second,
		Stderr:  &stderr,
		Logger:  logging.Discard(),
	})
	result, err := runner.Run(context.Background(), Params{Target: "alice"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(stderr.String(), "warning: slow") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if result.TotalLines != 1 {
		t.Errorf("stderr lines must not be classified, TotalLines = %d", result.TotalLines)
	}
}

func TestRunner_LaunchFailure(t *testing.T) {
	runner := newTestRunner(filepath.Join(t.TempDir(), "missing"), t.TempDir(), time.Second)

	if _, err := runner.Run(context.Background(), Params{Target: "alice"}, nil); err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestRunner_ContextCancel(t *testing.T) {
	binary, workDir := fakeDownloader(t, `sleep 30`)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	runner := newTestRunner(binary, workDir, 5*time.Second)
	if _, err := runner.Run(ctx, Params{Target: "alice"}, nil); err == nil {
		t.Error("expected context error")
	}
}
