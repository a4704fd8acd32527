// Package display renders operator-facing progress on the terminal.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/hochfrequenz/twmd-batch/internal/domain"
)

// clearLine moves the cursor to column 0 and erases the line
const clearLine = "\x1b[0G\x1b[2K"

// Printer writes progress output. It is not safe for concurrent use; the
// batch driver is its only caller.
type Printer struct {
	w     io.Writer
	tty   bool
	dirty bool // a redrawn line is pending its newline

	header lipgloss.Style
	info   lipgloss.Style
	warn   lipgloss.Style
	bad    lipgloss.Style
	good   lipgloss.Style
	subtle lipgloss.Style
}

// New creates a Printer. Line redraw is only used when tty is true.
func New(w io.Writer, tty bool) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:      w,
		tty:    tty,
		header: r.NewStyle().Bold(true),
		info:   r.NewStyle().Foreground(lipgloss.Color("12")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("11")),
		bad:    r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		good:   r.NewStyle().Foreground(lipgloss.Color("10")),
		subtle: r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// Stdout returns a Printer on os.Stdout with terminal detection
func Stdout() *Printer {
	fd := os.Stdout.Fd()
	return New(os.Stdout, isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd))
}

// Line shows one downloader output line, overwriting the previous one on a
// terminal
func (p *Printer) Line(text string) {
	if p.tty {
		fmt.Fprint(p.w, clearLine+text)
		p.dirty = true
		return
	}
	fmt.Fprintln(p.w, p.subtle.Render(text))
}

// EndLine terminates a pending redrawn line
func (p *Printer) EndLine() {
	if p.dirty {
		fmt.Fprintln(p.w)
		p.dirty = false
	}
}

func (p *Printer) println(s string) {
	p.EndLine()
	fmt.Fprintln(p.w, s)
}

// Header announces the target about to be processed
func (p *Printer) Header(index, total int, name string) {
	p.println(p.header.Render(fmt.Sprintf("[%03d/%d] %s", index, total, name)))
}

// Decision reports a pre-run skip
func (p *Printer) Decision(d domain.Decision, tempSkipAge, window time.Duration) {
	switch d {
	case domain.DecisionSkipPermanent:
		p.println(p.info.Render("skipped permanently"))
	case domain.DecisionSkipTemporary:
		p.println(p.info.Render(fmt.Sprintf("skipped, retry in %s", HumanDuration(window-tempSkipAge))))
	}
}

// Launch reports the downloader invocation mode
func (p *Printer) Launch(login, retweetOnly bool) {
	var mode []string
	if login {
		mode = append(mode, "login")
	}
	if retweetOnly {
		mode = append(mode, "retweet-only")
	}
	if len(mode) == 0 {
		return
	}
	p.println(p.subtle.Render("mode: " + strings.Join(mode, ", ")))
}

// Summary prints the counters of a finished run
func (p *Printer) Summary(r domain.RunResult) {
	p.println(fmt.Sprintf("total: %d, downloaded: %d, exists: %d, failed: %d, abnormal: %d (%s)",
		r.TotalLines, r.Downloaded, r.Exists, r.Errors, len(r.Abnormal), HumanDuration(r.Duration)))
	switch {
	case r.UserNotFound():
		p.println(p.bad.Render("user not found"))
	case r.RateLimited():
		p.println(p.bad.Render("rate limit exceeded"))
	}
	if r.TimedOut {
		p.println(p.warn.Render("downloader timed out and was killed"))
	}
}

// Verdict reports the sentinel written after a run
func (p *Printer) Verdict(v domain.Verdict) {
	switch v {
	case domain.VerdictPermaSkip:
		p.println(p.bad.Render("wrote " + string(domain.FlagPermaSkip)))
	case domain.VerdictTempSkip:
		p.println(p.good.Render("wrote " + string(domain.FlagTempSkip)))
	case domain.VerdictNeedsLogin, domain.VerdictEmptyRun:
		p.println(p.warn.Render("wrote " + string(domain.FlagNeedsLogin)))
	case domain.VerdictRetryNextRun:
		p.println(p.subtle.Render("no sentinel written, retrying next pass"))
	}
}

// Error reports a per-target failure
func (p *Printer) Error(err error) {
	p.println(p.bad.Render(err.Error()))
}

// Cooldown announces a pause before the next target
func (p *Printer) Cooldown(d time.Duration, rateLimited bool) {
	if rateLimited {
		p.println(p.warn.Render(fmt.Sprintf("rate limited, cooling down for %s", HumanDuration(d))))
		return
	}
	p.println(p.subtle.Render(fmt.Sprintf("sleeping %s", HumanDuration(d))))
}

// PassSummary prints the aggregate report of one pass
func (p *Printer) PassSummary(ran, skipped, failed int, permaSkipped []string) {
	p.println(p.header.Render(fmt.Sprintf("pass complete: %d run, %d skipped, %d failed", ran, skipped, failed)))
	if len(permaSkipped) == 0 {
		return
	}
	p.println(p.bad.Render(fmt.Sprintf("permanently skipped this pass (%d):", len(permaSkipped))))
	for _, name := range permaSkipped {
		p.println("  - " + name)
	}
}

// HumanDuration formats d as whole seconds, minutes or hours
func HumanDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm", secs/60)
	default:
		return fmt.Sprintf("%dh", secs/3600)
	}
}
