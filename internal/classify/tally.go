package classify

import (
	"strings"

	"github.com/hochfrequenz/twmd-batch/internal/domain"
)

// Tally accumulates the classification of one run's output
type Tally struct {
	target string
	result domain.RunResult
}

// NewTally starts a tally for target. When a login banner is expected the
// line counter starts at -1 so the banner does not count as content.
func NewTally(target string, expectLogin bool) *Tally {
	t := &Tally{target: target}
	if expectLogin {
		t.result.TotalLines = -1
	}
	return t
}

// Observe classifies a raw line and updates the counters
func (t *Tally) Observe(raw string) domain.Outcome {
	line := strings.TrimSpace(raw)
	outcome := Classify(line, t.target)

	t.result.TotalLines++
	switch outcome {
	case domain.OutcomeAlreadyExists:
		t.result.Exists++
	case domain.OutcomeGenericError:
		t.result.Errors++
	case domain.OutcomeDownloaded:
		t.result.Downloaded++
	case domain.OutcomeAbnormal:
		t.result.Abnormal = append(t.result.Abnormal, line)
	case domain.OutcomeUserNotFound, domain.OutcomeRateLimited:
		if t.result.Terminated == domain.OutcomeNone {
			t.result.Terminated = outcome
		}
	}
	return outcome
}

// Result returns a copy of the current counters
func (t *Tally) Result() domain.RunResult {
	return t.result.Clone()
}

// TallyLines runs a full line sequence through a fresh tally
func TallyLines(target string, expectLogin bool, lines []string) domain.RunResult {
	t := NewTally(target, expectLogin)
	for _, line := range lines {
		t.Observe(line)
	}
	return t.Result()
}
