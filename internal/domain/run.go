package domain

import "time"

// Target is one user directory processed by a batch pass
type Target struct {
	Name string
	Dir  string // absolute path of the target directory
}

// RunResult aggregates one downloader invocation
type RunResult struct {
	TotalLines int // starts at -1 when a login banner is expected
	Downloaded int
	Exists     int
	Errors     int
	Abnormal   []string

	// Terminated is set when the run was cut short by a terminating line
	Terminated Outcome
	TimedOut   bool
	Duration   time.Duration
}

// Clone returns a deep copy of the result
func (r RunResult) Clone() RunResult {
	out := r
	if r.Abnormal != nil {
		out.Abnormal = append([]string(nil), r.Abnormal...)
	}
	return out
}

// RateLimited reports whether the run hit the downloader's rate limit
func (r RunResult) RateLimited() bool {
	return r.Terminated == OutcomeRateLimited
}

// UserNotFound reports whether the downloader could not find the user
func (r RunResult) UserNotFound() bool {
	return r.Terminated == OutcomeUserNotFound
}

// Report is what the decision engine hands back to the driver for one target
type Report struct {
	Target      Target
	Decision    Decision
	TempSkipAge time.Duration // set for DecisionSkipTemporary
	Login       bool
	RetweetOnly bool
	StartedAt   time.Time
	Result      *RunResult // nil when the target was not run
	Verdict     Verdict
	Err         error
}

// Ran reports whether the downloader produced a result for the target
func (r Report) Ran() bool {
	return r.Result != nil
}
