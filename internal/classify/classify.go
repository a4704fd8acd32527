// Package classify turns downloader output lines into outcomes and keeps
// the running tally for one run.
package classify

import (
	"fmt"
	"strings"

	"github.com/hochfrequenz/twmd-batch/internal/domain"
)

// Text emitted by the downloader
const (
	LoginBanner   = "Logged in"
	RateLimitText = "Rate limit exceeded"
	ExistsSuffix  = "already exists"
	ErrorToken    = "error"
	DownloadedPfx = "Downloaded"
)

// NotFoundText returns the line fragment reported for a missing user
func NotFoundText(target string) string {
	return fmt.Sprintf("User '%s' not found", target)
}

type rule struct {
	outcome domain.Outcome
	match   func(line, target string) bool
}

// rules are evaluated in order, first match wins. Terminating outcomes come
// before counting ones and exact matches before the substring they contain.
var rules = []rule{
	{domain.OutcomeUserNotFound, func(line, target string) bool {
		return strings.Contains(line, NotFoundText(target))
	}},
	{domain.OutcomeLoggedInBanner, func(line, _ string) bool {
		return line == LoginBanner
	}},
	{domain.OutcomeRateLimited, func(line, _ string) bool {
		return strings.Contains(line, RateLimitText)
	}},
	{domain.OutcomeAlreadyExists, func(line, _ string) bool {
		return strings.HasSuffix(line, ExistsSuffix)
	}},
	{domain.OutcomeGenericError, func(line, _ string) bool {
		return line == ErrorToken
	}},
	{domain.OutcomeDownloaded, func(line, _ string) bool {
		return strings.HasPrefix(line, DownloadedPfx)
	}},
}

// Classify returns the outcome of a single trimmed output line
func Classify(line, target string) domain.Outcome {
	for _, r := range rules {
		if r.match(line, target) {
			return r.outcome
		}
	}
	return domain.OutcomeAbnormal
}
