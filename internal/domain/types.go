package domain

// Flag names a sentinel marker file inside a target directory
type Flag string

const (
	FlagPermaSkip   Flag = ".perm_skip"
	FlagTempSkip    Flag = ".skip"
	FlagNeedsLogin  Flag = ".login"
	FlagRetweetOnly Flag = ".retweet_only"
)

// Artifact names a diagnostic file written next to the flags
type Artifact string

const (
	ArtifactAbnormal Artifact = ".abnormal"
)

// ParseFlag maps an operator-facing name ("login", "skip", "perm_skip",
// "retweet_only" or the file name itself) to a Flag
func ParseFlag(s string) (Flag, bool) {
	switch s {
	case "perm_skip", "perma_skip", string(FlagPermaSkip):
		return FlagPermaSkip, true
	case "skip", "temp_skip", string(FlagTempSkip):
		return FlagTempSkip, true
	case "login", "needs_login", string(FlagNeedsLogin):
		return FlagNeedsLogin, true
	case "retweet_only", string(FlagRetweetOnly):
		return FlagRetweetOnly, true
	}
	return "", false
}

// Outcome is the classification of one downloader output line
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeUserNotFound
	OutcomeLoggedInBanner
	OutcomeRateLimited
	OutcomeAlreadyExists
	OutcomeGenericError
	OutcomeDownloaded
	OutcomeAbnormal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUserNotFound:
		return "user_not_found"
	case OutcomeLoggedInBanner:
		return "logged_in"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeAlreadyExists:
		return "already_exists"
	case OutcomeGenericError:
		return "error"
	case OutcomeDownloaded:
		return "downloaded"
	case OutcomeAbnormal:
		return "abnormal"
	default:
		return ""
	}
}

// Terminates reports whether the outcome ends the downloader run early
func (o Outcome) Terminates() bool {
	return o == OutcomeUserNotFound || o == OutcomeRateLimited
}

// Decision is the pre-run gate result for a target
type Decision string

const (
	DecisionRun           Decision = "run"
	DecisionSkipPermanent Decision = "skip_permanent"
	DecisionSkipTemporary Decision = "skip_temporary"
)

// Verdict is the post-run policy result for a target
type Verdict string

const (
	VerdictNone         Verdict = ""
	VerdictPermaSkip    Verdict = "perm_skip"
	VerdictTempSkip     Verdict = "temp_skip"
	VerdictNeedsLogin   Verdict = "needs_login"
	VerdictEmptyRun     Verdict = "empty_run"
	VerdictRetryNextRun Verdict = "retry"
)
