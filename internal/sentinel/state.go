package sentinel

import (
	"errors"
	"time"

	"github.com/hochfrequenz/twmd-batch/internal/domain"
)

// State is a point-in-time view of every flag of one target
type State struct {
	Target      string
	PermaSkip   bool
	TempSkip    bool
	TempSkipAge time.Duration
	NeedsLogin  bool
	RetweetOnly bool
	Abnormal    int // number of recorded abnormal lines
}

// TempSkipActive reports whether the temporary skip is still inside window
func (st State) TempSkipActive(window time.Duration) bool {
	return st.TempSkip && st.TempSkipAge < window
}

// Snapshot reads all flags of a target
func (s *Store) Snapshot(target string) (State, error) {
	st := State{Target: target}
	var err error

	if st.PermaSkip, err = s.Exists(target, domain.FlagPermaSkip); err != nil {
		return st, err
	}
	if st.NeedsLogin, err = s.Exists(target, domain.FlagNeedsLogin); err != nil {
		return st, err
	}
	if st.RetweetOnly, err = s.Exists(target, domain.FlagRetweetOnly); err != nil {
		return st, err
	}

	age, err := s.Age(target, domain.FlagTempSkip)
	switch {
	case err == nil:
		st.TempSkip = true
		st.TempSkipAge = age
	case !errors.Is(err, ErrNotFound):
		return st, err
	}

	lines, err := s.ReadLines(target, domain.ArtifactAbnormal)
	if err != nil {
		return st, err
	}
	st.Abnormal = len(lines)

	return st, nil
}
