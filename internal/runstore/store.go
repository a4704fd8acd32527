// Package runstore keeps a SQLite history of downloader runs. The history is
// diagnostic only; run decisions are driven by sentinel files.
package runstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/twmd-batch/internal/domain"
	_ "modernc.org/sqlite"
)

// Run is one recorded downloader invocation
type Run struct {
	ID          string
	Target      string
	Login       bool
	RetweetOnly bool
	StartedAt   time.Time
	FinishedAt  time.Time
	TotalLines  int
	Downloaded  int
	Exists      int
	Errors      int
	Abnormal    int
	Terminated  string
	TimedOut    bool
	Verdict     domain.Verdict
	Error       string
}

// FromReport converts a driver report into a history row. ok is false when
// the target was not run.
func FromReport(r domain.Report) (Run, bool) {
	if !r.Ran() {
		return Run{}, false
	}
	res := r.Result
	run := Run{
		Target:      r.Target.Name,
		Login:       r.Login,
		RetweetOnly: r.RetweetOnly,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.StartedAt.Add(res.Duration),
		TotalLines:  res.TotalLines,
		Downloaded:  res.Downloaded,
		Exists:      res.Exists,
		Errors:      res.Errors,
		Abnormal:    len(res.Abnormal),
		TimedOut:    res.TimedOut,
		Verdict:     r.Verdict,
	}
	if res.Terminated != domain.OutcomeNone {
		run.Terminated = res.Terminated.String()
	}
	if r.Err != nil {
		run.Error = r.Err.Error()
	}
	return run, true
}

// Store provides SQLite-backed run history
type Store struct {
	db *sql.DB
}

// New opens (or creates) the history database at dbPath
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases alive across calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts run, assigning an ID when it has none. The stored ID is
// returned.
func (s *Store) Record(run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (id, target, login, retweet_only, started_at, finished_at, total_lines, downloaded, exists_count, errors, abnormal, terminated, timed_out, verdict, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Target,
		run.Login,
		run.RetweetOnly,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		run.TotalLines,
		run.Downloaded,
		run.Exists,
		run.Errors,
		run.Abnormal,
		run.Terminated,
		run.TimedOut,
		string(run.Verdict),
		run.Error,
	)
	if err != nil {
		return "", fmt.Errorf("recording run for %s: %w", run.Target, err)
	}
	return run.ID, nil
}

// RecordReport stores the run described by a driver report. Reports for
// targets that did not run are ignored.
func (s *Store) RecordReport(r domain.Report) error {
	run, ok := FromReport(r)
	if !ok {
		return nil
	}
	_, err := s.Record(run)
	return err
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	Target string
	Limit  int
}

// List returns recorded runs, newest first
func (s *Store) List(opts ListOptions) ([]Run, error) {
	query := `SELECT id, target, login, retweet_only, started_at, finished_at, total_lines, downloaded, exists_count, errors, abnormal, terminated, timed_out, verdict, error FROM runs WHERE 1=1`
	var args []interface{}

	if opts.Target != "" {
		query += " AND target = ?"
		args = append(args, opts.Target)
	}

	query += " ORDER BY started_at DESC, rowid DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func scanRun(rows *sql.Rows) (Run, error) {
	var run Run
	var terminated, verdict, errText sql.NullString

	err := rows.Scan(&run.ID, &run.Target, &run.Login, &run.RetweetOnly, &run.StartedAt, &run.FinishedAt,
		&run.TotalLines, &run.Downloaded, &run.Exists, &run.Errors, &run.Abnormal,
		&terminated, &run.TimedOut, &verdict, &errText)
	if err != nil {
		return run, err
	}

	run.Terminated = terminated.String
	run.Verdict = domain.Verdict(verdict.String)
	run.Error = errText.String
	return run, nil
}
