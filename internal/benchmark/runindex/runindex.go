// Package runindex keeps a sqlite table of every benchmark run below a results root, so that
// comparison scripts can find runs without walking the directory tree.
package runindex

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const FileName = "index.db"

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Run is one row of the index.
type Run struct {
	RunId     string
	Revision  string
	Tag       string
	Timestamp string
	// Run directory; empty if the run failed before it was created.
	Dir        string
	Outcome    Outcome
	Stage      string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

type ListOptions struct {
	// Only runs of this revision if set.
	Revision string
	// At most this many runs, newest first. Zero means no limit.
	Limit int
}

// Index is safe for concurrent use. SQLite allows one writer at a time, so writes are serialized.
type Index struct {
	db   *sql.DB
	path string
	lock sync.Mutex
}

// PathFor returns the index location for the runs stored below kindDir.
func PathFor(kindDir string) string {
	return filepath.Join(kindDir, FileName)
}

// Open opens, and if needed creates, the index at path.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "could not make directory for run index %s", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening run index %s", path)
	}
	index := &Index{db: db, path: path}
	if err := index.setup(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return index, nil
}

func (i *Index) setup() error {
	i.lock.Lock()
	defer i.lock.Unlock()

	statements := []string{
		"PRAGMA journal_mode=WAL",
		`CREATE TABLE IF NOT EXISTS runs (
			RunId TEXT,
			Revision TEXT,
			Tag TEXT,
			Timestamp TEXT,
			Dir TEXT,
			Outcome TEXT,
			Stage TEXT,
			Error TEXT,
			StartedAt INT,
			FinishedAt INT,
			PRIMARY KEY(RunId))`,
		"CREATE INDEX IF NOT EXISTS idx_runs_revision ON runs (Revision, StartedAt)",
	}
	for _, statement := range statements {
		if _, err := i.db.Exec(statement); err != nil {
			return errors.Wrapf(err, "error setting up run index %s", i.path)
		}
	}
	return nil
}

func (i *Index) Path() string {
	return i.path
}

func (i *Index) Close() error {
	return errors.WithStack(i.db.Close())
}

// Record inserts run, replacing any earlier row with the same run id.
func (i *Index) Record(ctx context.Context, run Run) error {
	if run.RunId == "" {
		return errors.New("run id must not be empty")
	}
	i.lock.Lock()
	defer i.lock.Unlock()

	_, err := i.db.ExecContext(ctx, "INSERT OR REPLACE INTO runs VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		run.RunId, run.Revision, run.Tag, run.Timestamp, run.Dir, string(run.Outcome), run.Stage, run.Error,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli())
	return errors.WithStack(err)
}

// Get returns the run with the given id, or nil if there is none.
func (i *Index) Get(ctx context.Context, runId string) (*Run, error) {
	i.lock.Lock()
	defer i.lock.Unlock()

	row := i.db.QueryRowContext(ctx, "SELECT "+columns+" FROM runs WHERE RunId = ?", runId)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns indexed runs, newest first.
func (i *Index) List(ctx context.Context, opts ListOptions) ([]*Run, error) {
	i.lock.Lock()
	defer i.lock.Unlock()

	query := "SELECT " + columns + " FROM runs"
	var args []interface{}
	if opts.Revision != "" {
		query += " WHERE Revision = ?"
		args = append(args, opts.Revision)
	}
	query += " ORDER BY StartedAt DESC, RunId"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return runs, err
		}
		runs = append(runs, run)
	}
	return runs, errors.WithStack(rows.Err())
}

// Check implements health.Checker.
func (i *Index) Check() error {
	i.lock.Lock()
	defer i.lock.Unlock()

	var col int
	if err := i.db.QueryRow("SELECT 1").Scan(&col); err != nil {
		return errors.Wrapf(err, "run index %s health check failed", i.path)
	}
	return nil
}

const columns = "RunId, Revision, Tag, Timestamp, Dir, Outcome, Stage, Error, StartedAt, FinishedAt"

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var outcome string
	var startedAt, finishedAt int64
	err := row.Scan(&run.RunId, &run.Revision, &run.Tag, &run.Timestamp, &run.Dir, &outcome, &run.Stage, &run.Error, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, err
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	run.Outcome = Outcome(outcome)
	run.StartedAt = time.UnixMilli(startedAt)
	run.FinishedAt = time.UnixMilli(finishedAt)
	return &run, nil
}
