// Package store persists source files, jobs, job logs and run reports in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Source status values.
const (
	SourcePending = "pending"
	SourceRunning = "running"
	SourceDone    = "done"
	SourceFailed  = "failed"
)

// Store wraps SQLite access for sources, jobs and reports.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps :memory: databases coherent and serializes
	// writers.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			source_id TEXT PRIMARY KEY,
			path TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP,
			status TEXT,
			last_stage TEXT,
			last_error TEXT,
			stats_json TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id TEXT,
			stage TEXT,
			status TEXT,
			params_json TEXT,
			idempotency_key TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_idem ON jobs(idempotency_key);`,
		`CREATE TABLE IF NOT EXISTS job_logs (
			job_id INTEGER,
			line TEXT,
			created_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS run_reports (
			run_id TEXT PRIMARY KEY,
			source_id TEXT,
			output TEXT,
			stats_json TEXT,
			new_rows INTEGER,
			defects INTEGER,
			created_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_source ON run_reports(source_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS defects (
			run_id TEXT,
			so TEXT,
			missing TEXT
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Source is a raw export file known to the service.
type Source struct {
	SourceID  string    `json:"source_id"`
	Path      string    `json:"path"`
	Status    string    `json:"status"`
	LastStage string    `json:"last_stage"`
	LastError *string   `json:"last_error"`
	StatsJSON *string   `json:"stats_json"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Job represents a pipeline job persisted to DB.
type Job struct {
	ID             int64      `json:"id"`
	SourceID       string     `json:"source_id"`
	Stage          string     `json:"stage"`
	Status         string     `json:"status"`
	ParamsJSON     string     `json:"params_json"`
	IdempotencyKey string     `json:"idempotency_key"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
}

// RunReport is the persisted outcome of one BUILD run.
type RunReport struct {
	RunID     string    `json:"run_id"`
	SourceID  string    `json:"source_id"`
	Output    string    `json:"output"`
	StatsJSON string    `json:"stats_json"`
	NewRows   int       `json:"new_rows"`
	Defects   int       `json:"defects"`
	CreatedAt time.Time `json:"created_at"`
}

// Defect is one SO flagged by the quality check, with the slots it lacks.
type Defect struct {
	SO      string   `json:"so"`
	Missing []string `json:"missing"`
}

func (s *Store) UpsertSource(ctx context.Context, sourceID, path, stage, status string, errMsg *string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sources(source_id, path, created_at, updated_at, status, last_stage, last_error)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET path=CASE WHEN excluded.path != '' THEN excluded.path ELSE sources.path END,
			updated_at=excluded.updated_at, status=excluded.status, last_stage=excluded.last_stage, last_error=excluded.last_error`,
		sourceID, path, ts, ts, status, stage, errMsg)
	return err
}

// UpdateSourceStage records a stage transition without touching the path.
func (s *Store) UpdateSourceStage(ctx context.Context, sourceID, stage, status string, errMsg *string, ts time.Time) error {
	return s.UpsertSource(ctx, sourceID, "", stage, status, errMsg, ts)
}

// SetSourceStats stores the JSON-encoded build statistics of a source.
func (s *Store) SetSourceStats(ctx context.Context, sourceID string, stats any, ts time.Time) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE sources SET stats_json=?, updated_at=? WHERE source_id=?`, string(payload), ts, sourceID)
	return err
}

// GetSource returns nil without error when the source is unknown.
func (s *Store) GetSource(ctx context.Context, sourceID string) (*Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT source_id, path, status, last_stage, last_error, stats_json, created_at, updated_at FROM sources WHERE source_id=?`, sourceID)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (s *Store) ListSources(ctx context.Context, limit int) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, path, status, last_stage, last_error, stats_json, created_at, updated_at FROM sources ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sources []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (*Source, error) {
	var src Source
	var errMsg, stats sql.NullString
	if err := row.Scan(&src.SourceID, &src.Path, &src.Status, &src.LastStage, &errMsg, &stats, &src.CreatedAt, &src.UpdatedAt); err != nil {
		return nil, err
	}
	if errMsg.Valid {
		src.LastError = &errMsg.String
	}
	if stats.Valid {
		src.StatsJSON = &stats.String
	}
	return &src, nil
}

func (s *Store) RecordJob(ctx context.Context, j *Job) (*Job, error) {
	if j.ParamsJSON == "" {
		j.ParamsJSON = "{}"
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO jobs(source_id, stage, status, params_json, idempotency_key, created_at, updated_at) VALUES(?,?,?,?,?,?,?)`,
		j.SourceID, j.Stage, j.Status, j.ParamsJSON, j.IdempotencyKey, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	j.ID = id
	return j, nil
}

const jobColumns = `id, source_id, stage, status, params_json, idempotency_key, created_at, updated_at, started_at, finished_at`

func scanJob(row scanner) (*Job, error) {
	var j Job
	var started, finished sql.NullTime
	if err := row.Scan(&j.ID, &j.SourceID, &j.Stage, &j.Status, &j.ParamsJSON, &j.IdempotencyKey, &j.CreatedAt, &j.UpdatedAt, &started, &finished); err != nil {
		return nil, err
	}
	if started.Valid {
		j.StartedAt = &started.Time
	}
	if finished.Valid {
		j.FinishedAt = &finished.Time
	}
	return &j, nil
}

// FetchJobByIdempotency returns existing job if present.
func (s *Store) FetchJobByIdempotency(ctx context.Context, key string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key=?`, key)
	j, err := scanJob(row)
	switch {
	case err == nil:
		return j, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	default:
		return nil, err
	}
}

// GetJob returns nil without error when the job is unknown.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func (s *Store) UpdateJobStatus(ctx context.Context, id int64, status string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status=?, updated_at=? WHERE id=?`, status, ts, id)
	return err
}

func (s *Store) MarkJobStarted(ctx context.Context, id int64, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status=?, started_at=?, updated_at=? WHERE id=?`, "running", ts, ts, id)
	return err
}

func (s *Store) MarkJobFinished(ctx context.Context, id int64, status string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status=?, finished_at=?, updated_at=? WHERE id=?`, status, ts, ts, id)
	return err
}

func (s *Store) AppendJobLog(ctx context.Context, id int64, line string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO job_logs(job_id, line, created_at) VALUES(?,?,?)`, id, line, ts)
	return err
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *Store) JobLogs(ctx context.Context, jobID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT line FROM job_logs WHERE job_id=? ORDER BY rowid ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

var ErrConflict = errors.New("idempotent job already exists")

// InsertJobIdempotent records a job if idempotency key is new.
func (s *Store) InsertJobIdempotent(ctx context.Context, j *Job) (*Job, error) {
	existing, err := s.FetchJobByIdempotency(ctx, j.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrConflict
	}
	return s.RecordJob(ctx, j)
}

// SaveRunReport stores a run and its defect rows in one transaction.
func (s *Store) SaveRunReport(ctx context.Context, r RunReport, defects []Defect) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `INSERT INTO run_reports(run_id, source_id, output, stats_json, new_rows, defects, created_at) VALUES(?,?,?,?,?,?,?)`,
		r.RunID, r.SourceID, r.Output, r.StatsJSON, r.NewRows, r.Defects, r.CreatedAt); err != nil {
		return fmt.Errorf("insert run report: %w", err)
	}
	for _, d := range defects {
		if _, err := tx.ExecContext(ctx, `INSERT INTO defects(run_id, so, missing) VALUES(?,?,?)`, r.RunID, d.SO, strings.Join(d.Missing, ",")); err != nil {
			return fmt.Errorf("insert defect %s: %w", d.SO, err)
		}
	}
	return tx.Commit()
}

// LatestReport returns the newest report of a source, or nil.
func (s *Store) LatestReport(ctx context.Context, sourceID string) (*RunReport, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, source_id, output, stats_json, new_rows, defects, created_at FROM run_reports WHERE source_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1`, sourceID)
	var r RunReport
	err := row.Scan(&r.RunID, &r.SourceID, &r.Output, &r.StatsJSON, &r.NewRows, &r.Defects, &r.CreatedAt)
	switch {
	case err == nil:
		return &r, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	default:
		return nil, err
	}
}

// Defects lists the defect rows of a run in insertion order.
func (s *Store) Defects(ctx context.Context, runID string) ([]Defect, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT so, missing FROM defects WHERE run_id=? ORDER BY rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Defect
	for rows.Next() {
		var d Defect
		var missing string
		if err := rows.Scan(&d.SO, &missing); err != nil {
			return nil, err
		}
		if missing != "" {
			d.Missing = strings.Split(missing, ",")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Health returns err if DB not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}
