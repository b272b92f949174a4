package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"netops-flow/jobs"
	"netops-flow/shared"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id INTEGER NOT NULL,
		version INTEGER NOT NULL,
		tenant_id INTEGER NOT NULL DEFAULT 0,
		name TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		definition TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workflow_id INTEGER NOT NULL,
		workflow_version INTEGER NOT NULL DEFAULT 0,
		tenant_id INTEGER NOT NULL DEFAULT 0,
		triggered_by TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		inputs TEXT NOT NULL DEFAULT 'null',
		outputs TEXT NOT NULL DEFAULT 'null',
		context TEXT NOT NULL DEFAULT 'null',
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		started_at INTEGER NOT NULL DEFAULT 0,
		finished_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		node_ref TEXT NOT NULL,
		status TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT 'null',
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL DEFAULT 0,
		finished_at INTEGER NOT NULL DEFAULT 0,
		UNIQUE (run_id, node_ref)
	)`,
	`CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		node_ref TEXT NOT NULL DEFAULT '',
		ts INTEGER NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT 'null'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_run_logs_run_ts ON run_logs (run_id, ts, id)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_type TEXT NOT NULL,
		tenant_id INTEGER NOT NULL DEFAULT 0,
		actor TEXT NOT NULL DEFAULT '',
		target_summary TEXT NOT NULL DEFAULT 'null',
		payload TEXT NOT NULL DEFAULT 'null',
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`,
}

// SQLiteStore persists everything in a single SQLite file.
// JSON columns decode numbers as float64.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite",
		fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path))
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		logger.Warn("Failed to enable WAL mode", zap.String("path", path), zap.Error(err))
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	logger.Info("SQLite store ready", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type workflowDefinition struct {
	Nodes []shared.Node `json:"nodes"`
	Edges []shared.Edge `json:"edges"`
}

// SaveWorkflow stores a new version of wf. A zero ID allocates a new workflow.
// The assigned ID and version are written back to wf.
func (s *SQLiteStore) SaveWorkflow(ctx context.Context, wf *shared.Workflow) error {
	definition, err := json.Marshal(workflowDefinition{Nodes: wf.Nodes, Edges: wf.Edges})
	if err != nil {
		return fmt.Errorf("encode workflow definition: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id := wf.ID
	if id == 0 {
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM workflows`).Scan(&id); err != nil {
			return fmt.Errorf("allocate workflow id: %w", err)
		}
	}
	var version int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM workflows WHERE id = ?`, id).Scan(&version); err != nil {
		return fmt.Errorf("allocate workflow version: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflows (id, version, tenant_id, name, is_active, definition, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, version, wf.TenantID, wf.Name, wf.IsActive, string(definition), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert workflow %d version %d: %w", id, version, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	wf.ID, wf.Version = id, version
	return nil
}

// GetWorkflow returns one version of a workflow; version 0 means the latest
func (s *SQLiteStore) GetWorkflow(ctx context.Context, workflowID int64, version int) (*shared.Workflow, error) {
	query := `SELECT id, version, tenant_id, name, is_active, definition FROM workflows WHERE id = ? AND version = ?`
	args := []interface{}{workflowID, version}
	if version == 0 {
		query = `SELECT id, version, tenant_id, name, is_active, definition FROM workflows WHERE id = ? ORDER BY version DESC LIMIT 1`
		args = args[:1]
	}

	var (
		wf         shared.Workflow
		definition string
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&wf.ID, &wf.Version, &wf.TenantID, &wf.Name, &wf.IsActive, &definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %d version %d: %w", workflowID, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow %d: %w", workflowID, err)
	}

	var def workflowDefinition
	if err := json.Unmarshal([]byte(definition), &def); err != nil {
		return nil, fmt.Errorf("decode workflow %d definition: %w", workflowID, err)
	}
	wf.Nodes, wf.Edges = def.Nodes, def.Edges
	return &wf, nil
}

// CreateRun inserts a run in the queued state and assigns its id
func (s *SQLiteStore) CreateRun(ctx context.Context, run *shared.Run) error {
	if run.Status == "" {
		run.Status = shared.RunStatusQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now().UTC()
	}

	var cols jsonColumns
	inputs, outputs, ctxJSON := cols.encode(run.Inputs), cols.encode(run.Outputs), cols.encode(run.Context)
	if cols.err != nil {
		return fmt.Errorf("encode run: %w", cols.err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (workflow_id, workflow_version, tenant_id, triggered_by, status, inputs, outputs, context, error, created_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.WorkflowID, run.WorkflowVersion, run.TenantID, run.TriggeredBy, string(run.Status),
		inputs, outputs, ctxJSON, run.Error,
		toNanos(run.CreatedAt), toNanos(run.StartedAt), toNanos(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	run.ID = id
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID int64) (*shared.Run, error) {
	var (
		run                              shared.Run
		status, inputs, outputs, ctxJSON string
		created, started, finished       int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, workflow_version, tenant_id, triggered_by, status, inputs, outputs, context, error, created_at, started_at, finished_at
		 FROM runs WHERE id = ?`, runID).
		Scan(&run.ID, &run.WorkflowID, &run.WorkflowVersion, &run.TenantID, &run.TriggeredBy, &status,
			&inputs, &outputs, &ctxJSON, &run.Error, &created, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %d: %w", runID, err)
	}

	run.Status = shared.RunStatus(status)
	run.CreatedAt, run.StartedAt, run.FinishedAt = fromNanos(created), fromNanos(started), fromNanos(finished)
	if run.Inputs, err = decodeMap(inputs); err != nil {
		return nil, fmt.Errorf("decode run %d inputs: %w", runID, err)
	}
	if run.Outputs, err = decodeMap(outputs); err != nil {
		return nil, fmt.Errorf("decode run %d outputs: %w", runID, err)
	}
	if run.Context, err = decodeMap(ctxJSON); err != nil {
		return nil, fmt.Errorf("decode run %d context: %w", runID, err)
	}
	return &run, nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *shared.Run) error {
	var cols jsonColumns
	outputs, ctxJSON := cols.encode(run.Outputs), cols.encode(run.Context)
	if cols.err != nil {
		return fmt.Errorf("encode run %d: %w", run.ID, cols.err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET workflow_version = ?, status = ?, outputs = ?, context = ?, error = ?, started_at = ?, finished_at = ? WHERE id = ?`,
		run.WorkflowVersion, string(run.Status), outputs, ctxJSON, run.Error,
		toNanos(run.StartedAt), toNanos(run.FinishedAt), run.ID)
	if err != nil {
		return fmt.Errorf("update run %d: %w", run.ID, err)
	}
	return expectRow(res, fmt.Sprintf("run %d", run.ID))
}

// CancelRun moves a queued run to cancelled
func (s *SQLiteStore) CancelRun(ctx context.Context, runID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ? AND status = ?`,
		string(shared.RunStatusCancelled), s.now().UnixNano(), runID, string(shared.RunStatusQueued))
	if err != nil {
		return fmt.Errorf("cancel run %d: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 1 {
		return err
	}

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return fmt.Errorf("run %d is %s: %w", runID, run.Status, ErrRunNotQueued)
}

func (s *SQLiteStore) CreateSteps(ctx context.Context, steps []*shared.Step) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO steps (run_id, node_ref, status, output, error, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	ids := make([]int64, len(steps))
	for i, step := range steps {
		var cols jsonColumns
		output := cols.encode(step.Output)
		if cols.err != nil {
			return fmt.Errorf("encode step %s: %w", step.NodeRef, cols.err)
		}
		res, err := stmt.ExecContext(ctx, step.RunID, step.NodeRef, string(step.Status), output,
			step.Error, toNanos(step.StartedAt), toNanos(step.FinishedAt))
		if err != nil {
			return fmt.Errorf("insert step %s: %w", step.NodeRef, err)
		}
		if ids[i], err = res.LastInsertId(); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	for i, step := range steps {
		step.ID = ids[i]
	}
	return nil
}

func (s *SQLiteStore) UpdateStep(ctx context.Context, step *shared.Step) error {
	var cols jsonColumns
	output := cols.encode(step.Output)
	if cols.err != nil {
		return fmt.Errorf("encode step %d output: %w", step.ID, cols.err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE steps SET status = ?, output = ?, error = ?, started_at = ?, finished_at = ? WHERE id = ?`,
		string(step.Status), output, step.Error, toNanos(step.StartedAt), toNanos(step.FinishedAt), step.ID)
	if err != nil {
		return fmt.Errorf("update step %d: %w", step.ID, err)
	}
	return expectRow(res, fmt.Sprintf("step %d", step.ID))
}

// ListSteps returns a run's steps in creation order
func (s *SQLiteStore) ListSteps(ctx context.Context, runID int64) ([]shared.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node_ref, status, output, error, started_at, finished_at FROM steps WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps for run %d: %w", runID, err)
	}
	defer rows.Close()

	var out []shared.Step
	for rows.Next() {
		var (
			step              shared.Step
			status, output    string
			started, finished int64
		)
		if err := rows.Scan(&step.ID, &step.RunID, &step.NodeRef, &status, &output, &step.Error, &started, &finished); err != nil {
			return nil, err
		}
		step.Status = shared.StepStatus(status)
		step.StartedAt, step.FinishedAt = fromNanos(started), fromNanos(finished)
		if step.Output, err = decodeMap(output); err != nil {
			return nil, fmt.Errorf("decode step %d output: %w", step.ID, err)
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendLog(ctx context.Context, entry *shared.LogEntry) error {
	var cols jsonColumns
	ctxJSON := cols.encode(entry.Context)
	if cols.err != nil {
		return fmt.Errorf("encode log context: %w", cols.err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_logs (run_id, node_ref, ts, level, message, context) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.NodeRef, toNanos(entry.Timestamp), string(entry.Level), entry.Message, ctxJSON)
	if err != nil {
		return fmt.Errorf("append log for run %d: %w", entry.RunID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// ListLogs returns a run's log entries ordered by timestamp
func (s *SQLiteStore) ListLogs(ctx context.Context, runID int64) ([]shared.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node_ref, ts, level, message, context FROM run_logs WHERE run_id = ? ORDER BY ts, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list logs for run %d: %w", runID, err)
	}
	defer rows.Close()

	var out []shared.LogEntry
	for rows.Next() {
		var (
			entry          shared.LogEntry
			ts             int64
			level, ctxJSON string
		)
		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.NodeRef, &ts, &level, &entry.Message, &ctxJSON); err != nil {
			return nil, err
		}
		entry.Timestamp = fromNanos(ts)
		entry.Level = shared.LogLevel(level)
		if entry.Context, err = decodeMap(ctxJSON); err != nil {
			return nil, fmt.Errorf("decode log %d context: %w", entry.ID, err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// RecordJob implements jobs.JobRecorder
func (s *SQLiteStore) RecordJob(ctx context.Context, job *jobs.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now().UTC()
	}
	if job.Status == "" {
		job.Status = jobs.StatusQueued
	}
	var cols jsonColumns
	targets, payload := cols.encode(job.TargetSummary), cols.encode(job.Payload)
	if cols.err != nil {
		return fmt.Errorf("encode job: %w", cols.err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_type, tenant_id, actor, target_summary, payload, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.JobType, job.TenantID, job.Actor, targets, payload, job.Status, toNanos(job.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	job.ID = id
	return nil
}

// UpdateJobStatus implements jobs.JobRecorder
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID int64, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE id = ?`, status, jobID)
	if err != nil {
		return fmt.Errorf("update job %d: %w", jobID, err)
	}
	return expectRow(res, fmt.Sprintf("job %d", jobID))
}

// ListJobs returns every recorded job, oldest first
func (s *SQLiteStore) ListJobs(ctx context.Context) ([]jobs.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_type, tenant_id, actor, target_summary, payload, status, created_at FROM jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []jobs.Job
	for rows.Next() {
		var (
			job              jobs.Job
			targets, payload string
			created          int64
		)
		if err := rows.Scan(&job.ID, &job.JobType, &job.TenantID, &job.Actor, &targets, &payload, &job.Status, &created); err != nil {
			return nil, err
		}
		job.CreatedAt = fromNanos(created)
		if job.TargetSummary, err = decodeMap(targets); err != nil {
			return nil, err
		}
		if job.Payload, err = decodeMap(payload); err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// jsonColumns encodes map columns and keeps the first encoding error
type jsonColumns struct {
	err error
}

func (c *jsonColumns) encode(m map[string]interface{}) string {
	if m == nil {
		return "null"
	}
	b, err := json.Marshal(m)
	if err != nil {
		if c.err == nil {
			c.err = err
		}
		return "null"
	}
	return string(b)
}

func decodeMap(s string) (map[string]interface{}, error) {
	if s == "" || s == "null" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
