package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrClosed      = errors.New("db: database is closed")
	ErrRunNotFound = errors.New("db: run not found")
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Run is a row of the runs table.
type Run struct {
	ID           string
	Status       string
	Seed         int64
	Style        string
	LeftPrompts  []string
	RightPrompts []string
	InputImage   string
	Error        string
	StartedAt    time.Time
	FinishedAt   *time.Time
	OutputCount  int

	// Outputs is filled by GetRun only.
	Outputs []RunOutput
}

// RunOutput is a row of the run_outputs table: one saved image.
type RunOutput struct {
	ID        int64
	RunID     string
	Side      string
	Prompt    string
	Index     int
	Path      string
	CreatedAt time.Time
}

// Repository reads and writes run history. When an AsyncWriter is attached
// and started, AddOutput queues its insert instead of blocking.
type Repository struct {
	db          *Database
	asyncWriter *AsyncWriter
}

// NewRepository returns a Repository. asyncWriter may be nil.
func NewRepository(db *Database, asyncWriter *AsyncWriter) *Repository {
	return &Repository{db: db, asyncWriter: asyncWriter}
}

// InsertRun stores a new run. A zero StartedAt is set to now.
func (r *Repository) InsertRun(ctx context.Context, run *Run) error {
	conn, err := r.conn()
	if err != nil {
		return err
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}

	left, err := encodePrompts(run.LeftPrompts)
	if err != nil {
		return err
	}
	right, err := encodePrompts(run.RightPrompts)
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO runs (
			id, status, seed, style, left_prompts, right_prompts,
			input_image, error_message, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Status, run.Seed, run.Style, left, right,
		run.InputImage, run.Error, formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("db: insert run: %w", err)
	}
	return nil
}

// FinishRun sets the final status and error message of a run.
func (r *Repository) FinishRun(ctx context.Context, id, status, errMsg string) error {
	conn, err := r.conn()
	if err != nil {
		return err
	}

	res, err := conn.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		status, errMsg, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("db: finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const insertOutputQuery = `
	INSERT INTO run_outputs (run_id, side, prompt, image_index, path, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

// AddOutput records a saved image. With a started AsyncWriter the insert is
// queued and out.ID stays 0; a full queue falls back to a synchronous write.
func (r *Repository) AddOutput(ctx context.Context, out *RunOutput) error {
	conn, err := r.conn()
	if err != nil {
		return err
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now()
	}
	args := []interface{}{out.RunID, out.Side, out.Prompt, out.Index, out.Path, formatTime(out.CreatedAt)}

	if r.asyncWriter != nil && r.asyncWriter.IsStarted() {
		if r.asyncWriter.Write(asyncInsertOp{query: insertOutputQuery, args: args}) {
			return nil
		}
	}

	res, err := conn.ExecContext(ctx, insertOutputQuery, args...)
	if err != nil {
		return fmt.Errorf("db: insert run output: %w", err)
	}
	out.ID, _ = res.LastInsertId()
	return nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 means 20.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, status, seed, style, left_prompts, right_prompts,
		       input_image, error_message, started_at, finished_at,
		       (SELECT COUNT(*) FROM run_outputs o WHERE o.run_id = runs.id)
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run with its outputs in insertion order.
func (r *Repository) GetRun(ctx context.Context, id string) (*Run, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}

	row := conn.QueryRowContext(ctx, `
		SELECT id, status, seed, style, left_prompts, right_prompts,
		       input_image, error_message, started_at, finished_at,
		       (SELECT COUNT(*) FROM run_outputs o WHERE o.run_id = runs.id)
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, run_id, side, prompt, image_index, path, created_at
		FROM run_outputs WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("db: query run outputs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var out RunOutput
		var createdAt string
		if err := rows.Scan(&out.ID, &out.RunID, &out.Side, &out.Prompt, &out.Index, &out.Path, &createdAt); err != nil {
			return nil, fmt.Errorf("db: scan run output: %w", err)
		}
		out.CreatedAt = parseTime(createdAt)
		run.Outputs = append(run.Outputs, out)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: iterate run outputs: %w", err)
	}
	return run, nil
}

// CountRuns returns the number of stored runs.
func (r *Repository) CountRuns(ctx context.Context) (int64, error) {
	conn, err := r.conn()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&n); err != nil {
		return 0, fmt.Errorf("db: count runs: %w", err)
	}
	return n, nil
}

// asyncInsertOp is an insert queued on the AsyncWriter.
type asyncInsertOp struct {
	query string
	args  []interface{}
}

// AsyncWriteHandler executes the inserts queued by AddOutput.
func (r *Repository) AsyncWriteHandler() WriteHandler {
	return func(op WriteOperation) error {
		insert, ok := op.Data.(asyncInsertOp)
		if !ok {
			return fmt.Errorf("db: unexpected async operation %T", op.Data)
		}
		conn, err := r.conn()
		if err != nil {
			return err
		}
		_, err = conn.Exec(insert.query, insert.args...)
		return err
	}
}

func (r *Repository) conn() (*sql.DB, error) {
	if r.db == nil {
		return nil, ErrClosed
	}
	return r.db.conn()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s rowScanner) (*Run, error) {
	var run Run
	var left, right, startedAt string
	var finishedAt sql.NullString

	err := s.Scan(&run.ID, &run.Status, &run.Seed, &run.Style, &left, &right,
		&run.InputImage, &run.Error, &startedAt, &finishedAt, &run.OutputCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("db: scan run: %w", err)
	}

	if err := json.Unmarshal([]byte(left), &run.LeftPrompts); err != nil {
		return nil, fmt.Errorf("db: decode left prompts of %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(right), &run.RightPrompts); err != nil {
		return nil, fmt.Errorf("db: decode right prompts of %s: %w", run.ID, err)
	}
	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

func encodePrompts(prompts []string) (string, error) {
	if prompts == nil {
		prompts = []string{}
	}
	data, err := json.Marshal(prompts)
	if err != nil {
		return "", fmt.Errorf("db: encode prompts: %w", err)
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
