package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"velu/internal/domain"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task TEXT NOT NULL,
	status TEXT NOT NULL,
	payload TEXT NULL,
	result TEXT NULL,
	last_error TEXT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS policy_rules (
	id TEXT PRIMARY KEY,
	task_pattern TEXT NOT NULL,
	effect TEXT NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	expires_at INTEGER NULL,
	created_at INTEGER NOT NULL
);
`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if dir := filepath.Dir(dbPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// CreateJob inserts a job row and returns its id. payload is stored as JSON.
func (s *Store) CreateJob(ctx context.Context, taskName string, status domain.JobStatus, payload any) (int64, error) {
	if status == "" {
		status = domain.JobStatusQueued
	}
	var payloadJSON sql.NullString
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal job payload: %w", err)
		}
		payloadJSON = sql.NullString{String: string(raw), Valid: true}
	}
	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs(task, status, payload, result, last_error, attempts, created_at, updated_at)
		VALUES(?, ?, ?, NULL, NULL, 1, ?, ?)`,
		taskName, string(status), payloadJSON, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read job id: %w", err)
	}
	return id, nil
}

// SaveJobResult stores the raw result JSON without changing the status.
func (s *Store) SaveJobResult(ctx context.Context, jobID int64, result string) error {
	return s.updateJob(ctx, `UPDATE jobs SET result = ?, updated_at = ? WHERE id = ?`, "save job result",
		result, time.Now().UTC().Unix(), jobID)
}

// FinishJob sets the final status. An empty lastError clears the column.
func (s *Store) FinishJob(ctx context.Context, jobID int64, status domain.JobStatus, result string, lastError string) error {
	var errCol sql.NullString
	if lastError != "" {
		errCol = sql.NullString{String: lastError, Valid: true}
	}
	return s.updateJob(ctx, `UPDATE jobs SET status = ?, result = ?, last_error = ?, updated_at = ? WHERE id = ?`, "finish job",
		string(status), result, errCol, time.Now().UTC().Unix(), jobID)
}

func (s *Store) updateJob(ctx context.Context, query string, op string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID int64) (domain.Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, task, status, payload, result, last_error, attempts, created_at, updated_at
		FROM jobs WHERE id = ?`,
		jobID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, fmt.Errorf("get job %d: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ReadJob loads only the columns every jobs table carries (id, task, status,
// payload, result, last_error), so it also works against tables created by
// other queue writers. Timestamps and attempts are left zero.
func (s *Store) ReadJob(ctx context.Context, jobID int64) (domain.Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, task, status, payload, result, last_error FROM jobs WHERE id = ?`,
		jobID,
	)
	var j domain.Job
	var taskName, status, payload, result, lastError sql.NullString
	err := row.Scan(&j.ID, &taskName, &status, &payload, &result, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, fmt.Errorf("read job %d: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("read job: %w", err)
	}
	fillJob(&j, taskName, status, payload, result, lastError)
	return j, nil
}

// ListJobs returns the most recent jobs first. limit is clamped to 1..1000.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, task, status, payload, result, last_error, attempts, created_at, updated_at
		FROM jobs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanJob tolerates NULL text columns and REAL timestamps, which is how
// queue writers other than this package lay the table out.
func scanJob(row scanner) (domain.Job, error) {
	var j domain.Job
	var taskName, status, payload, result, lastError sql.NullString
	var attempts sql.NullInt64
	var created, updated sql.NullFloat64
	if err := row.Scan(&j.ID, &taskName, &status, &payload, &result, &lastError, &attempts, &created, &updated); err != nil {
		return domain.Job{}, err
	}
	fillJob(&j, taskName, status, payload, result, lastError)
	j.Attempts = int(attempts.Int64)
	j.CreatedAt = floatToTime(created)
	j.UpdatedAt = floatToTime(updated)
	return j, nil
}

func fillJob(j *domain.Job, taskName, status, payload, result, lastError sql.NullString) {
	j.Task = taskName.String
	j.Status = domain.JobStatus(status.String)
	if payload.Valid {
		j.Payload = json.RawMessage(payload.String)
	}
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	j.LastError = lastError.String
}

func (s *Store) CreatePolicyRule(ctx context.Context, rule domain.PolicyRule) error {
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO policy_rules(id, task_pattern, effect, note, expires_at, created_at)
		VALUES(?, ?, ?, ?, ?, ?)`,
		rule.ID, normalizePattern(rule.TaskPattern), string(rule.Effect), rule.Note,
		nullableUnix(rule.ExpiresAt), rule.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create policy rule: %w", err)
	}
	return nil
}

// MatchPolicyRules returns the unexpired rules whose pattern matches
// taskName, deny rules first.
func (s *Store) MatchPolicyRules(ctx context.Context, taskName string, now time.Time) ([]domain.PolicyRule, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, task_pattern, effect, note, expires_at, created_at
		FROM policy_rules
		ORDER BY CASE effect WHEN 'deny' THEN 0 ELSE 1 END, created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query policy rules: %w", err)
	}
	defer rows.Close()

	target := normalizePattern(taskName)
	var matched []domain.PolicyRule
	for rows.Next() {
		var r domain.PolicyRule
		var effect string
		var expires sql.NullInt64
		var created int64
		if err := rows.Scan(&r.ID, &r.TaskPattern, &effect, &r.Note, &expires, &created); err != nil {
			return nil, fmt.Errorf("scan policy rule: %w", err)
		}
		if expires.Valid && now.Unix() > expires.Int64 {
			continue
		}
		if !globMatch(r.TaskPattern, target) {
			continue
		}
		r.Effect = domain.PolicyEffect(effect)
		r.ExpiresAt = int64ToTimePtr(expires)
		r.CreatedAt = unixToTime(created)
		matched = append(matched, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policy rules: %w", err)
	}
	return matched, nil
}

func int64ToTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid || v.Int64 <= 0 {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func floatToTime(v sql.NullFloat64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	sec, frac := math.Modf(v.Float64)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func normalizePattern(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

func globMatch(pattern string, value string) bool {
	if pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, value)
	if err != nil {
		return false
	}
	return ok
}
