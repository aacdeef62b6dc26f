package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"velu/internal/domain"
)

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	id, err := store.CreateJob(ctx, "pipeline", domain.JobStatusWorking, map[string]any{"idea": "demo"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if id <= 0 {
		t.Fatalf("unexpected job id %d", id)
	}

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Task != "pipeline" || job.Status != domain.JobStatusWorking {
		t.Fatalf("unexpected job %+v", job)
	}
	if string(job.Payload) != `{"idea":"demo"}` {
		t.Fatalf("unexpected payload %s", job.Payload)
	}
	if len(job.Result) != 0 {
		t.Fatalf("expected empty result, got %s", job.Result)
	}

	if err := store.SaveJobResult(ctx, id, `{"subjobs_detail":{"plan":{"ok":true}}}`); err != nil {
		t.Fatalf("save result: %v", err)
	}
	if err := store.FinishJob(ctx, id, domain.JobStatusError, `{"ok":false}`, "test failed"); err != nil {
		t.Fatalf("finish job: %v", err)
	}
	job, err = store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get finished job: %v", err)
	}
	if job.Status != domain.JobStatusError || job.LastError != "test failed" || string(job.Result) != `{"ok":false}` {
		t.Fatalf("unexpected finished job %+v", job)
	}
}

func TestGetJobNotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	if _, err := store.GetJob(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.SaveJobResult(context.Background(), 42, "{}"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	for _, name := range []string{"plan", "codegen", "execute"} {
		if _, err := store.CreateJob(ctx, name, "", nil); err != nil {
			t.Fatalf("create job %s: %v", name, err)
		}
	}
	jobs, err := store.ListJobs(ctx, 2)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Task != "execute" || jobs[1].Task != "codegen" {
		t.Fatalf("unexpected order: %s, %s", jobs[0].Task, jobs[1].Task)
	}
	if jobs[0].Status != domain.JobStatusQueued {
		t.Fatalf("expected default status queued, got %s", jobs[0].Status)
	}
}

func TestReadsQueueWrittenRows(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	// Fractional timestamps, as other queue writers store them.
	if _, err := store.db.ExecContext(ctx,
		`INSERT INTO jobs(task, status, result, created_at, updated_at) VALUES('pipeline', 'done', '{}', 1700000000.25, 1700000001.5)`,
	); err != nil {
		t.Fatalf("insert queue row: %v", err)
	}
	if _, err := store.db.ExecContext(ctx,
		`INSERT INTO jobs(task, status, created_at, updated_at) VALUES('', '', 0, 0)`,
	); err != nil {
		t.Fatalf("insert bare row: %v", err)
	}

	jobs, err := store.ListJobs(ctx, 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	want := time.Unix(1700000000, 250_000_000).UTC()
	if !jobs[1].CreatedAt.Equal(want) {
		t.Fatalf("expected created_at %v, got %v", want, jobs[1].CreatedAt)
	}

	job, err := store.ReadJob(ctx, 1)
	if err != nil {
		t.Fatalf("read job: %v", err)
	}
	if job.Task != "pipeline" || job.Status != domain.JobStatusDone || string(job.Result) != "{}" {
		t.Fatalf("unexpected job %+v", job)
	}
	if _, err := store.ReadJob(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReadJobToleratesNullColumns(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if _, err := store.db.ExecContext(ctx, `CREATE TABLE jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		status TEXT, task TEXT, payload TEXT, result TEXT, last_error TEXT,
		attempts INTEGER NOT NULL DEFAULT 0, created_at REAL, updated_at REAL
	)`); err != nil {
		t.Fatalf("create queue table: %v", err)
	}
	if _, err := store.db.ExecContext(ctx, `INSERT INTO jobs(result) VALUES('{"ok":true}')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	job, err := store.ReadJob(ctx, 1)
	if err != nil {
		t.Fatalf("read job: %v", err)
	}
	if job.Task != "" || job.Status != "" || string(job.Result) != `{"ok":true}` {
		t.Fatalf("unexpected job %+v", job)
	}
	jobs, err := store.ListJobs(ctx, 5)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || !jobs[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
}

func TestMatchPolicyRules(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	past := time.Now().UTC().Add(-time.Hour)
	rules := []domain.PolicyRule{
		{ID: uuid.NewString(), TaskPattern: "deploy*", Effect: domain.PolicyEffectAllow, Note: "deploys reviewed"},
		{ID: uuid.NewString(), TaskPattern: "deploy_prod", Effect: domain.PolicyEffectDeny, Note: "prod frozen"},
		{ID: uuid.NewString(), TaskPattern: "*", Effect: domain.PolicyEffectDeny, ExpiresAt: &past},
	}
	for _, r := range rules {
		if err := store.CreatePolicyRule(ctx, r); err != nil {
			t.Fatalf("create rule %s: %v", r.TaskPattern, err)
		}
	}

	matched, err := store.MatchPolicyRules(ctx, "Deploy_Prod", time.Now().UTC())
	if err != nil {
		t.Fatalf("match rules: %v", err)
	}
	if len(matched) != 2 {
		t.Fatalf("expected 2 matching rules, got %d", len(matched))
	}
	if matched[0].Effect != domain.PolicyEffectDeny || matched[0].Note != "prod frozen" {
		t.Fatalf("expected deny rule first, got %+v", matched[0])
	}

	matched, err = store.MatchPolicyRules(ctx, "plan", time.Now().UTC())
	if err != nil {
		t.Fatalf("match rules for plan: %v", err)
	}
	if len(matched) != 0 {
		t.Fatalf("expired wildcard should not match, got %+v", matched)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		t.Fatalf("migrate store: %v", err)
	}
	return store
}
