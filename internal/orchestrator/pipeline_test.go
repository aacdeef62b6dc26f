package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"velu/internal/agent"
	"velu/internal/domain"
	"velu/internal/proc"
	"velu/internal/statelog"
	"velu/internal/store/sqlite"
	"velu/internal/task"
)

type testRunner struct {
	mu    sync.Mutex
	specs []proc.Spec
	exit  int
}

func (r *testRunner) Run(_ context.Context, spec proc.Spec) (proc.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	return proc.Output{ExitCode: r.exit, Stdout: []byte("1 passed\n")}, nil
}

type pipelineFixture struct {
	svc       *Service
	store     *sqlite.Store
	runner    *testRunner
	workspace string
	logPath   string
}

func newPipelineFixture(t *testing.T, exit int) pipelineFixture {
	t.Helper()
	dir := t.TempDir()
	workspace := filepath.Join(dir, "ws")

	store, err := sqlite.Open(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	runner := &testRunner{exit: exit}
	reg, err := agent.NewDefaultRegistry(agent.Deps{
		Workspace: workspace,
		Jobs:      store,
		Runner:    runner,
	})
	require.NoError(t, err)

	logPath := filepath.Join(dir, "data", "pointers", "orchestrator.log")
	svc := New(Deps{
		Registry:  reg,
		Events:    statelog.New(logPath),
		Jobs:      store,
		Workspace: workspace,
	})
	return pipelineFixture{svc: svc, store: store, runner: runner, workspace: workspace, logPath: logPath}
}

func TestRunPipelineEndToEnd(t *testing.T) {
	fx := newPipelineFixture(t, 0)
	ctx := context.Background()

	res := fx.svc.RunPipeline(ctx, task.Payload{"idea": "demo", "module": "hello_mod"})

	require.True(t, res.OK(), "pipeline failed: %v", res)
	assert.Equal(t, "pipeline", res.Agent())
	assert.Equal(t, "demo via hello_mod", res["plan"])
	assert.Equal(t, []string{"plan", "codegen", "execute", "test", "report"}, res["subjobs"])

	raw, ok := res["subjobs_detail"].(json.RawMessage)
	require.True(t, ok)
	var keys []string
	gjson.ParseBytes(raw).ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return true
	})
	assert.Equal(t, agent.PipelineOrder(), keys)

	// codegen emits a package dir the executor refuses; only the test file lands
	assert.Equal(t, "tests/test_hello_mod.py", gjson.GetBytes(raw, "execute.wrote.0").String())
	assert.EqualValues(t, 2, gjson.GetBytes(raw, "execute.refused.#").Int())
	_, err := os.Stat(filepath.Join(fx.workspace, "tests", "test_hello_mod.py"))
	require.NoError(t, err)

	// the reporter saw every earlier step but not itself
	reported := gjson.GetBytes(raw, "report.subjobs").Array()
	require.Len(t, reported, 4)
	assert.Equal(t, "test", reported[3].String())
	assert.Equal(t, "working", gjson.GetBytes(raw, "report.job.status").String())

	require.Len(t, fx.runner.specs, 1)
	assert.Equal(t, fx.workspace, fx.runner.specs[0].Dir)
	assert.Contains(t, fx.runner.specs[0].Argv, "tests")

	jobID, ok := res["job_id"].(int64)
	require.True(t, ok)
	job, err := fx.svc.Job(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDone, job.Status)
	assert.Empty(t, job.LastError)
	assert.True(t, gjson.GetBytes(job.Result, "ok").Bool())
	assert.Equal(t, "plan", gjson.GetBytes(job.Result, "subjobs_detail.plan.agent").String())

	events, err := statelog.Tail(fx.logPath, 100)
	require.NoError(t, err)
	require.Len(t, events, 6)
	assert.Equal(t, "plan", events[0]["task"])
	assert.Equal(t, "pipeline", events[5]["event"])
	assert.Equal(t, "done", events[5]["status"])
}

func TestRunPipelineFailedStepDoesNotStop(t *testing.T) {
	fx := newPipelineFixture(t, 1)
	ctx := context.Background()

	res := fx.svc.RunPipeline(ctx, task.Payload{"module": "calc"})

	assert.False(t, res.OK())
	assert.Equal(t, "test: tests failed with exit code 1", res.ErrorMessage())
	assert.Equal(t, []string{"plan", "codegen", "execute", "test", "report"}, res["subjobs"])

	raw := res["subjobs_detail"].(json.RawMessage)
	assert.False(t, gjson.GetBytes(raw, "test.ok").Bool())
	assert.True(t, gjson.GetBytes(raw, "report.ok").Bool())

	jobs, err := fx.svc.Jobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobStatusError, jobs[0].Status)
	assert.Equal(t, "test: tests failed with exit code 1", jobs[0].LastError)
	assert.JSONEq(t, `{"idea":"demo","module":"calc"}`, string(jobs[0].Payload))
}

func TestRunPipelineCanceledMidway(t *testing.T) {
	fx := newPipelineFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	disp := &testDispatcher{result: func(env task.Envelope) task.Result {
		cancel()
		return task.Success(env.Task)
	}}
	fx.svc = New(Deps{Registry: disp, Jobs: fx.store})

	res := fx.svc.RunPipeline(ctx, nil)

	assert.False(t, res.OK())
	assert.Equal(t, "canceled: context canceled", res.ErrorMessage())
	assert.Equal(t, []string{"plan"}, res["subjobs"])
	assert.Len(t, disp.calls, 1)

	jobs, err := fx.svc.Jobs(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobStatusError, jobs[0].Status)
	assert.True(t, gjson.GetBytes(jobs[0].Result, "subjobs_detail.plan.ok").Bool())
}

func TestRunPipelineWithoutStore(t *testing.T) {
	svc := New(Deps{Registry: &testDispatcher{}})

	res := svc.RunPipeline(context.Background(), task.Payload{})
	assert.False(t, res.OK())
	assert.Equal(t, ErrNoJobStore.Error(), res.ErrorMessage())
}

func TestRunPipelineSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	fx := newPipelineFixture(t, 0)
	fx.svc = New(Deps{Registry: &testDispatcher{}, Jobs: fx.store, Tracer: tp})

	fx.svc.RunPipeline(context.Background(), nil)

	spans := exp.GetSpans()
	require.Len(t, spans, 6)
	root := spans[len(spans)-1]
	assert.Equal(t, "orchestrator.pipeline", root.Name)
	for _, s := range spans[:5] {
		assert.Equal(t, "orchestrator.task", s.Name)
		assert.Equal(t, root.SpanContext.SpanID(), s.Parent.SpanID())
	}
}
