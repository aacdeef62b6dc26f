package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"velu/internal/agent"
	"velu/internal/domain"
	"velu/internal/metrics"
	"velu/internal/modelrouter"
	"velu/internal/policy"
	"velu/internal/task"
	"velu/internal/telemetry"
)

const orchestratorAgentID = "orchestrator"

type Dispatcher interface {
	Dispatch(ctx context.Context, env task.Envelope) task.Result
	Names() []string
}

type Policy interface {
	Evaluate(ctx context.Context, env task.Envelope) (policy.Decision, error)
}

type Router interface {
	Choose(env task.Envelope) modelrouter.Choice
}

type EventLog interface {
	Record(event map[string]any) error
}

type JobStore interface {
	CreateJob(ctx context.Context, taskName string, status domain.JobStatus, payload any) (int64, error)
	SaveJobResult(ctx context.Context, jobID int64, result string) error
	FinishJob(ctx context.Context, jobID int64, status domain.JobStatus, result string, lastError string) error
	GetJob(ctx context.Context, jobID int64) (domain.Job, error)
	ListJobs(ctx context.Context, limit int) ([]domain.Job, error)
}

type Publisher interface {
	Publish(ev domain.Event) error
}

// Deps wires the collaborators of a Service. Registry is required; the rest
// fall back to permissive defaults or no-ops when nil.
type Deps struct {
	Registry  Dispatcher
	Policy    Policy
	Router    Router
	Events    EventLog
	Jobs      JobStore
	Bus       Publisher
	Metrics   *metrics.Metrics
	Tracer    trace.TracerProvider
	Workspace string
	Logger    *zap.Logger
}

type Service struct {
	registry  Dispatcher
	policy    Policy
	router    Router
	events    EventLog
	jobs      JobStore
	bus       Publisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	workspace string
	known     map[string]struct{}
	logger    *zap.Logger
	now       func() time.Time
}

func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pol := deps.Policy
	if pol == nil {
		pol = policy.New(nil, nil)
	}
	router := deps.Router
	if router == nil {
		router = modelrouter.New(nil)
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	tp := deps.Tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	workspace := deps.Workspace
	if workspace == "" {
		workspace = "."
	}

	known := make(map[string]struct{})
	for _, name := range deps.Registry.Names() {
		known[name] = struct{}{}
	}

	return &Service{
		registry:  deps.Registry,
		policy:    pol,
		router:    router,
		events:    deps.Events,
		jobs:      deps.Jobs,
		bus:       deps.Bus,
		metrics:   m,
		tracer:    tp.Tracer(telemetry.TracerName),
		workspace: workspace,
		known:     known,
		logger:    logger,
		now:       time.Now,
	}
}

// Order is the advertised pipeline order.
func (s *Service) Order() []string {
	return agent.PipelineOrder()
}

// Run executes one task envelope: policy check, advisory model choice,
// handler dispatch and a state-log event. The handler result is returned as
// is, except for denials and envelopes without a task name.
func (s *Service) Run(ctx context.Context, env task.Envelope) task.Result {
	env = task.New(env.Task, env.Payload)
	runID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "orchestrator.task", trace.WithAttributes(
		attribute.String("velu.task", env.Task),
		attribute.String("velu.run_id", runID),
	))
	defer span.End()

	start := s.now()
	s.metrics.TaskStarted()

	var (
		res      task.Result
		decision *policy.Decision
		choice   *modelrouter.Choice
		outcome  = metrics.OutcomeOK
	)
	switch {
	case env.Task == "":
		res = task.Failure(orchestratorAgentID, "missing task")
	default:
		d, err := s.policy.Evaluate(ctx, env)
		if err != nil {
			s.logger.Error("policy evaluation failed", zap.String("task", env.Task), zap.Error(err))
			res = task.Failure(orchestratorAgentID, "policy evaluation failed: "+err.Error())
			break
		}
		decision = &d
		if !d.Allowed {
			res = task.Failure(env.Task, "denied by policy").With("policy", d.Map())
			outcome = metrics.OutcomeDenied
			break
		}
		c := s.router.Choose(env)
		choice = &c
		res = s.registry.Dispatch(ctx, env)
	}
	if !res.OK() && outcome == metrics.OutcomeOK {
		outcome = metrics.OutcomeError
	}

	elapsed := s.now().Sub(start)
	s.metrics.ObserveTask(s.metricLabel(env.Task), outcome, elapsed)
	span.SetAttributes(attribute.Bool("velu.ok", res.OK()))
	if !res.OK() {
		span.SetStatus(codes.Error, res.ErrorMessage())
	}

	event := map[string]any{
		"event":       "task",
		"run_id":      runID,
		"task":        env.Task,
		"ok":          res.OK(),
		"policy":      nil,
		"model":       nil,
		"duration_ms": elapsed.Milliseconds(),
	}
	if decision != nil {
		event["policy"] = decision.Map()
	}
	if choice != nil {
		event["model"] = choice.Map()
	}
	if !res.OK() {
		event["error"] = res.ErrorMessage()
	}
	s.emit(event)

	s.logger.Debug("task finished",
		zap.String("task", env.Task),
		zap.String("run_id", runID),
		zap.Bool("ok", res.OK()),
		zap.Duration("duration", elapsed),
	)
	return res
}

func (s *Service) metricLabel(name string) string {
	if _, ok := s.known[name]; ok {
		return name
	}
	return "other"
}

// emit appends event to the state log and offers it to live subscribers.
// Neither failure affects the caller.
func (s *Service) emit(event map[string]any) {
	if s.events != nil {
		if err := s.events.Record(event); err != nil {
			s.logger.Warn("record state event", zap.Any("event", event["event"]), zap.Error(err))
		}
	}
	if s.bus != nil {
		ev := make(domain.Event, len(event))
		for k, v := range event {
			ev[k] = v
		}
		if err := s.bus.Publish(ev); err != nil {
			s.logger.Debug("publish event", zap.Error(err))
		}
	}
}

func (s *Service) Job(ctx context.Context, id int64) (domain.Job, error) {
	if s.jobs == nil {
		return domain.Job{}, ErrNoJobStore
	}
	return s.jobs.GetJob(ctx, id)
}

func (s *Service) Jobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if s.jobs == nil {
		return nil, ErrNoJobStore
	}
	return s.jobs.ListJobs(ctx, limit)
}
