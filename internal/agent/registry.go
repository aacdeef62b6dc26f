package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"velu/internal/task"
)

// ErrUnknownHandler is returned by Lookup for names nobody registered.
var ErrUnknownHandler = errors.New("unknown handler")

// Handler turns a payload into a result. Handlers report failures through
// the result (ok=false plus error) and never panic across this boundary.
type Handler func(ctx context.Context, p task.Payload) task.Result

// Registry maps lowercase task names to handlers. It is filled during
// startup and only read afterwards, so Lookup and Dispatch are safe for
// concurrent use once construction is done.
type Registry struct {
	handlers map[string]Handler
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

func (r *Registry) Register(name string, h Handler) error {
	key := task.NormalizeName(name)
	if key == "" {
		return errors.New("register handler: empty name")
	}
	if h == nil {
		return fmt.Errorf("register handler %q: nil handler", key)
	}
	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("register handler %q: already registered", key)
	}
	r.handlers[key] = h
	return nil
}

// EnsureStubs installs a placeholder for every name that has no handler yet.
func (r *Registry) EnsureStubs(names []string) {
	for _, name := range names {
		key := task.NormalizeName(name)
		if _, ok := r.handlers[key]; ok || key == "" {
			continue
		}
		r.handlers[key] = stubHandler(key)
		r.logger.Warn("no handler configured, installed stub", zap.String("task", key))
	}
}

func stubHandler(name string) Handler {
	return func(_ context.Context, _ task.Payload) task.Result {
		return task.Success(name).With("note", "no handler configured")
	}
}

func (r *Registry) Lookup(name string) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, name)
	}
	return h, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the handler for env.Task. Unknown names, panics and results
// missing "ok" are converted into failure results carrying the task name.
func (r *Registry) Dispatch(ctx context.Context, env task.Envelope) (res task.Result) {
	h, err := r.Lookup(env.Task)
	if err != nil {
		return task.Failure(env.Task, ErrUnknownHandler.Error())
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panicked", zap.String("task", env.Task), zap.Any("panic", p))
			res = task.Failure(env.Task, fmt.Sprintf("panic: %v", p))
		}
	}()

	payload := env.Payload
	if payload == nil {
		payload = task.Payload{}
	}
	res = h(ctx, payload)
	if res == nil {
		return task.Failure(env.Task, "handler returned no result")
	}
	if _, ok := res[task.KeyOK].(bool); !ok {
		return task.Failure(env.Task, "handler result missing ok")
	}
	if res.Agent() == "" {
		res[task.KeyAgent] = env.Task
	}
	if !res.OK() && res.ErrorMessage() == "" {
		res[task.KeyError] = "unknown error"
	}
	return res
}
