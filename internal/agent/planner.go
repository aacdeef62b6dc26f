package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/gammazero/toposort"

	"velu/internal/task"
)

const (
	StepPlan    = "plan"
	StepCodegen = "codegen"
	StepExecute = "execute"
	StepTest    = "test"
	StepReport  = "report"
)

type pipelineStep struct {
	name  string
	after string
}

// Each step consumes the output of the one before it.
var pipelineSteps = []pipelineStep{
	{name: StepPlan},
	{name: StepCodegen, after: StepPlan},
	{name: StepExecute, after: StepCodegen},
	{name: StepTest, after: StepExecute},
	{name: StepReport, after: StepTest},
}

var pipelineOrder = mustSortSteps(pipelineSteps)

// PipelineOrder returns the advertised step sequence. The slice is a copy.
func PipelineOrder() []string {
	return append([]string(nil), pipelineOrder...)
}

func mustSortSteps(steps []pipelineStep) []string {
	order, err := sortSteps(steps)
	if err != nil {
		panic(err)
	}
	return order
}

func sortSteps(steps []pipelineStep) ([]string, error) {
	edges := make([]toposort.Edge, 0, len(steps))
	for _, s := range steps {
		if s.after == "" {
			edges = append(edges, toposort.Edge{nil, s.name})
			continue
		}
		edges = append(edges, toposort.Edge{s.after, s.name})
	}
	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("sort pipeline steps: %w", err)
	}
	order := make([]string, 0, len(steps))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(steps) {
		return nil, fmt.Errorf("sort pipeline steps: got %d of %d steps", len(order), len(steps))
	}
	return order, nil
}

type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Desc   string `json:"desc"`
}

func userServiceEndpoints() []Endpoint {
	return []Endpoint{
		{Method: "POST", Path: "/users/", Desc: "Create user"},
		{Method: "GET", Path: "/users/", Desc: "List users"},
		{Method: "GET", Path: "/users/{user_id}", Desc: "Get user"},
		{Method: "DELETE", Path: "/users/{user_id}", Desc: "Delete user"},
		{Method: "GET", Path: "/users/{user_id}/tasks", Desc: "List tasks for user"},
		{Method: "POST", Path: "/users/{user_id}/tasks", Desc: "Create task for user"},
		{Method: "GET", Path: "/users/{user_id}/tasks/{task_id}", Desc: "Get task"},
		{Method: "PATCH", Path: "/users/{user_id}/tasks/{task_id}", Desc: "Update task title or done flag"},
		{Method: "DELETE", Path: "/users/{user_id}/tasks/{task_id}", Desc: "Delete task"},
	}
}

// Plan produces "<idea> via <module>". The user_service API idea also gets
// a summary, build steps and the endpoint list.
func Plan(_ context.Context, p task.Payload) task.Result {
	idea := p.String("idea", "demo")
	module := p.String("module", "hello_mod")

	res := task.Success(StepPlan).With("plan", idea+" via "+module)
	if strings.HasPrefix(strings.ToLower(idea), "build api") && module == "user_service" {
		res.With("summary", "CRUD API for users and tasks").
			With("steps", []string{
				"Define in-memory models for users and tasks",
				"Expose /users CRUD endpoints",
				"Expose /users/{user_id}/tasks CRUD endpoints",
				"Return typed models from all handlers",
			}).
			With("endpoints", userServiceEndpoints())
	}
	return res
}
