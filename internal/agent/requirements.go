package agent

import (
	"context"

	"velu/internal/task"
)

type Story struct {
	As     string `json:"as"`
	IWant  string `json:"i_want"`
	SoThat string `json:"so_that"`
}

// Requirements expands an intake into canned user stories and NFRs.
func Requirements(_ context.Context, p task.Payload) task.Result {
	regions := []any{}
	if ops, ok := p["ops"].(map[string]any); ok {
		if r, ok := ops["regions"].([]any); ok {
			regions = r
		}
	}
	return task.Success("requirements").
		With("idea", p.String("idea", "demo")).
		With("module", p.String("module", "hello_mod")).
		With("stories", []Story{
			{As: "user", IWant: "sign in", SoThat: "I can access my account"},
			{As: "admin", IWant: "manage users", SoThat: "I can administer the org"},
		}).
		With("nfr", map[string]any{
			"availability_slo": "99.9%",
			"p95_latency_ms":   300,
			"regions":          regions,
		}).
		With("risks", []string{}).
		With("notes", []string{})
}
