// Package modelrouter picks an advisory model for a task. The choice is
// recorded with each run but never affects dispatch.
package modelrouter

import "velu/internal/task"

type Choice struct {
	Name     string         `json:"name"`
	Provider string         `json:"provider"`
	Params   map[string]any `json:"params"`
}

func (c Choice) Map() map[string]any {
	params := make(map[string]any, len(c.Params))
	for k, v := range c.Params {
		params[k] = v
	}
	return map[string]any{"name": c.Name, "provider": c.Provider, "params": params}
}

// Router returns the same local model for every task unless an override is
// registered for the task name.
type Router struct {
	fallback  Choice
	overrides map[string]Choice
}

func New(overrides map[string]Choice) *Router {
	o := make(map[string]Choice, len(overrides))
	for name, c := range overrides {
		o[task.NormalizeName(name)] = c
	}
	return &Router{
		fallback: Choice{
			Name:     "mini-phi",
			Provider: "local",
			Params:   map[string]any{"temperature": 0.2, "max_tokens": 512},
		},
		overrides: o,
	}
}

func (r *Router) Choose(env task.Envelope) Choice {
	if c, ok := r.overrides[task.NormalizeName(env.Task)]; ok {
		return c
	}
	return r.fallback
}
