package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"velu/internal/domain"
	"velu/internal/task"
)

// Store supplies persisted rules. A nil Store leaves only the static deny list.
type Store interface {
	MatchPolicyRules(ctx context.Context, taskName string, now time.Time) ([]domain.PolicyRule, error)
}

type Decision struct {
	Allowed        bool     `json:"allowed"`
	RulesTriggered []string `json:"rules_triggered"`
	Notes          string   `json:"notes"`
}

// Map renders the decision in the shape recorded in results and events.
func (d Decision) Map() map[string]any {
	rules := d.RulesTriggered
	if rules == nil {
		rules = []string{}
	}
	return map[string]any{
		"allowed":         d.Allowed,
		"rules_triggered": rules,
		"notes":           d.Notes,
	}
}

type Engine struct {
	store Store
	deny  map[string]struct{}
	now   func() time.Time
}

func New(store Store, denyTasks []string) *Engine {
	deny := make(map[string]struct{}, len(denyTasks))
	for _, name := range denyTasks {
		if n := task.NormalizeName(name); n != "" {
			deny[n] = struct{}{}
		}
	}
	return &Engine{store: store, deny: deny, now: time.Now}
}

// Evaluate decides whether env may run. Static denials win without touching
// the store; otherwise any matching deny rule denies and allow rules are
// reported in RulesTriggered.
func (e *Engine) Evaluate(ctx context.Context, env task.Envelope) (Decision, error) {
	name := task.NormalizeName(env.Task)
	if _, ok := e.deny[name]; ok {
		return Decision{
			Allowed:        false,
			RulesTriggered: []string{"deny_" + name + "_stub"},
			Notes:          "Denied by default stub rule",
		}, nil
	}
	if e.store == nil {
		return Decision{Allowed: true, RulesTriggered: []string{}, Notes: "Allowed by default"}, nil
	}

	rules, err := e.store.MatchPolicyRules(ctx, name, e.now().UTC())
	if err != nil {
		return Decision{}, fmt.Errorf("match policy rules: %w", err)
	}
	triggered := make([]string, 0, len(rules))
	var denyNotes, allowNotes []string
	for _, r := range rules {
		triggered = append(triggered, r.ID)
		switch r.Effect {
		case domain.PolicyEffectDeny:
			denyNotes = append(denyNotes, noteFor(r))
		case domain.PolicyEffectAllow:
			allowNotes = append(allowNotes, noteFor(r))
		}
	}
	if len(denyNotes) > 0 {
		return Decision{Allowed: false, RulesTriggered: triggered, Notes: strings.Join(denyNotes, "; ")}, nil
	}
	notes := "Allowed by default"
	if len(allowNotes) > 0 {
		notes = strings.Join(allowNotes, "; ")
	}
	return Decision{Allowed: true, RulesTriggered: triggered, Notes: notes}, nil
}

func noteFor(r domain.PolicyRule) string {
	if r.Note != "" {
		return r.Note
	}
	return fmt.Sprintf("%s rule %s", r.Effect, r.ID)
}
