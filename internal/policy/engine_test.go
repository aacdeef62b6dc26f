package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velu/internal/domain"
	"velu/internal/task"
)

type testRuleStore struct {
	rules []domain.PolicyRule
	err   error
	asked []string
}

func (s *testRuleStore) MatchPolicyRules(_ context.Context, taskName string, _ time.Time) ([]domain.PolicyRule, error) {
	s.asked = append(s.asked, taskName)
	return s.rules, s.err
}

func TestEvaluateStaticDeny(t *testing.T) {
	store := &testRuleStore{}
	e := New(store, []string{"Deploy"})

	d, err := e.Evaluate(context.Background(), task.New("deploy", nil))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"deny_deploy_stub"}, d.RulesTriggered)
	assert.Equal(t, "Denied by default stub rule", d.Notes)
	assert.Empty(t, store.asked)
}

func TestEvaluateAllowedByDefault(t *testing.T) {
	e := New(nil, []string{"deploy"})

	d, err := e.Evaluate(context.Background(), task.New("plan", nil))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "Allowed by default", d.Notes)
	assert.Equal(t, []string{}, d.Map()["rules_triggered"])
}

func TestEvaluateStoreRules(t *testing.T) {
	store := &testRuleStore{rules: []domain.PolicyRule{
		{ID: "r-deny", Effect: domain.PolicyEffectDeny, Note: "frozen"},
		{ID: "r-allow", Effect: domain.PolicyEffectAllow},
	}}
	e := New(store, nil)

	d, err := e.Evaluate(context.Background(), task.New("GitCommit", nil))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"r-deny", "r-allow"}, d.RulesTriggered)
	assert.Equal(t, "frozen", d.Notes)
	assert.Equal(t, []string{"gitcommit"}, store.asked)

	store.rules = store.rules[1:]
	d, err = e.Evaluate(context.Background(), task.New("gitcommit", nil))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, "allow rule r-allow", d.Notes)
}

func TestEvaluateStoreError(t *testing.T) {
	e := New(&testRuleStore{err: errors.New("db down")}, nil)
	_, err := e.Evaluate(context.Background(), task.New("plan", nil))
	assert.Error(t, err)
}
