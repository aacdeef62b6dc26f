package domain

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusWorking JobStatus = "working"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// Job is a row of the jobs table. Result and Payload hold the raw JSON text
// as stored; Result is empty until a step has been recorded.
type Job struct {
	ID        int64           `json:"id"`
	Task      string          `json:"task"`
	Status    JobStatus       `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type PolicyEffect string

const (
	PolicyEffectAllow PolicyEffect = "allow"
	PolicyEffectDeny  PolicyEffect = "deny"
)

// PolicyRule matches task names by glob pattern ("deploy", "db_*", "*").
type PolicyRule struct {
	ID          string       `json:"id"`
	TaskPattern string       `json:"task_pattern"`
	Effect      PolicyEffect `json:"effect"`
	Note        string       `json:"note,omitempty"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Event is one orchestrator notification as written to the state log and
// fanned out to live subscribers.
type Event map[string]any

func (e Event) Name() string {
	s, _ := e["event"].(string)
	return s
}
