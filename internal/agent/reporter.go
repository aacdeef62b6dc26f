package agent

import (
	"context"
	"errors"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"velu/internal/domain"
	"velu/internal/store/sqlite"
	"velu/internal/task"
)

// JobReader loads a stored job by id. Only id, task, status, payload,
// result and last_error need to be filled. ReadJob must wrap
// sqlite.ErrNotFound for unknown ids.
type JobReader interface {
	ReadJob(ctx context.Context, jobID int64) (domain.Job, error)
}

type Reporter struct {
	jobs   JobReader
	logger *zap.Logger
}

func NewReporter(jobs JobReader, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{jobs: jobs, logger: logger}
}

// Handle summarizes a parent job: its identity and the names of the steps
// recorded under subjobs_detail, in stored order.
func (r *Reporter) Handle(ctx context.Context, p task.Payload) task.Result {
	var in struct {
		ParentJob int64 `mapstructure:"parent_job"`
	}
	if err := p.Decode(&in); err != nil || in.ParentJob <= 0 {
		return task.Failure(StepReport, "invalid parent_job")
	}
	if r.jobs == nil {
		return task.Failure(StepReport, "job store not configured")
	}

	job, err := r.jobs.ReadJob(ctx, in.ParentJob)
	if errors.Is(err, sqlite.ErrNotFound) {
		return task.Failure(StepReport, "parent not found")
	}
	if err != nil {
		r.logger.Error("load parent job", zap.Int64("parent_job", in.ParentJob), zap.Error(err))
		return task.Failure(StepReport, "StoreError: "+err.Error())
	}

	if !gjson.ValidBytes(job.Result) {
		return task.Failure(StepReport, "parent has no result")
	}
	parsed := gjson.ParseBytes(job.Result)
	if !parsed.IsObject() {
		return task.Failure(StepReport, "parent has no result")
	}

	subjobs := make([]string, 0)
	if detail := parsed.Get("subjobs_detail"); detail.IsObject() {
		detail.ForEach(func(key, _ gjson.Result) bool {
			subjobs = append(subjobs, key.String())
			return true
		})
	}

	return task.Success(StepReport).
		With("job", map[string]any{
			"id":     job.ID,
			"task":   job.Task,
			"status": string(job.Status),
		}).
		With("subjobs", subjobs)
}
