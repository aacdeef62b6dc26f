package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"velu/internal/agent"
	"velu/internal/domain"
	"velu/internal/task"
)

const pipelineAgentID = "pipeline"

var ErrNoJobStore = errors.New("job store not configured")

// RunPipeline drives every step of PipelineOrder through Run under one parent
// job. Each step result is stored under subjobs_detail before the next step
// starts, so the reporter sees all earlier steps. A failing step does not
// stop the pipeline; it only marks the job as failed.
func (s *Service) RunPipeline(ctx context.Context, payload task.Payload) task.Result {
	if s.jobs == nil {
		return task.Failure(pipelineAgentID, ErrNoJobStore.Error())
	}
	if payload == nil {
		payload = task.Payload{}
	}
	idea := payload.String("idea", "demo")
	module := payload.String("module", "hello_mod")

	ctx, span := s.tracer.Start(ctx, "orchestrator.pipeline")
	defer span.End()
	start := s.now()

	jobID, err := s.jobs.CreateJob(ctx, pipelineAgentID, domain.JobStatusWorking, map[string]any{
		"idea":   idea,
		"module": module,
	})
	if err != nil {
		s.logger.Error("create pipeline job", zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return task.Failure(pipelineAgentID, "StoreError: "+err.Error())
	}
	span.SetAttributes(attribute.Int64("velu.job_id", jobID))
	logger := s.logger.With(zap.Int64("job_id", jobID))

	doc := []byte(`{"subjobs_detail":{}}`)
	order := s.Order()
	results := make(map[string]task.Result, len(order))
	var firstErr string

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			if firstErr == "" {
				firstErr = "canceled: " + err.Error()
			}
			break
		}
		res := s.Run(ctx, task.New(name, stepPayload(name, idea, module, jobID, s.workspace, results)))
		results[name] = res
		if !res.OK() && firstErr == "" {
			firstErr = fmt.Sprintf("%s: %s", name, res.ErrorMessage())
		}

		doc, err = sjson.SetBytes(doc, "subjobs_detail."+name, res)
		if err == nil {
			err = s.jobs.SaveJobResult(context.WithoutCancel(ctx), jobID, string(doc))
		}
		if err != nil {
			logger.Error("save step result", zap.String("step", name), zap.Error(err))
			s.finishPipeline(ctx, jobID, domain.JobStatusError, doc, "StoreError: "+err.Error())
			span.SetStatus(codes.Error, err.Error())
			return task.Failure(pipelineAgentID, "StoreError: "+err.Error()).With("job_id", jobID)
		}
	}

	ok := firstErr == ""
	status := domain.JobStatusDone
	if !ok {
		status = domain.JobStatusError
		span.SetStatus(codes.Error, firstErr)
	}
	s.finishPipeline(ctx, jobID, status, doc, firstErr)

	detail := gjson.GetBytes(doc, "subjobs_detail")
	var subjobs []string
	detail.ForEach(func(key, _ gjson.Result) bool {
		subjobs = append(subjobs, key.String())
		return true
	})

	elapsed := s.now().Sub(start)
	s.metrics.ObservePipeline(string(status), elapsed)
	s.emit(map[string]any{
		"event":       "pipeline",
		"job_id":      jobID,
		"ok":          ok,
		"status":      string(status),
		"subjobs":     subjobs,
		"duration_ms": elapsed.Milliseconds(),
	})
	logger.Info("pipeline finished", zap.String("status", string(status)), zap.Duration("duration", elapsed))

	out := task.Result{
		task.KeyOK:       ok,
		task.KeyAgent:    pipelineAgentID,
		"job_id":         jobID,
		"subjobs":        subjobs,
		"subjobs_detail": json.RawMessage(detail.Raw),
	}
	if plan, isText := results[agent.StepPlan]["plan"].(string); isText {
		out["plan"] = plan
	}
	if !ok {
		out[task.KeyError] = firstErr
	}
	return out
}

func (s *Service) finishPipeline(ctx context.Context, jobID int64, status domain.JobStatus, doc []byte, lastErr string) {
	final, err := sjson.SetBytes(doc, "ok", status == domain.JobStatusDone)
	if err != nil {
		final = doc
	}
	if err := s.jobs.FinishJob(context.WithoutCancel(ctx), jobID, status, string(final), lastErr); err != nil {
		s.logger.Error("finish pipeline job", zap.Int64("job_id", jobID), zap.Error(err))
	}
}

// stepPayload builds the input of one pipeline step from the pipeline
// arguments and the results of earlier steps.
func stepPayload(step, idea, module string, jobID int64, workspace string, prev map[string]task.Result) task.Payload {
	switch step {
	case agent.StepPlan, agent.StepCodegen:
		return task.Payload{"idea": idea, "module": module}
	case agent.StepExecute:
		var files []task.File
		if res, ok := prev[agent.StepCodegen]; ok {
			files = res.Files()
		}
		return task.Payload{"files": files, "module": module}
	case agent.StepTest:
		return task.Payload{"rootdir": workspace}
	case agent.StepReport:
		return task.Payload{"parent_job": jobID}
	}
	return task.Payload{}
}
