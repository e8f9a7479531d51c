// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"marketplace-workers/internal/common/config"
	"marketplace-workers/internal/common/errors"
	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/common/metrics"
	"marketplace-workers/internal/common/observability"
	"marketplace-workers/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// JobHandler processes one job. It completes, fails or throws the job itself
// and returns the error it reported, if any.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job) error
}

const (
	completeAttempts = 3
	completeBackoff  = 200 * time.Millisecond
)

// StartWorker opens a job worker for taskType. Disabled workers return nil.
func StartWorker(
	client zbc.Client,
	taskType string,
	wcfg config.WorkerConfig,
	handler JobHandler,
	obs *observability.Observability,
	log logger.Logger,
) worker.JobWorker {
	if !wcfg.Enabled {
		log.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return nil
	}

	jobWorker := client.NewJobWorker().
		JobType(taskType).
		Handler(Instrument(taskType, handler, obs)).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Name(fmt.Sprintf("%s-worker", taskType)).
		Open()

	log.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeoutMs":     wcfg.Timeout,
	})
	return jobWorker
}

// Instrument adapts handler to the Zeebe callback and records the in-flight
// gauge, outcome counters and duration of every job.
func Instrument(taskType string, handler JobHandler, obs *observability.Observability) worker.JobHandler {
	return func(client worker.JobClient, job entities.Job) {
		start := time.Now()
		metrics.WorkerJobsActive.WithLabelValues(taskType).Inc()
		defer metrics.WorkerJobsActive.WithLabelValues(taskType).Dec()

		err := handler.Handle(client, job)

		elapsed := time.Since(start)
		status := observability.StatusCompleted
		if err != nil {
			status = observability.StatusFailed
			metrics.WorkerJobsFailed.WithLabelValues(taskType, string(errors.Normalize(err).Code)).Inc()
		} else {
			metrics.WorkerJobsCompleted.WithLabelValues(taskType).Inc()
		}
		metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
		obs.RecordJob(context.Background(), taskType, status, elapsed)
	}
}

// CompleteJob sends the completion with output as job variables, resending
// on transient gateway errors.
func CompleteJob(ctx context.Context, client worker.JobClient, job entities.Job, output interface{}) error {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		return fmt.Errorf("build complete command: %w", err)
	}

	delay := completeBackoff
	for attempt := 1; ; attempt++ {
		_, err = cmd.Send(ctx)
		if err == nil {
			return nil
		}
		if attempt == completeAttempts || !isRetryableZeebeError(err) {
			return fmt.Errorf("complete job %d: %w", job.Key, err)
		}
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return fmt.Errorf("complete job %d: %w", job.Key, ctx.Err())
		}
	}
}

// DecodeVariables validates the job variables against schema and decodes
// them into out. Every failure is a validation error.
func DecodeVariables(job entities.Job, schema *validation.Schema, out interface{}) error {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("parse job variables: %v", err))
	}
	if result := schema.Validate(variables); !result.Valid {
		return errors.NewValidationError(strings.Join(result.GetErrorMessages(), "; "))
	}
	if err := json.Unmarshal([]byte(job.Variables), out); err != nil {
		return errors.NewValidationError(fmt.Sprintf("decode job variables: %v", err))
	}
	return nil
}
