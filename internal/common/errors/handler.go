package errors

import (
	"context"
	"encoding/json"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// ErrorHandler fails or throws a job from any error returned by a handler.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleJobError normalizes err, logs it and either fails the job with
// retries (technical errors) or throws a BPMN error (business errors).
// It returns the BPMN code that was reported.
func (h *ErrorHandler) HandleJobError(ctx context.Context, client worker.JobClient, job entities.Job, err error) string {
	stdErr := Normalize(err)
	bpmnErr := ConvertToBPMNError(stdErr)

	h.logError(job, stdErr, bpmnErr)

	retries := GetRetryCount(stdErr.Code)
	if stdErr.Retryable && retries > 0 && job.Retries > 0 {
		h.failJobWithRetries(ctx, client, job, bpmnErr, retries)
	} else {
		h.throwBPMNError(ctx, client, job, bpmnErr)
	}
	return bpmnErr.Code
}

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr
	}
	return NewInternalError(err)
}

func (h *ErrorHandler) failJobWithRetries(ctx context.Context, client worker.JobClient, job entities.Job, bpmnErr *BPMNError, maxRetries int) {
	// job.Retries is what the broker has left; never raise it.
	retriesToUse := maxRetries
	if int(job.Retries) < maxRetries {
		retriesToUse = int(job.Retries)
	}

	cmd := client.NewFailJobCommand().
		JobKey(job.Key).
		Retries(int32(retriesToUse - 1)).
		ErrorMessage(bpmnErr.Message)

	var err error
	if vars, ok := errorVariables(bpmnErr); ok {
		if withVars, verr := cmd.VariablesFromString(vars); verr == nil {
			_, err = withVars.Send(ctx)
			h.reportSend("fail", job, bpmnErr, err)
			return
		}
	}
	_, err = cmd.Send(ctx)
	h.reportSend("fail", job, bpmnErr, err)
}

func (h *ErrorHandler) throwBPMNError(ctx context.Context, client worker.JobClient, job entities.Job, bpmnErr *BPMNError) {
	cmd := client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(bpmnErr.Code).
		ErrorMessage(bpmnErr.Message)

	var err error
	if vars, ok := errorVariables(bpmnErr); ok {
		if withVars, verr := cmd.VariablesFromString(vars); verr == nil {
			_, err = withVars.Send(ctx)
			h.reportSend("throw", job, bpmnErr, err)
			return
		}
	}
	_, err = cmd.Send(ctx)
	h.reportSend("throw", job, bpmnErr, err)
}

func errorVariables(bpmnErr *BPMNError) (string, bool) {
	data, err := json.Marshal(bpmnErr.ToErrorVariables())
	if err != nil {
		return "", false
	}
	return string(data), true
}

// reportSend surfaces a fail or throw the broker never received. The job
// then stays activated until its timeout and is redelivered.
func (h *ErrorHandler) reportSend(command string, job entities.Job, bpmnErr *BPMNError, err error) {
	if err == nil {
		return
	}
	h.logger.Warn("failed to report job error", map[string]interface{}{
		"command":       command,
		"jobKey":        job.Key,
		"jobType":       job.Type,
		"bpmnErrorCode": bpmnErr.Code,
		"error":         err.Error(),
	})
}

func (h *ErrorHandler) logError(job entities.Job, stdErr *StandardError, bpmnErr *BPMNError) {
	msg := "Job failed"
	if IsInvariantViolation(stdErr.Code) {
		msg = "Invariant violation"
	}
	fields := map[string]interface{}{
		"jobKey":           job.Key,
		"jobType":          job.Type,
		"errorCode":        string(stdErr.Code),
		"bpmnErrorCode":    bpmnErr.Code,
		"message":          stdErr.Message,
		"details":          stdErr.Details,
		"retryable":        stdErr.Retryable,
		"retries":          GetRetryCount(stdErr.Code),
		"errorCategory":    GetErrorCategory(stdErr.Code),
		"workflowInstance": job.ProcessInstanceKey,
	}
	for k, v := range stdErr.Metadata {
		fields[k] = v
	}
	h.logger.Error(msg, fields)
}
