package rankoffers

import (
	"context"
	stderrors "errors"
	"time"

	"marketplace-workers/internal/common/camunda"
	"marketplace-workers/internal/common/errors"
	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/marketplace/catalog"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "rank-offers"

type Ranker interface {
	Rank(ctx context.Context, q catalog.Query, now time.Time) (*catalog.Page, error)
}

type Handler struct {
	config     *Config
	service    Ranker
	errHandler *errors.ErrorHandler
	logger     logger.Logger
	now        func() time.Time
}

func NewHandler(config *Config, service Ranker, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		service:    service,
		errHandler: errors.NewErrorHandler(log),
		logger:     log,
		now:        time.Now,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	err := camunda.DecodeVariables(job, inputSchema, &input)
	var output *Output
	if err == nil {
		output, err = h.Execute(ctx, &input)
	}
	if err != nil {
		h.errHandler.HandleJobError(context.Background(), client, job, err)
		return err
	}

	if err := camunda.CompleteJob(context.Background(), client, job, output); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{"jobKey": job.Key, "error": err})
		return err
	}
	h.logger.Info("job completed", map[string]interface{}{
		"jobKey":     job.Key,
		"page":       output.Page,
		"total":      output.Total,
		"durationMs": time.Since(start).Milliseconds(),
	})
	return nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	page, err := h.service.Rank(ctx, catalog.Query{
		Candidates: input.Candidates,
		Filters:    input.Filters,
		Page:       input.Page,
		PageSize:   input.PageSize,
	}, h.now().UTC())
	if err != nil {
		return nil, toStandardError(err)
	}

	return &Output{
		Offers:     page.Items,
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	}, nil
}

func toStandardError(err error) error {
	if _, ok := errors.AsStandardError(err); ok {
		return err
	}
	switch {
	case stderrors.Is(err, catalog.ErrSearchUnavailable):
		return errors.NewSearchError(err)
	case stderrors.Is(err, catalog.ErrTooManyCandidates):
		return errors.NewValidationError(err.Error() + "; narrow the filters")
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeoutError(TaskType, err)
	default:
		return errors.NewDatabaseError("candidate lookup", err)
	}
}
