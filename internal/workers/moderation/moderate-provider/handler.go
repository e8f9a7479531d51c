package moderateprovider

import (
	"context"
	stderrors "errors"
	"time"

	"marketplace-workers/internal/common/camunda"
	"marketplace-workers/internal/common/database"
	"marketplace-workers/internal/common/errors"
	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/marketplace/moderation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "moderate-provider"

type Moderator interface {
	Apply(ctx context.Context, cmd moderation.Command, now time.Time) (*moderation.Result, error)
}

type Handler struct {
	config     *Config
	service    Moderator
	errHandler *errors.ErrorHandler
	logger     logger.Logger
	now        func() time.Time
}

func NewHandler(config *Config, service Moderator, log logger.Logger) *Handler {
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
		"jobKey":            job.Key,
		"providerId":        input.ProviderID,
		"action":            input.Action,
		"offersDeactivated": output.OffersDeactivated,
		"durationMs":        time.Since(start).Milliseconds(),
	})
	return nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	res, err := h.service.Apply(ctx, moderation.Command{
		ProviderID: input.ProviderID,
		Action:     moderation.Action(input.Action),
		ActorRole:  input.ActorRole,
		Reason:     input.Reason,
	}, h.now().UTC())
	if err != nil {
		return nil, toStandardError(err, input)
	}

	return &Output{
		ProviderID:        res.ProviderID,
		Action:            string(res.Action),
		IsVerified:        res.Current.IsVerified,
		IsActive:          res.Current.IsActive,
		OffersDeactivated: res.OffersDeactivated,
		NotificationID:    res.NotificationID,
	}, nil
}

func toStandardError(err error, input *Input) error {
	if _, ok := errors.AsStandardError(err); ok {
		return err
	}
	switch {
	case stderrors.Is(err, moderation.ErrForbidden):
		return errors.NewForbiddenError(err.Error()).WithMetadata("actorRole", input.ActorRole)
	case stderrors.Is(err, moderation.ErrUnknownAction):
		return errors.NewValidationError(err.Error())
	case stderrors.Is(err, moderation.ErrProviderNotFound):
		return errors.NewProviderNotFoundError(input.ProviderID)
	case stderrors.Is(err, moderation.ErrCascadeIncomplete):
		return errors.NewCascadeInvariantError(err)
	case stderrors.Is(err, database.ErrTxConflict):
		return errors.NewConcurrencyConflictError(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeoutError(TaskType, err)
	default:
		return errors.NewDatabaseError("provider moderation", err)
	}
}
