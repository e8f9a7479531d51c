package createoffer

import (
	"context"
	stderrors "errors"
	"time"

	"marketplace-workers/internal/common/camunda"
	"marketplace-workers/internal/common/database"
	"marketplace-workers/internal/common/errors"
	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/marketplace/catalog"
	"marketplace-workers/internal/marketplace/plan"
	"marketplace-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "create-offer"

type OfferCreator interface {
	CreateOffer(ctx context.Context, in catalog.NewOffer, now time.Time) (*models.Offer, error)
}

type Handler struct {
	config     *Config
	service    OfferCreator
	errHandler *errors.ErrorHandler
	logger     logger.Logger
	now        func() time.Time
}

func NewHandler(config *Config, service OfferCreator, log logger.Logger) *Handler {
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
		"providerId": input.ProviderID,
		"offerId":    output.OfferID,
		"durationMs": time.Since(start).Milliseconds(),
	})
	return nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	offer, err := h.service.CreateOffer(ctx, catalog.NewOffer{
		ProviderID: input.ProviderID,
		Title:      input.Title,
		City:       input.City,
		Category:   input.Category,
	}, h.now().UTC())
	if err != nil {
		return nil, toStandardError(err, input.ProviderID)
	}
	return &Output{OfferID: offer.ID, IsActive: offer.IsActive, CreatedAt: offer.CreatedAt}, nil
}

func toStandardError(err error, providerID string) error {
	if _, ok := errors.AsStandardError(err); ok {
		return err
	}
	switch {
	case stderrors.Is(err, plan.ErrCapacityExceeded):
		return errors.NewCapacityExceededError(err).WithMetadata("providerId", providerID)
	case stderrors.Is(err, catalog.ErrProviderSuspended):
		return errors.NewProviderSuspendedError(providerID)
	case stderrors.Is(err, catalog.ErrProviderNotFound):
		return errors.NewProviderNotFoundError(providerID)
	case stderrors.Is(err, catalog.ErrInvalidOffer):
		return errors.NewValidationError(err.Error())
	case stderrors.Is(err, database.ErrTxConflict):
		return errors.NewConcurrencyConflictError(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeoutError(TaskType, err)
	default:
		return errors.NewDatabaseError("offer creation", err)
	}
}
