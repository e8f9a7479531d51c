package recordreferralevent

import (
	"context"
	stderrors "errors"
	"time"

	"marketplace-workers/internal/common/camunda"
	"marketplace-workers/internal/common/database"
	"marketplace-workers/internal/common/errors"
	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/marketplace/ledger"
	"marketplace-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/redis/go-redis/v9"
)

const TaskType = "record-referral-event"

type Recorder interface {
	RecordEvent(ctx context.Context, in ledger.RecordEventInput, now time.Time) (*models.ReferralEvent, error)
}

type Handler struct {
	config     *Config
	service    Recorder
	cache      *database.Cache
	errHandler *errors.ErrorHandler
	logger     logger.Logger
	now        func() time.Time
}

func NewHandler(config *Config, service Recorder, redisClient *redis.Client, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		service:    service,
		cache:      database.NewCache(redisClient),
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
		"sponsorId":  input.SponsorID,
		"points":     output.PointsAwarded,
		"durationMs": time.Since(start).Milliseconds(),
	})
	return nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	ev, err := h.service.RecordEvent(ctx, ledger.RecordEventInput{
		SponsorID: input.SponsorID,
		RefereeID: input.RefereeID,
		Kind:      models.ReferralEventKind(input.Kind),
	}, h.now().UTC())
	if err != nil {
		return nil, toStandardError(err, input)
	}

	if err := h.cache.Invalidate(ctx, ledger.BalanceCacheKey(input.SponsorID)); err != nil {
		h.logger.Warn("failed to invalidate balance cache", map[string]interface{}{
			"sponsorId": input.SponsorID,
			"error":     err,
		})
	}

	return &Output{EventID: ev.ID, PointsAwarded: ev.Points, RecordedAt: ev.RecordedAt}, nil
}

func toStandardError(err error, input *Input) error {
	if _, ok := errors.AsStandardError(err); ok {
		return err
	}
	switch {
	case stderrors.Is(err, ledger.ErrUnknownEventKind), stderrors.Is(err, ledger.ErrMissingSponsor):
		return errors.NewValidationError(err.Error())
	case stderrors.Is(err, ledger.ErrSponsorNotFound):
		return errors.NewProviderNotFoundError(input.SponsorID)
	case stderrors.Is(err, database.ErrTxConflict):
		return errors.NewConcurrencyConflictError(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeoutError(TaskType, err)
	default:
		return errors.NewDatabaseError("referral event insert", err)
	}
}
