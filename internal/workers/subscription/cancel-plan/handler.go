package cancelplan

import (
	"context"
	stderrors "errors"
	"time"

	"marketplace-workers/internal/common/camunda"
	"marketplace-workers/internal/common/database"
	"marketplace-workers/internal/common/errors"
	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/marketplace/subscription"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/redis/go-redis/v9"
)

const TaskType = "cancel-plan"

type Canceller interface {
	Cancel(ctx context.Context, providerID string, now time.Time) (*subscription.PlanState, error)
}

type Handler struct {
	config     *Config
	service    Canceller
	cache      *database.Cache
	errHandler *errors.ErrorHandler
	logger     logger.Logger
	now        func() time.Time
}

func NewHandler(config *Config, service Canceller, redisClient *redis.Client, log logger.Logger) *Handler {
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
		"providerId": input.ProviderID,
		"durationMs": time.Since(start).Milliseconds(),
	})
	return nil
}

// Execute turns auto-renew off. The paid tier stays effective until it
// expires.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	st, err := h.service.Cancel(ctx, input.ProviderID, h.now().UTC())
	if err != nil {
		return nil, toStandardError(err, input)
	}

	if err := h.cache.Invalidate(ctx, subscription.CacheKey(input.ProviderID)); err != nil {
		h.logger.Warn("failed to invalidate plan cache", map[string]interface{}{
			"providerId": input.ProviderID,
			"error":      err,
		})
	}

	return &Output{
		ProviderID:    st.ProviderID,
		PlanTier:      string(st.StoredTier),
		EffectiveTier: string(st.EffectiveTier),
		ExpiresAt:     st.ExpiresAt,
		AutoRenew:     st.AutoRenew,
	}, nil
}

func toStandardError(err error, input *Input) error {
	if _, ok := errors.AsStandardError(err); ok {
		return err
	}
	switch {
	case stderrors.Is(err, subscription.ErrProviderNotFound):
		return errors.NewProviderNotFoundError(input.ProviderID)
	case stderrors.Is(err, database.ErrTxConflict):
		return errors.NewConcurrencyConflictError(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeoutError(TaskType, err)
	default:
		return errors.NewDatabaseError("plan cancellation", err)
	}
}
