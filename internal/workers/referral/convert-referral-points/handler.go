package convertreferralpoints

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"marketplace-workers/internal/common/camunda"
	"marketplace-workers/internal/common/database"
	"marketplace-workers/internal/common/errors"
	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/marketplace/ledger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/redis/go-redis/v9"
)

const TaskType = "convert-referral-points"

type Converter interface {
	Convert(ctx context.Context, in ledger.ConvertInput, now time.Time) (*ledger.ConvertResult, error)
}

type Handler struct {
	config     *Config
	service    Converter
	cache      *database.Cache
	errHandler *errors.ErrorHandler
	logger     logger.Logger
	now        func() time.Time
}

// NewHandler builds the handler. redisClient may be nil when the balance
// cache is disabled.
func NewHandler(config *Config, service Converter, redisClient *redis.Client, log logger.Logger) *Handler {
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

	input, err := decode(job)
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
		"jobKey":        job.Key,
		"sponsorId":     input.SponsorID,
		"boostsGranted": output.BoostsGranted,
		"replayed":      output.Replayed,
		"durationMs":    time.Since(start).Milliseconds(),
	})
	return nil
}

// decode keys a conversion the caller sent without a requestId to its job.
// The job key survives redelivery, so a job that converted and then failed
// to complete replays instead of debiting twice.
func decode(job entities.Job) (Input, error) {
	var input Input
	if err := camunda.DecodeVariables(job, inputSchema, &input); err != nil {
		return input, err
	}
	if input.RequestID == "" {
		input.RequestID = "job-" + strconv.FormatInt(job.Key, 10)
	}
	return input, nil
}

// Execute converts points and drops the cached balance of the sponsor.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	result, err := h.service.Convert(ctx, ledger.ConvertInput{
		SponsorID: input.SponsorID,
		Points:    input.Points,
		RequestID: input.RequestID,
	}, h.now().UTC())
	if err != nil {
		return nil, toStandardError(err, input)
	}

	if !result.Replayed {
		h.invalidateBalance(ctx, input.SponsorID)
	}

	return &Output{
		ConversionID:    result.Conversion.ID,
		PointsDebited:   result.Conversion.PointsDebited,
		BoostsGranted:   result.BoostsGranted,
		RemainingPoints: result.RemainingPoints,
		BoostCredits:    result.BoostCredits,
		Replayed:        result.Replayed,
	}, nil
}

func (h *Handler) invalidateBalance(ctx context.Context, sponsorID string) {
	if err := h.cache.Invalidate(ctx, ledger.BalanceCacheKey(sponsorID)); err != nil {
		h.logger.Warn("failed to invalidate balance cache", map[string]interface{}{
			"sponsorId": sponsorID,
			"error":     err,
		})
	}
}

func toStandardError(err error, input *Input) error {
	if _, ok := errors.AsStandardError(err); ok {
		return err
	}
	switch {
	case stderrors.Is(err, ledger.ErrInvalidAmount):
		return errors.NewInvalidConversionAmountError(err)
	case stderrors.Is(err, ledger.ErrInsufficientBalance):
		return errors.NewInsufficientBalanceError(err).WithMetadata("sponsorId", input.SponsorID)
	case stderrors.Is(err, ledger.ErrSponsorNotFound):
		return errors.NewProviderNotFoundError(input.SponsorID)
	case stderrors.Is(err, ledger.ErrMissingSponsor):
		return errors.NewValidationError(err.Error())
	case stderrors.Is(err, ledger.ErrNegativeBalance):
		return errors.NewLedgerInvariantError(err)
	case stderrors.Is(err, database.ErrTxConflict):
		return errors.NewConcurrencyConflictError(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeoutError(TaskType, err)
	default:
		return errors.NewDatabaseError("point conversion", err)
	}
}
