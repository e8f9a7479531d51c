package getreferralbalance

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"marketplace-workers/internal/common/camunda"
	"marketplace-workers/internal/common/database"
	"marketplace-workers/internal/common/errors"
	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/common/metrics"
	"marketplace-workers/internal/marketplace/ledger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/redis/go-redis/v9"
)

const (
	TaskType  = "get-referral-balance"
	cacheName = "referral_balance"
)

type BalanceReader interface {
	Balance(ctx context.Context, sponsorID string) (*ledger.Balance, error)
}

type Handler struct {
	config     *Config
	service    BalanceReader
	cache      *database.Cache
	errHandler *errors.ErrorHandler
	logger     logger.Logger
}

func NewHandler(config *Config, service BalanceReader, redisClient *redis.Client, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		service:    service,
		cache:      database.NewCache(redisClient),
		errHandler: errors.NewErrorHandler(log),
		logger:     log,
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
		"fromCache":  output.FromCache,
		"durationMs": time.Since(start).Milliseconds(),
	})
	return nil
}

// Execute serves the balance from Redis when present and reads through to
// the ledger otherwise. Cache failures only cost the shortcut.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	key := ledger.BalanceCacheKey(input.SponsorID)

	gen, cacheable := h.generation(ctx, key)
	if cacheable {
		if b, ok := h.cached(ctx, key, gen); ok {
			return toOutput(b, true), nil
		}
	}

	b, err := h.service.Balance(ctx, input.SponsorID)
	if err != nil {
		return nil, toStandardError(err, input)
	}

	if cacheable {
		data, _ := json.Marshal(b)
		if err := h.cache.Set(ctx, key, gen, data, h.config.CacheTTL); err != nil {
			h.logger.Warn("failed to cache balance", map[string]interface{}{"sponsorId": input.SponsorID, "error": err})
		}
	}
	return toOutput(b, false), nil
}

func (h *Handler) generation(ctx context.Context, key string) (int64, bool) {
	if h.cache == nil || h.config.CacheTTL <= 0 {
		return 0, false
	}
	gen, err := h.cache.Generation(ctx, key)
	if err != nil {
		h.logger.Warn("balance cache unavailable", map[string]interface{}{"key": key, "error": err})
		metrics.CacheLookups.WithLabelValues(cacheName, "miss").Inc()
		return 0, false
	}
	return gen, true
}

func (h *Handler) cached(ctx context.Context, key string, gen int64) (*ledger.Balance, bool) {
	val, err := h.cache.Get(ctx, key, gen)
	if err != nil {
		if !stderrors.Is(err, redis.Nil) {
			h.logger.Warn("balance cache unavailable", map[string]interface{}{"key": key, "error": err})
		}
		metrics.CacheLookups.WithLabelValues(cacheName, "miss").Inc()
		return nil, false
	}
	var b ledger.Balance
	if err := json.Unmarshal(val, &b); err != nil {
		metrics.CacheLookups.WithLabelValues(cacheName, "miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues(cacheName, "hit").Inc()
	return &b, true
}

func toOutput(b *ledger.Balance, fromCache bool) *Output {
	return &Output{
		SponsorID:         b.SponsorID,
		Points:            b.Points,
		Earned:            b.Earned,
		Spent:             b.Spent,
		BoostCredits:      b.BoostCredits,
		ConvertibleBoosts: b.Points / ledger.ExchangeRate,
		FromCache:         fromCache,
	}
}

func toStandardError(err error, input *Input) error {
	if _, ok := errors.AsStandardError(err); ok {
		return err
	}
	switch {
	case stderrors.Is(err, ledger.ErrMissingSponsor):
		return errors.NewValidationError(err.Error())
	case stderrors.Is(err, ledger.ErrSponsorNotFound):
		return errors.NewProviderNotFoundError(input.SponsorID)
	case stderrors.Is(err, ledger.ErrNegativeBalance):
		return errors.NewLedgerInvariantError(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeoutError(TaskType, err)
	default:
		return errors.NewDatabaseError("balance lookup", err)
	}
}
