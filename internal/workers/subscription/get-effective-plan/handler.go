package geteffectiveplan

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
	"marketplace-workers/internal/marketplace/subscription"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/redis/go-redis/v9"
)

const (
	TaskType  = "get-effective-plan"
	cacheName = "plan"
)

// StateLoader reads the stored plan row. subscription.PostgresStore
// satisfies it.
type StateLoader interface {
	Load(ctx context.Context, providerID string) (subscription.State, error)
}

type Handler struct {
	config     *Config
	store      StateLoader
	cache      *database.Cache
	errHandler *errors.ErrorHandler
	logger     logger.Logger
	now        func() time.Time
}

func NewHandler(config *Config, store StateLoader, redisClient *redis.Client, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		store:      store,
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
		"jobKey":        job.Key,
		"providerId":    input.ProviderID,
		"effectiveTier": output.EffectiveTier,
		"fromCache":     output.FromCache,
		"durationMs":    time.Since(start).Milliseconds(),
	})
	return nil
}

// Execute caches the stored row, never the effective tier, so a lapsed
// plan reads as FREE even when its row was cached before the expiry.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	key := subscription.CacheKey(input.ProviderID)
	now := h.now().UTC()

	gen, cacheable := h.generation(ctx, key)
	if cacheable {
		if st, ok := h.cached(ctx, key, gen); ok {
			return toOutput(subscription.Resolve(input.ProviderID, st, now), true), nil
		}
	}

	st, err := h.store.Load(ctx, input.ProviderID)
	if err != nil {
		return nil, toStandardError(err, input)
	}

	if cacheable {
		data, _ := json.Marshal(st)
		if err := h.cache.Set(ctx, key, gen, data, h.config.CacheTTL); err != nil {
			h.logger.Warn("failed to cache plan", map[string]interface{}{"providerId": input.ProviderID, "error": err})
		}
	}
	return toOutput(subscription.Resolve(input.ProviderID, st, now), false), nil
}

// generation must be read before the row is loaded.
func (h *Handler) generation(ctx context.Context, key string) (int64, bool) {
	if h.cache == nil || h.config.CacheTTL <= 0 {
		return 0, false
	}
	gen, err := h.cache.Generation(ctx, key)
	if err != nil {
		h.logger.Warn("plan cache unavailable", map[string]interface{}{"key": key, "error": err})
		metrics.CacheLookups.WithLabelValues(cacheName, "miss").Inc()
		return 0, false
	}
	return gen, true
}

func (h *Handler) cached(ctx context.Context, key string, gen int64) (subscription.State, bool) {
	var st subscription.State
	val, err := h.cache.Get(ctx, key, gen)
	if err != nil {
		if !stderrors.Is(err, redis.Nil) {
			h.logger.Warn("plan cache unavailable", map[string]interface{}{"key": key, "error": err})
		}
		metrics.CacheLookups.WithLabelValues(cacheName, "miss").Inc()
		return st, false
	}
	if err := json.Unmarshal(val, &st); err != nil || !st.Tier.Valid() {
		metrics.CacheLookups.WithLabelValues(cacheName, "miss").Inc()
		return subscription.State{}, false
	}
	metrics.CacheLookups.WithLabelValues(cacheName, "hit").Inc()
	return st, true
}

func toOutput(p *subscription.PlanState, fromCache bool) *Output {
	return &Output{
		ProviderID:      p.ProviderID,
		PlanTier:        string(p.StoredTier),
		EffectiveTier:   string(p.EffectiveTier),
		ExpiresAt:       p.ExpiresAt,
		AutoRenew:       p.AutoRenew,
		MaxActiveOffers: p.MaxActiveOffers,
		Unlimited:       p.Unlimited,
		FromCache:       fromCache,
	}
}

func toStandardError(err error, input *Input) error {
	if _, ok := errors.AsStandardError(err); ok {
		return err
	}
	switch {
	case stderrors.Is(err, subscription.ErrProviderNotFound):
		return errors.NewProviderNotFoundError(input.ProviderID)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeoutError(TaskType, err)
	default:
		return errors.NewDatabaseError("plan lookup", err)
	}
}
