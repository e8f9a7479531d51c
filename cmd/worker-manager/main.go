// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"marketplace-workers/internal/common/camunda"
	"marketplace-workers/internal/common/config"
	"marketplace-workers/internal/common/database"
	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/common/observability"
	"marketplace-workers/internal/marketplace/catalog"
	"marketplace-workers/internal/marketplace/ledger"
	"marketplace-workers/internal/marketplace/moderation"
	"marketplace-workers/internal/marketplace/ranking"
	"marketplace-workers/internal/marketplace/subscription"
	"marketplace-workers/internal/models"

	// Catalog Workers (3)
	ao "marketplace-workers/internal/workers/catalog/activate-offer"
	co "marketplace-workers/internal/workers/catalog/create-offer"
	ro "marketplace-workers/internal/workers/catalog/rank-offers"

	// Subscription Workers (3)
	ap "marketplace-workers/internal/workers/subscription/activate-plan"
	cp "marketplace-workers/internal/workers/subscription/cancel-plan"
	gep "marketplace-workers/internal/workers/subscription/get-effective-plan"

	// Referral Workers (3)
	crp "marketplace-workers/internal/workers/referral/convert-referral-points"
	grb "marketplace-workers/internal/workers/referral/get-referral-balance"
	rre "marketplace-workers/internal/workers/referral/record-referral-event"

	// Moderation Workers (1)
	mp "marketplace-workers/internal/workers/moderation/moderate-provider"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	bootLog := logger.New("info", "console", "")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}
	_ = bootLog.Sync()

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	})

	zapLog.Info("Starting worker manager...", zap.String("environment", cfg.App.Environment))

	obs, err := observability.New("worker-manager")
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Zeebe Client with retry ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClient(ctx, cfg.Camunda)
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if cfg.App.AutoMigrate {
		if err := database.Migrate(pg.DB); err != nil {
			zapLog.Fatal("migrations failed", zap.Error(err))
		}
		zapLog.Info("Database migrations applied")
	}

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry (optional) ---
	var es *database.ElasticsearchClient
	if cfg.Database.Elasticsearch.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Marketplace services ---
	weights := rankingWeights(cfg.Ranking)
	if err := weights.Validate(); err != nil {
		zapLog.Fatal("invalid ranking weights", zap.Error(err))
	}

	var searcher catalog.Searcher
	if es != nil {
		searcher = catalog.NewElasticsearchSearcher(es.Client, cfg.Database.Elasticsearch.OfferIndex)
	}

	catalogSvc := catalog.NewService(
		catalog.NewPostgresStore(pg),
		searcher,
		ranking.NewScorer(weights),
		catalog.Options{
			DefaultPageSize: cfg.Ranking.DefaultPageSize,
			MaxPageSize:     cfg.Ranking.MaxPageSize,
			MaxCandidates:   cfg.Ranking.MaxCandidates,
		},
		log.WithFields(map[string]interface{}{"component": "catalog"}),
	)
	planStore := subscription.NewPostgresStore(pg)
	subscriptionSvc := subscription.NewService(planStore, log.WithFields(map[string]interface{}{"component": "subscription"}))
	ledgerSvc := ledger.NewService(ledger.NewPostgresStore(pg), log.WithFields(map[string]interface{}{"component": "ledger"}))
	moderationSvc := moderation.NewService(moderation.NewPostgresStore(pg), log.WithFields(map[string]interface{}{"component": "moderation"}))

	// --- START: Register ALL 10 Workers ---
	reg := &registrar{cfg: cfg, client: zeebe, obs: obs, log: log, zapLog: zapLog}

	// --- 1. Catalog Workers (3) ---
	if c := ro.FromAppConfig(cfg); reg.valid(ro.TaskType, c.Validate()) {
		reg.start(ro.TaskType, c.Enabled, c.MaxJobsActive, ro.NewHandler(c, catalogSvc, log))
	}
	if c := co.FromAppConfig(cfg); reg.valid(co.TaskType, c.Validate()) {
		reg.start(co.TaskType, c.Enabled, c.MaxJobsActive, co.NewHandler(c, catalogSvc, log))
	}
	if c := ao.FromAppConfig(cfg); reg.valid(ao.TaskType, c.Validate()) {
		reg.start(ao.TaskType, c.Enabled, c.MaxJobsActive, ao.NewHandler(c, catalogSvc, log))
	}

	// --- 2. Subscription Workers (3) ---
	if c := ap.FromAppConfig(cfg); reg.valid(ap.TaskType, c.Validate()) {
		reg.start(ap.TaskType, c.Enabled, c.MaxJobsActive, ap.NewHandler(c, subscriptionSvc, rdb.Client, log))
	}
	if c := cp.FromAppConfig(cfg); reg.valid(cp.TaskType, c.Validate()) {
		reg.start(cp.TaskType, c.Enabled, c.MaxJobsActive, cp.NewHandler(c, subscriptionSvc, rdb.Client, log))
	}
	if c := gep.FromAppConfig(cfg); reg.valid(gep.TaskType, c.Validate()) {
		reg.start(gep.TaskType, c.Enabled, c.MaxJobsActive, gep.NewHandler(c, planStore, rdb.Client, log))
	}

	// --- 3. Referral Workers (3) ---
	if c := rre.FromAppConfig(cfg); reg.valid(rre.TaskType, c.Validate()) {
		reg.start(rre.TaskType, c.Enabled, c.MaxJobsActive, rre.NewHandler(c, ledgerSvc, rdb.Client, log))
	}
	if c := crp.FromAppConfig(cfg); reg.valid(crp.TaskType, c.Validate()) {
		reg.start(crp.TaskType, c.Enabled, c.MaxJobsActive, crp.NewHandler(c, ledgerSvc, rdb.Client, log))
	}
	if c := grb.FromAppConfig(cfg); reg.valid(grb.TaskType, c.Validate()) {
		reg.start(grb.TaskType, c.Enabled, c.MaxJobsActive, grb.NewHandler(c, ledgerSvc, rdb.Client, log))
	}

	// --- 4. Moderation Workers (1) ---
	if c := mp.FromAppConfig(cfg); reg.valid(mp.TaskType, c.Validate()) {
		reg.start(mp.TaskType, c.Enabled, c.MaxJobsActive, mp.NewHandler(c, moderationSvc, log))
	}

	zapLog.Info("Workers registered", zap.Int("count", len(reg.workers)))

	// --- Health / Readiness / Metrics ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]func(context.Context) error{
			"zeebe":    zeebe.HealthCheck,
			"postgres": pg.Ping,
			"redis":    rdb.Ping,
		}
		if es != nil {
			checks["elasticsearch"] = es.Ping
		}

		body := map[string]string{"time": time.Now().Format(time.RFC3339)}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(checkCtx); err != nil {
				body[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			body[name] = "ok"
		}
		body["status"] = "ready"
		if code != http.StatusOK {
			body["status"] = "not ready"
		}
		writeStatus(w, code, body)
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close blocks until in-flight jobs of each worker have returned.
	for _, w := range reg.workers {
		w.Close()
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

type registrar struct {
	cfg     *config.Config
	client  *camunda.Client
	obs     *observability.Observability
	log     logger.Logger
	zapLog  *zap.Logger
	workers []worker.JobWorker
}

func (r *registrar) valid(taskType string, err error) bool {
	if err != nil {
		r.zapLog.Fatal("invalid worker config", zap.String("taskType", taskType), zap.Error(err))
	}
	return true
}

// start opens the worker with the broker-side job timeout of its section
// and the concurrency and enablement resolved by the worker's own config.
func (r *registrar) start(taskType string, enabled bool, maxJobsActive int, h camunda.JobHandler) {
	wcfg := config.GetWorkerConfig(r.cfg, taskType)
	wcfg.Enabled = enabled
	wcfg.MaxJobsActive = maxJobsActive

	if w := camunda.StartWorker(r.client.GetClient(), taskType, wcfg, h, r.obs, r.log); w != nil {
		r.workers = append(r.workers, w)
	}
}

func rankingWeights(rc config.RankingConfig) ranking.Weights {
	return ranking.Weights{
		Tier: map[models.PlanTier]float64{
			models.PlanFree:    rc.TierWeights.Free,
			models.PlanPro:     rc.TierWeights.Pro,
			models.PlanPremium: rc.TierWeights.Premium,
		},
		Boost: map[models.BoostKind]float64{
			models.BoostBasic:    rc.BoostBonus.Basic,
			models.BoostTop:      rc.BoostBonus.Top,
			models.BoostFeatured: rc.BoostBonus.Featured,
		},
		Quality: rc.QualityWeight,
	}
}

func writeStatus(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
