// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of jobs currently being handled per worker",
		},
		[]string{"task_type"},
	)
)

var (
	ReferralPointsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_points_recorded_total",
			Help: "Referral points credited to sponsors, by event kind",
		},
		[]string{"kind"},
	)

	BoostConversions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boost_conversions_total",
			Help: "Point-to-boost conversion attempts, by outcome",
		},
		[]string{"outcome"},
	)

	BoostsGranted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boosts_granted_total",
			Help: "Boost credits granted through conversions",
		},
	)

	ModerationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_transitions_total",
			Help: "Provider moderation transitions applied, by action",
		},
		[]string{"action"},
	)

	OffersDeactivatedByCascade = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moderation_offers_deactivated_total",
			Help: "Offers forced inactive by provider suspension",
		},
	)

	RankedCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_ranked_candidates",
			Help:    "Number of candidates ranked per catalog request",
			Buckets: prometheus.ExponentialBuckets(1, 4, 7),
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Redis cache lookups, by cache and result",
		},
		[]string{"cache", "result"},
	)
)

// Conversion outcomes.
const (
	OutcomeGranted      = "granted"
	OutcomeReplayed     = "replayed"
	OutcomeInsufficient = "insufficient_balance"
	OutcomeInvalid      = "invalid_amount"
	OutcomeFailed       = "failed"
)
