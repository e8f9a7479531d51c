// Package ledger is the append-only referral points ledger and the
// point-to-boost converter that spends from it.
//
// A sponsor's balance is never stored as an independent counter: it is
// derived as the sum of recorded event points minus the sum of conversion
// debits. Every mutation runs under an exclusive lock on the sponsor's
// account so a balance read and the append that depends on it cannot
// interleave with another mutation for the same sponsor.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/common/metrics"
	"marketplace-workers/internal/models"

	"github.com/google/uuid"
)

// ExchangeRate is the number of points that buy one boost credit.
const ExchangeRate = 100

var (
	ErrSponsorNotFound     = errors.New("sponsor not found")
	ErrUnknownEventKind    = errors.New("unknown referral event kind")
	ErrMissingSponsor      = errors.New("sponsor id is required")
	ErrInvalidAmount       = errors.New("conversion amount must be a positive multiple of the exchange rate")
	ErrInsufficientBalance = errors.New("insufficient referral balance")
	ErrDuplicateRequest    = errors.New("conversion request already recorded")
	// ErrNegativeBalance is an invariant violation, never a user error.
	ErrNegativeBalance = errors.New("ledger balance is negative")
)

// Totals are the raw aggregates a balance is derived from.
type Totals struct {
	Earned       int64
	Spent        int64
	BoostCredits int64
}

func (t Totals) Balance() int64 {
	return t.Earned - t.Spent
}

// Store persists ledger facts.
type Store interface {
	// WithSponsor runs fn holding an exclusive lock on the sponsor account.
	// Everything fn appends is committed together or not at all. It returns
	// ErrSponsorNotFound for an unknown sponsor.
	WithSponsor(ctx context.Context, sponsorID string, fn func(Account) error) error
	// Totals reads aggregates without locking.
	Totals(ctx context.Context, sponsorID string) (Totals, error)
}

// Account is the locked view of one sponsor inside WithSponsor.
type Account interface {
	Totals(ctx context.Context) (Totals, error)
	AppendEvent(ctx context.Context, ev *models.ReferralEvent) error
	// FindConversion returns nil, nil when no conversion carries requestID.
	FindConversion(ctx context.Context, requestID string) (*models.BoostConversion, error)
	AppendConversion(ctx context.Context, c *models.BoostConversion) error
}

type Service struct {
	store  Store
	logger logger.Logger
}

func NewService(store Store, log logger.Logger) *Service {
	return &Service{store: store, logger: log}
}

type RecordEventInput struct {
	SponsorID string
	RefereeID string
	Kind      models.ReferralEventKind
}

// RecordEvent appends one point-earning event with the tariff of its kind.
// It does not deduplicate: callers invoke it once per qualifying milestone.
func (s *Service) RecordEvent(ctx context.Context, in RecordEventInput, now time.Time) (*models.ReferralEvent, error) {
	if in.SponsorID == "" {
		return nil, ErrMissingSponsor
	}
	points, ok := in.Kind.Points()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, in.Kind)
	}

	ev := &models.ReferralEvent{
		ID:         uuid.NewString(),
		SponsorID:  in.SponsorID,
		RefereeID:  in.RefereeID,
		Kind:       in.Kind,
		Points:     points,
		RecordedAt: now.UTC(),
	}

	err := s.store.WithSponsor(ctx, in.SponsorID, func(acc Account) error {
		return acc.AppendEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	metrics.ReferralPointsRecorded.WithLabelValues(string(in.Kind)).Add(float64(points))
	s.logger.Info("referral event recorded", map[string]interface{}{
		"sponsorId": ev.SponsorID,
		"kind":      ev.Kind,
		"points":    ev.Points,
		"eventId":   ev.ID,
	})
	return ev, nil
}

type Balance struct {
	SponsorID    string `json:"sponsorId"`
	Points       int64  `json:"points"`
	Earned       int64  `json:"earned"`
	Spent        int64  `json:"spent"`
	BoostCredits int64  `json:"boostCredits"`
}

// BalanceCacheKey names a sponsor's cached Balance. Ledger writers
// invalidate it after commit.
func BalanceCacheKey(sponsorID string) string {
	return "referral:balance:" + sponsorID
}

// Balance derives the sponsor's spendable points.
func (s *Service) Balance(ctx context.Context, sponsorID string) (*Balance, error) {
	if sponsorID == "" {
		return nil, ErrMissingSponsor
	}
	t, err := s.store.Totals(ctx, sponsorID)
	if err != nil {
		return nil, err
	}
	if err := s.checkInvariant(sponsorID, t); err != nil {
		return nil, err
	}
	return &Balance{
		SponsorID:    sponsorID,
		Points:       t.Balance(),
		Earned:       t.Earned,
		Spent:        t.Spent,
		BoostCredits: t.BoostCredits,
	}, nil
}

func (s *Service) checkInvariant(sponsorID string, t Totals) error {
	if t.Balance() >= 0 {
		return nil
	}
	s.logger.Error("ledger invariant violated", map[string]interface{}{
		"sponsorId": sponsorID,
		"earned":    t.Earned,
		"spent":     t.Spent,
	})
	return fmt.Errorf("%w: sponsor %s earned %d spent %d", ErrNegativeBalance, sponsorID, t.Earned, t.Spent)
}

// ValidateAmount checks the conversion preconditions that need no state.
func ValidateAmount(points int64) error {
	if points <= 0 || points%ExchangeRate != 0 {
		return fmt.Errorf("%w: %d (rate %d)", ErrInvalidAmount, points, ExchangeRate)
	}
	return nil
}

type ConvertInput struct {
	SponsorID string
	Points    int64
	// RequestID makes a retried conversion apply once. Optional.
	RequestID string
}

type ConvertResult struct {
	Conversion      *models.BoostConversion `json:"conversion"`
	BoostsGranted   int64                   `json:"boostsGranted"`
	RemainingPoints int64                   `json:"remainingPoints"`
	BoostCredits    int64                   `json:"boostCredits"`
	Replayed        bool                    `json:"replayed"`
}

// Convert debits in.Points and credits in.Points/ExchangeRate boosts, all or
// nothing. A request id seen before returns the original conversion.
func (s *Service) Convert(ctx context.Context, in ConvertInput, now time.Time) (*ConvertResult, error) {
	if in.SponsorID == "" {
		return nil, ErrMissingSponsor
	}
	if err := ValidateAmount(in.Points); err != nil {
		metrics.BoostConversions.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, err
	}

	result, err := s.convert(ctx, in, now)
	if errors.Is(err, ErrDuplicateRequest) {
		// A concurrent request with the same id committed first.
		result, err = s.convert(ctx, in, now)
	}

	switch {
	case err == nil && result.Replayed:
		metrics.BoostConversions.WithLabelValues(metrics.OutcomeReplayed).Inc()
	case err == nil:
		metrics.BoostConversions.WithLabelValues(metrics.OutcomeGranted).Inc()
		metrics.BoostsGranted.Add(float64(result.BoostsGranted))
	case errors.Is(err, ErrInsufficientBalance):
		metrics.BoostConversions.WithLabelValues(metrics.OutcomeInsufficient).Inc()
	default:
		metrics.BoostConversions.WithLabelValues(metrics.OutcomeFailed).Inc()
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("referral points converted", map[string]interface{}{
		"sponsorId":       in.SponsorID,
		"points":          result.Conversion.PointsDebited,
		"boostsGranted":   result.BoostsGranted,
		"remainingPoints": result.RemainingPoints,
		"replayed":        result.Replayed,
	})
	return result, nil
}

func (s *Service) convert(ctx context.Context, in ConvertInput, now time.Time) (*ConvertResult, error) {
	var result *ConvertResult

	err := s.store.WithSponsor(ctx, in.SponsorID, func(acc Account) error {
		result = nil

		if in.RequestID != "" {
			existing, err := acc.FindConversion(ctx, in.RequestID)
			if err != nil {
				return err
			}
			if existing != nil {
				t, err := acc.Totals(ctx)
				if err != nil {
					return err
				}
				result = &ConvertResult{
					Conversion:      existing,
					BoostsGranted:   existing.BoostsCredited,
					RemainingPoints: t.Balance(),
					BoostCredits:    t.BoostCredits,
					Replayed:        true,
				}
				return nil
			}
		}

		before, err := acc.Totals(ctx)
		if err != nil {
			return err
		}
		if err := s.checkInvariant(in.SponsorID, before); err != nil {
			return err
		}
		if in.Points > before.Balance() {
			return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientBalance, in.Points, before.Balance())
		}

		conv := &models.BoostConversion{
			ID:             uuid.NewString(),
			SponsorID:      in.SponsorID,
			RequestID:      in.RequestID,
			PointsDebited:  in.Points,
			BoostsCredited: in.Points / ExchangeRate,
			CreatedAt:      now.UTC(),
		}
		if err := acc.AppendConversion(ctx, conv); err != nil {
			return err
		}

		after, err := acc.Totals(ctx)
		if err != nil {
			return err
		}
		if err := s.checkInvariant(in.SponsorID, after); err != nil {
			return err
		}

		result = &ConvertResult{
			Conversion:      conv,
			BoostsGranted:   conv.BoostsCredited,
			RemainingPoints: after.Balance(),
			BoostCredits:    after.BoostCredits,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
