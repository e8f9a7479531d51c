// Package subscription manages the plan tier a provider has purchased.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/marketplace/plan"
	"marketplace-workers/internal/models"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrInvalidTier      = errors.New("tier cannot be purchased")
)

// State is the stored plan row. It is what caches hold: the effective tier
// is derived from it at read time and never stored.
type State struct {
	Tier      models.PlanTier `json:"tier"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	AutoRenew bool            `json:"autoRenew"`
}

// PlanState is State evaluated at an instant.
type PlanState struct {
	ProviderID      string          `json:"providerId"`
	StoredTier      models.PlanTier `json:"storedTier"`
	EffectiveTier   models.PlanTier `json:"effectiveTier"`
	ExpiresAt       *time.Time      `json:"expiresAt,omitempty"`
	AutoRenew       bool            `json:"autoRenew"`
	MaxActiveOffers int             `json:"maxActiveOffers"`
	Unlimited       bool            `json:"unlimitedOffers"`
}

type Store interface {
	Load(ctx context.Context, providerID string) (State, error)
	// Update locks the provider row, passes the current state to fn and
	// writes back what fn returns.
	Update(ctx context.Context, providerID string, fn func(State) (State, error)) error
}

// Resolve evaluates s at now.
func Resolve(providerID string, s State, now time.Time) *PlanState {
	effective := plan.EffectiveTier(s.Tier, s.ExpiresAt, now)
	limit, unlimited := plan.MaxActiveOffers(effective)
	return &PlanState{
		ProviderID:      providerID,
		StoredTier:      s.Tier,
		EffectiveTier:   effective,
		ExpiresAt:       s.ExpiresAt,
		AutoRenew:       s.AutoRenew,
		MaxActiveOffers: limit,
		Unlimited:       unlimited,
	}
}

type Service struct {
	store  Store
	logger logger.Logger
}

func NewService(store Store, log logger.Logger) *Service {
	return &Service{store: store, logger: log}
}

// Activate records a successful purchase of tier.
func (s *Service) Activate(ctx context.Context, providerID string, tier models.PlanTier, now time.Time) (*PlanState, error) {
	if !tier.Paid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}

	var next State
	err := s.store.Update(ctx, providerID, func(cur State) (State, error) {
		expiry := plan.NextExpiry(cur.Tier, cur.ExpiresAt, tier, now).UTC()
		next = State{Tier: tier, ExpiresAt: &expiry, AutoRenew: true}
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("plan activated", map[string]interface{}{
		"providerId": providerID,
		"tier":       string(tier),
		"expiresAt":  next.ExpiresAt.Format(time.RFC3339),
	})
	return Resolve(providerID, next, now), nil
}

// Cancel stops auto-renewal. The plan stays in force until it expires.
func (s *Service) Cancel(ctx context.Context, providerID string, now time.Time) (*PlanState, error) {
	var next State
	err := s.store.Update(ctx, providerID, func(cur State) (State, error) {
		next = cur
		next.AutoRenew = false
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("plan auto-renew cancelled", map[string]interface{}{
		"providerId": providerID,
		"tier":       string(next.Tier),
	})
	return Resolve(providerID, next, now), nil
}

func (s *Service) Get(ctx context.Context, providerID string, now time.Time) (*PlanState, error) {
	st, err := s.store.Load(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return Resolve(providerID, st, now), nil
}

// CacheKey names the cached stored State of a provider. Entries live under
// a generation of this key that plan writers bump.
func CacheKey(providerID string) string {
	return "plan:" + providerID
}
