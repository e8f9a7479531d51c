// Package catalog publishes offers under the listing capacity rule and
// serves ranked, paginated catalog pages.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/common/metrics"
	"marketplace-workers/internal/marketplace/plan"
	"marketplace-workers/internal/marketplace/ranking"
	"marketplace-workers/internal/models"

	"github.com/google/uuid"
)

var (
	ErrProviderNotFound  = errors.New("provider not found")
	ErrOfferNotFound     = errors.New("offer not found")
	ErrProviderSuspended = errors.New("provider is suspended")
	ErrInvalidOffer      = errors.New("invalid offer")
	ErrSearchUnavailable = errors.New("offer search unavailable")
	ErrTooManyCandidates = errors.New("too many offers match the filters")
)

// ProviderPlan is the locked provider state capacity decisions read.
type ProviderPlan struct {
	Tier      models.PlanTier
	ExpiresAt *time.Time
	IsActive  bool
}

type Filters struct {
	City     string `json:"city,omitempty"`
	Category string `json:"category,omitempty"`
	Keywords string `json:"keywords,omitempty"`
}

type Store interface {
	// WithProvider locks the provider row for the duration of fn.
	WithProvider(ctx context.Context, providerID string, fn func(Tx, ProviderPlan) error) error
	// LoadCandidates returns up to limit active offers of active providers
	// matching f.
	LoadCandidates(ctx context.Context, f Filters, limit int, now time.Time) ([]ranking.Candidate, error)
	// LoadCandidatesByID hydrates active offers by id; unknown ids are skipped.
	LoadCandidatesByID(ctx context.Context, ids []string, now time.Time) ([]ranking.Candidate, error)
}

type Tx interface {
	CountActiveOffers(ctx context.Context) (int, error)
	InsertOffer(ctx context.Context, o *models.Offer) error
	// LockOffer returns the provider's offer or ErrOfferNotFound.
	LockOffer(ctx context.Context, offerID string) (*models.Offer, error)
	SetOfferActive(ctx context.Context, offerID string, active bool, now time.Time) error
}

// Searcher finds offer ids in a full-text index.
type Searcher interface {
	SearchOfferIDs(ctx context.Context, f Filters, limit int) ([]string, error)
}

type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// MaxCandidates bounds a filtered candidate set. Larger sets fail with
	// ErrTooManyCandidates rather than being ranked partially.
	MaxCandidates int
}

type Service struct {
	store    Store
	searcher Searcher
	scorer   *ranking.Scorer
	opts     Options
	logger   logger.Logger
}

// NewService builds a catalog service. searcher may be nil, in which case
// candidates are filtered by the store.
func NewService(store Store, searcher Searcher, scorer *ranking.Scorer, opts Options, log logger.Logger) *Service {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 20
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 100
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 5000
	}
	return &Service{store: store, searcher: searcher, scorer: scorer, opts: opts, logger: log}
}

type NewOffer struct {
	ProviderID string
	Title      string
	City       string
	Category   string
}

// CreateOffer publishes a new active offer if the provider's effective tier
// leaves room for one more.
func (s *Service) CreateOffer(ctx context.Context, in NewOffer, now time.Time) (*models.Offer, error) {
	if in.ProviderID == "" || strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: providerId and title are required", ErrInvalidOffer)
	}

	var offer *models.Offer
	err := s.store.WithProvider(ctx, in.ProviderID, func(tx Tx, p ProviderPlan) error {
		if err := s.admit(ctx, tx, in.ProviderID, p, now); err != nil {
			return err
		}
		offer = &models.Offer{
			ID:         uuid.NewString(),
			ProviderID: in.ProviderID,
			Title:      strings.TrimSpace(in.Title),
			City:       in.City,
			Category:   in.Category,
			IsActive:   true,
			CreatedAt:  now.UTC(),
			UpdatedAt:  now.UTC(),
		}
		return tx.InsertOffer(ctx, offer)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("offer created", map[string]interface{}{
		"providerId": in.ProviderID,
		"offerId":    offer.ID,
	})
	return offer, nil
}

// ActivateOffer reactivates an inactive offer, e.g. after the provider was
// reinstated. Reactivation counts against the same capacity as creation.
func (s *Service) ActivateOffer(ctx context.Context, providerID, offerID string, now time.Time) (*models.Offer, error) {
	var offer *models.Offer
	err := s.store.WithProvider(ctx, providerID, func(tx Tx, p ProviderPlan) error {
		o, err := tx.LockOffer(ctx, offerID)
		if err != nil {
			return err
		}
		if o.IsActive {
			offer = o
			return nil
		}
		if err := s.admit(ctx, tx, providerID, p, now); err != nil {
			return err
		}
		if err := tx.SetOfferActive(ctx, offerID, true, now); err != nil {
			return err
		}
		o.IsActive = true
		o.UpdatedAt = now.UTC()
		offer = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

func (s *Service) admit(ctx context.Context, tx Tx, providerID string, p ProviderPlan, now time.Time) error {
	if !p.IsActive {
		return fmt.Errorf("%w: %s", ErrProviderSuspended, providerID)
	}
	active, err := tx.CountActiveOffers(ctx)
	if err != nil {
		return err
	}
	return plan.CheckCapacity(plan.EffectiveTier(p.Tier, p.ExpiresAt, now), active)
}

type Query struct {
	// Candidates, when non-nil, are ranked as given and Filters are ignored.
	// An empty non-nil set ranks to an empty page.
	Candidates []ranking.Candidate
	Filters    Filters
	Page       int
	PageSize   int
}

type RankedOffer struct {
	OfferID  string `json:"offerId"`
	Position int    `json:"position"`
}

type Page struct {
	Items      []RankedOffer `json:"items"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	Total      int           `json:"total"`
	TotalPages int           `json:"totalPages"`
}

// Rank orders the candidate set by visibility at now and returns one page.
func (s *Service) Rank(ctx context.Context, q Query, now time.Time) (*Page, error) {
	page, size := s.normalizePaging(q.Page, q.PageSize)

	candidates := q.Candidates
	if candidates == nil {
		var err error
		if candidates, err = s.loadCandidates(ctx, q.Filters, now); err != nil {
			return nil, err
		}
	}
	metrics.RankedCandidates.Observe(float64(len(candidates)))

	ranked := s.scorer.Rank(candidates, now)
	items, total := ranking.Paginate(ranked, page, size)

	out := &Page{
		Items:      make([]RankedOffer, len(items)),
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: (total + size - 1) / size,
	}
	offset := (page - 1) * size
	for i, c := range items {
		out.Items[i] = RankedOffer{OfferID: c.OfferID, Position: offset + i + 1}
	}
	return out, nil
}

func (s *Service) loadCandidates(ctx context.Context, f Filters, now time.Time) ([]ranking.Candidate, error) {
	// One past the bound tells a full set from an overflowing one.
	limit := s.opts.MaxCandidates + 1

	if s.searcher == nil {
		candidates, err := s.store.LoadCandidates(ctx, f, limit, now)
		if err != nil {
			return nil, err
		}
		return candidates, s.checkBound(len(candidates), f)
	}

	ids, err := s.searcher.SearchOfferIDs(ctx, f, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	if err := s.checkBound(len(ids), f); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.store.LoadCandidatesByID(ctx, ids, now)
}

func (s *Service) checkBound(n int, f Filters) error {
	if n <= s.opts.MaxCandidates {
		return nil
	}
	s.logger.Warn("candidate set over bound", map[string]interface{}{
		"city":          f.City,
		"category":      f.Category,
		"maxCandidates": s.opts.MaxCandidates,
	})
	return fmt.Errorf("%w: more than %d", ErrTooManyCandidates, s.opts.MaxCandidates)
}

func (s *Service) normalizePaging(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = s.opts.DefaultPageSize
	}
	if size > s.opts.MaxPageSize {
		size = s.opts.MaxPageSize
	}
	return page, size
}
