// Package ranking orders catalog offers by visibility.
package ranking

import (
	"fmt"
	"math"
	"sort"
	"time"

	"marketplace-workers/internal/marketplace/plan"
	"marketplace-workers/internal/models"
)

const maxRating = 5.0

// Weights is the tunable ranking policy. Only the ordering it induces is
// relied upon: tier weights and boost bonuses must be strictly increasing.
type Weights struct {
	Tier    map[models.PlanTier]float64  `mapstructure:"tier" json:"tier"`
	Boost   map[models.BoostKind]float64 `mapstructure:"boost" json:"boost"`
	Quality float64                      `mapstructure:"quality" json:"quality"`
}

func DefaultWeights() Weights {
	return Weights{
		Tier: map[models.PlanTier]float64{
			models.PlanFree:    0,
			models.PlanPro:     100,
			models.PlanPremium: 200,
		},
		Boost: map[models.BoostKind]float64{
			models.BoostBasic:    25,
			models.BoostTop:      50,
			models.BoostFeatured: 75,
		},
		Quality: 1,
	}
}

func (w Weights) Validate() error {
	tiers := []models.PlanTier{models.PlanFree, models.PlanPro, models.PlanPremium}
	for i := 1; i < len(tiers); i++ {
		if w.Tier[tiers[i]] <= w.Tier[tiers[i-1]] {
			return fmt.Errorf("tier weight for %s must exceed %s", tiers[i], tiers[i-1])
		}
	}
	kinds := []models.BoostKind{models.BoostBasic, models.BoostTop, models.BoostFeatured}
	if w.Boost[kinds[0]] <= 0 {
		return fmt.Errorf("boost bonus for %s must be positive", kinds[0])
	}
	for i := 1; i < len(kinds); i++ {
		if w.Boost[kinds[i]] <= w.Boost[kinds[i-1]] {
			return fmt.Errorf("boost bonus for %s must exceed %s", kinds[i], kinds[i-1])
		}
	}
	if w.Quality <= 0 {
		return fmt.Errorf("quality multiplier must be positive")
	}
	return nil
}

// Score is total and pure. The quality term is rating*log(1+reviewCount):
// more reviews at the same rating never lower the score.
func Score(w Weights, tier models.PlanTier, hasActiveBoost bool, kind models.BoostKind, rating float64, reviewCount int) float64 {
	s := w.Tier[tier]
	if hasActiveBoost {
		s += w.Boost[kind]
	}
	return s + w.Quality*quality(rating, reviewCount)
}

func quality(rating float64, reviewCount int) float64 {
	if math.IsNaN(rating) || rating < 0 {
		rating = 0
	}
	if rating > maxRating {
		rating = maxRating
	}
	if reviewCount < 0 {
		reviewCount = 0
	}
	return rating * math.Log1p(float64(reviewCount))
}

// Candidate is one offer as seen by the ranker.
type Candidate struct {
	OfferID       string          `json:"offerId"`
	PlanTier      models.PlanTier `json:"planTier"`
	PlanExpiresAt *time.Time      `json:"planExpiresAt,omitempty"`
	Boost         *models.Boost   `json:"boost,omitempty"`
	Rating        float64         `json:"rating"`
	ReviewCount   int             `json:"reviewCount"`
}

type Scorer struct {
	weights Weights
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: w}
}

// ScoreAt resolves the effective tier and boost state at now and scores c.
func (s *Scorer) ScoreAt(c Candidate, now time.Time) float64 {
	tier := plan.EffectiveTier(c.PlanTier, c.PlanExpiresAt, now)
	var kind models.BoostKind
	active := c.Boost.ActiveAt(now)
	if active {
		kind = c.Boost.Kind
	}
	return Score(s.weights, tier, active, kind, c.Rating, c.ReviewCount)
}

// Rank returns a new slice ordered by descending score. Equal scores fall
// back to rating, then review count, then ascending offer id, so repeated
// calls on the same input always produce the same sequence.
func (s *Scorer) Rank(candidates []Candidate, now time.Time) []Candidate {
	type scored struct {
		c     Candidate
		score float64
	}
	items := make([]scored, len(candidates))
	for i, c := range candidates {
		items[i] = scored{c: c, score: s.ScoreAt(c, now)}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.c.Rating != b.c.Rating {
			return a.c.Rating > b.c.Rating
		}
		if a.c.ReviewCount != b.c.ReviewCount {
			return a.c.ReviewCount > b.c.ReviewCount
		}
		return a.c.OfferID < b.c.OfferID
	})

	ranked := make([]Candidate, len(items))
	for i, it := range items {
		ranked[i] = it.c
	}
	return ranked
}

// Paginate slices a ranked list. Pages are 1-based; a page past the end is empty.
func Paginate(ranked []Candidate, page, pageSize int) ([]Candidate, int) {
	total := len(ranked)
	if page < 1 || pageSize < 1 {
		return []Candidate{}, total
	}
	start := (page - 1) * pageSize
	if start >= total {
		return []Candidate{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return ranked[start:end], total
}
