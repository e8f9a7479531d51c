package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/marketplace/plan"
	"marketplace-workers/internal/marketplace/ranking"
	"marketplace-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

// ==========================
// Fakes
// ==========================

type fakeStore struct {
	mu         sync.Mutex
	providers  map[string]ProviderPlan
	offers     map[string]*models.Offer
	candidates []ranking.Candidate
	byIDCalls  [][]string
	limits     []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{providers: map[string]ProviderPlan{}, offers: map[string]*models.Offer{}}
}

func (f *fakeStore) addOffers(providerID string, active, inactive int) {
	for i := 0; i < active+inactive; i++ {
		id := fmt.Sprintf("%s-offer-%d", providerID, i)
		f.offers[id] = &models.Offer{ID: id, ProviderID: providerID, IsActive: i < active}
	}
}

func (f *fakeStore) WithProvider(ctx context.Context, providerID string, fn func(Tx, ProviderPlan) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.providers[providerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	return fn(&fakeTx{store: f, providerID: providerID}, p)
}

func (f *fakeStore) LoadCandidates(ctx context.Context, filters Filters, limit int, now time.Time) ([]ranking.Candidate, error) {
	f.limits = append(f.limits, limit)
	if len(f.candidates) > limit {
		return f.candidates[:limit], nil
	}
	return f.candidates, nil
}

func (f *fakeStore) LoadCandidatesByID(ctx context.Context, ids []string, now time.Time) ([]ranking.Candidate, error) {
	f.byIDCalls = append(f.byIDCalls, ids)
	var out []ranking.Candidate
	for _, c := range f.candidates {
		for _, id := range ids {
			if c.OfferID == id {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

type fakeTx struct {
	store      *fakeStore
	providerID string
}

func (t *fakeTx) CountActiveOffers(ctx context.Context) (int, error) {
	n := 0
	for _, o := range t.store.offers {
		if o.ProviderID == t.providerID && o.IsActive {
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) InsertOffer(ctx context.Context, o *models.Offer) error {
	cp := *o
	t.store.offers[o.ID] = &cp
	return nil
}

func (t *fakeTx) LockOffer(ctx context.Context, offerID string) (*models.Offer, error) {
	o, ok := t.store.offers[offerID]
	if !ok || o.ProviderID != t.providerID {
		return nil, fmt.Errorf("%w: %s", ErrOfferNotFound, offerID)
	}
	cp := *o
	return &cp, nil
}

func (t *fakeTx) SetOfferActive(ctx context.Context, offerID string, active bool, now time.Time) error {
	t.store.offers[offerID].IsActive = active
	return nil
}

type fakeSearcher struct {
	ids []string
	err error
}

func (s *fakeSearcher) SearchOfferIDs(ctx context.Context, f Filters, limit int) ([]string, error) {
	if len(s.ids) > limit {
		return s.ids[:limit], s.err
	}
	return s.ids, s.err
}

func newTestService(t *testing.T, store Store, searcher Searcher) *Service {
	return NewService(store, searcher, ranking.NewScorer(ranking.DefaultWeights()),
		Options{DefaultPageSize: 2, MaxPageSize: 3}, logger.NewTestLogger(t))
}

// ==========================
// CreateOffer
// ==========================

func TestCreateOffer_FreeCapacityBoundary(t *testing.T) {
	store := newFakeStore()
	store.providers["free-4"] = ProviderPlan{Tier: models.PlanFree, IsActive: true}
	store.providers["free-5"] = ProviderPlan{Tier: models.PlanFree, IsActive: true}
	store.addOffers("free-4", 4, 3)
	store.addOffers("free-5", 5, 0)
	svc := newTestService(t, store, nil)

	offer, err := svc.CreateOffer(context.Background(), NewOffer{ProviderID: "free-4", Title: "Sunset kayak tour"}, now)
	require.NoError(t, err)
	assert.True(t, offer.IsActive)

	_, err = svc.CreateOffer(context.Background(), NewOffer{ProviderID: "free-5", Title: "Desert camp"}, now)
	assert.ErrorIs(t, err, plan.ErrCapacityExceeded)
}

func TestCreateOffer_LapsedPlanCountsAsFree(t *testing.T) {
	lapsed := now.Add(-time.Second)
	valid := now.Add(time.Hour)
	store := newFakeStore()
	store.providers["lapsed"] = ProviderPlan{Tier: models.PlanPremium, ExpiresAt: &lapsed, IsActive: true}
	store.providers["pro"] = ProviderPlan{Tier: models.PlanPro, ExpiresAt: &valid, IsActive: true}
	store.addOffers("lapsed", 5, 0)
	store.addOffers("pro", 12, 0)
	svc := newTestService(t, store, nil)

	_, err := svc.CreateOffer(context.Background(), NewOffer{ProviderID: "lapsed", Title: "Old town walk"}, now)
	assert.ErrorIs(t, err, plan.ErrCapacityExceeded)

	_, err = svc.CreateOffer(context.Background(), NewOffer{ProviderID: "pro", Title: "Old town walk"}, now)
	assert.NoError(t, err)
	assert.Equal(t, models.PlanPremium, store.providers["lapsed"].Tier)
}

func TestCreateOffer_Rejections(t *testing.T) {
	store := newFakeStore()
	store.providers["suspended"] = ProviderPlan{Tier: models.PlanPro, IsActive: false}
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	_, err := svc.CreateOffer(ctx, NewOffer{ProviderID: "suspended", Title: "Boat trip"}, now)
	assert.ErrorIs(t, err, ErrProviderSuspended)

	_, err = svc.CreateOffer(ctx, NewOffer{ProviderID: "ghost", Title: "Boat trip"}, now)
	assert.ErrorIs(t, err, ErrProviderNotFound)

	_, err = svc.CreateOffer(ctx, NewOffer{ProviderID: "suspended", Title: "  "}, now)
	assert.ErrorIs(t, err, ErrInvalidOffer)
}

// ==========================
// ActivateOffer
// ==========================

func TestActivateOffer(t *testing.T) {
	store := newFakeStore()
	store.providers["prov"] = ProviderPlan{Tier: models.PlanFree, IsActive: true}
	store.addOffers("prov", 4, 2)
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	offer, err := svc.ActivateOffer(ctx, "prov", "prov-offer-4", now)
	require.NoError(t, err)
	assert.True(t, offer.IsActive)

	_, err = svc.ActivateOffer(ctx, "prov", "prov-offer-5", now)
	assert.ErrorIs(t, err, plan.ErrCapacityExceeded)
	assert.False(t, store.offers["prov-offer-5"].IsActive)

	offer, err = svc.ActivateOffer(ctx, "prov", "prov-offer-0", now)
	require.NoError(t, err, "already active offers are a no-op")
	assert.True(t, offer.IsActive)

	_, err = svc.ActivateOffer(ctx, "prov", "missing", now)
	assert.ErrorIs(t, err, ErrOfferNotFound)
}

// ==========================
// Rank
// ==========================

func TestRank_InlineCandidatesPaginated(t *testing.T) {
	svc := newTestService(t, newFakeStore(), nil)
	candidates := []ranking.Candidate{
		{OfferID: "c", PlanTier: models.PlanFree, Rating: 4, ReviewCount: 3},
		{OfferID: "a", PlanTier: models.PlanPremium, Rating: 3, ReviewCount: 1},
		{OfferID: "b", PlanTier: models.PlanPro, Rating: 5, ReviewCount: 9},
	}

	first, err := svc.Rank(context.Background(), Query{Candidates: candidates, Page: 1}, now)
	require.NoError(t, err)
	assert.Equal(t, []RankedOffer{{"a", 1}, {"b", 2}}, first.Items)
	assert.Equal(t, 3, first.Total)
	assert.Equal(t, 2, first.TotalPages)

	second, err := svc.Rank(context.Background(), Query{Candidates: candidates, Page: 2}, now)
	require.NoError(t, err)
	assert.Equal(t, []RankedOffer{{"c", 3}}, second.Items)
}

func TestRank_EmptyInlineSetStaysEmpty(t *testing.T) {
	store := newFakeStore()
	store.candidates = []ranking.Candidate{
		{OfferID: "unrelated-1", PlanTier: models.PlanPremium},
		{OfferID: "unrelated-2", PlanTier: models.PlanFree},
	}
	svc := newTestService(t, store, nil)

	page, err := svc.Rank(context.Background(), Query{Candidates: []ranking.Candidate{}}, now)

	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 0, page.Total)
	assert.Equal(t, 0, page.TotalPages)
	assert.Empty(t, store.limits, "an inline set never reaches the store")
}

func TestRank_CandidateBound(t *testing.T) {
	newBounded := func(store Store, searcher Searcher) *Service {
		return NewService(store, searcher, ranking.NewScorer(ranking.DefaultWeights()),
			Options{DefaultPageSize: 2, MaxPageSize: 3, MaxCandidates: 3}, logger.NewTestLogger(t))
	}
	ctx := context.Background()

	store := newFakeStore()
	store.candidates = []ranking.Candidate{
		{OfferID: "a", PlanTier: models.PlanFree},
		{OfferID: "b", PlanTier: models.PlanFree},
		{OfferID: "z", PlanTier: models.PlanPremium},
	}
	page, err := newBounded(store, nil).Rank(ctx, Query{}, now)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, "z", page.Items[0].OfferID)
	assert.Equal(t, []int{4}, store.limits)

	// A fourth match would leave the set partially ranked.
	store.candidates = append(store.candidates, ranking.Candidate{OfferID: "zz", PlanTier: models.PlanPremium})
	_, err = newBounded(store, nil).Rank(ctx, Query{}, now)
	assert.ErrorIs(t, err, ErrTooManyCandidates)

	_, err = newBounded(store, &fakeSearcher{ids: []string{"a", "b", "z", "zz"}}).Rank(ctx, Query{}, now)
	assert.ErrorIs(t, err, ErrTooManyCandidates)
	assert.Empty(t, store.byIDCalls)
}

func TestRank_ClampsPageSize(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 5; i++ {
		store.candidates = append(store.candidates, ranking.Candidate{OfferID: fmt.Sprintf("o%d", i), PlanTier: models.PlanFree})
	}
	svc := newTestService(t, store, nil)

	page, err := svc.Rank(context.Background(), Query{PageSize: 50, Page: -2}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 3, page.PageSize)
	assert.Len(t, page.Items, 3)
}

func TestRank_UsesSearcherWhenConfigured(t *testing.T) {
	store := newFakeStore()
	store.candidates = []ranking.Candidate{
		{OfferID: "x", PlanTier: models.PlanFree},
		{OfferID: "y", PlanTier: models.PlanPro},
		{OfferID: "z", PlanTier: models.PlanPremium},
	}
	svc := newTestService(t, store, &fakeSearcher{ids: []string{"x", "y"}})

	page, err := svc.Rank(context.Background(), Query{Filters: Filters{Keywords: "kayak"}}, now)
	require.NoError(t, err)
	assert.Equal(t, []RankedOffer{{"y", 1}, {"x", 2}}, page.Items)
	assert.Equal(t, [][]string{{"x", "y"}}, store.byIDCalls)
}

func TestRank_EmptySearchSkipsStore(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, &fakeSearcher{})

	page, err := svc.Rank(context.Background(), Query{}, now)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Zero(t, page.TotalPages)
	assert.Empty(t, store.byIDCalls)
}

func TestRank_SearchFailure(t *testing.T) {
	svc := newTestService(t, newFakeStore(), &fakeSearcher{err: errors.New("search offers: 503 Service Unavailable")})

	_, err := svc.Rank(context.Background(), Query{Filters: Filters{City: "Porto"}}, now)
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}
