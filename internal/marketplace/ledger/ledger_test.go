package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)

// ==========================
// In-memory store
// ==========================

type memState struct {
	events       []models.ReferralEvent
	conversions  []models.BoostConversion
	boostCredits int64
}

func (s *memState) clone() *memState {
	return &memState{
		events:       append([]models.ReferralEvent(nil), s.events...),
		conversions:  append([]models.BoostConversion(nil), s.conversions...),
		boostCredits: s.boostCredits,
	}
}

func (s *memState) totals() Totals {
	t := Totals{BoostCredits: s.boostCredits}
	for _, e := range s.events {
		t.Earned += e.Points
	}
	for _, c := range s.conversions {
		t.Spent += c.PointsDebited
	}
	return t
}

// memStore serializes every sponsor transaction behind one mutex and only
// publishes the staged state when fn succeeds.
type memStore struct {
	mu       sync.Mutex
	sponsors map[string]*memState
}

func newMemStore(ids ...string) *memStore {
	m := &memStore{sponsors: map[string]*memState{}}
	for _, id := range ids {
		m.sponsors[id] = &memState{}
	}
	return m
}

func (m *memStore) WithSponsor(ctx context.Context, sponsorID string, fn func(Account) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sponsors[sponsorID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSponsorNotFound, sponsorID)
	}
	staged := st.clone()
	if err := fn(&memAccount{st: staged}); err != nil {
		return err
	}
	m.sponsors[sponsorID] = staged
	return nil
}

func (m *memStore) Totals(ctx context.Context, sponsorID string) (Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sponsors[sponsorID]
	if !ok {
		return Totals{}, fmt.Errorf("%w: %s", ErrSponsorNotFound, sponsorID)
	}
	return st.totals(), nil
}

type memAccount struct {
	st *memState
}

func (a *memAccount) Totals(ctx context.Context) (Totals, error) { return a.st.totals(), nil }

func (a *memAccount) AppendEvent(ctx context.Context, ev *models.ReferralEvent) error {
	a.st.events = append(a.st.events, *ev)
	return nil
}

func (a *memAccount) FindConversion(ctx context.Context, requestID string) (*models.BoostConversion, error) {
	for _, c := range a.st.conversions {
		if c.RequestID == requestID {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (a *memAccount) AppendConversion(ctx context.Context, c *models.BoostConversion) error {
	a.st.conversions = append(a.st.conversions, *c)
	a.st.boostCredits += c.BoostsCredited
	return nil
}

func newTestService(t *testing.T, store Store) *Service {
	return NewService(store, logger.NewTestLogger(t))
}

func record(t *testing.T, svc *Service, sponsor string, kinds ...models.ReferralEventKind) {
	t.Helper()
	for _, k := range kinds {
		_, err := svc.RecordEvent(context.Background(), RecordEventInput{SponsorID: sponsor, Kind: k}, now)
		require.NoError(t, err)
	}
}

// ==========================
// RecordEvent / Balance
// ==========================

func TestRecordEvent_FreezesTariff(t *testing.T) {
	svc := newTestService(t, newMemStore("sponsor-1"))

	ev, err := svc.RecordEvent(context.Background(), RecordEventInput{
		SponsorID: "sponsor-1",
		RefereeID: "referee-9",
		Kind:      models.EventPremiumPurchased,
	}, now)

	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, int64(500), ev.Points)
	assert.Equal(t, "referee-9", ev.RefereeID)
	assert.Equal(t, now, ev.RecordedAt)
}

func TestRecordEvent_Errors(t *testing.T) {
	svc := newTestService(t, newMemStore("sponsor-1"))
	ctx := context.Background()

	_, err := svc.RecordEvent(ctx, RecordEventInput{SponsorID: "sponsor-1", Kind: "REVIEW_LEFT"}, now)
	assert.ErrorIs(t, err, ErrUnknownEventKind)

	_, err = svc.RecordEvent(ctx, RecordEventInput{SponsorID: "ghost", Kind: models.EventSignupValidated}, now)
	assert.ErrorIs(t, err, ErrSponsorNotFound)

	_, err = svc.RecordEvent(ctx, RecordEventInput{Kind: models.EventSignupValidated}, now)
	assert.ErrorIs(t, err, ErrMissingSponsor)
}

func TestBalance_SumsEventPoints(t *testing.T) {
	svc := newTestService(t, newMemStore("sponsor-1"))
	record(t, svc, "sponsor-1",
		models.EventSignupValidated, models.EventFirstListingPublished,
		models.EventBookingCompleted, models.EventPremiumPurchased)

	bal, err := svc.Balance(context.Background(), "sponsor-1")
	require.NoError(t, err)
	assert.Equal(t, int64(800), bal.Points)
	assert.Equal(t, int64(800), bal.Earned)
	assert.Zero(t, bal.BoostCredits)
}

func TestBalance_NegativeIsInvariantViolation(t *testing.T) {
	store := newMemStore("sponsor-1")
	store.sponsors["sponsor-1"].conversions = []models.BoostConversion{{PointsDebited: 100, BoostsCredited: 1}}
	svc := newTestService(t, store)

	_, err := svc.Balance(context.Background(), "sponsor-1")
	assert.ErrorIs(t, err, ErrNegativeBalance)
}

// ==========================
// Convert
// ==========================

func TestConvert_Scenario(t *testing.T) {
	svc := newTestService(t, newMemStore("sponsor-1"))
	ctx := context.Background()
	record(t, svc, "sponsor-1",
		models.EventSignupValidated, models.EventFirstListingPublished, models.EventBookingCompleted)

	bal, err := svc.Balance(ctx, "sponsor-1")
	require.NoError(t, err)
	require.Equal(t, int64(300), bal.Points)

	res, err := svc.Convert(ctx, ConvertInput{SponsorID: "sponsor-1", Points: 200}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.BoostsGranted)
	assert.Equal(t, int64(100), res.RemainingPoints)
	assert.Equal(t, int64(2), res.BoostCredits)

	_, err = svc.Convert(ctx, ConvertInput{SponsorID: "sponsor-1", Points: 150}, now)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Convert(ctx, ConvertInput{SponsorID: "sponsor-1", Points: 200}, now)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	bal, err = svc.Balance(ctx, "sponsor-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.Points)
	assert.Equal(t, int64(2), bal.BoostCredits)
}

func TestConvert_InvalidAmountsTouchNothing(t *testing.T) {
	store := newMemStore("sponsor-1")
	svc := newTestService(t, store)
	record(t, svc, "sponsor-1", models.EventPremiumPurchased)

	for _, pts := range []int64{0, -100, 99, 250} {
		_, err := svc.Convert(context.Background(), ConvertInput{SponsorID: "sponsor-1", Points: pts}, now)
		assert.ErrorIs(t, err, ErrInvalidAmount, "points=%d", pts)
	}
	assert.Empty(t, store.sponsors["sponsor-1"].conversions)
}

func TestConvert_UnknownSponsor(t *testing.T) {
	svc := newTestService(t, newMemStore())
	_, err := svc.Convert(context.Background(), ConvertInput{SponsorID: "ghost", Points: 100}, now)
	assert.ErrorIs(t, err, ErrSponsorNotFound)
}

func TestConvert_ReplaySameRequestID(t *testing.T) {
	store := newMemStore("sponsor-1")
	svc := newTestService(t, store)
	ctx := context.Background()
	record(t, svc, "sponsor-1", models.EventBookingCompleted, models.EventBookingCompleted)

	first, err := svc.Convert(ctx, ConvertInput{SponsorID: "sponsor-1", Points: 200, RequestID: "req-1"}, now)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := svc.Convert(ctx, ConvertInput{SponsorID: "sponsor-1", Points: 200, RequestID: "req-1"}, now)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Conversion.ID, second.Conversion.ID)
	assert.Equal(t, int64(100), second.RemainingPoints)
	assert.Len(t, store.sponsors["sponsor-1"].conversions, 1)
}

func TestConvert_NoDoubleSpend(t *testing.T) {
	svc := NewService(newMemStore("sponsor-1"), logger.NewNoOpLogger())
	record(t, svc, "sponsor-1", models.EventSignupValidated)

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Convert(context.Background(), ConvertInput{SponsorID: "sponsor-1", Points: 100}, now)
		}(i)
	}
	close(start)
	wg.Wait()

	successes, insufficient := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrInsufficientBalance):
			insufficient++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, insufficient)

	bal, err := svc.Balance(context.Background(), "sponsor-1")
	require.NoError(t, err)
	assert.Zero(t, bal.Points)
	assert.Equal(t, int64(1), bal.BoostCredits)
}

func TestConvert_Conservation(t *testing.T) {
	svc := NewService(newMemStore("sponsor-1"), logger.NewNoOpLogger())
	ctx := context.Background()

	kinds := []models.ReferralEventKind{
		models.EventSignupValidated, models.EventBookingCompleted, models.EventFirstListingPublished,
		models.EventPremiumPurchased, models.EventFirstListingPublished, models.EventBookingCompleted,
	}
	var earned int64
	for _, k := range kinds {
		p, _ := k.Points()
		earned += p
	}
	record(t, svc, "sponsor-1", kinds...)

	var spent int64
	for _, pts := range []int64{100, 300, 200, 500, 100, 100} {
		if _, err := svc.Convert(ctx, ConvertInput{SponsorID: "sponsor-1", Points: pts}, now); err == nil {
			spent += pts
		} else {
			require.ErrorIs(t, err, ErrInsufficientBalance)
		}

		bal, err := svc.Balance(ctx, "sponsor-1")
		require.NoError(t, err)
		assert.Equal(t, earned-spent, bal.Points)
		assert.GreaterOrEqual(t, bal.Points, int64(0))
		assert.Equal(t, spent/ExchangeRate, bal.BoostCredits)
	}
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, ValidateAmount(100))
	assert.NoError(t, ValidateAmount(1200))
	assert.ErrorIs(t, ValidateAmount(0), ErrInvalidAmount)
	assert.ErrorIs(t, ValidateAmount(101), ErrInvalidAmount)
}
