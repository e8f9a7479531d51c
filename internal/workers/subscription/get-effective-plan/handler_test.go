package geteffectiveplan

import (
	"context"
	"testing"
	"time"

	"marketplace-workers/internal/common/config"
	"marketplace-workers/internal/common/errors"
	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/marketplace/subscription"
	"marketplace-workers/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStateLoader struct {
	mock.Mock
}

func (m *MockStateLoader) Load(ctx context.Context, providerID string) (subscription.State, error) {
	args := m.Called(ctx, providerID)
	return args.Get(0).(subscription.State), args.Error(1)
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestHandler_Execute_LapsedPlanReadsAsFree(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	expiry := now.Add(-time.Hour)

	store := new(MockStateLoader)
	h := NewHandler(DefaultConfig(), store, nil, logger.NewTestLogger(t))
	h.now = func() time.Time { return now }
	store.On("Load", mock.Anything, "p1").Return(subscription.State{Tier: models.PlanPremium, ExpiresAt: &expiry}, nil)

	out, err := h.Execute(context.Background(), &Input{ProviderID: "p1"})

	require.NoError(t, err)
	assert.Equal(t, "PREMIUM", out.PlanTier)
	assert.Equal(t, "FREE", out.EffectiveTier)
	assert.Equal(t, 5, out.MaxActiveOffers)
	assert.False(t, out.Unlimited)
}

func TestHandler_Execute_CachedRowIsReevaluated(t *testing.T) {
	mr, client := setupRedis(t)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	expiry := now.Add(30 * time.Second)

	store := new(MockStateLoader)
	h := NewHandler(DefaultConfig(), store, client, logger.NewNoOpLogger())
	h.now = func() time.Time { return now }
	store.On("Load", mock.Anything, "p1").Return(subscription.State{Tier: models.PlanPro, ExpiresAt: &expiry, AutoRenew: true}, nil).Once()

	first, err := h.Execute(context.Background(), &Input{ProviderID: "p1"})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, "PRO", first.EffectiveTier)
	assert.True(t, first.Unlimited)
	assert.Equal(t, 5*time.Minute, mr.TTL("plan:p1:v0"))

	// The cached row outlives the plan itself.
	h.now = func() time.Time { return now.Add(time.Minute) }
	second, err := h.Execute(context.Background(), &Input{ProviderID: "p1"})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, "PRO", second.PlanTier)
	assert.Equal(t, "FREE", second.EffectiveTier)
	store.AssertExpectations(t)
}

func TestHandler_Execute_InvalidatedRowIsReloaded(t *testing.T) {
	mr, client := setupRedis(t)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	expiry := now.AddDate(0, 1, 0)

	store := new(MockStateLoader)
	h := NewHandler(DefaultConfig(), store, client, logger.NewNoOpLogger())
	h.now = func() time.Time { return now }
	store.On("Load", mock.Anything, "p1").Return(subscription.State{Tier: models.PlanFree}, nil).Once()
	store.On("Load", mock.Anything, "p1").Return(subscription.State{Tier: models.PlanPremium, ExpiresAt: &expiry}, nil).Once()

	first, err := h.Execute(context.Background(), &Input{ProviderID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "FREE", first.EffectiveTier)

	// activate-plan bumps the generation once its write has committed.
	_, err = mr.Incr("plan:p1:gen", 1)
	require.NoError(t, err)

	second, err := h.Execute(context.Background(), &Input{ProviderID: "p1"})
	require.NoError(t, err)
	assert.False(t, second.FromCache)
	assert.Equal(t, "PREMIUM", second.EffectiveTier)
	assert.True(t, mr.Exists("plan:p1:v1"))
	store.AssertExpectations(t)
}

func TestHandler_Execute_CorruptEntryFallsThrough(t *testing.T) {
	mr, client := setupRedis(t)
	require.NoError(t, mr.Set("plan:p1:v0", `{"tier":"GOLD"}`))

	store := new(MockStateLoader)
	h := NewHandler(DefaultConfig(), store, client, logger.NewNoOpLogger())
	store.On("Load", mock.Anything, "p1").Return(subscription.State{Tier: models.PlanFree}, nil)

	out, err := h.Execute(context.Background(), &Input{ProviderID: "p1"})

	require.NoError(t, err)
	assert.False(t, out.FromCache)
	assert.Equal(t, "FREE", out.EffectiveTier)
}

func TestHandler_Execute_RedisDown(t *testing.T) {
	mr, client := setupRedis(t)
	mr.Close()

	store := new(MockStateLoader)
	h := NewHandler(DefaultConfig(), store, client, logger.NewNoOpLogger())
	store.On("Load", mock.Anything, "p1").Return(subscription.State{Tier: models.PlanFree}, nil)

	out, err := h.Execute(context.Background(), &Input{ProviderID: "p1"})

	require.NoError(t, err)
	assert.Equal(t, "FREE", out.EffectiveTier)
}

func TestHandler_Execute_UnknownProvider(t *testing.T) {
	store := new(MockStateLoader)
	h := NewHandler(DefaultConfig(), store, nil, logger.NewNoOpLogger())
	store.On("Load", mock.Anything, "ghost").Return(subscription.State{}, subscription.ErrProviderNotFound)

	_, err := h.Execute(context.Background(), &Input{ProviderID: "ghost"})

	stdErr, ok := errors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeProviderNotFound, stdErr.Code)
}

func TestFromAppConfig(t *testing.T) {
	assert.Equal(t, DefaultConfig(), FromAppConfig(nil))

	cfg := &config.Config{}
	cfg.Workers = map[string]config.WorkerConfig{TaskType: {Enabled: true, MaxJobsActive: 2, Timeout: 3000}}
	cfg.Cache.PlanTTL = 30

	c := FromAppConfig(cfg)
	assert.Equal(t, 2, c.MaxJobsActive)
	assert.Equal(t, 3*time.Second, c.Timeout)
	assert.Equal(t, 30*time.Second, c.CacheTTL)
	assert.NoError(t, c.Validate())
}
