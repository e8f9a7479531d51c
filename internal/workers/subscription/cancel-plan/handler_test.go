package cancelplan

import (
	"context"
	"errors"
	"testing"
	"time"

	stderrs "marketplace-workers/internal/common/errors"
	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/marketplace/subscription"
	"marketplace-workers/internal/models"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCanceller struct {
	mock.Mock
}

func (m *MockCanceller) Cancel(ctx context.Context, providerID string, now time.Time) (*subscription.PlanState, error) {
	args := m.Called(ctx, providerID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.PlanState), args.Error(1)
}

func TestHandler_Execute_KeepsTierUntilExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	expiry := now.Add(72 * time.Hour)

	svc := new(MockCanceller)
	redisClient, redisMock := redismock.NewClientMock()
	h := NewHandler(DefaultConfig(), svc, redisClient, logger.NewNoOpLogger())
	h.now = func() time.Time { return now }

	svc.On("Cancel", mock.Anything, "p1", now).Return(&subscription.PlanState{
		ProviderID:    "p1",
		StoredTier:    models.PlanPro,
		EffectiveTier: models.PlanPro,
		ExpiresAt:     &expiry,
	}, nil)
	redisMock.ExpectIncr("plan:p1:gen").SetVal(1)

	output, err := h.Execute(context.Background(), &Input{ProviderID: "p1"})

	require.NoError(t, err)
	assert.Equal(t, "PRO", output.EffectiveTier)
	assert.False(t, output.AutoRenew)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestHandler_Execute_CacheFailureIsNotFatal(t *testing.T) {
	svc := new(MockCanceller)
	redisClient, redisMock := redismock.NewClientMock()
	h := NewHandler(DefaultConfig(), svc, redisClient, logger.NewNoOpLogger())

	svc.On("Cancel", mock.Anything, "p1", mock.Anything).Return(&subscription.PlanState{
		ProviderID: "p1", StoredTier: models.PlanFree, EffectiveTier: models.PlanFree,
	}, nil)
	redisMock.ExpectIncr("plan:p1:gen").SetErr(errors.New("connection refused"))

	output, err := h.Execute(context.Background(), &Input{ProviderID: "p1"})

	require.NoError(t, err)
	assert.Equal(t, "FREE", output.PlanTier)
}

func TestHandler_Execute_UnknownProvider(t *testing.T) {
	svc := new(MockCanceller)
	h := NewHandler(DefaultConfig(), svc, nil, logger.NewNoOpLogger())
	svc.On("Cancel", mock.Anything, "ghost", mock.Anything).Return(nil, subscription.ErrProviderNotFound)

	_, err := h.Execute(context.Background(), &Input{ProviderID: "ghost"})

	stdErr, ok := stderrs.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, stderrs.ErrCodeProviderNotFound, stdErr.Code)
}
