package rankoffers

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"marketplace-workers/internal/common/camunda"
	"marketplace-workers/internal/common/errors"
	"marketplace-workers/internal/common/logger"
	"marketplace-workers/internal/marketplace/catalog"
	"marketplace-workers/internal/marketplace/ranking"
	"marketplace-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC)

type MockRanker struct {
	mock.Mock
}

func (m *MockRanker) Rank(ctx context.Context, q catalog.Query, now time.Time) (*catalog.Page, error) {
	args := m.Called(ctx, q, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Page), args.Error(1)
}

func createMockJob(variables string) entities.Job {
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                42,
		Type:               TaskType,
		ProcessInstanceKey: 420,
		BpmnProcessId:      "offer-search",
		CustomHeaders:      "{}",
		Retries:            3,
		Variables:          variables,
	}}
}

func TestHandler_ParseInput_InlineCandidates(t *testing.T) {
	vars := `{
		"candidates": [
			{"offerId": "o1", "planTier": "PRO", "planExpiresAt": "2025-06-01T00:00:00Z", "rating": 4.5, "reviewCount": 12,
			 "boost": {"kind": "TOP", "startsAt": "2025-05-01T00:00:00Z", "endsAt": "2025-05-20T00:00:00Z", "isActive": true}},
			{"offerId": "o2", "planTier": "FREE"}
		],
		"page": 1, "pageSize": 10
	}`

	var input Input
	require.NoError(t, camunda.DecodeVariables(createMockJob(vars), inputSchema, &input))

	require.Len(t, input.Candidates, 2)
	c := input.Candidates[0]
	assert.Equal(t, models.PlanPro, c.PlanTier)
	require.NotNil(t, c.PlanExpiresAt)
	require.NotNil(t, c.Boost)
	assert.Equal(t, models.BoostTop, c.Boost.Kind)
	assert.True(t, c.Boost.ActiveAt(fixedNow))
	assert.Nil(t, input.Candidates[1].Boost)
}

func TestHandler_ParseInput_Rejects(t *testing.T) {
	tests := []struct {
		name string
		vars string
	}{
		{"unknown tier", `{"candidates": [{"offerId": "o1", "planTier": "GOLD"}]}`},
		{"unknown boost kind", `{"candidates": [{"offerId": "o1", "planTier": "FREE", "boost": {"kind": "MEGA", "endsAt": "2025-05-20T00:00:00Z"}}]}`},
		{"negative reviews", `{"candidates": [{"offerId": "o1", "planTier": "FREE", "reviewCount": -1}]}`},
		{"zero page", `{"filters": {"city": "Lyon"}, "page": 0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var input Input
			err := camunda.DecodeVariables(createMockJob(tt.vars), inputSchema, &input)
			stdErr, ok := errors.AsStandardError(err)
			require.True(t, ok)
			assert.Equal(t, errors.ErrCodeValidation, stdErr.Code)
		})
	}
}

func TestHandler_Execute(t *testing.T) {
	svc := new(MockRanker)
	h := NewHandler(DefaultConfig(), svc, logger.NewTestLogger(t))
	h.now = func() time.Time { return fixedNow }

	input := &Input{
		Filters:  catalog.Filters{City: "Lyon", Keywords: "yoga"},
		Page:     2,
		PageSize: 1,
	}
	svc.On("Rank", mock.Anything, catalog.Query{Filters: input.Filters, Page: 2, PageSize: 1}, fixedNow).
		Return(&catalog.Page{
			Items:    []catalog.RankedOffer{{OfferID: "o7", Position: 2}},
			Page:     2,
			PageSize: 1,
			Total:    3, TotalPages: 3,
		}, nil)

	output, err := h.Execute(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, []catalog.RankedOffer{{OfferID: "o7", Position: 2}}, output.Offers)
	assert.Equal(t, 3, output.TotalPages)

	data, err := json.Marshal(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"rankedOffers":[{"offerId":"o7","position":2}]`)
	svc.AssertExpectations(t)
}

func TestHandler_Execute_RanksWithRealService(t *testing.T) {
	svc := catalog.NewService(nil, nil, ranking.NewScorer(ranking.DefaultWeights()), catalog.Options{}, logger.NewNoOpLogger())
	h := NewHandler(DefaultConfig(), svc, logger.NewNoOpLogger())
	h.now = func() time.Time { return fixedNow }

	lapsed := fixedNow.Add(-time.Hour)
	output, err := h.Execute(context.Background(), &Input{Candidates: []ranking.Candidate{
		{OfferID: "free", PlanTier: models.PlanFree, Rating: 5, ReviewCount: 100},
		{OfferID: "lapsed", PlanTier: models.PlanPremium, PlanExpiresAt: &lapsed},
		{OfferID: "pro", PlanTier: models.PlanPro},
	}})

	require.NoError(t, err)
	ids := make([]string, len(output.Offers))
	for i, o := range output.Offers {
		ids[i] = o.OfferID
	}
	assert.Equal(t, []string{"pro", "free", "lapsed"}, ids)
	assert.Equal(t, 1, output.TotalPages)
}

func TestHandler_EmptyInlineCandidates(t *testing.T) {
	var input Input
	require.NoError(t, camunda.DecodeVariables(createMockJob(`{"candidates": [], "filters": {"city": "Porto"}}`), inputSchema, &input))
	require.NotNil(t, input.Candidates)

	var filtered Input
	require.NoError(t, camunda.DecodeVariables(createMockJob(`{"filters": {"city": "Porto"}}`), inputSchema, &filtered))
	assert.Nil(t, filtered.Candidates)

	// Nil store: an inline set must never fall back to loading offers.
	svc := catalog.NewService(nil, nil, ranking.NewScorer(ranking.DefaultWeights()), catalog.Options{}, logger.NewNoOpLogger())
	h := NewHandler(DefaultConfig(), svc, logger.NewNoOpLogger())
	h.now = func() time.Time { return fixedNow }

	output, err := h.Execute(context.Background(), &input)

	require.NoError(t, err)
	assert.Empty(t, output.Offers)
	assert.Equal(t, 0, output.Total)
}

func TestHandler_Execute_TooManyCandidates(t *testing.T) {
	svc := new(MockRanker)
	h := NewHandler(DefaultConfig(), svc, logger.NewNoOpLogger())
	svc.On("Rank", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: more than 5000", catalog.ErrTooManyCandidates))

	_, err := h.Execute(context.Background(), &Input{Filters: catalog.Filters{City: "Lisbon"}})

	stdErr, ok := errors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeValidation, stdErr.Code)
	assert.False(t, stdErr.Retryable)
}

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode errors.ErrorCode
	}{
		{"search down", fmt.Errorf("%w: 503", catalog.ErrSearchUnavailable), errors.ErrCodeSearch},
		{"deadline", context.DeadlineExceeded, errors.ErrCodeTimeout},
		{"database", fmt.Errorf("load candidates: connection reset"), errors.ErrCodeDatabase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockRanker)
			h := NewHandler(DefaultConfig(), svc, logger.NewNoOpLogger())
			svc.On("Rank", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			_, err := h.Execute(context.Background(), &Input{})

			stdErr, ok := errors.AsStandardError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, stdErr.Code)
			assert.True(t, stdErr.Retryable)
		})
	}
}
