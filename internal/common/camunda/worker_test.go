package camunda

import (
	"fmt"
	"testing"

	"marketplace-workers/internal/common/errors"
	"marketplace-workers/internal/common/metrics"
	"marketplace-workers/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	err   error
	calls int
}

func (s *stubHandler) Handle(client worker.JobClient, job entities.Job) error {
	s.calls++
	return s.err
}

func createMockJob(key int64) entities.Job {
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               "test-task",
		ProcessInstanceKey: key * 10,
		Retries:            3,
		Variables:          "{}",
	}}
}

func valueOf(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.GetCounter().GetValue()
	case out.Gauge != nil:
		return out.GetGauge().GetValue()
	}
	return 0
}

func TestInstrument_CountsOutcomes(t *testing.T) {
	taskType := "instrument-test"
	ok := &stubHandler{}
	failing := &stubHandler{err: errors.NewInsufficientBalanceError(fmt.Errorf("balance 50"))}

	Instrument(taskType, ok, nil)(nil, createMockJob(1))
	Instrument(taskType, failing, nil)(nil, createMockJob(2))
	Instrument(taskType, failing, nil)(nil, createMockJob(3))

	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 2, failing.calls)
	assert.Equal(t, float64(1), valueOf(t, metrics.WorkerJobsCompleted.WithLabelValues(taskType)))
	assert.Equal(t, float64(2), valueOf(t,
		metrics.WorkerJobsFailed.WithLabelValues(taskType, string(errors.ErrCodeInsufficientBalance))))
	assert.Equal(t, float64(0), valueOf(t, metrics.WorkerJobsActive.WithLabelValues(taskType)))
}

func TestIsRetryableZeebeError(t *testing.T) {
	tests := []struct {
		err  string
		want bool
	}{
		{"rpc error: code = Unavailable desc = connection refused", true},
		{"context deadline exceeded", true},
		{"rpc error: code = ResourceExhausted desc = resource exhausted", true},
		{"rpc error: code = NotFound desc = job not found", false},
		{"rpc error: code = InvalidArgument", false},
	}
	for _, tt := range tests {
		t.Run(tt.err, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableZeebeError(fmt.Errorf("%s", tt.err)))
		})
	}
}

func TestDecodeVariables(t *testing.T) {
	schema := validation.MustCompile(`{
		"type": "object",
		"required": ["providerId"],
		"properties": {"providerId": {"type": "string", "minLength": 1}}
	}`)
	var out struct {
		ProviderID string `json:"providerId"`
	}

	job := createMockJob(1)
	job.Variables = `{"providerId": "prov-1", "unrelated": true}`
	require.NoError(t, DecodeVariables(job, schema, &out))
	assert.Equal(t, "prov-1", out.ProviderID)

	job.Variables = `{"providerId": ""}`
	err := DecodeVariables(job, schema, &out)
	stdErr, ok := errors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeValidation, stdErr.Code)
	assert.Contains(t, stdErr.Details, "providerId")

	job.Variables = `not json`
	err = DecodeVariables(job, schema, &out)
	stdErr, ok = errors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeValidation, stdErr.Code)
}
