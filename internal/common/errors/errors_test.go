package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertToBPMNError(t *testing.T) {
	tests := []struct {
		name        string
		err         *StandardError
		wantCode    string
		wantRetries int
	}{
		{"business error", NewInsufficientBalanceError(stderrors.New("balance 50 < 100")), "INSUFFICIENT_BALANCE", 0},
		{"database error", NewDatabaseError("insert", stderrors.New("broken pipe")), "DATABASE_ERROR", 3},
		{"timeout", NewTimeoutError("rank-offers", stderrors.New("deadline")), "TIMEOUT_ERROR", 2},
		{"ledger invariant", NewLedgerInvariantError(stderrors.New("balance -5")), "INTERNAL_ERROR", 0},
		{"cascade invariant", NewCascadeInvariantError(stderrors.New("1 offer left")), "INTERNAL_ERROR", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpmn := ConvertToBPMNError(tt.err)
			assert.Equal(t, tt.wantCode, bpmn.Code)
			assert.Equal(t, tt.wantRetries, bpmn.Retries)
			assert.Equal(t, tt.wantCode, bpmn.ToErrorVariables()["errorCode"])
		})
	}
}

func TestConvertToBPMNError_InvariantIsOpaque(t *testing.T) {
	bpmn := ConvertToBPMNError(NewLedgerInvariantError(stderrors.New("sponsor s1 balance -5")))

	assert.Equal(t, "Internal error", bpmn.Message)
	assert.Empty(t, bpmn.Details)
	assert.NotContains(t, fmt.Sprint(bpmn.ToErrorVariables()), "s1")
}

func TestNormalize(t *testing.T) {
	wrapped := fmt.Errorf("execute: %w", NewOfferNotFoundError("o-1"))
	assert.Equal(t, ErrCodeOfferNotFound, Normalize(wrapped).Code)

	plain := Normalize(stderrors.New("boom"))
	assert.Equal(t, ErrCodeInternal, plain.Code)
	assert.False(t, plain.Retryable)
}

func TestStandardError_UnwrapAndMetadata(t *testing.T) {
	cause := stderrors.New("capacity")
	err := NewCapacityExceededError(cause).WithMetadata("providerId", "p1")

	assert.ErrorIs(t, err, cause)
	stdErr, ok := AsStandardError(fmt.Errorf("outer: %w", err))
	require.True(t, ok)
	assert.Equal(t, "p1", stdErr.Metadata["providerId"])
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "LEDGER", GetErrorCategory(ErrCodeInsufficientBalance))
	assert.Equal(t, "CATALOG", GetErrorCategory(ErrCodeCapacityExceeded))
	assert.Equal(t, "PROVIDER", GetErrorCategory(ErrCodeForbidden))
	assert.Equal(t, "INVARIANT", GetErrorCategory(ErrCodeCascadeInvariant))
	assert.Equal(t, "INFRASTRUCTURE", GetErrorCategory(ErrCodeSearch))
	assert.False(t, IsRetryableErrorCode(ErrCodeValidation))
	assert.True(t, IsRetryableErrorCode(ErrCodeConcurrencyConflict))
}

type logEntry struct {
	level  string
	msg    string
	fields map[string]interface{}
}

type recordingLogger struct {
	entries []logEntry
}

func (l *recordingLogger) Warn(msg string, fields map[string]interface{}) {
	l.entries = append(l.entries, logEntry{"warn", msg, fields})
}

func (l *recordingLogger) Error(msg string, fields map[string]interface{}) {
	l.entries = append(l.entries, logEntry{"error", msg, fields})
}

func TestErrorHandler_ReportSend(t *testing.T) {
	log := &recordingLogger{}
	h := NewErrorHandler(log)
	job := entities.Job{ActivatedJob: &pb.ActivatedJob{Key: 77, Type: "convert-referral-points"}}
	bpmnErr := ConvertToBPMNError(NewInsufficientBalanceError(fmt.Errorf("balance 50")))

	h.reportSend("throw", job, bpmnErr, nil)
	assert.Empty(t, log.entries)

	h.reportSend("throw", job, bpmnErr, stderrors.New("rpc error: code = Unavailable"))

	require.Len(t, log.entries, 1)
	entry := log.entries[0]
	assert.Equal(t, "warn", entry.level)
	assert.Equal(t, "failed to report job error", entry.msg)
	assert.Equal(t, "throw", entry.fields["command"])
	assert.Equal(t, int64(77), entry.fields["jobKey"])
	assert.Equal(t, "INSUFFICIENT_BALANCE", entry.fields["bpmnErrorCode"])
	assert.Equal(t, "rpc error: code = Unavailable", entry.fields["error"])
}

func TestErrorVariables(t *testing.T) {
	vars, ok := errorVariables(ConvertToBPMNError(NewValidationError("points must be positive")))
	require.True(t, ok)
	assert.Contains(t, vars, "VALIDATION_ERROR")
}
