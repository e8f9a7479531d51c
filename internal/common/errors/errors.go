// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Business errors. These are thrown as BPMN errors and never retried.
const (
	ErrCodeValidation              ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidConversionAmount ErrorCode = "INVALID_CONVERSION_AMOUNT"
	ErrCodeInsufficientBalance     ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodeCapacityExceeded        ErrorCode = "LISTING_CAPACITY_EXCEEDED"
	ErrCodeProviderNotFound        ErrorCode = "PROVIDER_NOT_FOUND"
	ErrCodeOfferNotFound           ErrorCode = "OFFER_NOT_FOUND"
	ErrCodeProviderSuspended       ErrorCode = "PROVIDER_SUSPENDED"
	ErrCodeForbidden               ErrorCode = "FORBIDDEN"
)

// Technical errors.
const (
	ErrCodeConcurrencyConflict ErrorCode = "CONCURRENCY_CONFLICT"
	ErrCodeDatabase            ErrorCode = "DATABASE_ERROR"
	ErrCodeCache               ErrorCode = "CACHE_ERROR"
	ErrCodeSearch              ErrorCode = "SEARCH_ERROR"
	ErrCodeTimeout             ErrorCode = "TIMEOUT_ERROR"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// Invariant violations. Logged and surfaced as INTERNAL_ERROR.
const (
	ErrCodeLedgerInvariant  ErrorCode = "LEDGER_INVARIANT_VIOLATION"
	ErrCodeCascadeInvariant ErrorCode = "CASCADE_INVARIANT_VIOLATION"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// AsStandardError unwraps err looking for a *StandardError.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewValidationError creates a non-retryable input validation error.
func NewValidationError(details string) *StandardError {
	return newError(ErrCodeValidation, "Input validation failed", details, false, nil)
}

// NewInvalidConversionAmountError reports a non-positive or non-multiple conversion amount.
func NewInvalidConversionAmountError(cause error) *StandardError {
	return newError(ErrCodeInvalidConversionAmount, "Invalid conversion amount", cause.Error(), false, cause)
}

// NewInsufficientBalanceError reports a conversion larger than the sponsor balance.
func NewInsufficientBalanceError(cause error) *StandardError {
	return newError(ErrCodeInsufficientBalance, "Insufficient referral balance", cause.Error(), false, cause)
}

// NewCapacityExceededError reports a listing capacity breach for the provider's effective tier.
func NewCapacityExceededError(cause error) *StandardError {
	return newError(ErrCodeCapacityExceeded, "Active listing capacity exceeded", cause.Error(), false, cause)
}

func NewProviderNotFoundError(providerID string) *StandardError {
	return newError(ErrCodeProviderNotFound, "Provider not found", fmt.Sprintf("providerId: %s", providerID), false, nil)
}

func NewOfferNotFoundError(offerID string) *StandardError {
	return newError(ErrCodeOfferNotFound, "Offer not found", fmt.Sprintf("offerId: %s", offerID), false, nil)
}

func NewProviderSuspendedError(providerID string) *StandardError {
	return newError(ErrCodeProviderSuspended, "Provider is suspended", fmt.Sprintf("providerId: %s", providerID), false, nil)
}

// NewForbiddenError rejects a caller whose role may not perform the action.
func NewForbiddenError(details string) *StandardError {
	return newError(ErrCodeForbidden, "Action not permitted for caller role", details, false, nil)
}

// NewConcurrencyConflictError is returned when transaction retries are exhausted.
func NewConcurrencyConflictError(err error) *StandardError {
	return newError(ErrCodeConcurrencyConflict, "Concurrent update conflict", err.Error(), true, err)
}

// NewDatabaseError creates a retryable database error.
func NewDatabaseError(operation string, err error) *StandardError {
	return newError(ErrCodeDatabase, fmt.Sprintf("Database error during %s", operation), err.Error(), true, err)
}

func NewCacheError(err error) *StandardError {
	return newError(ErrCodeCache, "Cache error", err.Error(), true, err)
}

func NewSearchError(err error) *StandardError {
	return newError(ErrCodeSearch, "Search query failed", err.Error(), true, err)
}

func NewTimeoutError(operation string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("Operation '%s' timeout", operation), err.Error(), true, err)
}

// NewLedgerInvariantError marks a negative or inconsistent ledger balance.
func NewLedgerInvariantError(err error) *StandardError {
	return newError(ErrCodeLedgerInvariant, "Ledger invariant violated", err.Error(), false, err)
}

// NewCascadeInvariantError marks a moderation cascade that left inconsistent state.
func NewCascadeInvariantError(err error) *StandardError {
	return newError(ErrCodeCascadeInvariant, "Moderation cascade invariant violated", err.Error(), false, err)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false, err)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes. Invariant
// violations are deliberately opaque to the workflow.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeValidation:              "VALIDATION_ERROR",
	ErrCodeInvalidConversionAmount: "INVALID_CONVERSION_AMOUNT",
	ErrCodeInsufficientBalance:     "INSUFFICIENT_BALANCE",
	ErrCodeCapacityExceeded:        "LISTING_CAPACITY_EXCEEDED",
	ErrCodeProviderNotFound:        "PROVIDER_NOT_FOUND",
	ErrCodeOfferNotFound:           "OFFER_NOT_FOUND",
	ErrCodeProviderSuspended:       "PROVIDER_SUSPENDED",
	ErrCodeForbidden:               "FORBIDDEN",
	ErrCodeConcurrencyConflict:     "CONCURRENCY_CONFLICT",
	ErrCodeDatabase:                "DATABASE_ERROR",
	ErrCodeCache:                   "CACHE_ERROR",
	ErrCodeSearch:                  "SEARCH_ERROR",
	ErrCodeTimeout:                 "TIMEOUT_ERROR",
	ErrCodeInternal:                "INTERNAL_ERROR",
	ErrCodeLedgerInvariant:         "INTERNAL_ERROR",
	ErrCodeCascadeInvariant:        "INTERNAL_ERROR",
}

// GetRetryCount returns the recommended retry count for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabase,
		ErrCodeConcurrencyConflict,
		ErrCodeSearch:
		return 3

	case ErrCodeTimeout,
		ErrCodeCache:
		return 2

	default:
		return 0 // Business errors and invariant violations: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	message := stdErr.Message
	details := stdErr.Details
	if IsInvariantViolation(stdErr.Code) {
		message = "Internal error"
		details = ""
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   message,
		Details:   details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": bpmnCode,
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func IsInvariantViolation(code ErrorCode) bool {
	return code == ErrCodeLedgerInvariant || code == ErrCodeCascadeInvariant
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "INVARIANT"):
		return "INVARIANT"
	case strings.Contains(codeStr, "BALANCE") || strings.Contains(codeStr, "CONVERSION"):
		return "LEDGER"
	case strings.Contains(codeStr, "CAPACITY") || strings.Contains(codeStr, "OFFER"):
		return "CATALOG"
	case strings.Contains(codeStr, "PROVIDER") || code == ErrCodeForbidden:
		return "PROVIDER"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "CONCURRENCY"):
		return "DATABASE"
	case strings.Contains(codeStr, "SEARCH") || strings.Contains(codeStr, "CACHE"):
		return "INFRASTRUCTURE"
	case strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
