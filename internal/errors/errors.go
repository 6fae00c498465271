// Package errors defines the error taxonomy of the wallet analyzer.
//
// Upstream failures are recoverable by design: the resolver falls back
// to the next source or a placeholder, and they never surface to the
// caller on their own. The only hard failure is TotalFailure, raised
// when no meaningful portfolio can be built at all.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/wallet-analyzer/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed input rejected before the pipeline runs (4xx)
	CategoryValidation ErrorCategory = "validation"
	// CategoryUpstream represents a price or ledger source failure; always recoverable
	CategoryUpstream ErrorCategory = "upstream"
	// CategoryNoActivity represents a wallet with no transfer history; not a hard failure
	CategoryNoActivity ErrorCategory = "no_activity"
	// CategoryTotalFailure represents the case where every upstream failed and no portfolio can be built
	CategoryTotalFailure ErrorCategory = "total_failure"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategorySystem represents internal system errors (5xx)
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Validation errors (rejected before the pipeline runs)

// NewInvalidAddressError creates an invalid address error
func NewInvalidAddressError(address string, chain types.ChainID) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_ADDRESS",
		Message:    fmt.Sprintf("invalid %s address format: %s", chain, address),
		Details: map[string]interface{}{
			"address": address,
			"chain":   string(chain),
		},
	}
}

// NewUnsupportedChainError creates an unsupported chain error
func NewUnsupportedChainError(chain string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "UNSUPPORTED_CHAIN",
		Message:    fmt.Sprintf("unsupported chain: %s", chain),
		Details: map[string]interface{}{
			"chain": chain,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// Upstream errors (always recoverable via fallback)

// NewSourceError creates an upstream source error
func NewSourceError(source string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusBadGateway,
		Code:       "SOURCE_ERROR",
		Message:    fmt.Sprintf("upstream source error: %s", source),
		Cause:      cause,
		Details: map[string]interface{}{
			"source": source,
		},
	}
}

// NewSourceTimeoutError creates an upstream timeout error. A timeout is
// treated identically to a source failure: advance to the next source.
func NewSourceTimeoutError(source string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "SOURCE_TIMEOUT",
		Message:    fmt.Sprintf("upstream source timeout: %s", source),
		Details: map[string]interface{}{
			"source": source,
		},
	}
}

// NewSourceRateLimitError creates an upstream 429 error. The resolver
// stops calling the source for the remainder of the batch instead of
// retry-storming.
func NewSourceRateLimitError(source string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusTooManyRequests,
		Code:       "SOURCE_RATE_LIMIT",
		Message:    fmt.Sprintf("upstream source rate limit exceeded: %s", source),
		Details: map[string]interface{}{
			"source": source,
		},
	}
}

// NewNoActivityError marks a wallet without transfer history. The
// analyzer still returns a portfolio built from current balances.
func NewNoActivityError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNoActivity,
		StatusCode: http.StatusOK,
		Code:       "NO_ACTIVITY",
		Message:    fmt.Sprintf("wallet has no transfer history: %s", address),
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewTotalFailureError creates the one hard failure: every upstream for
// balances or history failed and no meaningful portfolio can be built.
func NewTotalFailureError(address string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTotalFailure,
		StatusCode: http.StatusBadGateway,
		Code:       "TOTAL_FAILURE",
		Message:    fmt.Sprintf("all upstream sources failed for wallet %s", address),
		Cause:      cause,
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// System errors

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	switch err.Code {
	case "INVALID_ADDRESS", "UNSUPPORTED_CHAIN", "INVALID_PARAMETER":
		return &CategorizedError{
			Category:   CategoryValidation,
			StatusCode: http.StatusBadRequest,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case "SOURCE_ERROR", "SOURCE_TIMEOUT", "SOURCE_RATE_LIMIT":
		return &CategorizedError{
			Category:   CategoryUpstream,
			StatusCode: http.StatusBadGateway,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case "TOTAL_FAILURE":
		return &CategorizedError{
			Category:   CategoryTotalFailure,
			StatusCode: http.StatusBadGateway,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	default:
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsCategory reports whether the error belongs to the given category
func IsCategory(err error, category ErrorCategory) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.Category == category
}

// IsRateLimited reports whether the error is an upstream 429
func IsRateLimited(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.Code == "SOURCE_RATE_LIMIT"
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryUpstream:
		// A rate-limited source must not be retried within the same batch
		return catErr.Code != "SOURCE_RATE_LIMIT"
	case CategoryDatabase, CategoryCache:
		return true
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
