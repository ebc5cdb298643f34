// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package saga

import (
	"errors"
	"fmt"
	"time"
)

// predefined error codes
const (
	ErrCodeSagaNotFound               = "SAGA_NOT_FOUND"
	ErrCodeConfigurationError         = "CONFIGURATION_ERROR"
	ErrCodeCorrelationPropertyMissing = "CORRELATION_PROPERTY_MISSING"
	ErrCodeCorrelationPropertyChanged = "CORRELATION_PROPERTY_CHANGED"
	ErrCodeTimeoutNotHandled          = "TIMEOUT_NOT_HANDLED"
	ErrCodeConcurrentCreate           = "CONCURRENT_CREATE"
	ErrCodeStorageError               = "STORAGE_ERROR"
	ErrCodeCommitFailed               = "COMMIT_FAILED"
	ErrCodeValidationError            = "VALIDATION_ERROR"
	ErrCodeSchedulingFailed           = "SCHEDULING_FAILED"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeData          ErrorType = "data"
	ErrorTypeConcurrency   ErrorType = "concurrency"
	ErrorTypeSystem        ErrorType = "system"
)

// ErrSagaNotFound signals that no saga instance exists for a lookup. Custom
// finders return it (or a nil entity) to report absence.
var ErrSagaNotFound = errors.New("saga not found")

// SagaError represents an error raised while resolving, handling or persisting
// a saga instance.
type SagaError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Type      ErrorType              `json:"type"`
	Retryable bool                   `json:"retryable"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     *SagaError             `json:"cause,omitempty"`

	// err is the wrapped Go error, kept so errors.Is and errors.As see through.
	err error
}

// NewSagaError creates a new SagaError with the specified parameters.
func NewSagaError(code, message string, errorType ErrorType, retryable bool) *SagaError {
	return &SagaError{
		Code:      code,
		Message:   message,
		Type:      errorType,
		Retryable: retryable,
		Timestamp: time.Now(),
	}
}

// WrapError wraps an existing error into a SagaError.
func WrapError(err error, code, message string, errorType ErrorType, retryable bool) *SagaError {
	if err == nil {
		return nil
	}

	sagaErr := NewSagaError(code, message, errorType, retryable)
	sagaErr.err = err

	var original *SagaError
	if errors.As(err, &original) {
		sagaErr.Cause = original
	}

	return sagaErr
}

// Error implements the error interface for SagaError.
func (e *SagaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error, if any.
func (e *SagaError) Unwrap() error {
	return e.err
}

// WithDetail adds a detail to the SagaError.
func (e *SagaError) WithDetail(key string, value interface{}) *SagaError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsRetryable checks if the error or any of its causes is retryable.
func (e *SagaError) IsRetryable() bool {
	if e.Retryable {
		return true
	}
	if e.Cause != nil {
		return e.Cause.IsRetryable()
	}
	return false
}

// Common error constructors

// NewConfigurationError creates an error for saga configuration defects. These
// are never retryable: redelivering the message cannot fix them.
func NewConfigurationError(message string) *SagaError {
	return NewSagaError(ErrCodeConfigurationError, message, ErrorTypeConfiguration, false)
}

// NewCorrelationPropertyMissingError is returned when a saga that requires a
// correlation property is started by a message that supplies none.
func NewCorrelationPropertyMissingError(sagaType string) *SagaError {
	return NewSagaError(ErrCodeCorrelationPropertyMissing,
		fmt.Sprintf("saga '%s' requires a correlation property value for messages starting it", sagaType),
		ErrorTypeConfiguration, false).
		WithDetail("saga_type", sagaType)
}

// NewCorrelationPropertyChangedError is returned when a handler modified the
// correlation property of an existing saga instance.
func NewCorrelationPropertyChangedError(sagaType, property string, before, after interface{}) *SagaError {
	return NewSagaError(ErrCodeCorrelationPropertyChanged,
		fmt.Sprintf("correlation property '%s' of saga '%s' changed from '%v' to '%v'", property, sagaType, before, after),
		ErrorTypeValidation, false).
		WithDetail("saga_type", sagaType).
		WithDetail("property", property)
}

// NewTimeoutNotHandledError is returned when a saga requests a timeout it has
// no handler for.
func NewTimeoutNotHandledError(sagaType, timeoutType string) *SagaError {
	return NewSagaError(ErrCodeTimeoutNotHandled,
		fmt.Sprintf("saga '%s' cannot request timeouts for '%s' because it does not handle them", sagaType, timeoutType),
		ErrorTypeConfiguration, false).
		WithDetail("saga_type", sagaType).
		WithDetail("timeout_type", timeoutType)
}

// NewStorageError creates an error for storage operation failures.
func NewStorageError(operation string, err error) *SagaError {
	return WrapError(err, ErrCodeStorageError,
		fmt.Sprintf("Storage operation '%s' failed", operation),
		ErrorTypeSystem, true).
		WithDetail("operation", operation)
}

// NewCommitFailedError reports a commit that stopped part-way. Actions before
// applied were written and are not rolled back.
func NewCommitFailedError(applied, total int, err error) *SagaError {
	return WrapError(err, ErrCodeCommitFailed,
		fmt.Sprintf("commit aborted after %d of %d deferred actions", applied, total),
		ErrorTypeSystem, false).
		WithDetail("applied", applied).
		WithDetail("total", total)
}

// NewValidationError creates an error for validation failures.
func NewValidationError(message string) *SagaError {
	return NewSagaError(ErrCodeValidationError, message, ErrorTypeValidation, false)
}

// NewSchedulingError wraps a failure to hand a reminder to the message sender.
func NewSchedulingError(timeoutType string, err error) *SagaError {
	return WrapError(err, ErrCodeSchedulingFailed,
		fmt.Sprintf("failed to schedule timeout '%s'", timeoutType),
		ErrorTypeSystem, true).
		WithDetail("timeout_type", timeoutType)
}

// HasCode reports whether err is, or wraps, a SagaError with the given code.
func HasCode(err error, code string) bool {
	var sagaErr *SagaError
	for err != nil {
		if !errors.As(err, &sagaErr) {
			return false
		}
		if sagaErr.Code == code {
			return true
		}
		err = sagaErr.err
	}
	return false
}

// IsConfigurationError checks whether err is a non-retryable configuration defect.
func IsConfigurationError(err error) bool {
	var sagaErr *SagaError
	if !errors.As(err, &sagaErr) {
		return false
	}
	return sagaErr.Type == ErrorTypeConfiguration
}

// IsRetryableError checks if an error should be retried.
func IsRetryableError(err error) bool {
	var sagaErr *SagaError
	if errors.As(err, &sagaErr) {
		return sagaErr.IsRetryable()
	}
	return false
}
