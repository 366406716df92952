package goagua

import "fmt"

// AguaError is the base error type for all failures reported by this library.
// Specific failure kinds embed it so callers can match them with errors.As
// while still unwrapping to the underlying cause.
type AguaError struct {
	Message string
	Err     error
}

func (e *AguaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agua error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("agua error: %s", e.Message)
}

func (e *AguaError) Unwrap() error {
	return e.Err
}

func NewAguaError(message string, err error) *AguaError {
	return &AguaError{
		Message: message,
		Err:     err,
	}
}

// ConnectionError reports that the platform could not be reached.
type ConnectionError struct {
	*AguaError
}

func NewConnectionError(message string, err error) *ConnectionError {
	return &ConnectionError{
		AguaError: NewAguaError(message, err),
	}
}

// UnauthorizedError reports bad credentials or a 401 that survived one
// token refresh.
type UnauthorizedError struct {
	*AguaError
}

func NewUnauthorizedError(message string, err error) *UnauthorizedError {
	return &UnauthorizedError{
		AguaError: NewAguaError(message, err),
	}
}

// ConfigurationError reports a registers map that lacks something an
// operation needs, such as a register key or its ON/OFF encodings.
type ConfigurationError struct {
	*AguaError
}

func NewConfigurationError(message string, err error) *ConfigurationError {
	return &ConfigurationError{
		AguaError: NewAguaError(message, err),
	}
}

// RangeError reports a write value outside the register's allowed bounds.
// The value is rejected, never clamped.
type RangeError struct {
	*AguaError
	Value float64
	Min   float64
	Max   float64
}

func NewRangeError(key string, value, min, max float64) *RangeError {
	return &RangeError{
		AguaError: NewAguaError(
			fmt.Sprintf("value %v for %s must be between %v and %v", value, key, min, max), nil),
		Value: value,
		Min:   min,
		Max:   max,
	}
}

// MissingDataError reports a register offset with no raw value in the
// current telemetry buffer.
type MissingDataError struct {
	*AguaError
	Offset int
}

func NewMissingDataError(offset int) *MissingDataError {
	return &MissingDataError{
		AguaError: NewAguaError(
			fmt.Sprintf("no raw value at offset %d in current buffer", offset), nil),
		Offset: offset,
	}
}

// TimeoutError reports an asynchronous server job that did not complete
// within the configured polling bound.
type TimeoutError struct {
	*AguaError
}

func NewTimeoutError(message string, err error) *TimeoutError {
	return &TimeoutError{
		AguaError: NewAguaError(message, err),
	}
}

// OperationError is the catch-all for unexpected server behaviour: wrong
// status codes, malformed payloads, failed write confirmations.
type OperationError struct {
	*AguaError
}

func NewOperationError(message string, err error) *OperationError {
	return &OperationError{
		AguaError: NewAguaError(message, err),
	}
}
