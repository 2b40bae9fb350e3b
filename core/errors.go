package core

import (
	"errors"
	"fmt"
)

// ErrSessionIDRequired is returned when an operation is invoked without a session id.
var ErrSessionIDRequired = errors.New("session id is required")

// ConfigError reports a missing or invalid configuration value. It is fatal
// at the call site that needs the value and is never retried.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("config: %s is required", e.Field)
	}

	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// NewConfigError constructs a ConfigError for a missing field.
func NewConfigError(field string) *ConfigError { return &ConfigError{Field: field} }
