package config

import "fmt"

// ConfigurationError reports invalid input detected at startup. It is fatal.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func newConfigError(field, reason string, err error) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason, Err: err}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
