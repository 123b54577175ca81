package config

import (
	"fmt"
	"strings"
)

// ConfigurationError reports pre-flight problems: bad or missing
// configuration, loose permissions, duplicate descriptions. When it is
// returned, nothing has been sent to any coordinator.
type ConfigurationError struct {
	Errors []error
}

func (e *ConfigurationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d configuration errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap returns the underlying errors for errors.Is/As compatibility.
func (e *ConfigurationError) Unwrap() []error {
	return e.Errors
}

// Errorf builds a single-issue ConfigurationError.
func Errorf(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Errors: []error{fmt.Errorf(format, args...)}}
}
