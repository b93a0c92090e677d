// Package storage holds helpers shared by the handle store backends.
package storage

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig matches every *ConfigError through errors.Is.
var ErrInvalidConfig = errors.New("invalid backend config")

// ConfigError reports a backend option that could not be used.
type ConfigError struct {
	Backend string
	Field   string
	Value   string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	var msg string
	switch {
	case e.Field == "":
		msg = fmt.Sprintf("%s: %s", e.Backend, e.Message)
	case e.Value == "":
		msg = fmt.Sprintf("%s: %s: %s", e.Backend, e.Field, e.Message)
	default:
		msg = fmt.Sprintf("%s: %s=%q: %s", e.Backend, e.Field, e.Value, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// Is reports whether target is ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }
