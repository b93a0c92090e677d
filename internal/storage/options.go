package storage

import (
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Options reads the string option map of one backend. Parse failures come
// back as *ConfigError carrying the backend name, field and raw value.
type Options struct {
	backend string
	values  map[string]string
}

// NewOptions wraps values for backend. A nil map reads as empty.
func NewOptions(backend string, values map[string]string) Options {
	return Options{backend: backend, values: values}
}

// Backend returns the backend name used in errors.
func (o Options) Backend() string { return o.backend }

func (o Options) lookup(key string) (string, bool) {
	v, ok := o.values[key]
	return v, ok && v != ""
}

// String returns the value for key, or def when it is missing or empty.
func (o Options) String(key, def string) string {
	if v, ok := o.lookup(key); ok {
		return v
	}
	return def
}

// Required returns the value for key, failing when it is missing or empty.
func (o Options) Required(key string) (string, error) {
	v, ok := o.lookup(key)
	if !ok {
		return "", o.Invalid(key, "cannot be empty", nil)
	}
	return v, nil
}

// Path returns the required value for key with a leading ~/ expanded.
func (o Options) Path(key string) (string, error) {
	v, err := o.Required(key)
	if err != nil {
		return "", err
	}
	return ExpandPath(v), nil
}

// Bool accepts true/false, 1/0 and yes/no, case-insensitively.
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o.lookup(key)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, o.Invalid(key, "must be a boolean (true/false, 1/0, yes/no)", nil)
}

// Int parses a base-10 integer.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o.lookup(key)
	if !ok {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, o.Invalid(key, "must be an integer", err)
	}
	return i, nil
}

// NonNegativeInt is Int restricted to values >= 0.
func (o Options) NonNegativeInt(key string, def int) (int, error) {
	i, err := o.Int(key, def)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, o.Invalid(key, "must be non-negative", nil)
	}
	return i, nil
}

// Int64 parses a base-10 64-bit integer.
func (o Options) Int64(key string, def int64) (int64, error) {
	v, ok := o.lookup(key)
	if !ok {
		return def, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, o.Invalid(key, "must be an integer", err)
	}
	return i, nil
}

// Duration accepts Go duration strings ("5s", "1m30s") or integer seconds.
func (o Options) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := o.lookup(key)
	if !ok {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, o.Invalid(key, "must be a duration (e.g. '5s', '1m30s') or integer seconds", nil)
}

// Invalid builds a *ConfigError for key, including its raw value if set.
func (o Options) Invalid(key, message string, cause error) *ConfigError {
	return &ConfigError{
		Backend: o.backend,
		Field:   key,
		Value:   o.values[key],
		Message: message,
		Cause:   cause,
	}
}

// ExpandPath expands a leading ~/ to the home directory and cleans the path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return filepath.Clean(path)
}

// MergeConfig returns a new map holding dst overlaid with src.
func MergeConfig(dst, src map[string]string) map[string]string {
	result := make(map[string]string, len(dst)+len(src))
	maps.Copy(result, dst)
	maps.Copy(result, src)
	return result
}
