package config

import (
	"context"
	"strconv"
)

// ConfigValue represents a configuration value that can be set by the client
// or resolved from what the server reports for a result.
// This implements the config overlay pattern: client > server > default
//
// Example usage:
//
//	// Client explicitly sets value (overrides the result manifest)
//	cfg.UseLz4Compression = NewConfigValue(true)
//
//	// Client doesn't set value (use the result manifest)
//	cfg.UseLz4Compression = ConfigValue[bool]{}
//
//	useLz4 := cfg.UseLz4Compression.Resolve(ctx, ServerValue(manifest.Lz4Compressed), false)
type ConfigValue[T any] struct {
	// nil = not set by client
	value *T
}

// NewConfigValue creates a ConfigValue with a client-set value.
func NewConfigValue[T any](value T) ConfigValue[T] {
	return ConfigValue[T]{value: &value}
}

// IsSet returns true if the client explicitly set this configuration value.
func (cv ConfigValue[T]) IsSet() bool {
	return cv.value != nil
}

// Get returns the client-set value and whether it was set.
func (cv ConfigValue[T]) Get() (T, bool) {
	if cv.value != nil {
		return *cv.value, true
	}
	var zero T
	return zero, false
}

// ServerResolver defines how to obtain a configuration value from the server.
// On error the overlay falls back to the default value.
type ServerResolver[T any] interface {
	Resolve(ctx context.Context) (T, error)
}

type serverValue[T any] struct {
	value T
}

func (s serverValue[T]) Resolve(ctx context.Context) (T, error) {
	return s.value, nil
}

// ServerValue wraps a value already returned by the server, e.g. a flag in
// the result manifest.
func ServerValue[T any](value T) ServerResolver[T] {
	return serverValue[T]{value: value}
}

// Resolve applies config overlay priority to determine the final value:
//
//	Priority 1: Client Config - if explicitly set
//	Priority 2: Server Config - resolved via serverResolver
//	Priority 3: Default Value
func (cv ConfigValue[T]) Resolve(
	ctx context.Context,
	serverResolver ServerResolver[T],
	defaultValue T,
) T {
	if cv.value != nil {
		return *cv.value
	}

	if serverResolver != nil {
		if v, err := serverResolver.Resolve(ctx); err == nil {
			return v
		}
	}

	return defaultValue
}

// ParseBoolConfigValue parses a string value into a ConfigValue[bool].
// Returns unset ConfigValue if the parameter is not present.
func ParseBoolConfigValue(params map[string]string, key string) ConfigValue[bool] {
	if v, ok := params[key]; ok {
		enabled := (v == "true" || v == "1")
		return NewConfigValue(enabled)
	}
	return ConfigValue[bool]{}
}

// ParseIntConfigValue parses a string value into a ConfigValue[int].
// Returns unset ConfigValue if the parameter is not present or invalid.
func ParseIntConfigValue(params map[string]string, key string) ConfigValue[int] {
	if v, ok := params[key]; ok {
		if i, err := strconv.Atoi(v); err == nil {
			return NewConfigValue(i)
		}
	}
	return ConfigValue[int]{}
}
