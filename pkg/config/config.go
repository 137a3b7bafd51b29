// Package config provides the unified configuration contract for result
// destinations. Every destination type, from MQTT brokers to serial lines,
// is configured through the same DestinationConfig structure: a small set
// of options recognized uniformly (rate_limit, timeout, max_failures,
// max_publishes) plus a type-specific Options bag validated by the
// destination at configure time.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/olkham/inference-node/pkg/errors"
)

// DefaultTimeout bounds a send attempt when the config leaves it unset.
const DefaultTimeout = 30 * time.Second

// DestinationConfig is the configuration bag for one destination instance.
type DestinationConfig struct {
	// Name identifies the destination instance within a publisher
	Name string `yaml:"name" json:"name"`
	// Type selects the destination variant (e.g. "mqtt", "webhook")
	Type string `yaml:"type" json:"type"`

	// RateLimit is the minimum interval between accepted publishes in
	// seconds. 0 means unlimited.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`

	// Timeout bounds a single send attempt. Zero selects DefaultTimeout.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MaxFailures, when positive, is the consecutive-failure streak that
	// auto-disables the destination. Unset leaves failures as counters
	// only; disabling stays a manual operation.
	MaxFailures int `yaml:"max_failures" json:"max_failures"`

	// MaxPublishes pauses the destination after this many sent payloads.
	// 0 means unlimited.
	MaxPublishes int `yaml:"max_publishes" json:"max_publishes"`

	// Options holds the type-specific fields (broker address, topic, URL,
	// serial port, ...).
	Options Options `yaml:"config" json:"config"`
}

// NewDestinationConfig creates a config with defaults for the given
// instance name and destination type.
func NewDestinationConfig(name, destType string) *DestinationConfig {
	return &DestinationConfig{
		Name:    name,
		Type:    destType,
		Timeout: DefaultTimeout,
		Options: Options{},
	}
}

// Validate checks the fields shared by all destination types.
func (c *DestinationConfig) Validate() error {
	if c.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "name is required")
	}
	if c.Type == "" {
		return errors.New(errors.ErrorTypeConfig, "type is required")
	}
	if c.RateLimit < 0 {
		return errors.New(errors.ErrorTypeConfig, "rate_limit cannot be negative")
	}
	if c.MaxPublishes < 0 {
		return errors.New(errors.ErrorTypeConfig, "max_publishes cannot be negative")
	}
	return nil
}

// SendTimeout returns the effective per-send timeout.
func (c *DestinationConfig) SendTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// FailureLimit returns the consecutive-failure limit, 0 meaning the
// breaker is off.
func (c *DestinationConfig) FailureLimit() int {
	if c.MaxFailures <= 0 {
		return 0
	}
	return c.MaxFailures
}

// Options is a string-keyed bag of type-specific settings with typed
// accessors. Values arrive from YAML or from the management API, so
// numeric fields may be float64, int, or string.
type Options map[string]interface{}

// String returns a string option or the fallback when absent.
func (o Options) String(key, fallback string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// RequiredString returns a string option, or a configuration error naming
// the missing field.
func (o Options) RequiredString(key string) (string, error) {
	s := o.String(key, "")
	if s == "" {
		return "", errors.Newf(errors.ErrorTypeConfig, "missing required field %q", key).
			WithDetail("field", key)
	}
	return s, nil
}

// Int returns an integer option or the fallback when absent or malformed.
func (o Options) Int(key string, fallback int) int {
	v, ok := o[key]
	if !ok || v == nil {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return fallback
}

// Float returns a float option or the fallback when absent or malformed.
func (o Options) Float(key string, fallback float64) float64 {
	v, ok := o[key]
	if !ok || v == nil {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if parsed, err := strconv.ParseFloat(n, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// Bool returns a boolean option or the fallback when absent or malformed.
func (o Options) Bool(key string, fallback bool) bool {
	v, ok := o[key]
	if !ok || v == nil {
		return fallback
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return fallback
}

// Duration returns a duration option. Accepts time.Duration strings
// ("10s") or numeric seconds.
func (o Options) Duration(key string, fallback time.Duration) time.Duration {
	v, ok := o[key]
	if !ok || v == nil {
		return fallback
	}
	switch d := v.(type) {
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	case int:
		return time.Duration(d) * time.Second
	case float64:
		return time.Duration(d * float64(time.Second))
	}
	return fallback
}

// StringMap returns a nested map option ({"headers": {"X-Token": "..."}}).
func (o Options) StringMap(key string) map[string]string {
	v, ok := o[key]
	if !ok || v == nil {
		return nil
	}
	out := make(map[string]string)
	switch m := v.(type) {
	case map[string]string:
		for k, s := range m {
			out[k] = s
		}
	case map[string]interface{}:
		for k, raw := range m {
			if s, ok := raw.(string); ok {
				out[k] = s
			} else {
				out[k] = fmt.Sprintf("%v", raw)
			}
		}
	case map[interface{}]interface{}: // yaml.v3 nested maps
		for k, raw := range m {
			out[fmt.Sprintf("%v", k)] = fmt.Sprintf("%v", raw)
		}
	default:
		return nil
	}
	return out
}

// Strings returns a list option ({"brokers": ["a:9092", "b:9092"]}).
// A plain string is treated as a single-element list.
func (o Options) Strings(key string) []string {
	v, ok := o[key]
	if !ok || v == nil {
		return nil
	}
	switch l := v.(type) {
	case []string:
		return l
	case []interface{}:
		out := make([]string, 0, len(l))
		for _, raw := range l {
			out = append(out, fmt.Sprintf("%v", raw))
		}
		return out
	case string:
		return []string{l}
	}
	return nil
}
