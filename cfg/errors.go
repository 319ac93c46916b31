package cfg

import "fmt"

// ConfigError reports an invalid configuration value
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %q: %s", e.Field, e.Reason)
}
