package config

import (
	"errors"
	"strings"
)

// ConfigurationError lists required settings that are missing
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	quoted := make([]string, len(e.Missing))
	for i, field := range e.Missing {
		quoted[i] = `"` + field + `"`
	}
	return "missing configuration " + strings.Join(quoted, ", ") + ", please check your registry config"
}

// IsConfigurationError reports whether err is or wraps a *ConfigurationError
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
