package app

import (
	"strings"

	"github.com/charlesng35/smallworld/pkg/logger"
)

// ConfigureLogging initialises the global logger, defaulting to info level and json encoding.
func ConfigureLogging(level, encoding string) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	encoding = strings.TrimSpace(encoding)
	if encoding == "" {
		encoding = "json"
	}
	return logger.Init(level, encoding)
}
