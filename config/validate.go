package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errors []string

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s'", c.LogLevel))
	}

	if c.MovieTimeScale <= 0 {
		errors = append(errors, "movie time scale must be positive")
	}

	if err := c.Media.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("media config: %v", err))
	}

	if c.Flatten.ChunkSeconds < 0 {
		errors = append(errors, "flatten chunk seconds cannot be negative (use 0 for default)")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// Validate checks if media time scales are valid
func (mc *MediaConfig) Validate() error {
	var errors []string

	if mc.VideoTimeScale <= 0 {
		errors = append(errors, "video time scale must be positive")
	}
	if mc.AudioTimeScale <= 0 {
		errors = append(errors, "audio time scale must be positive")
	}
	if mc.TextTimeScale <= 0 {
		errors = append(errors, "text time scale must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, ", "))
	}

	return nil
}
