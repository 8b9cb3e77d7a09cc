package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDetector(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind %q: %w", c.Paths.APIBind, err)
	}
	return nil
}

func (c *Config) validateDetector() error {
	parsed, err := url.Parse(c.Detector.BaseURL)
	if err != nil {
		return fmt.Errorf("detector.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("detector.base_url must use http or https, got %q", c.Detector.BaseURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("detector.base_url must include a host, got %q", c.Detector.BaseURL)
	}
	if c.Detector.RetryAttempts > 10 {
		return errors.New("detector.retry_attempts must be 10 or fewer")
	}
	if c.Detector.RetryMaxDelayMS < c.Detector.RetryBaseDelayMS {
		return errors.New("detector.retry_max_delay_ms must be >= detector.retry_base_delay_ms")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}
