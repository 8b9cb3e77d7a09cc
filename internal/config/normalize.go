package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables consulted when the detector URL is not configured.
// CSAI_BASE_URL is the name used by the analysis service deployment.
var detectorURLEnv = []string{"CLEARSKIN_DETECTOR_URL", "CSAI_BASE_URL"}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDetector()
	if err := c.normalizeQuiz(); err != nil {
		return err
	}
	c.normalizeRecords()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ImageDir) == "" {
		c.Paths.ImageDir = filepath.Join(c.Paths.DataDir, defaultImageDirName)
	}
	if c.Paths.ImageDir, err = expandPath(c.Paths.ImageDir); err != nil {
		return fmt.Errorf("paths.image_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("CLEARSKIN_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeDetector() {
	c.Detector.BaseURL = strings.TrimSpace(c.Detector.BaseURL)
	for _, key := range detectorURLEnv {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			c.Detector.BaseURL = strings.TrimSpace(value)
			break
		}
	}
	if c.Detector.BaseURL == "" {
		c.Detector.BaseURL = defaultDetectorBaseURL
	}
	c.Detector.BaseURL = strings.TrimRight(c.Detector.BaseURL, "/")
	if c.Detector.TimeoutSeconds <= 0 {
		c.Detector.TimeoutSeconds = defaultDetectorTimeout
	}
	if c.Detector.RetryAttempts <= 0 {
		c.Detector.RetryAttempts = defaultDetectorAttempts
	}
	if c.Detector.RetryBaseDelayMS <= 0 {
		c.Detector.RetryBaseDelayMS = defaultDetectorBaseDelayMS
	}
	if c.Detector.RetryMaxDelayMS <= 0 {
		c.Detector.RetryMaxDelayMS = defaultDetectorMaxDelayMS
	}
	if c.Detector.MaxImageBytes <= 0 {
		c.Detector.MaxImageBytes = defaultMaxImageBytes
	}
	if c.Detector.MaxImagePixels <= 0 {
		c.Detector.MaxImagePixels = defaultMaxImagePixels
	}
}

func (c *Config) normalizeQuiz() error {
	var err error
	if c.Quiz.CatalogPath, err = expandPath(strings.TrimSpace(c.Quiz.CatalogPath)); err != nil {
		return fmt.Errorf("quiz.catalog_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeRecords() {
	if c.Records.RecentLimit <= 0 {
		c.Records.RecentLimit = defaultRecentLimit
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
