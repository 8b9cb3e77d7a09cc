package config

const (
	defaultConfigPath          = "~/.config/clearskin/config.toml"
	defaultDataDir             = "~/.local/share/clearskin"
	defaultImageDirName        = "images"
	defaultLogDir              = "~/.local/share/clearskin/logs"
	defaultAPIBind             = "127.0.0.1:7490"
	defaultDetectorBaseURL     = "http://localhost:8000"
	defaultDetectorTimeout     = 60
	defaultDetectorAttempts    = 1
	defaultDetectorBaseDelayMS = 500
	defaultDetectorMaxDelayMS  = 5000
	defaultMaxImageBytes       = 10 << 20
	defaultMaxImagePixels      = 40_000_000
	defaultRecentLimit         = 3
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Detector: Detector{
			BaseURL:          defaultDetectorBaseURL,
			TimeoutSeconds:   defaultDetectorTimeout,
			RetryAttempts:    defaultDetectorAttempts,
			RetryBaseDelayMS: defaultDetectorBaseDelayMS,
			RetryMaxDelayMS:  defaultDetectorMaxDelayMS,
			MaxImageBytes:    defaultMaxImageBytes,
			MaxImagePixels:   defaultMaxImagePixels,
		},
		Records: Records{
			RecentLimit:        defaultRecentLimit,
			PendingPlaceholder: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
