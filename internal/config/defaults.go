package config

const (
	defaultDataDir           = "~/.local/share/fieldsync"
	defaultLogDir            = "~/.local/share/fieldsync/logs"
	defaultAPIBind           = "127.0.0.1:7519"
	defaultCreateTimeout     = 15
	defaultUploadTimeout     = 300
	defaultMaxRetries        = 5
	defaultRetryBackoff      = 2
	defaultRetryBackoffMax   = 60
	defaultTranscribeTimeout = 120
	defaultProbeInterval     = 30
	defaultNtfyTimeout       = 10
	defaultLogLevel          = "info"
	defaultLogFormat         = "console"
	defaultLanguage          = "en"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Backend: Backend{
			CreateTimeout:   defaultCreateTimeout,
			UploadTimeout:   defaultUploadTimeout,
			MaxRetries:      defaultMaxRetries,
			RetryBackoff:    defaultRetryBackoff,
			RetryBackoffMax: defaultRetryBackoffMax,
		},
		Transcription: Transcription{
			Enabled:  true,
			Timeout:  defaultTranscribeTimeout,
			Language: defaultLanguage,
		},
		Sync: Sync{
			Auto:          true,
			WifiOnly:      false,
			ProbeInterval: defaultProbeInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
