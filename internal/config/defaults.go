package config

// Default values for configuration options, the first layer of the override
// chain.
const (
	defaultSourceKind      = SourceList
	defaultModifiedField   = "Modified"
	defaultFlagField       = "Update Flag"
	defaultStatusField     = "Current Status"
	defaultClosedValue     = "Closed"
	defaultMode            = "batch"
	defaultBatchSize       = 100
	defaultOnPageError     = "fail"
	defaultPollInterval    = "15m"
	defaultShutdownTimeout = "30s"
	defaultAttachmentMode  = "replace"
	defaultAttWorkers      = 4
	defaultBandwidthLimit  = "0"
	defaultPageDelay       = "2s"
	defaultItemDelay       = "2s"
	defaultCooldown        = "30s"
	defaultCooldownEvery   = 0 // follow sync.batch_size
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultConnectTimeout  = "10s"
	defaultDataTimeout     = "60s"
	defaultHistoryKeep     = 500
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Kind:          defaultSourceKind,
			ModifiedField: defaultModifiedField,
		},
		Sync: SyncConfig{
			FlagField:       defaultFlagField,
			StatusField:     defaultStatusField,
			ClosedValue:     defaultClosedValue,
			Mode:            defaultMode,
			BatchSize:       defaultBatchSize,
			OnPageError:     defaultOnPageError,
			PollInterval:    defaultPollInterval,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Attachments: AttachmentsConfig{
			Mode:           defaultAttachmentMode,
			Workers:        defaultAttWorkers,
			BandwidthLimit: defaultBandwidthLimit,
		},
		Pacing: PacingConfig{
			PageDelay:     defaultPageDelay,
			ItemDelay:     defaultItemDelay,
			Cooldown:      defaultCooldown,
			CooldownEvery: defaultCooldownEvery,
		},
		Mapping: make(map[string]string),
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
		State: StateConfig{
			HistoryKeep: defaultHistoryKeep,
		},
	}
}
