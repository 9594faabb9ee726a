package config

const (
	defaultConfigPath          = "~/.config/bindery/config.toml"
	defaultLibraryDir          = "~/audiobooks"
	defaultStagingDir          = "~/.local/share/bindery/staging"
	defaultLogDir              = "~/.local/share/bindery/logs"
	defaultDatabasePath        = "~/.local/share/bindery/library.db"
	defaultFFmpegBinary        = "ffmpeg"
	defaultBitrate             = "128k"
	defaultSampleRate          = 44100
	defaultChannels            = 2
	defaultCoverExtractTimeout = 30
	defaultCoverEmbedTimeout   = 60
	defaultReapInterval        = 300
	defaultRetention           = 3600
	defaultStuckThreshold      = 7200
	defaultNtfyRequestTimeout  = 10
	defaultEventSubject        = "bindery.conversion"
	defaultLogFormat           = "text"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LibraryDir:   defaultLibraryDir,
			StagingDir:   defaultStagingDir,
			LogDir:       defaultLogDir,
			DatabasePath: defaultDatabasePath,
		},
		FFmpeg: FFmpeg{
			Binary:              defaultFFmpegBinary,
			Bitrate:             defaultBitrate,
			SampleRate:          defaultSampleRate,
			Channels:            defaultChannels,
			CoverExtractTimeout: defaultCoverExtractTimeout,
			CoverEmbedTimeout:   defaultCoverEmbedTimeout,
		},
		Conversion: Conversion{
			ReapInterval:   defaultReapInterval,
			Retention:      defaultRetention,
			StuckThreshold: defaultStuckThreshold,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
		},
		Events: Events{
			Subject: defaultEventSubject,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
