package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	RoomIDDigits    int           `mapstructure:"room_id_digits" yaml:"room_id_digits"`
	RoomIDAttempts  int           `mapstructure:"room_id_attempts" yaml:"room_id_attempts"`
	EvictionGrace   time.Duration `mapstructure:"eviction_grace" yaml:"eviction_grace"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval" yaml:"janitor_interval"`

	OutboundQueue   int           `mapstructure:"outbound_queue" yaml:"outbound_queue"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	FramesPerMinute int           `mapstructure:"frames_per_minute" yaml:"frames_per_minute"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	RedisAddr           string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisDB             int    `mapstructure:"redis_db" yaml:"redis_db"`
	OutputChannelPrefix string `mapstructure:"output_channel_prefix" yaml:"output_channel_prefix"`

	CallbackSecret   string `mapstructure:"callback_secret" yaml:"callback_secret"`
	CallbackIssuer   string `mapstructure:"callback_issuer" yaml:"callback_issuer"`
	CallbackAudience string `mapstructure:"callback_audience" yaml:"callback_audience"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                ":5000",
		ReadHeaderTimeout:   5 * time.Second,
		ShutdownTimeout:     5 * time.Second,
		LogLevel:            "info",
		LogFormat:           "console",
		RoomIDDigits:        6,
		RoomIDAttempts:      32,
		EvictionGrace:       30 * time.Second,
		JanitorInterval:     5 * time.Second,
		OutboundQueue:       64,
		MaxMessageBytes:     1 << 20,
		WriteTimeout:        5 * time.Second,
		DatabasePath:        "colearn.db",
		OutputChannelPrefix: "colearn:output:",
		CallbackIssuer:      "colearn",
		CallbackAudience:    "execution-worker",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.RedisAddr != "" {
		c.RedisAddr = other.RedisAddr
	}
	if other.EvictionGrace != 0 {
		c.EvictionGrace = other.EvictionGrace
	}
}
