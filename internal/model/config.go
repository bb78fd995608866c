// Package model defines shared configuration structures used to initialize BootBridge.
// It includes the serial line, upload, retry, logging and optional collaborator settings.
package model

import "time"

// Config represents the root structure loaded from the YAML config file, environment and flags.
type Config struct {
	Device  string        `mapstructure:"device" yaml:"device"`
	Payload string        `mapstructure:"payload" yaml:"payload"`
	Serial  SerialConfig  `mapstructure:"serial" yaml:"serial"`
	Upload  UploadConfig  `mapstructure:"upload" yaml:"upload"`
	Retry   RetryPolicy   `mapstructure:"retry" yaml:"retry"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	History HistoryConfig `mapstructure:"history" yaml:"history"`
}

// SerialConfig describes the line settings applied when the device is opened.
type SerialConfig struct {
	BaudRate int    `mapstructure:"baud_rate" yaml:"baud_rate"`
	DataBits int    `mapstructure:"data_bits" yaml:"data_bits"`
	Parity   string `mapstructure:"parity" yaml:"parity"`       // none/even/odd
	StopBits int    `mapstructure:"stop_bits" yaml:"stop_bits"` // 1 or 2
}

// UploadConfig controls the payload handshake.
type UploadConfig struct {
	MaxSizeMB  int           `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	ChunkSize  int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	AckTimeout time.Duration `mapstructure:"ack_timeout" yaml:"ack_timeout"` // 0 waits forever
	Watch      bool          `mapstructure:"watch" yaml:"watch"`
}

// MaxSize returns the payload size limit in bytes.
func (u UploadConfig) MaxSize() int64 {
	return int64(u.MaxSizeMB) * 1024 * 1024
}

// RetryPolicy decides how often an absent device is reopened.
// MaxAttempts of zero retries forever.
type RetryPolicy struct {
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// Exhausted reports whether attempt (1-based) used up the policy.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// LogConfig selects the log level and optional rotating file sink.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // console/json
	File       string `mapstructure:"file" yaml:"file"`     // empty disables the file sink
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// MonitorConfig enables the websocket mirror of device output.
type MonitorConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"` // e.g. ":8023", empty disables
	Path   string `mapstructure:"path" yaml:"path"`
	Queue  int    `mapstructure:"queue" yaml:"queue"`
}

// HistoryConfig enables the upload history database.
type HistoryConfig struct {
	Path  string `mapstructure:"path" yaml:"path"` // empty disables
	Limit int    `mapstructure:"limit" yaml:"limit"`
}
