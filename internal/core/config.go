// Package core contains the runtime of BootBridge.
// config.go loads flags, environment and the config file with viper.
package core

import (
	"BootBridge/internal/model"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. BOOTBRIDGE_UPLOAD_MAX_SIZE_MB.
const EnvPrefix = "BOOTBRIDGE"

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"baud":           "serial.baud_rate",
	"max-size-mb":    "upload.max_size_mb",
	"ack-timeout":    "upload.ack_timeout",
	"watch":          "upload.watch",
	"retry-interval": "retry.interval",
	"max-attempts":   "retry.max_attempts",
	"log-level":      "log.level",
	"log-file":       "log.file",
	"monitor":        "monitor.listen",
	"history":        "history.path",
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "YAML config file")
	fs.Int("baud", 115200, "serial line speed")
	fs.Int("max-size-mb", 16, "largest payload accepted, in MiB")
	fs.Duration("ack-timeout", 0, "how long to wait for the device to acknowledge the size (0 waits forever)")
	fs.Bool("watch", false, "report when the payload file changes")
	fs.Duration("retry-interval", time.Second, "delay between attempts to open an absent device")
	fs.Int("max-attempts", 0, "give up after this many failed opens (0 retries forever)")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("log-file", "", "also write logs to this rotated file")
	fs.String("monitor", "", "serve a websocket mirror of device output on this address")
	fs.String("history", "", "record uploads in this database file")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device", "")
	v.SetDefault("payload", "")

	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.stop_bits", 1)

	v.SetDefault("upload.max_size_mb", 16)
	v.SetDefault("upload.chunk_size", 64*1024)
	v.SetDefault("upload.ack_timeout", "0s")
	v.SetDefault("upload.watch", false)

	v.SetDefault("retry.interval", "1s")
	v.SetDefault("retry.max_attempts", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("monitor.listen", "")
	v.SetDefault("monitor.path", "/ws")
	v.SetDefault("monitor.queue", 256)

	v.SetDefault("history.path", "")
	v.SetDefault("history.limit", 100)
}

// LoadConfig merges defaults, the config file, BOOTBRIDGE_* environment variables and
// parsed flags, in increasing priority. args are the positional arguments
// <device-path> [payload-path].
func LoadConfig(fs *pflag.FlagSet, args []string) (*model.Config, error) {
	v := viper.New()
	setDefaults(v)

	path, _ := fs.GetString("config")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bootbridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/bootbridge")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if len(args) > 0 {
		v.Set("device", args[0])
	}
	if len(args) > 1 {
		v.Set("payload", args[1])
	}

	cfg := &model.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *model.Config) error {
	switch {
	case cfg.Upload.MaxSizeMB <= 0:
		return fmt.Errorf("upload.max_size_mb must be positive, got %d", cfg.Upload.MaxSizeMB)
	case cfg.Upload.ChunkSize <= 0:
		return fmt.Errorf("upload.chunk_size must be positive, got %d", cfg.Upload.ChunkSize)
	case cfg.Upload.AckTimeout < 0:
		return fmt.Errorf("upload.ack_timeout must not be negative")
	case cfg.Retry.Interval <= 0:
		return fmt.Errorf("retry.interval must be positive, got %s", cfg.Retry.Interval)
	case cfg.Retry.MaxAttempts < 0:
		return fmt.Errorf("retry.max_attempts must not be negative")
	}
	return nil
}

// DumpConfig writes cfg as YAML.
func DumpConfig(w io.Writer, cfg *model.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
