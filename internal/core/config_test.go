package core

import (
	"BootBridge/internal/model"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func parseFlags(t *testing.T, argv ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("bootbridge", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(argv))
	return fs
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(parseFlags(t), []string{"/dev/ttyUSB0"})
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Device)
	assert.Empty(t, cfg.Payload)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 8, cfg.Serial.DataBits)
	assert.Equal(t, "none", cfg.Serial.Parity)
	assert.Equal(t, int64(16*1024*1024), cfg.Upload.MaxSize())
	assert.Equal(t, 64*1024, cfg.Upload.ChunkSize)
	assert.Zero(t, cfg.Upload.AckTimeout)
	assert.Equal(t, time.Second, cfg.Retry.Interval)
	assert.Zero(t, cfg.Retry.MaxAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "/ws", cfg.Monitor.Path)
}

func TestLoadConfigPrecedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bootbridge.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
device: /dev/ttyACM0
payload: build/initrd
serial:
  baud_rate: 57600
upload:
  max_size_mb: 8
  ack_timeout: 5s
log:
  level: debug
`), 0o644))
	t.Setenv("BOOTBRIDGE_UPLOAD_MAX_SIZE_MB", "32")
	t.Setenv("BOOTBRIDGE_LOG_LEVEL", "warn")

	fs := parseFlags(t, "-c", file, "--log-level", "error", "--retry-interval", "250ms")
	cfg, err := LoadConfig(fs, nil)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Device)
	assert.Equal(t, "build/initrd", cfg.Payload)
	assert.Equal(t, 57600, cfg.Serial.BaudRate)
	assert.Equal(t, 32, cfg.Upload.MaxSizeMB, "environment beats file")
	assert.Equal(t, 5*time.Second, cfg.Upload.AckTimeout)
	assert.Equal(t, "error", cfg.Log.Level, "flag beats environment")
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Interval)

	cfg, err = LoadConfig(fs, []string{"/dev/ttyUSB1", "other.img"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Device)
	assert.Equal(t, "other.img", cfg.Payload)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	_, err := LoadConfig(parseFlags(t, "--max-size-mb", "0"), nil)
	assert.ErrorContains(t, err, "max_size_mb")

	_, err = LoadConfig(parseFlags(t, "--retry-interval", "0s"), nil)
	assert.ErrorContains(t, err, "retry.interval")

	_, err = LoadConfig(parseFlags(t, "-c", filepath.Join(t.TempDir(), "missing.yaml")), nil)
	assert.Error(t, err)
}

func TestDumpConfig(t *testing.T) {
	cfg, err := LoadConfig(parseFlags(t, "--ack-timeout", "3s"), []string{"/dev/ttyUSB0", "initrd"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, DumpConfig(&buf, cfg))
	assert.Contains(t, buf.String(), "device: /dev/ttyUSB0")

	var back model.Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, *cfg, back)
}
