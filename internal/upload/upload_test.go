package upload

import (
	"BootBridge/internal/device"
	"BootBridge/internal/device/devicetest"
	"BootBridge/internal/model"
	"bytes"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type recorderFunc func(model.UploadRecord) error

func (f recorderFunc) Record(rec model.UploadRecord) error { return f(rec) }

func newTestUploader(t *testing.T, cfg model.UploadConfig, progress io.Writer) *Uploader {
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = DefaultMaxSizeMB
	}
	return NewUploader(cfg, device.NewSelectPoller(), progress, zaptest.NewLogger(t))
}

func writePayload(t *testing.T, size int) (string, []byte) {
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	path := filepath.Join(t.TempDir(), "initrd")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func TestSendStreamsPayload(t *testing.T) {
	host, peer := devicetest.SocketPair(t)
	path, data := writePayload(t, 150000)
	var progress bytes.Buffer
	u := newTestUploader(t, model.UploadConfig{}, &progress)

	wire := devicetest.Bootloader(peer, "OK")
	res, err := u.Send(host, path)
	require.NoError(t, err)
	require.NoError(t, host.Close())

	tr := <-wire
	require.NoError(t, tr.Err)
	assert.Equal(t, model.StateDone, res.State)
	assert.Equal(t, int64(len(data)), res.Size)
	assert.Equal(t, int64(len(data)), res.Sent)
	assert.Nil(t, res.Err)
	assert.Equal(t, uint32(len(data)), tr.Size)
	assert.Equal(t, data, tr.Payload)
	assert.Empty(t, tr.Extra)
	assert.Contains(t, progress.String(), "100% 150000 / 150000\r")
	assert.Contains(t, progress.String(), " 43% 65536 / 150000\r")
}

func TestSendSizeIsLittleEndian(t *testing.T) {
	host, peer := devicetest.SocketPair(t)
	path, data := writePayload(t, 0x010203)
	u := newTestUploader(t, model.UploadConfig{ChunkSize: 4096}, nil)

	wire := make(chan []byte, 1)
	go func() {
		hdr := make([]byte, 4)
		_, _ = io.ReadFull(peer, hdr)
		_, _ = peer.Write([]byte("OK"))
		_, _ = io.ReadFull(peer, make([]byte, len(data)))
		wire <- hdr
	}()

	res, err := u.Send(host, path)
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, res.State)
	assert.Equal(t, []byte{0x03, 0x02, 0x01, 0x00}, <-wire)
}

func TestSendRestoresNonBlocking(t *testing.T) {
	host, peer := devicetest.SocketPair(t)
	path, _ := writePayload(t, 10)
	u := newTestUploader(t, model.UploadConfig{}, nil)

	wire := devicetest.Bootloader(peer, "OK")
	_, err := u.Send(host, path)
	require.NoError(t, err)
	assert.True(t, devicetest.IsNonBlocking(t, host.Fd()))
	require.NoError(t, host.Close())
	<-wire
}

func TestSendSkipped(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	tests := []struct {
		name string
		path string
	}{
		{"no payload configured", ""},
		{"missing file", filepath.Join(t.TempDir(), "missing")},
		{"directory", t.TempDir()},
		{"empty file", empty},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			host, peer := devicetest.SocketPair(t)
			u := newTestUploader(t, model.UploadConfig{}, nil)
			wire := devicetest.Drain(peer)

			res, err := u.Send(host, tc.path)
			require.NoError(t, err)
			assert.Equal(t, model.StateSkipped, res.State)
			assert.Zero(t, res.Sent)
			assert.True(t, devicetest.IsNonBlocking(t, host.Fd()))

			require.NoError(t, host.Close())
			assert.Empty(t, <-wire)
		})
	}
}

func TestSendTooLarge(t *testing.T) {
	host, peer := devicetest.SocketPair(t)
	path, _ := writePayload(t, 1024*1024)
	u := newTestUploader(t, model.UploadConfig{MaxSizeMB: 1}, nil)
	wire := devicetest.Drain(peer)

	res, err := u.Send(host, path)
	require.NoError(t, err)
	assert.Equal(t, model.StateAborted, res.State)
	assert.ErrorIs(t, res.Err, model.ErrPayloadTooLarge)
	assert.True(t, devicetest.IsNonBlocking(t, host.Fd()))

	require.NoError(t, host.Close())
	assert.Empty(t, <-wire)
}

func TestSendBadAck(t *testing.T) {
	host, peer := devicetest.SocketPair(t)
	path, _ := writePayload(t, 100)
	u := newTestUploader(t, model.UploadConfig{}, nil)

	wire := devicetest.Bootloader(peer, "NO")
	res, err := u.Send(host, path)
	require.NoError(t, err)
	assert.Equal(t, model.StateAborted, res.State)
	assert.ErrorIs(t, res.Err, model.ErrBadAck)
	assert.Zero(t, res.Sent)

	require.NoError(t, host.Close())
	tr := <-wire
	require.NoError(t, tr.Err)
	assert.Equal(t, uint32(100), tr.Size)
	assert.Empty(t, tr.Extra)
}

func TestSendAnnouncesPayloadWithFields(t *testing.T) {
	host, peer := devicetest.SocketPair(t)
	path, _ := writePayload(t, 100)
	core, logs := observer.New(zap.InfoLevel)
	u := NewUploader(model.UploadConfig{}, device.NewSelectPoller(), nil, zap.New(core))

	wire := devicetest.Bootloader(peer, "NO")
	_, err := u.Send(host, path)
	require.NoError(t, err)
	require.NoError(t, host.Close())
	require.NoError(t, (<-wire).Err)

	entries := logs.FilterMessage("### sending initrd").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, path, fields["path"])
	assert.Equal(t, int64(100), fields["size"])
}

func TestSendAckTimeout(t *testing.T) {
	host, peer := devicetest.SocketPair(t)
	path, _ := writePayload(t, 100)
	u := newTestUploader(t, model.UploadConfig{AckTimeout: 50 * time.Millisecond}, nil)

	wire := devicetest.Bootloader(peer, "")
	res, err := u.Send(host, path)
	require.NoError(t, err)
	assert.Equal(t, model.StateAborted, res.State)
	assert.ErrorIs(t, res.Err, model.ErrAckTimeout)

	require.NoError(t, host.Close())
	tr := <-wire
	assert.Empty(t, tr.Extra)
}

func TestSendDeviceGoneIsFatal(t *testing.T) {
	host, peer := devicetest.SocketPair(t)
	path, _ := writePayload(t, 100)
	u := newTestUploader(t, model.UploadConfig{}, nil)

	go func() {
		hdr := make([]byte, 4)
		_, _ = io.ReadFull(peer, hdr)
		_ = peer.Close()
	}()
	res, err := u.Send(host, path)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, model.StateAborted, res.State)
}

func TestSendRecordsHistory(t *testing.T) {
	host, peer := devicetest.SocketPair(t)
	path, _ := writePayload(t, 42)
	u := newTestUploader(t, model.UploadConfig{}, nil)

	var records []model.UploadRecord
	u.SetRecorder(recorderFunc(func(rec model.UploadRecord) error {
		records = append(records, rec)
		return nil
	}))

	wire := devicetest.Bootloader(peer, "OK")
	_, err := u.Send(host, path)
	require.NoError(t, err)
	_, err = u.Send(host, "")
	require.NoError(t, err)
	require.NoError(t, host.Close())
	<-wire

	require.Len(t, records, 1)
	assert.Equal(t, "socketpair", records[0].Device)
	assert.Equal(t, path, records[0].Payload)
	assert.Equal(t, int64(42), records[0].Sent)
	assert.Equal(t, "done", records[0].State)
	assert.Empty(t, records[0].Error)
}

func TestWriteFullLoopsOnShortWrites(t *testing.T) {
	w := &shortWriter{max: 3}
	require.NoError(t, writeFull(w, []byte("0123456789")))
	assert.Equal(t, "0123456789", w.buf.String())
	assert.Equal(t, 4, w.calls)

	assert.ErrorIs(t, writeFull(&shortWriter{}, []byte("x")), io.ErrShortWrite)
}

type shortWriter struct {
	buf   bytes.Buffer
	max   int
	calls int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	w.calls++
	if len(p) > w.max {
		p = p[:w.max]
	}
	return w.buf.Write(p)
}
