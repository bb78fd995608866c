// Package upload implements the payload handshake spoken by the remote bootloader:
//
//	host   -> device : payload size, 4 bytes, little-endian
//	device -> host   : "OK"
//	host   -> device : payload bytes
//
// There is no checksum or retransmission; the serial line is trusted.
package upload

import (
	"BootBridge/internal/device"
	"BootBridge/internal/model"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxSizeMB is the largest payload the bootloader accepts, in MiB.
	DefaultMaxSizeMB = 16
	// DefaultChunkSize is the streaming block size.
	DefaultChunkSize = 64 * 1024
)

var ack = []byte("OK")

// Recorder receives a summary of every upload attempt made with a configured payload.
type Recorder interface {
	Record(rec model.UploadRecord) error
}

// Result describes how an upload ended.
// Err explains an Aborted upload; fatal failures are returned separately by Send.
type Result struct {
	State model.TransferState
	Size  int64
	Sent  int64
	Err   error
}

// Uploader sends a payload file over an open connection.
type Uploader struct {
	maxSize    int64
	chunkSize  int
	ackTimeout time.Duration
	poller     device.Poller
	progress   io.Writer
	log        *zap.Logger
	recorder   Recorder
}

// NewUploader creates an Uploader. progress receives the percentage line, and may be nil.
func NewUploader(cfg model.UploadConfig, poller device.Poller, progress io.Writer, log *zap.Logger) *Uploader {
	u := &Uploader{
		maxSize:    cfg.MaxSize(),
		chunkSize:  cfg.ChunkSize,
		ackTimeout: cfg.AckTimeout,
		poller:     poller,
		progress:   progress,
		log:        log,
	}
	if u.maxSize <= 0 {
		u.maxSize = DefaultMaxSizeMB * 1024 * 1024
	}
	if u.chunkSize <= 0 {
		u.chunkSize = DefaultChunkSize
	}
	if u.progress == nil {
		u.progress = io.Discard
	}
	if u.log == nil {
		u.log = zap.NewNop()
	}
	return u
}

// SetRecorder attaches r; nil detaches.
func (u *Uploader) SetRecorder(r Recorder) {
	u.recorder = r
}

// Send performs one upload of path over conn. The connection is blocking for the
// duration of the call and non-blocking again afterwards, whatever the outcome.
//
// An empty path or a missing, unreadable or empty file is Skipped without a word on the wire.
// A returned error means the link is broken and the program should stop.
func (u *Uploader) Send(conn device.Conn, path string) (res Result, err error) {
	if err := conn.SetBlocking(true); err != nil {
		return Result{State: model.StateAborted}, err
	}
	defer func() {
		if berr := conn.SetBlocking(false); berr != nil && err == nil {
			err = berr
		}
		if path != "" {
			u.record(conn, path, res, err)
		}
	}()

	res = Result{State: model.StateSkipped}
	if path == "" {
		return res, nil
	}
	f, oerr := os.Open(path)
	if oerr != nil {
		u.log.Debug("payload not available, skipping upload", zap.String("path", path), zap.Error(oerr))
		return res, nil
	}
	defer func() {
		_ = f.Close()
	}()

	info, serr := f.Stat()
	if serr != nil || !info.Mode().IsRegular() {
		u.log.Debug("payload not a regular file, skipping upload", zap.String("path", path))
		return res, nil
	}
	res.Size = info.Size()
	if res.Size == 0 {
		return res, nil
	}
	if res.Size >= u.maxSize || res.Size > math.MaxUint32 {
		res.State = model.StateAborted
		res.Err = fmt.Errorf("%s is %d bytes, limit %d: %w", path, res.Size, u.maxSize, model.ErrPayloadTooLarge)
		u.log.Error("initrd too big", zap.String("path", path), zap.Int64("size", res.Size), zap.Int64("limit", u.maxSize))
		return res, nil
	}

	u.log.Info("### sending initrd", zap.String("path", path), zap.Int64("size", res.Size))

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(res.Size))
	if err := writeFull(conn, hdr[:]); err != nil {
		res.State = model.StateAborted
		return res, fmt.Errorf("write size: %w", err)
	}
	u.transition(model.StateSizeSent)

	u.transition(model.StateAckAwaited)
	reply, err := u.readAck(conn)
	if err != nil {
		res.State = model.StateAborted
		if errors.Is(err, model.ErrAckTimeout) {
			res.Err = err
			u.log.Error("no acknowledgement from device", zap.Duration("timeout", u.ackTimeout))
			return res, nil
		}
		return res, fmt.Errorf("read acknowledgement: %w", err)
	}
	if !bytes.Equal(reply, ack) {
		res.State = model.StateAborted
		res.Err = fmt.Errorf("got %q: %w", reply, model.ErrBadAck)
		u.log.Error("error after sending size", zap.ByteString("reply", reply))
		return res, nil
	}

	u.transition(model.StateStreaming)
	buf := make([]byte, u.chunkSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if err := writeFull(conn, buf[:n]); err != nil {
				res.State = model.StateAborted
				return res, fmt.Errorf("write payload: %w", err)
			}
			res.Sent += int64(n)
			fmt.Fprintf(u.progress, "%3d%% %d / %d\r", res.Sent*100/res.Size, res.Sent, res.Size)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			res.State = model.StateAborted
			res.Err = fmt.Errorf("read %s: %w", path, rerr)
			u.log.Error("payload read failed", zap.String("path", path), zap.Error(rerr))
			return res, nil
		}
	}

	res.State = model.StateDone
	u.log.Info("### finished sending", zap.Int64("bytes", res.Sent))
	return res, nil
}

// readAck waits for and reads exactly len(ack) bytes.
// Readiness is awaited before each read so a polling tty never spins.
func (u *Uploader) readAck(conn device.Conn) ([]byte, error) {
	var deadline time.Time
	if u.ackTimeout > 0 {
		deadline = time.Now().Add(u.ackTimeout)
	}
	buf := make([]byte, len(ack))
	for pos := 0; pos < len(buf); {
		timeout := device.Forever
		if !deadline.IsZero() {
			timeout = time.Until(deadline)
			if timeout <= 0 {
				return nil, model.ErrAckTimeout
			}
		}
		ready, err := u.poller.Wait([]device.Interest{{Fd: conn.Fd(), Read: true}}, timeout)
		if err != nil {
			return nil, err
		}
		if ready[0].Err {
			return nil, errors.New("error on device")
		}
		if !ready[0].Read {
			return nil, model.ErrAckTimeout
		}
		n, err := conn.Read(buf[pos:])
		if err != nil {
			if model.IsTemporary(err) {
				continue
			}
			return nil, err
		}
		if n == 0 {
			return nil, io.ErrUnexpectedEOF
		}
		pos += n
	}
	return buf, nil
}

func (u *Uploader) transition(state model.TransferState) {
	u.log.Debug("transfer state", zap.Stringer("state", state))
}

func (u *Uploader) record(conn device.Conn, path string, res Result, err error) {
	if u.recorder == nil {
		return
	}
	rec := model.UploadRecord{
		Time:    time.Now(),
		Device:  conn.Name(),
		Payload: path,
		Size:    res.Size,
		Sent:    res.Sent,
		State:   res.State.String(),
	}
	switch {
	case err != nil:
		rec.Error = err.Error()
	case res.Err != nil:
		rec.Error = res.Err.Error()
	}
	if rerr := u.recorder.Record(rec); rerr != nil {
		u.log.Warn("failed to record upload", zap.Error(rerr))
	}
}

// writeFull writes all of b, looping on partial writes.
func writeFull(w io.Writer, b []byte) error {
	for pos := 0; pos < len(b); {
		n, err := w.Write(b[pos:])
		if err != nil {
			if model.IsTemporary(err) {
				continue
			}
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		pos += n
	}
	return nil
}
