// Package core contains the runtime of BootBridge: the console bridge loop, the session
// loop that reopens the device, the optional output monitor, and the System that wires them.
package core

import (
	"BootBridge/internal/device"
	"BootBridge/internal/model"
	"BootBridge/internal/parser"
	"BootBridge/internal/upload"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// SessionEnd tells the session loop why the bridge returned.
type SessionEnd int

const (
	// DeviceClosed means the device went away; it should be reopened.
	DeviceClosed SessionEnd = iota
	// LocalClosed means local input ended and everything typed was delivered.
	LocalClosed
)

func (e SessionEnd) String() string {
	if e == LocalClosed {
		return "local input closed"
	}
	return "device closed"
}

// LocalInput is the local terminal side, readable and selectable.
type LocalInput interface {
	io.Reader
	Fd() uintptr
}

// Sender runs one payload upload over the connection.
type Sender interface {
	Send(conn device.Conn, path string) (upload.Result, error)
}

// Mirror receives a copy of everything shown on local output.
type Mirror interface {
	Publish(data []byte)
}

// Stats counts traffic for one session.
type Stats struct {
	FromDevice int64
	ToDevice   int64
	Triggers   int
	Uploads    int
	Aborted    int
}

// Bridge relays bytes between the local terminal and the device, and hands the line to
// the Sender when the device asks for a payload. It runs on a single goroutine.
type Bridge struct {
	in       LocalInput
	out      io.Writer
	poller   device.Poller
	detector *parser.BreakDetector
	sender   Sender
	payload  string
	bufSize  int
	mirror   Mirror
	log      *zap.Logger

	inDone bool
	stats  Stats
}

// NewBridge constructs a Bridge. payload may be empty, in which case triggers upload nothing.
func NewBridge(in LocalInput, out io.Writer, poller device.Poller, sender Sender, payload string, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{
		in:       in,
		out:      out,
		poller:   poller,
		detector: parser.NewBreakDetector(),
		sender:   sender,
		payload:  payload,
		bufSize:  BufferSize,
		log:      log,
	}
}

// SetMirror attaches a copy of local output; nil detaches.
func (b *Bridge) SetMirror(m Mirror) {
	b.mirror = m
}

// InputClosed reports whether local input has reached end of stream.
func (b *Bridge) InputClosed() bool {
	return b.inDone
}

// Stats returns the counters of the last Run.
func (b *Bridge) Stats() Stats {
	return b.stats
}

// Run bridges conn until the device closes, or until local input ends and every
// buffered byte has been written. Any returned error is fatal.
func (b *Bridge) Run(ctx context.Context, conn device.Conn) (SessionEnd, error) {
	buf := NewTransferBuffer(b.bufSize)
	chunk := make([]byte, b.bufSize)
	b.stats = Stats{}

	for !b.inDone || !buf.Empty() {
		if err := ctx.Err(); err != nil {
			return LocalClosed, err
		}

		interests := []device.Interest{
			{Fd: b.in.Fd(), Read: !b.inDone && buf.HasRoom()},
			{Fd: conn.Fd(), Read: true, Write: !buf.Empty()},
		}
		ready, err := b.poller.Wait(interests, device.Forever)
		if err != nil {
			return DeviceClosed, err
		}
		local, dev := ready[0], ready[1]
		if local.Err {
			return DeviceClosed, errors.New("error on STDIN")
		}
		if dev.Err {
			return DeviceClosed, errors.New("error on device")
		}

		// device is ready to receive more data, send more
		if dev.Write && !buf.Empty() {
			n, err := conn.Write(buf.Pending())
			if err != nil && !model.IsTemporary(err) {
				return DeviceClosed, fmt.Errorf("write %s: %w", conn.Name(), err)
			}
			if n > 0 {
				buf.Consumed(n)
				b.stats.ToDevice += int64(n)
			}
		}

		// input from the user, queue for the device
		if local.Read {
			n, err := b.in.Read(buf.Tail())
			switch {
			case errors.Is(err, io.EOF) || (err == nil && n == 0):
				b.inDone = true
				b.log.Debug("local input closed", zap.Int("pending", buf.Len()))
			case err != nil && !model.IsTemporary(err):
				return DeviceClosed, fmt.Errorf("read stdin: %w", err)
			}
			buf.Filled(n)
		}

		// output from the device, scan for the triple-break
		if dev.Read {
			n, err := conn.Read(chunk)
			if err != nil {
				if model.IsTemporary(err) {
					continue
				}
				return DeviceClosed, fmt.Errorf("read %s: %w", conn.Name(), err)
			}
			if n == 0 {
				if dropped := buf.Len(); dropped > 0 {
					b.log.Warn("device closed with unsent input", zap.Int("bytes", dropped))
				}
				if b.inDone {
					return LocalClosed, nil
				}
				return DeviceClosed, nil
			}
			b.stats.FromDevice += int64(n)
			if err := b.dispatch(conn, buf, chunk[:n]); err != nil {
				return DeviceClosed, err
			}
		}
	}
	return LocalClosed, nil
}

// dispatch forwards literal text and runs an upload for every trigger in data.
func (b *Bridge) dispatch(conn device.Conn, buf *TransferBuffer, data []byte) error {
	for ev := range b.detector.Scan(data) {
		switch ev.Kind {
		case parser.Literal:
			if _, err := b.out.Write(ev.Data); err != nil {
				return fmt.Errorf("write stdout: %w", err)
			}
			if b.mirror != nil {
				b.mirror.Publish(ev.Data)
			}
		case parser.Trigger:
			b.stats.Triggers++
			if n := buf.Discard(); n > 0 {
				b.log.Info("discarding input after triple break", zap.Int("bytes", n))
			}
			if b.payload == "" {
				continue
			}
			res, err := b.sender.Send(conn, b.payload)
			if err != nil {
				return fmt.Errorf("upload %s: %w", b.payload, err)
			}
			switch {
			case res.State == model.StateDone:
				b.stats.Uploads++
			case res.State == model.StateAborted:
				b.stats.Aborted++
				b.log.Warn("upload aborted, console resumes",
					zap.Error(res.Err), zap.Bool("refused", model.IsProtocol(res.Err)))
			}
		}
	}
	return nil
}
