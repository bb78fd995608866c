// Package device defines the descriptor-level view of the serial line and the local terminal.
// The bridge never goes through Go's runtime poller: every read, write and readiness wait
// works on raw file descriptors so one loop can multiplex them.
package device

import "io"

// Conn is an open serial connection as seen by the bridge and the uploader.
type Conn interface {
	io.ReadWriteCloser

	// Fd returns the descriptor used in readiness waits.
	Fd() uintptr

	// SetBlocking switches the descriptor between blocking and non-blocking mode
	// without reopening it.
	SetBlocking(blocking bool) error

	// Name returns the device path the connection was opened from.
	Name() string
}
