// Package model holds the shared types of BootBridge.
//
// Errors are grouped by what the caller should do about them: retry opening the
// device, resume the console after a refused upload, or stop.
package model

import (
	"errors"

	"golang.org/x/sys/unix"
)

var (
	// ErrDeviceAbsent indicates the serial device does not exist yet or is not accessible yet.
	// udev may take a while to create the node or change its ownership.
	ErrDeviceAbsent = errors.New("device not present")
	// ErrNotTerminal indicates the device path is not a tty.
	ErrNotTerminal = errors.New("not a tty")
	// ErrRetriesExhausted is returned by a bounded retry policy.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrPayloadTooLarge rejects a payload at or above the configured maximum.
	ErrPayloadTooLarge = errors.New("payload too big")
	// ErrBadAck indicates the device answered the size with something other than "OK".
	ErrBadAck = errors.New("error after sending size")
	// ErrAckTimeout indicates no acknowledgement arrived within the configured timeout.
	ErrAckTimeout = errors.New("timed out waiting for acknowledgement")
)

// IsRetryable reports whether err means the device should be reopened later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDeviceAbsent)
}

// IsProtocol reports whether err only aborts the current upload.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrPayloadTooLarge) || errors.Is(err, ErrBadAck) || errors.Is(err, ErrAckTimeout)
}

// IsTemporary reports whether a non-blocking read or write should simply be tried again.
func IsTemporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}
