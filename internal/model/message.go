// Package model defines shared transfer structures for BootBridge.
package model

import "time"

// TransferState tracks one upload call from start to finish.
type TransferState int

const (
	// StateIdle is the state before anything was sent.
	StateIdle TransferState = iota
	// StateSizeSent means the 4-byte size header is on the wire.
	StateSizeSent
	// StateAckAwaited means the uploader is waiting for the device to answer "OK".
	StateAckAwaited
	// StateStreaming means the payload is being written in chunks.
	StateStreaming
	// StateDone means every byte was written.
	StateDone
	// StateSkipped means there was no usable payload, so nothing was sent.
	StateSkipped
	// StateAborted means the upload stopped before the payload was complete.
	StateAborted
)

func (s TransferState) String() string {
	switch s {
	case StateSizeSent:
		return "size-sent"
	case StateAckAwaited:
		return "ack-awaited"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateSkipped:
		return "skipped"
	case StateAborted:
		return "aborted"
	default:
		return "idle"
	}
}

// UploadRecord is one finished upload attempt, as kept by the history store.
type UploadRecord struct {
	Time    time.Time `json:"time" yaml:"time"`
	Device  string    `json:"device" yaml:"device"`
	Payload string    `json:"payload" yaml:"payload"`
	Size    int64     `json:"size" yaml:"size"`
	Sent    int64     `json:"sent" yaml:"sent"`
	State   string    `json:"state" yaml:"state"`
	Error   string    `json:"error,omitempty" yaml:"error,omitempty"`
}
