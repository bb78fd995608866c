// Package parser scans the byte stream coming from the device for the triple-break signal.
//
// Device output is plain text. Three consecutive 0x03 bytes mean the bootloader is
// waiting for a payload:
//
//	... text ... 0x03 0x03 0x03 ... text ...
//
// Fewer than three are passed through as ordinary data once the next text byte arrives.
package parser

import (
	"bytes"
	"iter"
)

// Break is the control byte used as the in-band trigger.
const Break byte = 0x03

// breaksPerTrigger is the run length that fires a Trigger.
const breaksPerTrigger = 3

var pendingBreaks = [breaksPerTrigger]byte{Break, Break, Break}

// EventKind distinguishes forwarded data from a detected triple-break.
type EventKind int

const (
	// Literal carries bytes for local output.
	Literal EventKind = iota
	// Trigger means three consecutive breaks were seen.
	Trigger
)

func (k EventKind) String() string {
	if k == Trigger {
		return "trigger"
	}
	return "literal"
}

// Event is one step of a scan. Data is set for Literal events only and
// aliases either the scanned chunk or a shared constant; copy it to keep it.
type Event struct {
	Kind EventKind
	Data []byte
}

// BreakDetector counts consecutive breaks across chunks.
// The zero value is ready to use.
type BreakDetector struct {
	pending int
}

// NewBreakDetector returns a detector with no pending breaks.
func NewBreakDetector() *BreakDetector {
	return &BreakDetector{}
}

// Pending returns how many breaks were seen since the last text byte or trigger.
func (d *BreakDetector) Pending() int {
	return d.pending
}

// Reset drops pending breaks without emitting them.
func (d *BreakDetector) Reset() {
	d.pending = 0
}

// Scan returns the events found in chunk, in order. The sequence is lazy: the counter
// advances only as far as the caller consumes it.
// Pending breaks at the end of chunk are carried to the next call, never flushed here.
func (d *BreakDetector) Scan(chunk []byte) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for p := 0; p < len(chunk); {
			if chunk[p] == Break {
				p++
				d.pending++
				if d.pending == breaksPerTrigger {
					d.pending = 0
					if !yield(Event{Kind: Trigger}) {
						return
					}
				}
				continue
			}

			q := bytes.IndexByte(chunk[p:], Break)
			if q < 0 {
				q = len(chunk)
			} else {
				q += p
			}
			if d.pending > 0 {
				n := d.pending
				d.pending = 0
				if !yield(Event{Kind: Literal, Data: pendingBreaks[:n]}) {
					return
				}
			}
			if !yield(Event{Kind: Literal, Data: chunk[p:q]}) {
				return
			}
			p = q
		}
	}
}

// Collect runs Scan to completion and returns the events as a slice.
func (d *BreakDetector) Collect(chunk []byte) []Event {
	var events []Event
	for ev := range d.Scan(chunk) {
		events = append(events, ev)
	}
	return events
}
