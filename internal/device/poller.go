// Package device opens and configures the serial line and the local terminal.
// poller.go waits for readiness on several descriptors with select(2).
package device

import (
	"BootBridge/internal/model"
	"fmt"
	"time"

	"github.com/creack/goselect"
)

// Forever disables the timeout of a readiness wait.
const Forever time.Duration = -1

// maxSelectFd is the select(2) descriptor limit.
const maxSelectFd = 1024

// Interest names a descriptor and the conditions to wait for.
// Error conditions are always watched.
type Interest struct {
	Fd    uintptr
	Read  bool
	Write bool
}

// Readiness reports what happened to the matching Interest.
type Readiness struct {
	Read  bool
	Write bool
	Err   bool
}

// Any reports whether the descriptor woke up for any reason.
func (r Readiness) Any() bool { return r.Read || r.Write || r.Err }

// Poller waits until one of a small set of descriptors is ready.
type Poller interface {
	// Wait blocks until an interest is ready or timeout passes (Forever never passes).
	// On timeout every Readiness is zero.
	Wait(interests []Interest, timeout time.Duration) ([]Readiness, error)
}

// SelectPoller implements Poller with select(2) through creack/goselect.
type SelectPoller struct{}

// NewSelectPoller returns the default Poller.
func NewSelectPoller() *SelectPoller {
	return &SelectPoller{}
}

// Wait implements Poller. Interrupted waits are restarted.
func (p *SelectPoller) Wait(interests []Interest, timeout time.Duration) ([]Readiness, error) {
	var maxFd uintptr
	for _, in := range interests {
		if in.Fd >= maxSelectFd {
			return nil, fmt.Errorf("select: descriptor %d out of range", in.Fd)
		}
		if in.Fd > maxFd {
			maxFd = in.Fd
		}
	}

	var rfds, wfds, efds goselect.FDSet
	for {
		rfds.Zero()
		wfds.Zero()
		efds.Zero()
		for _, in := range interests {
			if in.Read {
				rfds.Set(in.Fd)
			}
			if in.Write {
				wfds.Set(in.Fd)
			}
			efds.Set(in.Fd)
		}
		err := goselect.Select(int(maxFd)+1, &rfds, &wfds, &efds, timeout)
		if err == nil {
			break
		}
		if model.IsTemporary(err) {
			continue
		}
		return nil, fmt.Errorf("select: %w", err)
	}

	ready := make([]Readiness, len(interests))
	for i, in := range interests {
		ready[i] = Readiness{
			Read:  in.Read && rfds.IsSet(in.Fd),
			Write: in.Write && wfds.IsSet(in.Fd),
			Err:   efds.IsSet(in.Fd),
		}
	}
	return ready, nil
}
