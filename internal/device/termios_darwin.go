// Package device opens and configures the serial line and the local terminal.
// termios_darwin.go uses the BSD ioctls, where the speed is stored as a plain number.
package device

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func getTermios(fd int) (*unix.Termios, error) {
	return unix.IoctlGetTermios(fd, unix.TIOCGETA)
}

func setTermios(fd int, t *unix.Termios, flush bool) error {
	req := uint(unix.TIOCSETA)
	if flush {
		req = unix.TIOCSETAF
	}
	return unix.IoctlSetTermios(fd, req, t)
}

// setSpeed stores the rate as is; the BSD termios takes plain integers.
func setSpeed(t *unix.Termios, baud int) error {
	if baud <= 0 {
		return fmt.Errorf("unsupported baud rate %d", baud)
	}
	t.Ispeed = uint64(baud)
	t.Ospeed = uint64(baud)
	return nil
}
