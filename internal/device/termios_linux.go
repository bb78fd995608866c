// Package device opens and configures the serial line and the local terminal.
// termios_linux.go maps baud rates and tcsetattr requests for linux.
package device

import (
	"fmt"

	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
}

func getTermios(fd int) (*unix.Termios, error) {
	return unix.IoctlGetTermios(fd, unix.TCGETS)
}

// setTermios applies t immediately, or after draining output and discarding pending input when flush is set.
func setTermios(fd int, t *unix.Termios, flush bool) error {
	req := uint(unix.TCSETS)
	if flush {
		req = unix.TCSETSF
	}
	return unix.IoctlSetTermios(fd, req, t)
}

func setSpeed(t *unix.Termios, baud int) error {
	rate, ok := baudRates[baud]
	if !ok {
		return fmt.Errorf("unsupported baud rate %d", baud)
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= rate
	t.Ispeed = rate
	t.Ospeed = rate
	return nil
}
