// Package device opens and configures the serial line and the local terminal.
package device

import (
	"fmt"
	"sync"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
)

// TerminalGuard holds the local terminal in non-canonical, no-echo mode until Release.
type TerminalGuard struct {
	fd    int
	saved *unix.Termios
	once  sync.Once
	err   error
}

// AcquireRawMode captures the current mode of fd and disables line buffering and echo.
// When fd is not a terminal the returned guard does nothing.
func AcquireRawMode(fd int) (*TerminalGuard, error) {
	g := &TerminalGuard{fd: fd}
	if !isatty.IsTerminal(uintptr(fd)) {
		return g, nil
	}

	saved, err := getTermios(fd)
	if err != nil {
		return nil, fmt.Errorf("tcgetattr: %w", err)
	}
	raw := *saved
	raw.Lflag &^= unix.ICANON | unix.ECHO
	if err := setTermios(fd, &raw, false); err != nil {
		return nil, fmt.Errorf("tcsetattr: %w", err)
	}
	g.saved = saved
	return g, nil
}

// Active reports whether the guard changed the terminal mode.
func (g *TerminalGuard) Active() bool {
	return g != nil && g.saved != nil
}

// Release restores the captured mode. It is safe to call from several exit paths.
func (g *TerminalGuard) Release() error {
	if g == nil {
		return nil
	}
	g.once.Do(func() {
		if g.saved == nil {
			return
		}
		if err := setTermios(g.fd, g.saved, false); err != nil {
			g.err = fmt.Errorf("restore terminal: %w", err)
		}
	})
	return g.err
}
