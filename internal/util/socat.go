// Package util provides logging setup and test helpers shared across BootBridge.
// socat.go starts a socat pty pair to stand in for a real serial line.
package util

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// SocatManager manages lifecycle of socat-created virtual serial pairs, used to run
// the bridge against a real tty without hardware.
type SocatManager struct {
	mu     sync.Mutex
	cmds   []*exec.Cmd
	links  []string
	closed bool
}

// NewSocatManager initializes an empty manager.
func NewSocatManager() *SocatManager {
	return &SocatManager{}
}

// SocatAvailable reports whether the socat binary is on PATH.
func SocatAvailable() bool {
	_, err := exec.LookPath("socat")
	return err == nil
}

// CreatePair starts a socat process that links two raw PTYs and waits until both
// links exist or timeout passes.
func (m *SocatManager) CreatePair(left, right string, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := exec.Command(
		"socat",
		fmt.Sprintf("pty,raw,echo=0,link=%s", left),
		fmt.Sprintf("pty,raw,echo=0,link=%s", right),
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start socat: %w", err)
	}
	m.cmds = append(m.cmds, cmd)
	m.links = append(m.links, left, right)
	Info("[virt-serial] started socat (pid=%d): %s <-> %s", cmd.Process.Pid, left, right)

	deadline := time.Now().Add(timeout)
	for {
		_, errL := os.Stat(left)
		_, errR := os.Stat(right)
		if errL == nil && errR == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("socat links %s, %s not created within %s", left, right, timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Cleanup stops all socat processes and removes created links.
func (m *SocatManager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true

	for _, cmd := range m.cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
		}
	}
	for _, path := range m.links {
		if _, err := os.Lstat(path); err == nil {
			_ = os.Remove(path)
		}
	}
	Info("[virt-serial] cleanup complete (%d pairs)", len(m.links)/2)
}
