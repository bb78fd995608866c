// Package device implements Port, a raw serial connection configured through termios.
// The line mode is described with go.bug.st/serial's Mode so the same settings can be
// shared with its port enumerator.
package device

import (
	"BootBridge/internal/model"
	"errors"
	"fmt"

	"github.com/mattn/go-isatty"
	serial "go.bug.st/serial"
	"golang.org/x/sys/unix"
)

// DefaultBaudRate is the line speed the remote bootloader expects.
const DefaultBaudRate = 115200

// Port implements Conn on top of a raw descriptor.
type Port struct {
	fd     int
	name   string
	closed bool
}

// NewPort wraps an already open descriptor.
func NewPort(fd int, name string) *Port {
	return &Port{fd: fd, name: name}
}

// ModeFromConfig converts the configured line settings to a serial.Mode, filling in 8N1 defaults.
func ModeFromConfig(cfg model.SerialConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = DefaultBaudRate
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	switch cfg.Parity {
	case "", "none", "N", "n":
	case "even", "E", "e":
		mode.Parity = serial.EvenParity
	case "odd", "O", "o":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", cfg.Parity)
	}
	switch cfg.StopBits {
	case 0, 1:
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", cfg.StopBits)
	}
	return mode, nil
}

// Open opens dev read/write, not as controlling terminal and non-blocking,
// then puts the line in raw polling mode.
// A missing or not yet accessible device yields an error wrapping model.ErrDeviceAbsent.
func Open(dev string, mode *serial.Mode) (*Port, error) {
	fd, err := unix.Open(dev, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENODEV) || errors.Is(err, unix.EACCES) {
			return nil, fmt.Errorf("open %s: %w: %w", dev, model.ErrDeviceAbsent, err)
		}
		return nil, fmt.Errorf("open %s: %w", dev, err)
	}
	if !isatty.IsTerminal(uintptr(fd)) {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%s: %w", dev, model.ErrNotTerminal)
	}
	if err := configure(fd, mode); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("configure %s: %w", dev, err)
	}
	return &Port{fd: fd, name: dev}, nil
}

// configure applies mode with no input, output or line processing.
// VMIN and VTIME are zero, so reads poll.
func configure(fd int, mode *serial.Mode) error {
	t, err := getTermios(fd)
	if err != nil {
		return fmt.Errorf("failed to get attributes of device: %w", err)
	}

	t.Cc[unix.VTIME] = 0
	t.Cc[unix.VMIN] = 0

	t.Iflag = 0
	t.Oflag = 0
	t.Lflag = 0
	t.Cflag = unix.CREAD | unix.CLOCAL

	switch mode.DataBits {
	case 5:
		t.Cflag |= unix.CS5
	case 6:
		t.Cflag |= unix.CS6
	case 7:
		t.Cflag |= unix.CS7
	case 8:
		t.Cflag |= unix.CS8
	default:
		return fmt.Errorf("unsupported data bits %d", mode.DataBits)
	}
	switch mode.Parity {
	case serial.NoParity:
	case serial.EvenParity:
		t.Cflag |= unix.PARENB
	case serial.OddParity:
		t.Cflag |= unix.PARENB | unix.PARODD
	default:
		return fmt.Errorf("unsupported parity %d", mode.Parity)
	}
	switch mode.StopBits {
	case serial.OneStopBit:
	case serial.TwoStopBits:
		t.Cflag |= unix.CSTOPB
	default:
		return fmt.Errorf("unsupported stop bits %d", mode.StopBits)
	}

	if err := setSpeed(t, mode.BaudRate); err != nil {
		return fmt.Errorf("failed to set baud-rate: %w", err)
	}
	if err := setTermios(fd, t, true); err != nil {
		return fmt.Errorf("tcsetattr: %w", err)
	}
	return nil
}

// Fd returns the underlying descriptor.
func (p *Port) Fd() uintptr { return uintptr(p.fd) }

// Name returns the device path.
func (p *Port) Name() string { return p.name }

// Read reads directly from the descriptor. A zero count with a nil error means end of stream.
func (p *Port) Read(b []byte) (int, error) {
	if p.closed {
		return 0, errors.New("serial port not open")
	}
	n, err := unix.Read(p.fd, b)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Write writes directly to the descriptor and may accept fewer bytes than given.
func (p *Port) Write(b []byte) (int, error) {
	if p.closed {
		return 0, errors.New("serial port not open")
	}
	n, err := unix.Write(p.fd, b)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SetBlocking toggles O_NONBLOCK on the descriptor.
func (p *Port) SetBlocking(blocking bool) error {
	if err := unix.SetNonblock(p.fd, !blocking); err != nil {
		return fmt.Errorf("fcntl: %w", err)
	}
	return nil
}

// Close closes the descriptor. Closing twice is a no-op.
func (p *Port) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.fd)
}
