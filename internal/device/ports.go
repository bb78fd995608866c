// Package device opens and configures the serial line and the local terminal.
// ports.go lists the serial ports present on the host.
package device

import (
	"fmt"

	serial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes one serial port found on the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
}

// String formats the port for listings.
func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	return fmt.Sprintf("%s (USB %s:%s serial=%s)", p.Name, p.VID, p.PID, p.SerialNumber)
}

// ListPorts enumerates serial ports with USB details where available.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	return ports, nil
}

// PortNames returns only the names of the ports present right now.
func PortNames() []string {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil
	}
	return names
}
