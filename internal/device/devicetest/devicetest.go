// Package devicetest provides descriptor-backed stand-ins for a serial device,
// for use in tests of the bridge and the uploader.
package devicetest

import (
	"BootBridge/internal/device"
	"encoding/binary"
	"io"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

// SocketPair returns a connected pair: host is a non-blocking device.Port as the bridge
// sees it, peer is the far end playing the device, in blocking mode.
func SocketPair(tb testing.TB) (*device.Port, *os.File) {
	tb.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		tb.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		tb.Fatalf("set nonblock: %v", err)
	}
	host := device.NewPort(fds[0], "socketpair")
	peer := os.NewFile(uintptr(fds[1]), "peer")
	tb.Cleanup(func() {
		_ = host.Close()
		_ = peer.Close()
	})
	return host, peer
}

// IsNonBlocking reports whether O_NONBLOCK is set on fd.
func IsNonBlocking(tb testing.TB, fd uintptr) bool {
	tb.Helper()
	flags, err := unix.FcntlInt(fd, unix.F_GETFL, 0)
	if err != nil {
		tb.Fatalf("fcntl: %v", err)
	}
	return flags&unix.O_NONBLOCK != 0
}

// Transfer is what a Bootloader saw on the wire.
type Transfer struct {
	Size    uint32
	Payload []byte
	Extra   []byte // anything after the payload, until the host closed
	Err     error
}

// Bootloader answers one handshake on peer: it reads the size, writes reply and, when reply
// is "OK", reads the payload. It then drains peer until end of stream and reports.
// With an empty reply it never answers and only drains.
func Bootloader(peer io.ReadWriter, reply string) <-chan Transfer {
	done := make(chan Transfer, 1)
	go func() {
		var tr Transfer
		var hdr [4]byte
		if _, err := io.ReadFull(peer, hdr[:]); err != nil {
			tr.Err = err
			done <- tr
			return
		}
		tr.Size = binary.LittleEndian.Uint32(hdr[:])
		if reply != "" {
			if _, err := peer.Write([]byte(reply)); err != nil {
				tr.Err = err
				done <- tr
				return
			}
		}
		if reply == "OK" {
			tr.Payload = make([]byte, tr.Size)
			if _, err := io.ReadFull(peer, tr.Payload); err != nil {
				tr.Err = err
				done <- tr
				return
			}
		}
		tr.Extra, _ = io.ReadAll(peer)
		done <- tr
	}()
	return done
}

// Drain collects everything written to peer until end of stream.
func Drain(peer io.Reader) <-chan []byte {
	done := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(peer)
		done <- b
	}()
	return done
}
