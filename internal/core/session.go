// Package core contains the runtime of BootBridge.
// session.go reopens the device whenever it disappears.
package core

import (
	"BootBridge/internal/device"
	"BootBridge/internal/model"
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// Opener opens the serial device at path.
type Opener func(path string) (device.Conn, error)

// Session keeps a Bridge attached to a device that may come and go, for example a
// board that re-enumerates its USB serial port on every reset.
type Session struct {
	path   string
	open   Opener
	bridge *Bridge
	policy model.RetryPolicy
	status io.Writer
	log    *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	ports func() []string
}

// NewSession creates a Session. status receives the user-facing "###" lines.
func NewSession(path string, open Opener, bridge *Bridge, policy model.RetryPolicy, status io.Writer, log *zap.Logger) *Session {
	if policy.Interval <= 0 {
		policy.Interval = time.Second
	}
	if status == nil {
		status = io.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		path:   path,
		open:   open,
		bridge: bridge,
		policy: policy,
		status: status,
		log:    log,
		sleep:  sleepContext,
		ports:  device.PortNames,
	}
}

// Run opens the device, bridges it and reopens it whenever it disappears. It returns nil
// once local input has ended, and an error when the program has to stop.
func (s *Session) Run(ctx context.Context) error {
	attempt := 0
	for {
		conn, err := s.open(s.path)
		if err != nil {
			if !model.IsRetryable(err) {
				return err
			}
			attempt++
			if s.policy.Exhausted(attempt) {
				return fmt.Errorf("%s after %d attempts: %w", s.path, attempt, model.ErrRetriesExhausted)
			}
			fmt.Fprintf(s.status, "\r### Waiting for %s...\r", s.path)
			if attempt == 1 {
				s.log.Debug("device not present", zap.String("device", s.path), zap.Error(err),
					zap.Strings("available", s.ports()))
			}
			if err := s.sleep(ctx, s.policy.Interval); err != nil {
				return err
			}
			continue
		}

		attempt = 0
		fmt.Fprintf(s.status, "### Listening on %s     \n", s.path)
		end, err := s.bridge.Run(ctx, conn)
		if cerr := conn.Close(); cerr != nil {
			s.log.Warn("close device", zap.String("device", s.path), zap.Error(cerr))
		}
		if err != nil {
			return err
		}

		st := s.bridge.Stats()
		s.log.Info("session ended",
			zap.String("device", s.path),
			zap.Stringer("reason", end),
			zap.Int64("from_device", st.FromDevice),
			zap.Int64("to_device", st.ToDevice),
			zap.Int("uploads", st.Uploads),
			zap.Int("aborted", st.Aborted),
		)
		if end == LocalClosed {
			return nil
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
