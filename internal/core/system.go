// Package core contains the runtime of BootBridge.
// system.go wires the components and owns their start and stop order.
package core

import (
	"BootBridge/internal/device"
	"BootBridge/internal/model"
	"BootBridge/internal/store"
	"BootBridge/internal/upload"
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// System wires the configured components together: the session loop with its bridge and
// uploader, plus the optional monitor, upload history and payload watcher.
type System struct {
	cfg *model.Config
	log *zap.Logger

	Uploader *upload.Uploader
	Bridge   *Bridge
	Session  *Session
	Monitor  *Monitor
	History  *store.History
	Watcher  *upload.Watcher

	started   bool
	startLock sync.Mutex
}

// NewSystem constructs a System for cfg. in and out are the local terminal; status
// receives the "###" lines and upload progress.
func NewSystem(cfg *model.Config, in LocalInput, out, status io.Writer, log *zap.Logger) (*System, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("no device configured")
	}
	mode, err := device.ModeFromConfig(cfg.Serial)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	poller := device.NewSelectPoller()
	s := &System{cfg: cfg, log: log}
	s.Uploader = upload.NewUploader(cfg.Upload, poller, status, log.Named("upload"))
	s.Bridge = NewBridge(in, out, poller, s.Uploader, cfg.Payload, log.Named("bridge"))
	s.Session = NewSession(cfg.Device, func(path string) (device.Conn, error) {
		p, err := device.Open(path, mode)
		if err != nil {
			return nil, err
		}
		return p, nil
	}, s.Bridge, cfg.Retry, status, log.Named("session"))

	if cfg.Monitor.Listen != "" {
		s.Monitor = NewMonitor(cfg.Monitor, log.Named("monitor"))
	}
	return s, nil
}

// SetOpener replaces how the device is opened.
func (s *System) SetOpener(open Opener) {
	s.Session.open = open
}

// StartAll opens the history and starts the monitor and watcher, as configured.
func (s *System) StartAll() error {
	s.startLock.Lock()
	defer s.startLock.Unlock()
	if s.started {
		return nil
	}

	if s.cfg.History.Path != "" {
		h, err := store.OpenHistory(s.cfg.History.Path, s.cfg.History.Limit)
		if err != nil {
			return err
		}
		s.History = h
		s.Uploader.SetRecorder(h)
	}
	if s.Monitor != nil {
		if err := s.Monitor.Start(); err != nil {
			s.stop()
			return err
		}
		s.Bridge.SetMirror(s.Monitor)
	}
	if s.cfg.Upload.Watch && s.cfg.Payload != "" {
		w, err := upload.NewWatcher(s.cfg.Payload, s.log.Named("watcher"))
		if err != nil {
			s.log.Warn("payload watcher disabled", zap.Error(err))
		} else {
			w.Start()
			s.Watcher = w
		}
	}
	s.started = true
	return nil
}

// Run runs the session loop until local input ends or a fatal error occurs.
func (s *System) Run(ctx context.Context) error {
	return s.Session.Run(ctx)
}

// StopAll stops everything StartAll started.
func (s *System) StopAll() {
	s.startLock.Lock()
	defer s.startLock.Unlock()
	if !s.started {
		return
	}
	s.stop()
	s.started = false
}

func (s *System) stop() {
	if s.Watcher != nil {
		if err := s.Watcher.Close(); err != nil {
			s.log.Warn("close watcher", zap.Error(err))
		}
		s.Watcher = nil
	}
	if s.Monitor != nil {
		s.Monitor.Stop()
		s.Bridge.SetMirror(nil)
	}
	if s.History != nil {
		if err := s.History.Close(); err != nil {
			s.log.Warn("close history", zap.Error(err))
		}
		s.Uploader.SetRecorder(nil)
		s.History = nil
	}
}
