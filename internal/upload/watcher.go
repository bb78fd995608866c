// Package upload implements the payload transfer handshake.
// watcher.go logs payload rebuilds between uploads.
package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reports when the payload file is rebuilt, so the developer knows which
// version the next triple-break will pick up. It never touches the serial line.
type Watcher struct {
	path string
	fw   *fsnotify.Watcher
	log  *zap.Logger
	wg   sync.WaitGroup
	once sync.Once
}

// NewWatcher watches the directory holding path; editors and build tools often replace
// the file instead of writing it in place.
func NewWatcher(path string, log *zap.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, fw: fw, log: log}, nil
}

// Start runs the event loop in the background.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create):
				info, err := os.Stat(w.path)
				if err != nil {
					continue
				}
				w.log.Info("payload updated", zap.String("path", w.path), zap.Int64("size", info.Size()))
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				w.log.Warn("payload removed, uploads will be skipped", zap.String("path", w.path))
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("payload watcher error", zap.Error(err))
		}
	}
}

// Close stops watching and waits for the loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.fw.Close()
		w.wg.Wait()
	})
	return err
}
