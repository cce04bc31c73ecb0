// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher reloads the config file when it changes and hands valid new
// configurations to a callback. Invalid edits are logged and ignored; the
// running configuration stays in effect.
type Watcher struct {
	path     string
	onReload func(*Config)

	watcher *fsnotify.Watcher
	stopped chan struct{}
	once    sync.Once
}

// NewWatcher creates a watcher for path. onReload runs on the watcher
// goroutine for every successfully loaded change.
func NewWatcher(path string, onReload func(*Config)) *Watcher {
	return &Watcher{path: path, onReload: onReload, stopped: make(chan struct{})}
}

// Start begins watching. The parent directory is watched because most
// editors replace files on save rather than writing in place.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return err
	}

	go w.loop()
	return nil
}

// Stop ends the watch.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stopped)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}

func (w *Watcher) loop() {
	base := filepath.Base(w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Give the editor time to finish the write.
			time.Sleep(100 * time.Millisecond)

			cfg, err := Load(w.path)
			if err != nil {
				log.Errorf("Config reload skipped, file is invalid: %v", err)
				continue
			}
			log.Info("Configuration reloaded")
			w.onReload(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("Config watcher error: %v", err)
		case <-w.stopped:
			return
		}
	}
}
