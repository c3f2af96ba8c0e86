// SPDX-License-Identifier: MIT
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"spectrogram/internal/log"

	"github.com/fsnotify/fsnotify"
)

// HotConfig wraps Config with hot-reload support. Subscribers are called
// from the watcher goroutine after every successful reload.
type HotConfig struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
	subs []func(*Config)
	done chan struct{}
}

// NewHotConfig loads path once. Watch must be called to follow changes.
func NewHotConfig(path string) (*HotConfig, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &HotConfig{cfg: cfg, path: filepath.Clean(path)}, nil
}

// Get returns the current configuration.
func (hc *HotConfig) Get() *Config {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.cfg
}

// OnReload registers a callback for config changes. Register before Watch.
func (hc *HotConfig) OnReload(fn func(*Config)) {
	hc.mu.Lock()
	hc.subs = append(hc.subs, fn)
	hc.mu.Unlock()
}

func (hc *HotConfig) reload() {
	cfg, err := LoadConfig(hc.path)
	if err != nil {
		log.Errorf("HotConfig: reload of %s failed, keeping previous config: %v", hc.path, err)
		return
	}

	hc.mu.Lock()
	hc.cfg = cfg
	subs := slices.Clone(hc.subs)
	hc.mu.Unlock()

	log.Infof("HotConfig: reloaded %s", hc.path)
	for _, fn := range subs {
		fn(cfg)
	}
}

// Watch follows the config file until ctx is cancelled. The parent directory
// is watched so editors that replace the file are picked up too.
func (hc *HotConfig) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(hc.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", hc.path, err)
	}

	hc.done = make(chan struct{})
	go func() {
		defer close(hc.done)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != hc.path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					hc.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("HotConfig: watcher error: %v", err)
			}
		}
	}()

	return nil
}

// Wait blocks until the watcher goroutine started by Watch has exited.
func (hc *HotConfig) Wait() {
	if hc.done != nil {
		<-hc.done
	}
}
