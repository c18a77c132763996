package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"merlodigital/site/logging"
)

// IgnoreList is the operator's list of client addresses whose clicks are not
// tracked. Entries are single addresses or CIDR blocks.
type IgnoreList struct {
	IgnoredIPs []string `yaml:"ignored_ips"`
}

// IgnoreListWatcher reads an ignore-list YAML file and reloads it on change.
type IgnoreListWatcher struct {
	path     string
	mu       sync.Mutex
	onChange []func([]string)
}

// NewIgnoreListWatcher returns a watcher for path. It does not read the file.
func NewIgnoreListWatcher(path string) *IgnoreListWatcher {
	return &IgnoreListWatcher{path: path}
}

// Load reads and parses the file.
func (w *IgnoreListWatcher) Load() ([]string, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("read ignore list %s: %w", w.path, err)
	}
	var list IgnoreList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse ignore list %s: %w", w.path, err)
	}
	return list.IgnoredIPs, nil
}

// OnChange registers a callback invoked with the new entries after each reload.
func (w *IgnoreListWatcher) OnChange(fn func([]string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Watch starts reloading the file whenever it is written or recreated. Call
// the returned stop function to release the watcher.
func (w *IgnoreListWatcher) Watch() (stop func(), err error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ignore list watcher: %w", err)
	}
	if err := fw.Add(w.path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("ignore list watcher add %s: %w", w.path, err)
	}

	log := logging.WithComponent("config")
	done := make(chan struct{})
	go func() {
		defer fw.Close()
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				ips, err := w.Load()
				if err != nil {
					log.Warn().Err(err).Msg("ignore list reload failed, keeping previous entries")
					continue
				}
				w.notify(ips)
				log.Info().Int("entries", len(ips)).Msg("ignore list reloaded")
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("ignore list watcher error")
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

func (w *IgnoreListWatcher) notify(ips []string) {
	w.mu.Lock()
	callbacks := make([]func([]string), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()
	for _, fn := range callbacks {
		fn(ips)
	}
}
