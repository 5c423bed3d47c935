package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-validates the config file (and, when TLS is enabled, the
// certificate/private key files) whenever any of them changes on disk,
// reporting the outcome through onResult. It never swaps the running
// process's configuration: routes, mounts and workers are frozen at
// startup per spec §3/§9, so this is a hot-validate-on-write surface for
// operators, not a live-reload mechanism.
type Watcher struct {
	w *fsnotify.Watcher
}

// WatchFile starts watching path's directory (and, if non-empty,
// extraFiles' directories) for write events, re-running LoadFile on path
// and calling onResult with the outcome. Call Close to stop.
func WatchFile(path string, extraFiles []string, onResult func(cfg Config, err error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dirs := map[string]struct{}{filepath.Dir(path): {}}
	for _, f := range extraFiles {
		if f != "" {
			dirs[filepath.Dir(f)] = struct{}{}
		}
	}
	for d := range dirs {
		if err := fw.Add(d); err != nil {
			_ = fw.Close()
			return nil, err
		}
	}

	watched := map[string]struct{}{path: {}}
	for _, f := range extraFiles {
		if f != "" {
			watched[f] = struct{}{}
		}
	}

	go func() {
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if _, relevant := watched[ev.Name]; !relevant {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := LoadFile(path)
				onResult(cfg, err)
			case _, ok := <-fw.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return &Watcher{w: fw}, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.w.Close()
}
