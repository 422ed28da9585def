package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 100 * time.Millisecond

// CredentialWatcher calls onChange when another process changes the stored
// license key, instance id or customer id. Decision and UI tier writes are
// ignored.
type CredentialWatcher struct {
	path     string
	state    *State
	onChange func()
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu   sync.Mutex
	last Credentials
}

// NewCredentialWatcher watches the file backing st. The store must implement
// Pather.
func NewCredentialWatcher(st *State, onChange func()) (*CredentialWatcher, error) {
	p, ok := st.Store().(Pather)
	if !ok {
		return nil, fmt.Errorf("store %T is not file backed", st.Store())
	}
	initial, err := st.Credentials()
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Atomic renames replace the file, so the parent directory is watched.
	dir := filepath.Dir(p.Path())
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &CredentialWatcher{
		path:     p.Path(),
		state:    st,
		onChange: onChange,
		watcher:  w,
		debounce: watchDebounce,
		last:     initial,
	}, nil
}

// Run watches until ctx is cancelled and then releases the watcher.
func (cw *CredentialWatcher) Run(ctx context.Context) error {
	defer cw.watcher.Close()

	log.Info().Str("path", cw.path).Msg("Watching stored credentials for changes")

	base := filepath.Base(cw.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if name != base && !strings.HasPrefix(name, base+"-") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cw.debounce):
			}
			cw.check()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Credential watcher error")
		}
	}
}

func (cw *CredentialWatcher) check() {
	current, err := cw.state.Credentials()
	if err != nil {
		log.Debug().Err(err).Msg("Failed to read credentials after store change")
		return
	}
	cw.mu.Lock()
	changed := current != cw.last
	cw.last = current
	cw.mu.Unlock()

	if changed {
		log.Info().Msg("Stored credentials changed, requesting tier refresh")
		if cw.onChange != nil {
			cw.onChange()
		}
	}
}
