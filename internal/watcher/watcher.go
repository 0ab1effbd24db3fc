// Package watcher turns filesystem events in library trees into debounced
// directory-scan callbacks.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fetcharr/fetcharr/internal/logging"
	"github.com/fetcharr/fetcharr/internal/repository"
	"github.com/fetcharr/fetcharr/internal/scanner"
)

const (
	debounceWindow  = time.Second
	refreshInterval = 5 * time.Minute
)

// OnDirEvent fires once per settled burst of changes inside one media
// directory.
type OnDirEvent func(libraryID uuid.UUID, dir string)

type Watcher struct {
	libRepo  *repository.LibraryRepository
	callback OnDirEvent
	watcher  *fsnotify.Watcher
	log      zerolog.Logger

	mu       sync.Mutex
	watched  map[string]uuid.UUID // directory → library id
	debounce map[string]*time.Timer
	stop     chan struct{}
}

func New(libRepo *repository.LibraryRepository, cb OnDirEvent) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		libRepo:  libRepo,
		callback: cb,
		watcher:  fw,
		log:      logging.WithComponent("watcher"),
		watched:  make(map[string]uuid.UUID),
		debounce: make(map[string]*time.Timer),
		stop:     make(chan struct{}),
	}, nil
}

// Start begins watching all watch-enabled libraries and keeps the watch list
// reconciled as libraries are added or toggled.
func (w *Watcher) Start() {
	go w.eventLoop()
	w.Refresh()
	go w.refreshLoop()
	w.log.Info().Msg("filesystem watcher started")
}

func (w *Watcher) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.Refresh()
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) Stop() {
	close(w.stop)
	w.watcher.Close()
}

// Refresh reconciles the watch list with the current library table. Called at
// startup and on the periodic reconcile tick.
func (w *Watcher) Refresh() {
	libs, err := w.libRepo.List()
	if err != nil {
		w.log.Error().Err(err).Msg("loading libraries failed")
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	desired := make(map[string]uuid.UUID)
	for _, lib := range libs {
		if lib.IsEnabled && lib.WatchEnabled {
			desired[lib.Path] = lib.ID
		}
	}

	// Drop dirs whose library root is no longer watch-enabled.
	for p, id := range w.watched {
		if rootStillDesired(desired, id) {
			continue
		}
		w.watcher.Remove(p)
		delete(w.watched, p)
	}

	for p, libID := range desired {
		if _, ok := w.watched[p]; ok {
			continue
		}
		if err := w.addRecursive(p, libID); err != nil {
			w.log.Warn().Err(err).Str("path", p).Msg("watch add failed")
		}
	}

	w.log.Info().Int("dirs", len(w.watched)).Msg("watch list refreshed")
}

func rootStillDesired(desired map[string]uuid.UUID, libID uuid.UUID) bool {
	for _, id := range desired {
		if id == libID {
			return true
		}
	}
	return false
}

func (w *Watcher) addRecursive(root string, libID uuid.UUID) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip inaccessible dirs
		}
		if info.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				return nil
			}
			w.watched[path] = libID
		}
		return nil
	})
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") ||
		strings.HasSuffix(base, ".part") {
		return
	}

	isCreate := event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
	isRemove := event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
	if !isCreate && !isRemove {
		return
	}

	// New directories join the watch list and trigger a scan of themselves.
	if isCreate {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			libID := w.resolveLibrary(event.Name)
			if libID != uuid.Nil {
				w.mu.Lock()
				w.watcher.Add(event.Name)
				w.watched[event.Name] = libID
				w.mu.Unlock()
				w.fire(libID, event.Name)
			}
			return
		}
	}

	if scanner.Classify(event.Name) == scanner.ClassUnknown {
		return
	}

	libID := w.resolveLibrary(event.Name)
	if libID == uuid.Nil {
		return
	}
	w.fire(libID, filepath.Dir(event.Name))
}

// fire debounces per directory; a burst of file writes in one media folder
// yields a single scan.
func (w *Watcher) fire(libID uuid.UUID, dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.debounce[dir]; ok {
		timer.Stop()
	}
	w.debounce[dir] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.debounce, dir)
		w.mu.Unlock()
		w.callback(libID, dir)
	})
}

func (w *Watcher) resolveLibrary(path string) uuid.UUID {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(path)
	for dir != "/" && dir != "." {
		if libID, ok := w.watched[dir]; ok {
			return libID
		}
		dir = filepath.Dir(dir)
	}
	return uuid.Nil
}
