// Package fswatch turns filesystem changes into event deliveries.
//
// A Source watches paths with fsnotify and triggers one dispatcher event
// per filesystem notification, with args "path" (absolute path) and "op"
// (one of the Op constants). Pair it with a manifest or script
// subscription to react to file changes:
//
//	src, _ := fswatch.New(d, "file.changed")
//	_ = src.RegisterEvent()
//	_ = src.Add("/etc/app")
//	_ = src.Start()
//	defer src.Close()
package fswatch

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/dshills/baton"
)

// Common errors returned by source operations.
var (
	ErrSourceClosed    = errors.New("watch source is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrNotWatching     = errors.New("path is not being watched")
	ErrPathNotExist    = errors.New("path does not exist")
)

// Operation names carried in the "op" arg. A notification combining
// several operations maps to the first match in this order.
const (
	OpCreate = "create"
	OpWrite  = "write"
	OpRemove = "remove"
	OpRename = "rename"
	OpChmod  = "chmod"
)

// Source wraps an fsnotify watcher and feeds its notifications into a
// dispatcher as triggers of a single named event.
type Source struct {
	d     *baton.Dispatcher
	event string
	log   zerolog.Logger

	watcher *fsnotify.Watcher

	mu        sync.Mutex
	paths     map[string]bool
	recursive bool
	started   bool
	closed    bool

	closeCh chan struct{}
	loopWg  sync.WaitGroup

	ignoreHidden bool
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the logger for watch errors and dropped notifications.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Source) {
		s.log = log
	}
}

// WithIgnoreHidden skips dotfiles and dot-directories.
func WithIgnoreHidden() Option {
	return func(s *Source) {
		s.ignoreHidden = true
	}
}

// New creates a Source that triggers event on d for every filesystem
// notification. Call Add to watch paths and Start to begin processing.
func New(d *baton.Dispatcher, event string, opts ...Option) (*Source, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &Source{
		d:       d,
		event:   event,
		log:     zerolog.Nop(),
		watcher: fsw,
		paths:   make(map[string]bool),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Event returns the event name this source triggers.
func (s *Source) Event() string {
	return s.event
}

// RegisterEvent declares the source's event on the dispatcher with
// params "path" and "op". Registration conflicts surface verbatim.
func (s *Source) RegisterEvent() error {
	return s.d.Register(s.event, "path", "op")
}

// Add starts watching a path. Watching a directory covers its immediate
// children.
func (s *Source) Add(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(path)
}

func (s *Source) addLocked(path string) error {
	if s.closed {
		return ErrSourceClosed
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}
	if s.paths[absPath] {
		return ErrAlreadyWatching
	}

	if err := s.watcher.Add(absPath); err != nil {
		return err
	}
	s.paths[absPath] = true
	return nil
}

// AddRecursive watches a directory and all subdirectories. Directories
// created later under the tree are picked up automatically.
func (s *Source) AddRecursive(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.IsDir() {
		return s.Add(absPath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recursive = true

	return filepath.WalkDir(absPath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if s.ignoreHidden && p != absPath && hiddenBase(p) {
			return filepath.SkipDir
		}
		if watchErr := s.addLocked(p); watchErr != nil && watchErr != ErrAlreadyWatching {
			s.log.Warn().Err(watchErr).Str("path", p).Msg("watch failed")
		}
		return nil
	})
}

// Remove stops watching a path.
func (s *Source) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSourceClosed
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if !s.paths[absPath] {
		return ErrNotWatching
	}

	if err := s.watcher.Remove(absPath); err != nil {
		return err
	}
	delete(s.paths, absPath)
	return nil
}

// Paths returns all watched paths.
func (s *Source) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, 0, len(s.paths))
	for p := range s.paths {
		paths = append(paths, p)
	}
	return paths
}

// IsWatching reports whether the path is being watched.
func (s *Source) IsWatching(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths[absPath]
}

// Start begins processing notifications. Calling Start twice is a no-op.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSourceClosed
	}
	if s.started {
		return nil
	}
	s.started = true

	s.loopWg.Add(1)
	go s.processLoop()
	return nil
}

// Close stops the source and releases the watcher. Safe to call more
// than once.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	s.mu.Unlock()

	s.loopWg.Wait()
	return s.watcher.Close()
}

// processLoop converts notifications into triggers until Close. Watcher
// errors are logged, never fatal.
func (s *Source) processLoop() {
	defer s.loopWg.Done()

	for {
		select {
		case <-s.closeCh:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("watch error")
		}
	}
}

// handle maps one notification to a trigger.
func (s *Source) handle(ev fsnotify.Event) {
	op := opString(ev.Op)
	if op == "" {
		return
	}
	if s.ignoreHidden && hiddenBase(ev.Name) {
		return
	}

	s.d.Trigger(s.event, baton.Args{"path": ev.Name, "op": op})
	s.log.Debug().Str("path", ev.Name).Str("op", op).Msg("triggered")

	// New directories under a recursive watch join it.
	if op == OpCreate {
		s.mu.Lock()
		recursive := s.recursive
		s.mu.Unlock()
		if recursive {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				_ = s.Add(ev.Name)
			}
		}
	}
}

// opString maps an fsnotify operation to its arg value.
func opString(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Write):
		return OpWrite
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	case op.Has(fsnotify.Chmod):
		return OpChmod
	}
	return ""
}

// hiddenBase reports whether the path's base name starts with a dot.
func hiddenBase(path string) bool {
	base := filepath.Base(path)
	return len(base) > 0 && base[0] == '.'
}
