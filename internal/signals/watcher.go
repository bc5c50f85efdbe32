// Package signals delivers out-of-band cancellation requests to a running
// agent tree. A request is a file named cancel-<sessionID> in the
// repository's .keen/signals directory; its content is the reason.
package signals

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const cancelPrefix = "cancel-"

// DefaultPollInterval is used when fsnotify is unavailable.
const DefaultPollInterval = 500 * time.Millisecond

// Signal asks for one session (and its running descendants) to be cancelled.
type Signal struct {
	SessionID string
	Reason    string
	At        time.Time
}

// Dir returns the signals directory for repoPath.
func Dir(repoPath string) string {
	return filepath.Join(repoPath, ".keen", "signals")
}

// RequestCancel writes a cancellation request for sessionID.
func RequestCancel(repoPath, sessionID, reason string) error {
	if err := validSessionID(sessionID); err != nil {
		return err
	}
	dir := Dir(repoPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signals directory: %w", err)
	}

	// Write then rename so a watcher never reads a partial reason.
	tmp, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create signal: %w", err)
	}
	if _, err := tmp.WriteString(reason); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write signal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write signal: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, cancelPrefix+sessionID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish signal: %w", err)
	}
	return nil
}

func validSessionID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval sets the polling fallback interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// withoutFSNotify forces the polling fallback.
func withoutFSNotify() Option {
	return func(w *Watcher) {
		w.noFS = true
	}
}

// Watcher watches a repository's signals directory.
type Watcher struct {
	dir    string
	poll   time.Duration
	logger *zap.Logger
	noFS   bool

	fs      *fsnotify.Watcher
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	closeMu sync.Once
}

// NewWatcher starts watching repoPath's signals directory, creating it if
// needed. It falls back to polling when fsnotify cannot be used.
func NewWatcher(repoPath string, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		dir:    Dir(repoPath),
		poll:   DefaultPollInterval,
		logger: zap.NewNop(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals directory: %w", err)
	}

	if !w.noFS {
		fs, err := fsnotify.NewWatcher()
		if err != nil {
			w.logger.Warn("fsnotify unavailable, polling signals", zap.Error(err))
		} else if err := fs.Add(w.dir); err != nil {
			fs.Close()
			w.logger.Warn("cannot watch signals directory, polling", zap.String("dir", w.dir), zap.Error(err))
		} else {
			w.fs = fs
		}
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Polling reports whether the watcher fell back to polling.
func (w *Watcher) Polling() bool {
	return w.fs == nil
}

func (w *Watcher) run() {
	defer w.wg.Done()

	var events <-chan fsnotify.Event
	var errs <-chan error
	var tick <-chan time.Time
	if w.fs != nil {
		events = w.fs.Events
		errs = w.fs.Errors
	} else {
		ticker := time.NewTicker(w.poll)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if strings.HasPrefix(filepath.Base(event.Name), cancelPrefix) &&
				(event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
				w.notify()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("signals watcher error", zap.Error(err))
		case <-tick:
			if w.pending() {
				w.notify()
			}
		}
	}
}

func (w *Watcher) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// pending reports whether any cancellation file is present.
func (w *Watcher) pending() bool {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), cancelPrefix) {
			return true
		}
	}
	return false
}

// Wait blocks until a cancellation request is present, d elapses, or ctx
// is done. It reports whether a request is present.
func (w *Watcher) Wait(ctx context.Context, d time.Duration) bool {
	if w.pending() {
		return true
	}
	if d <= 0 {
		return false
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-w.wake:
			if w.pending() {
				return true
			}
		case <-timer.C:
			return w.pending()
		case <-ctx.Done():
			return w.pending()
		case <-w.done:
			return w.pending()
		}
	}
}

// Drain returns and removes every pending cancellation request, oldest first.
func (w *Watcher) Drain() []Signal {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("read signals directory", zap.String("dir", w.dir), zap.Error(err))
		return nil
	}

	var out []Signal
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, cancelPrefix) {
			continue
		}
		path := filepath.Join(w.dir, name)
		info, err := e.Info()
		if err != nil {
			continue
		}
		reason, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			w.logger.Warn("remove signal file", zap.String("path", path), zap.Error(err))
			continue
		}
		out = append(out, Signal{
			SessionID: strings.TrimPrefix(name, cancelPrefix),
			Reason:    strings.TrimSpace(string(reason)),
			At:        info.ModTime(),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeMu.Do(func() {
		close(w.done)
		if w.fs != nil {
			err = w.fs.Close()
		}
		w.wg.Wait()
	})
	return err
}
