// Package watch coordinates one tail Reader per log file in the producer's
// log directory: it replays existing files at startup and starts a new
// Reader whenever the producer creates a new log file.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
	"github.com/graaaaa/vrclog-lifelog/internal/metrics"
	"github.com/graaaaa/vrclog-lifelog/internal/tail"
)

// ErrWatcherClosed is returned when the filesystem watcher stops unexpectedly.
var ErrWatcherClosed = errors.New("watch: filesystem watcher closed")

// Store defines the store operations needed by the Coordinator.
type Store interface {
	tail.Store
	EnsureLogFile(ctx context.Context, created time.Time) (history.LogFile, error)
}

// Coordinator owns the set of active Readers for a log directory.
type Coordinator struct {
	dir        string
	store      Store
	producer   tail.ProducerChecker
	logger     *slog.Logger
	readerOpts []tail.Option
	onChange   func(history.Change)
	onCount    func(int)
	now        func() time.Time

	mu      sync.Mutex
	readers map[string]*tail.Reader
	wg      sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger for the Coordinator and its Readers.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithReaderOptions adds options applied to every Reader.
func WithReaderOptions(opts ...tail.Option) Option {
	return func(c *Coordinator) { c.readerOpts = append(c.readerOpts, opts...) }
}

// WithOnChange registers a hook for history mutations and reader count updates.
func WithOnChange(fn func(history.Change)) Option {
	return func(c *Coordinator) { c.onChange = fn }
}

// WithOnCountChange registers a hook called with the active Reader count.
func WithOnCountChange(fn func(int)) Option {
	return func(c *Coordinator) { c.onCount = fn }
}

// New creates a Coordinator for dir.
func New(dir string, st Store, producer tail.ProducerChecker, opts ...Option) *Coordinator {
	c := &Coordinator{
		dir:      dir,
		store:    st,
		producer: producer,
		logger:   slog.Default(),
		now:      time.Now,
		readers:  make(map[string]*tail.Reader),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Count returns the number of active Readers.
func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.readers)
}

// Run watches the directory until ctx is cancelled, then waits for every
// Reader to drain.
func (c *Coordinator) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Watch before listing so files created during startup are not missed.
	if err := w.Add(c.dir); err != nil {
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}

	files, err := Discover(c.dir)
	if err != nil {
		return err
	}
	c.startExisting(ctx, files)

	c.logger.Info("watching log directory", "dir", c.dir, "files", len(files))

	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			c.logger.Info("log directory watch stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				c.wg.Wait()
				return ErrWatcherClosed
			}
			if ev.Has(fsnotify.Create) && IsLogFileName(filepath.Base(ev.Name)) {
				c.handleCreate(ctx, ev.Name)
			}

		case werr, ok := <-w.Errors:
			if !ok {
				c.wg.Wait()
				return ErrWatcherClosed
			}
			c.logger.Warn("watcher error", "error", werr)
		}
	}
}

// Wait blocks until every Reader started by Run has drained. Call it after
// the Run context is cancelled, before closing the store.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Serve implements suture.Service.
func (c *Coordinator) Serve(ctx context.Context) error {
	if err := c.Run(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logs.
func (c *Coordinator) String() string {
	return "log-coordinator"
}

// startExisting replays every file but the newest in order, then tails the
// newest. A newest file no producer holds open finishes at EOF like a
// replay.
func (c *Coordinator) startExisting(ctx context.Context, files []LogFile) {
	if len(files) == 0 {
		c.logger.Info("no log file found", "dir", c.dir)
		return
	}

	older, newest := files[:len(files)-1], files[len(files)-1]
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for _, f := range older {
			if ctx.Err() != nil {
				return
			}
			c.runReader(ctx, f, false)
		}
		if ctx.Err() == nil {
			c.runReader(ctx, newest, true)
		}
	}()
}

func (c *Coordinator) handleCreate(ctx context.Context, path string) {
	f, err := statLogFile(path)
	if err != nil {
		// The Reader retries opening; creation time falls back to now.
		f = LogFile{Path: path, Created: c.now()}
	}
	c.logger.Info("new log file created", "file", path)

	// Earlier readers keep running: each stops once no producer holds its
	// file, which also covers a second client writing alongside.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runReader(ctx, f, true)
	}()
}

// runReader runs one Reader to completion. Its failures are logged and
// never stop the Coordinator.
func (c *Coordinator) runReader(ctx context.Context, f LogFile, follow bool) {
	lf, err := c.store.EnsureLogFile(ctx, f.Created)
	if err != nil {
		c.logger.Error("failed to register log file", "file", f.Path, "error", err)
		return
	}

	opts := make([]tail.Option, 0, len(c.readerOpts)+3)
	opts = append(opts, tail.WithLogger(c.logger))
	opts = append(opts, c.readerOpts...)
	opts = append(opts, tail.WithFollow(follow), tail.WithOnChange(c.onChange))
	r := tail.New(f.Path, lf.ID, c.store, c.producer, opts...)

	if !c.register(r) {
		c.logger.Debug("log file already being read", "file", f.Path)
		return
	}
	defer c.unregister(r)

	if err := r.Run(ctx); err != nil {
		if errors.Is(err, tail.ErrFileMissing) {
			c.logger.Warn("skipping missing log file", "file", f.Path)
			return
		}
		c.logger.Error("log file reader stopped", "file", f.Path, "error", err)
	}
}

func (c *Coordinator) register(r *tail.Reader) bool {
	c.mu.Lock()
	if _, ok := c.readers[r.Path()]; ok {
		c.mu.Unlock()
		return false
	}
	c.readers[r.Path()] = r
	n := len(c.readers)
	c.mu.Unlock()

	c.countChanged(n)
	return true
}

func (c *Coordinator) unregister(r *tail.Reader) {
	c.mu.Lock()
	delete(c.readers, r.Path())
	n := len(c.readers)
	c.mu.Unlock()

	c.countChanged(n)
}

func (c *Coordinator) countChanged(n int) {
	metrics.ActiveReaders.Set(float64(n))
	if c.onCount != nil {
		c.onCount(n)
	}
	if c.onChange != nil {
		c.onChange(history.Change{Type: history.ChangeWatchingCount, Ts: c.now().UTC(), Count: &n})
	}
}
