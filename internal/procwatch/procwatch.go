// Package procwatch reports whether the log producer process is running and
// which log files it is still writing.
package procwatch

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/graaaaa/vrclog-lifelog/internal/metrics"
)

// DefaultProcessName is the producer's executable name.
const DefaultProcessName = "VRChat"

// DefaultTTL bounds how often the process table is enumerated.
const DefaultTTL = 2 * time.Second

// errNoOpenFiles means producer processes exist but none of their open
// file tables could be read.
var errNoOpenFiles = errors.New("procwatch: producer open files unavailable")

// Lister returns the names of all running processes.
type Lister func(ctx context.Context) ([]string, error)

// FileLister returns the paths held open by processes called name.
// name is already normalized.
type FileLister func(ctx context.Context, name string) ([]string, error)

// Checker answers "is the producer running" and "is this file still being
// written" with short-lived caches. It is safe for concurrent use.
type Checker struct {
	name   string
	ttl    time.Duration
	list   Lister
	files  FileLister
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	running   bool
	checkedAt time.Time
	open      map[string]struct{}
	openErr   error
	openAt    time.Time
}

// Option configures a Checker.
type Option func(*Checker)

// WithTTL sets the cache lifetime. Zero disables caching.
func WithTTL(ttl time.Duration) Option {
	return func(c *Checker) { c.ttl = ttl }
}

// WithLister replaces process enumeration (for testing).
func WithLister(l Lister) Option {
	return func(c *Checker) { c.list = l }
}

// WithFileLister replaces open file enumeration (for testing).
func WithFileLister(l FileLister) Option {
	return func(c *Checker) { c.files = l }
}

// WithNow sets the time source (for testing).
func WithNow(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// WithLogger sets the logger for the Checker.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) { c.logger = logger }
}

// New creates a Checker for the named process. An empty name means
// DefaultProcessName. A ".exe" suffix and letter case are ignored.
func New(name string, opts ...Option) *Checker {
	if name == "" {
		name = DefaultProcessName
	}
	c := &Checker{
		name:   normalize(name),
		ttl:    DefaultTTL,
		list:   listProcesses,
		files:  listOpenFiles,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Running reports whether a process with the configured name exists.
// If the process table cannot be read the producer is assumed to be
// running, so readers keep waiting instead of repairing live history.
func (c *Checker) Running(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runningLocked(ctx)
}

func (c *Checker) runningLocked(ctx context.Context) bool {
	now := c.now()
	if !c.checkedAt.IsZero() && now.Sub(c.checkedAt) < c.ttl {
		return c.running
	}

	names, err := c.list(ctx)
	if err != nil {
		c.logger.Warn("process enumeration failed, assuming producer is running", "error", err)
		c.running = true
	} else {
		c.running = false
		for _, n := range names {
			if normalize(n) == c.name {
				c.running = true
				break
			}
		}
	}
	c.checkedAt = now

	if c.running {
		metrics.ProducerRunning.Set(1)
	} else {
		metrics.ProducerRunning.Set(0)
	}
	return c.running
}

// Writing reports whether a producer process holds path open. Two producer
// instances can run side by side, so process presence alone does not tell
// whether one particular file is finished. When open files cannot be
// inspected it falls back to Running.
func (c *Checker) Writing(ctx context.Context, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.openAt.IsZero() || now.Sub(c.openAt) >= c.ttl {
		paths, err := c.files(ctx, c.name)
		c.open, c.openErr, c.openAt = make(map[string]struct{}, len(paths)), err, now
		for _, p := range paths {
			c.open[pathKey(p)] = struct{}{}
		}
	}

	if c.openErr != nil {
		c.logger.Debug("open file inspection failed, using process presence", "error", c.openErr)
		return c.runningLocked(ctx)
	}
	_, ok := c.open[pathKey(path)]
	return ok
}

func normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".exe")
}

// pathKey canonicalizes a path for comparison with the producer's handles.
func pathKey(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if real, err := filepath.EvalSymlinks(p); err == nil {
		p = real
	}
	if runtime.GOOS == "windows" {
		p = strings.ToLower(p)
	}
	return filepath.Clean(p)
}

func listProcesses(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		// Processes can exit between listing and lookup.
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func listOpenFiles(ctx context.Context, name string) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	var (
		paths    []string
		matched  bool
		readable bool
		lastErr  error
	)
	for _, p := range procs {
		n, err := p.NameWithContext(ctx)
		if err != nil || normalize(n) != name {
			continue
		}
		matched = true
		files, err := p.OpenFilesWithContext(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		readable = true
		for _, f := range files {
			paths = append(paths, f.Path)
		}
	}
	if matched && !readable {
		return nil, errors.Join(errNoOpenFiles, lastErr)
	}
	return paths, nil
}
