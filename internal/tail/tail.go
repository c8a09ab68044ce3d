// Package tail reads one VRChat log file line by line while it grows and
// feeds it through the parser, the extractors and the session reconstructor.
//
// A Reader moves through Opening → Reading ⇄ WaitingForGrowth → Draining →
// Closed, or Opening → FileMissing when the file never appears. It reads to
// end-of-file before honoring cancellation, so the persisted watermark never
// claims lines that were not processed.
package tail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
	"github.com/graaaaa/vrclog-lifelog/internal/logevent"
	"github.com/graaaaa/vrclog-lifelog/internal/logline"
	"github.com/graaaaa/vrclog-lifelog/internal/metrics"
	"github.com/graaaaa/vrclog-lifelog/internal/recovery"
	"github.com/graaaaa/vrclog-lifelog/internal/session"
	"github.com/graaaaa/vrclog-lifelog/internal/store"
)

// Defaults for the open retry and growth polling.
const (
	DefaultOpenRetries    = 5
	DefaultOpenRetryDelay = 500 * time.Millisecond
	DefaultPollInterval   = time.Second
)

// Store defines the store operations needed by a Reader.
type Store interface {
	session.Store
	recovery.Store
	GetLogFile(ctx context.Context, id int64) (history.LogFile, error)
	SetLastRead(ctx context.Context, id int64, t time.Time) error
	LatestLocation(ctx context.Context, logFileID int64) (*history.Location, error)
	InsertParseFailure(ctx context.Context, rawLine, errorMsg string) (bool, error)
}

// ProducerChecker reports whether the log producer still writes path.
type ProducerChecker interface {
	Writing(ctx context.Context, path string) bool
}

// Reader tails one log file.
type Reader struct {
	path      string
	logFileID int64
	store     Store
	producer  ProducerChecker

	logger         *slog.Logger
	clock          Clock
	location       *time.Location
	follow         bool
	openRetries    int
	openRetryDelay time.Duration
	pollInterval   time.Duration
	onChange       func(history.Change)
	onStateChange  func(State)

	recon    *session.Reconstructor
	state    atomic.Int32
	lastRead time.Time
	partial  strings.Builder
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger for the Reader.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) { r.logger = logger }
}

// WithClock sets the clock used for the watermark (for testing).
func WithClock(clock Clock) Option {
	return func(r *Reader) { r.clock = clock }
}

// WithTimeLocation sets the zone log timestamps are written in.
// The default is time.Local.
func WithTimeLocation(loc *time.Location) Option {
	return func(r *Reader) { r.location = loc }
}

// WithFollow selects tailing (true, the default) or replay mode. In replay
// mode the file is read once to EOF and treated as final.
func WithFollow(follow bool) Option {
	return func(r *Reader) { r.follow = follow }
}

// WithOpenRetry sets how many times, and how often, a missing file is retried.
func WithOpenRetry(attempts int, delay time.Duration) Option {
	return func(r *Reader) {
		if attempts > 0 {
			r.openRetries = attempts
		}
		if delay > 0 {
			r.openRetryDelay = delay
		}
	}
}

// WithPollInterval sets the sleep between end-of-file checks.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithOnChange registers a hook for every persisted history mutation.
func WithOnChange(fn func(history.Change)) Option {
	return func(r *Reader) { r.onChange = fn }
}

// WithOnStateChange registers a hook called on every state transition.
func WithOnStateChange(fn func(State)) Option {
	return func(r *Reader) { r.onStateChange = fn }
}

// New creates a Reader for the file at path, owned by LogFile logFileID.
func New(path string, logFileID int64, st Store, producer ProducerChecker, opts ...Option) *Reader {
	r := &Reader{
		path:           path,
		logFileID:      logFileID,
		store:          st,
		producer:       producer,
		logger:         slog.Default(),
		clock:          DefaultClock,
		location:       time.Local,
		follow:         true,
		openRetries:    DefaultOpenRetries,
		openRetryDelay: DefaultOpenRetryDelay,
		pollInterval:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("file", path, "log_file_id", logFileID)
	r.recon = session.New(st, logFileID,
		session.WithLogger(r.logger),
		session.WithOnChange(r.emit),
	)
	return r
}

// Path returns the file being read.
func (r *Reader) Path() string { return r.path }

// State returns the current lifecycle state.
func (r *Reader) State() State { return State(r.state.Load()) }

// CurrentLocation returns the reader's current location, if any.
func (r *Reader) CurrentLocation() (history.Location, bool) {
	return r.recon.CurrentLocation()
}

// Run reads the file until it is final or ctx is cancelled, then persists
// the watermark. It returns ErrFileMissing if the file never appeared, or
// the fatal error that stopped processing; in that case the watermark is
// left untouched so the next start re-reads the file.
func (r *Reader) Run(ctx context.Context) error {
	r.setState(StateOpening)
	f, err := r.open(ctx)
	if err != nil {
		if errors.Is(err, ErrFileMissing) {
			r.setState(StateFileMissing)
			metrics.FileErrors.WithLabelValues("missing").Inc()
			r.logger.Warn("log file did not appear, skipping")
		} else {
			r.setState(StateClosed)
		}
		return err
	}
	defer f.Close()

	// Store writes must complete even while shutting down.
	work := context.WithoutCancel(ctx)

	if err := r.resume(work, f); err != nil {
		r.setState(StateClosed)
		return err
	}

	br := bufio.NewReader(f)
	for {
		r.setState(StateReading)
		if err := r.readToEOF(work, br); err != nil {
			r.fail(err)
			return err
		}

		if ctx.Err() != nil {
			break
		}
		if r.final(ctx) {
			if err := r.flushPartial(work); err != nil {
				r.fail(err)
				return err
			}
			r.recover(work, f)
			break
		}

		r.setState(StateWaitingForGrowth)
		r.sleep(ctx)
	}

	r.drain(work)
	return nil
}

// open opens the file for shared reading, retrying while it does not exist.
func (r *Reader) open(ctx context.Context) (*os.File, error) {
	for attempt := 1; ; attempt++ {
		f, err := os.Open(r.path)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", r.path, err)
		}
		if attempt >= r.openRetries {
			return nil, fmt.Errorf("%s: %w", r.path, ErrFileMissing)
		}

		r.logger.Debug("log file not found, retrying", "attempt", attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.openRetryDelay):
		}
	}
}

// resume seeks to the end when the watermark shows the file was fully
// consumed before the last shutdown, and restores the session context
// from the latest persisted location.
func (r *Reader) resume(ctx context.Context, f *os.File) error {
	lf, err := r.store.GetLogFile(ctx, r.logFileID)
	if err != nil {
		return fmt.Errorf("load log file: %w", err)
	}
	if lf.LastRead == nil {
		return nil
	}

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", r.path, err)
	}
	if !lf.LastRead.After(fi.ModTime()) {
		return nil
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek %s: %w", r.path, err)
	}

	loc, err := r.store.LatestLocation(ctx, r.logFileID)
	if errors.Is(err, store.ErrNotFound) {
		loc = nil
	} else if err != nil {
		return fmt.Errorf("load latest location: %w", err)
	}
	r.recon.Restore(loc)

	r.logger.Info("resuming at end of file",
		"last_read", lf.LastRead.Format(time.RFC3339),
		"modified", fi.ModTime().Format(time.RFC3339),
	)
	return nil
}

// readToEOF consumes every complete line currently in the file.
// A trailing line without a newline is held back until it is completed.
func (r *Reader) readToEOF(ctx context.Context, br *bufio.Reader) error {
	for {
		r.lastRead = r.clock.Now()

		chunk, err := br.ReadString('\n')
		if chunk != "" {
			if strings.HasSuffix(chunk, "\n") {
				line := chunk
				if r.partial.Len() > 0 {
					r.partial.WriteString(chunk)
					line = r.partial.String()
					r.partial.Reset()
				}
				if perr := r.processLine(ctx, line); perr != nil {
					return perr
				}
			} else {
				r.partial.WriteString(chunk)
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", r.path, err)
		}
	}
}

func (r *Reader) flushPartial(ctx context.Context) error {
	if r.partial.Len() == 0 {
		return nil
	}
	line := r.partial.String()
	r.partial.Reset()
	return r.processLine(ctx, line)
}

func (r *Reader) processLine(ctx context.Context, line string) error {
	metrics.LinesRead.Inc()

	rec, ok, err := logline.Parse(line, r.location)
	if err != nil {
		if _, ierr := r.store.InsertParseFailure(ctx, strings.TrimRight(line, "\r\n"), err.Error()); ierr != nil {
			r.logger.Warn("failed to record parse failure", "error", ierr)
		}
		return err
	}
	if !ok {
		return nil
	}

	ev, ok := logevent.Extract(rec.Payload)
	if !ok {
		return nil
	}
	return r.recon.Apply(ctx, rec, ev)
}

// final reports whether end-of-file is the end of the file for good: no
// producer process holds it open any more.
func (r *Reader) final(ctx context.Context) bool {
	if !r.follow {
		return true
	}
	return !r.producer.Writing(ctx, r.path)
}

// recover runs the recovery pass. Failures are logged and never stop the drain.
func (r *Reader) recover(ctx context.Context, f *os.File) {
	fi, err := f.Stat()
	if err != nil {
		r.logger.Error("recovery skipped: stat failed", "error", err)
		return
	}
	res, err := recovery.Recover(ctx, r.store, r.logFileID, fi.ModTime(),
		recovery.WithLogger(r.logger),
		recovery.WithOnChange(r.emit),
	)
	if err != nil {
		r.logger.Error("recovery failed", "error", err)
		return
	}
	if len(res.Repairs) > 0 {
		r.logger.Info("recovery complete", "locations", res.Locations, "presences", res.Presences)
	}
}

// sleep waits one poll interval. Cancellation just ends the wait early.
func (r *Reader) sleep(ctx context.Context) {
	t := time.NewTimer(r.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// drain persists the watermark and closes the Reader. A held-back partial
// line was not processed, so the watermark is left alone and the next start
// re-reads the file.
func (r *Reader) drain(ctx context.Context) {
	r.setState(StateDraining)
	switch {
	case r.partial.Len() > 0:
		r.logger.Info("unterminated last line, watermark not saved")
	case !r.lastRead.IsZero():
		if err := r.store.SetLastRead(ctx, r.logFileID, r.lastRead); err != nil {
			r.logger.Error("failed to save watermark", "error", err)
		}
	}
	r.setState(StateClosed)
}

// fail closes the Reader after a fatal error without saving the watermark.
func (r *Reader) fail(err error) {
	reason := "other"
	switch {
	case errors.Is(err, logline.ErrFormat):
		reason = "format"
	case errors.Is(err, session.ErrMissingContext):
		reason = "ordering"
	}
	metrics.FileErrors.WithLabelValues(reason).Inc()
	r.logger.Error("stopped reading log file", "reason", reason, "error", err)
	r.setState(StateClosed)
}

func (r *Reader) setState(s State) {
	if State(r.state.Swap(int32(s))) == s && s != StateOpening {
		return
	}
	r.logger.Debug("reader state", "state", s)
	if r.onStateChange != nil {
		r.onStateChange(s)
	}
}

func (r *Reader) emit(c history.Change) {
	if r.onChange != nil {
		r.onChange(c)
	}
}
