package tail

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
	"github.com/graaaaa/vrclog-lifelog/internal/logline"
	"github.com/graaaaa/vrclog-lifelog/internal/session"
	"github.com/graaaaa/vrclog-lifelog/internal/store"
)

const (
	world = "wrld_4432ea9b-729c-46e3-8eaf-846aa0a37fdd"
	me    = "usr_01234567-abcd-1234-56de-0123456789ef"
)

var sessionLines = []string{
	"2024.01.15 10:00:00 Debug      -  [Behaviour] Joining " + world + ":12345~region(jp)",
	"   continuation of a multi-line entry",
	"2024.01.15 10:00:00 Debug      -  [Behaviour] Joining or Creating Room: Gallery",
	"2024.01.15 10:00:00 Debug      -  [Behaviour] OnPlayerJoined LocalUser (" + me + ")",
	`2024.01.15 10:00:00 Debug      -  [Behaviour] Initialized PlayerAPI "LocalUser" is local`,
	"2024.01.15 10:10:00 Log        -  [Network] unrelated line",
	"2024.01.15 11:00:00 Debug      -  [Behaviour] OnPlayerLeft LocalUser (" + me + ")",
}

func TestReader_ReplayToEOF(t *testing.T) {
	st, lf := openTestStore(t)
	path := writeLog(t, sessionLines)
	clock := fixedClock{time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}

	var states []State
	r := New(path, lf.ID, st, &fakeProducer{},
		WithFollow(false),
		WithClock(clock),
		WithTimeLocation(time.UTC),
		WithOnStateChange(func(s State) { states = append(states, s) }),
	)
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.State() != StateClosed {
		t.Errorf("state = %v, want closed", r.State())
	}
	if states[len(states)-2] != StateDraining || states[len(states)-1] != StateClosed {
		t.Errorf("states = %v, want ... draining, closed", states)
	}

	ctx := context.Background()
	locs, _ := st.LocationsByLogFile(ctx, lf.ID)
	if len(locs) != 1 || locs[0].WorldName != "Gallery" || locs[0].Open() {
		t.Fatalf("locations = %+v", locs)
	}
	ps, _ := st.PresencesByLocation(ctx, locs[0].ID)
	if len(ps) != 1 || !ps[0].IsLocal || ps[0].Open() {
		t.Errorf("presences = %+v", ps)
	}

	got, _ := st.GetLogFile(ctx, lf.ID)
	if got.LastRead == nil || !got.LastRead.Equal(clock.t) {
		t.Errorf("watermark = %v, want %v", got.LastRead, clock.t)
	}
}

func TestReader_ResumeSeeksToEnd(t *testing.T) {
	st, lf := openTestStore(t)
	path := writeLog(t, sessionLines[:4])
	ctx := context.Background()

	// Watermark far in the future: the file is older than the last read.
	clock := fixedClock{time.Now().Add(24 * time.Hour)}
	first := New(path, lf.ID, st, &fakeProducer{}, WithFollow(false), WithClock(clock), WithTimeLocation(time.UTC))
	if err := first.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	cs := &countingStore{Store: st}
	second := New(path, lf.ID, cs, &fakeProducer{}, WithFollow(false), WithClock(clock), WithTimeLocation(time.UTC))
	if err := second.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n := cs.ensures.Load(); n != 0 {
		t.Errorf("resumed reader re-processed %d events, want 0", n)
	}

	cur, ok := second.CurrentLocation()
	if !ok || cur.WorldName != "Gallery" {
		t.Errorf("restored location = %+v ok=%v", cur, ok)
	}

	locs, _ := st.LocationsByLogFile(ctx, lf.ID)
	if len(locs) != 1 {
		t.Errorf("locations = %d, want 1", len(locs))
	}
	ps, _ := st.PresencesByLocation(ctx, locs[0].ID)
	if len(ps) != 1 {
		t.Errorf("presences = %d, want 1", len(ps))
	}
}

func TestReader_StaleWatermarkRescans(t *testing.T) {
	st, lf := openTestStore(t)
	path := writeLog(t, sessionLines)
	ctx := context.Background()

	if err := st.SetLastRead(ctx, lf.ID, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("SetLastRead: %v", err)
	}

	cs := &countingStore{Store: st}
	r := New(path, lf.ID, cs, &fakeProducer{}, WithFollow(false), WithTimeLocation(time.UTC))
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cs.ensures.Load() == 0 {
		t.Error("file modified after the watermark must be re-read")
	}
}

func TestReader_FileMissing(t *testing.T) {
	st, lf := openTestStore(t)
	path := filepath.Join(t.TempDir(), "output_log_2024-01-15_10-00-00.txt")

	r := New(path, lf.ID, st, &fakeProducer{}, WithOpenRetry(2, 5*time.Millisecond))
	err := r.Run(context.Background())
	if !errors.Is(err, ErrFileMissing) {
		t.Fatalf("Run = %v, want ErrFileMissing", err)
	}
	if r.State() != StateFileMissing {
		t.Errorf("state = %v, want file_missing", r.State())
	}
}

func TestReader_OpenRetryFindsLateFile(t *testing.T) {
	st, lf := openTestStore(t)
	path := filepath.Join(t.TempDir(), "output_log_2024-01-15_10-00-00.txt")

	tmp := writeLog(t, sessionLines)
	go func() {
		time.Sleep(20 * time.Millisecond)
		os.Rename(tmp, path)
	}()

	r := New(path, lf.ID, st, &fakeProducer{}, WithFollow(false), WithOpenRetry(50, 10*time.Millisecond), WithTimeLocation(time.UTC))
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	locs, _ := st.LocationsByLogFile(context.Background(), lf.ID)
	if len(locs) != 1 {
		t.Errorf("locations = %d, want 1", len(locs))
	}
}

func TestReader_FatalErrorsKeepWatermark(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  error
	}{
		{
			name:  "format violation",
			lines: append(append([]string{}, sessionLines[:2]...), "2024.13.45 10:00:00 Debug      -  broken month"),
			want:  logline.ErrFormat,
		},
		{
			name:  "ordering violation",
			lines: []string{"2024.01.15 10:00:00 Debug      -  [Behaviour] Joining or Creating Room: Gallery"},
			want:  session.ErrMissingContext,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, lf := openTestStore(t)
			path := writeLog(t, tt.lines)
			ctx := context.Background()

			r := New(path, lf.ID, st, &fakeProducer{}, WithFollow(false), WithTimeLocation(time.UTC))
			err := r.Run(ctx)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Run = %v, want %v", err, tt.want)
			}
			if r.State() != StateClosed {
				t.Errorf("state = %v, want closed", r.State())
			}
			got, _ := st.GetLogFile(ctx, lf.ID)
			if got.LastRead != nil {
				t.Errorf("watermark = %v, want unset after fatal error", got.LastRead)
			}
		})
	}
}

func TestReader_FormatViolationRecorded(t *testing.T) {
	st, lf := openTestStore(t)
	path := writeLog(t, []string{"2024.13.45 10:00:00 Debug      -  broken month"})
	ctx := context.Background()

	r := New(path, lf.ID, st, &fakeProducer{}, WithFollow(false))
	if err := r.Run(ctx); err == nil {
		t.Fatal("expected error")
	}
	n, err := st.CountParseFailures(ctx)
	if err != nil {
		t.Fatalf("CountParseFailures: %v", err)
	}
	if n != 1 {
		t.Errorf("parse failures = %d, want 1", n)
	}
}

func TestReader_TailsGrowthThenRecovers(t *testing.T) {
	st, lf := openTestStore(t)
	path := writeLog(t, sessionLines[:3])
	producer := &fakeProducer{}
	producer.running.Store(true)

	r := New(path, lf.ID, st, producer,
		WithPollInterval(5*time.Millisecond),
		WithTimeLocation(time.UTC),
	)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitFor(t, "location", func() bool {
		locs, _ := st.LocationsByLogFile(ctx, lf.ID)
		return len(locs) == 1
	})
	locs, _ := st.LocationsByLogFile(ctx, lf.ID)
	locID := locs[0].ID

	// A line written in two pieces is only processed once complete.
	appendLog(t, path, "2024.01.15 10:05:00 Debug      -  [Behaviour] OnPlayerJoined Ali")
	time.Sleep(30 * time.Millisecond)
	if ps, _ := st.PresencesByLocation(ctx, locID); len(ps) != 0 {
		t.Fatalf("partial line was processed: %+v", ps)
	}
	appendLog(t, path, "ce ("+me+")\n")
	appendLog(t, path, "2024.01.15 10:06:00 Debug      -  [Behaviour] OnPlayerJoined Bob ("+me+")\n")

	waitFor(t, "presences", func() bool {
		ps, _ := st.PresencesByLocation(ctx, locID)
		return len(ps) == 2
	})
	ps, _ := st.PresencesByLocation(ctx, locID)
	if ps[0].PlayerName != "Alice" {
		t.Errorf("first presence = %q, want Alice", ps[0].PlayerName)
	}

	// Producer crashes: nothing closes the intervals except recovery.
	producer.running.Store(false)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not stop after producer exit")
	}

	open, _ := st.OpenPresences(ctx, lf.ID)
	if len(open) != 0 {
		t.Errorf("open presences after recovery = %d", len(open))
	}
	loc, _ := st.GetLocation(ctx, locID)
	if loc.Open() {
		t.Error("location should be closed by recovery")
	}
}

func TestReader_StopsWhenProducerWritesAnotherFile(t *testing.T) {
	st, lf := openTestStore(t)
	path := writeLog(t, sessionLines[:4])
	producer := &heldFiles{paths: map[string]bool{path: true}}

	r := New(path, lf.ID, st, producer, WithPollInterval(5*time.Millisecond), WithTimeLocation(time.UTC))
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	waitFor(t, "waiting", func() bool { return r.State() == StateWaitingForGrowth })
	time.Sleep(20 * time.Millisecond)
	if open, _ := st.OpenPresences(context.Background(), lf.ID); len(open) != 1 {
		t.Fatalf("open presences = %d while the file is held, want 1", len(open))
	}

	// The producer moves on to a new file and releases this one.
	producer.set(path, false)
	producer.set(filepath.Join(filepath.Dir(path), "output_log_2024-01-15_12-00-00.txt"), true)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("released file was not finished")
	}
	if open, _ := st.OpenPresences(context.Background(), lf.ID); len(open) != 0 {
		t.Errorf("open presences = %d, want 0 after recovery", len(open))
	}
}

func TestReader_PartialLineAtCancelIsReread(t *testing.T) {
	st, lf := openTestStore(t)
	path := writeLog(t, sessionLines[:6])
	appendLog(t, path, sessionLines[6])
	ctx := context.Background()

	producer := &fakeProducer{}
	producer.running.Store(true)
	r := New(path, lf.ID, st, producer, WithPollInterval(time.Hour), WithTimeLocation(time.UTC))
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- r.Run(runCtx) }()

	waitFor(t, "waiting", func() bool { return r.State() == StateWaitingForGrowth })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := st.GetLogFile(ctx, lf.ID)
	if got.LastRead != nil {
		t.Fatalf("watermark = %v, want unset while a line is unterminated", got.LastRead)
	}

	// The producer exits without finishing the line. The next start must
	// still see it instead of seeking past it.
	again := New(path, lf.ID, st, &fakeProducer{}, WithPollInterval(5*time.Millisecond), WithTimeLocation(time.UTC))
	if err := again.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	locs, _ := st.LocationsByLogFile(ctx, lf.ID)
	if len(locs) != 1 {
		t.Fatalf("locations = %d, want 1", len(locs))
	}
	ps, _ := st.PresencesByLocation(ctx, locs[0].ID)
	want := time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)
	if len(ps) != 1 || ps[0].LeftAt == nil || !ps[0].LeftAt.Equal(want) {
		t.Errorf("presences = %+v, want left at %v from the log", ps, want)
	}
}

func TestReader_CancelDrains(t *testing.T) {
	st, lf := openTestStore(t)
	path := writeLog(t, sessionLines[:4])
	producer := &fakeProducer{}
	producer.running.Store(true)

	r := New(path, lf.ID, st, producer, WithPollInterval(time.Hour), WithTimeLocation(time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitFor(t, "waiting", func() bool { return r.State() == StateWaitingForGrowth })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not stop after cancel")
	}

	got, _ := st.GetLogFile(context.Background(), lf.ID)
	if got.LastRead == nil {
		t.Error("watermark should be saved on cancel")
	}
	// Cancel is not a crash: open intervals stay open.
	if open, _ := st.OpenPresences(context.Background(), lf.ID); len(open) != 1 {
		t.Errorf("open presences = %d, want 1", len(open))
	}
}

type fakeProducer struct {
	running atomic.Bool
}

func (p *fakeProducer) Writing(context.Context, string) bool { return p.running.Load() }

// heldFiles is a producer that keeps specific files open.
type heldFiles struct {
	mu    sync.Mutex
	paths map[string]bool
}

func (h *heldFiles) set(path string, held bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paths[path] = held
}

func (h *heldFiles) Writing(_ context.Context, path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paths[path]
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// countingStore counts idempotent inserts reaching the store.
type countingStore struct {
	*store.Store
	ensures atomic.Int64
}

func (c *countingStore) EnsureLocation(ctx context.Context, l *history.Location) (bool, error) {
	c.ensures.Add(1)
	return c.Store.EnsureLocation(ctx, l)
}

func (c *countingStore) EnsurePresence(ctx context.Context, p *history.Presence) (bool, error) {
	c.ensures.Add(1)
	return c.Store.EnsurePresence(ctx, p)
}

func openTestStore(t *testing.T) (*store.Store, history.LogFile) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	lf, err := st.EnsureLogFile(context.Background(), time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("EnsureLogFile: %v", err)
	}
	return st, lf
}

func writeLog(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "output_log_2024-01-15_09-00-00.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

var appendMu sync.Mutex

func appendLog(t *testing.T, path, s string) {
	t.Helper()
	appendMu.Lock()
	defer appendMu.Unlock()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(s); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
