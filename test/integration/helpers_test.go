//go:build integration

// Package integration runs the lifelog end to end: log files in a temporary
// directory are read by the coordinator and queried through the HTTP API.
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/graaaaa/vrclog-lifelog/internal/api"
	"github.com/graaaaa/vrclog-lifelog/internal/app"
	"github.com/graaaaa/vrclog-lifelog/internal/store"
	"github.com/graaaaa/vrclog-lifelog/internal/tail"
	"github.com/graaaaa/vrclog-lifelog/internal/watch"
)

const (
	testWorld = "wrld_4432ea9b-729c-46e3-8eaf-846aa0a37fdd"
	meID      = "usr_01234567-abcd-1234-56de-0123456789ef"
	aliceID   = "usr_11111111-abcd-1234-56de-0123456789ef"
	bobID     = "usr_22222222-abcd-1234-56de-0123456789ef"
)

// TestApp is a running lifelog wired to temporary directories.
type TestApp struct {
	Server   *httptest.Server
	Store    *store.Store
	Hub      *api.Hub
	LogDir   string
	Producer *stubProducer

	username, password string
	cleanup            func()
}

type stubProducer struct{ running atomic.Bool }

func (p *stubProducer) Running(context.Context) bool { return p.running.Load() }

// Writing treats every log file as held while the producer runs.
func (p *stubProducer) Writing(context.Context, string) bool { return p.running.Load() }

type testAppConfig struct {
	username string
	password string
	logs     map[string]string
}

// TestAppOption configures a TestApp.
type TestAppOption func(*testAppConfig)

// WithAuth enables Basic Auth.
func WithAuth(username, password string) TestAppOption {
	return func(cfg *testAppConfig) {
		cfg.username = username
		cfg.password = password
	}
}

// WithLog places a log file in the directory before the coordinator starts.
func WithLog(name, content string) TestAppOption {
	return func(cfg *testAppConfig) { cfg.logs[name] = content }
}

// NewTestApp starts the coordinator and the API server. The producer is
// reported as running.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	cfg := &testAppConfig{logs: map[string]string{}}
	for _, opt := range opts {
		opt(cfg)
	}

	logDir := t.TempDir()
	for name, content := range cfg.logs {
		if err := os.WriteFile(filepath.Join(logDir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "lifelog.sqlite"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	producer := &stubProducer{}
	producer.running.Store(true)

	hub := api.NewHub()
	go hub.Run()

	coordinator := watch.New(logDir, st, producer,
		watch.WithReaderOptions(tail.WithPollInterval(10*time.Millisecond), tail.WithTimeLocation(time.UTC)),
		watch.WithOnChange(hub.PublishChange),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := coordinator.Run(ctx); err != nil {
			t.Errorf("coordinator: %v", err)
		}
	}()

	serverOpts := []api.ServerOption{
		api.WithHub(hub),
		api.WithHistoryUsecase(&app.HistoryService{Store: st}),
		api.WithStatusUsecase(app.StatusService{Readers: coordinator, Producer: producer, Store: st}),
		api.WithStatsUsecase(app.NewStatsService(st)),
	}
	if cfg.username != "" {
		serverOpts = append(serverOpts, api.WithBasicAuth(cfg.username, cfg.password))
	}
	server := api.NewServer("127.0.0.1:0", app.HealthService{Version: "test", DB: st}, serverOpts...)
	ts := httptest.NewServer(server.Handler())

	a := &TestApp{
		Server:   ts,
		Store:    st,
		Hub:      hub,
		LogDir:   logDir,
		Producer: producer,
		username: cfg.username,
		password: cfg.password,
	}
	a.cleanup = func() {
		ts.Close()
		cancel()
		<-done
		coordinator.Wait()
		hub.Stop()
		st.Close()
	}
	t.Cleanup(a.Close)
	return a
}

// Close stops everything. It is safe to call more than once.
func (a *TestApp) Close() {
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}

// URL returns the base URL of the API server.
func (a *TestApp) URL() string {
	return a.Server.URL
}

// AppendLog appends lines to a log file in the log directory.
func (a *TestApp) AppendLog(t *testing.T, name string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(a.LogDir, name), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		t.Fatal(err)
	}
}

// Get performs an authenticated GET when auth is enabled.
func (a *TestApp) Get(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, a.URL()+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.username != "" {
		req.SetBasicAuth(a.username, a.password)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// GetJSON performs Get and decodes a 200 response into v.
func (a *TestApp) GetJSON(t *testing.T, path string, v any) {
	t.Helper()
	resp := a.Get(t, path)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("GET %s: decode: %v", path, err)
	}
}

// logLines renders producer log lines stamped on 2024-01-15.
func logLines(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

func line(hms, msg string) string {
	return "2024.01.15 " + hms + " Debug      -  [Behaviour] " + msg
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
