package procwatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestChecker_Matching(t *testing.T) {
	tests := []struct {
		name    string
		procs   []string
		running bool
	}{
		{"exact", []string{"init", "VRChat"}, true},
		{"windows exe", []string{"explorer.exe", "VRChat.exe"}, true},
		{"case insensitive", []string{"vrchat.EXE"}, true},
		{"absent", []string{"steam", "VRChatHelper"}, false},
		{"empty table", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			procs := tt.procs
			c := New("", WithTTL(0), WithLister(func(context.Context) ([]string, error) { return procs, nil }))
			if got := c.Running(context.Background()); got != tt.running {
				t.Errorf("Running() = %v, want %v", got, tt.running)
			}
		})
	}
}

func TestChecker_ErrorAssumesRunning(t *testing.T) {
	c := New("VRChat.exe", WithTTL(0), WithLister(func(context.Context) ([]string, error) {
		return nil, errors.New("access denied")
	}))
	if !c.Running(context.Background()) {
		t.Error("enumeration failure should report running")
	}
}

func TestChecker_Cache(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	procs := []string{"VRChat"}

	c := New("VRChat",
		WithTTL(time.Second),
		WithNow(func() time.Time { return now }),
		WithLister(func(context.Context) ([]string, error) {
			calls++
			return procs, nil
		}),
	)
	ctx := context.Background()

	if !c.Running(ctx) {
		t.Fatal("expected running")
	}
	procs = nil
	if !c.Running(ctx) {
		t.Error("cached result should still be running")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	now = now.Add(2 * time.Second)
	if c.Running(ctx) {
		t.Error("expired cache should see the process gone")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestChecker_Writing(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "output_log_2024-01-15_10-00-00.txt")
	second := filepath.Join(dir, "output_log_2024-01-15_11-00-00.txt")
	sep := string(filepath.Separator)

	tests := []struct {
		name    string
		open    []string
		err     error
		procs   []string
		path    string
		writing bool
	}{
		{"held by producer", []string{first, second}, nil, nil, first, true},
		{"other instance file only", []string{second}, nil, []string{"VRChat"}, first, false},
		{"unclean path", []string{dir + sep + "." + sep + filepath.Base(first)}, nil, nil, first, true},
		{"no producer", nil, nil, nil, first, false},
		{"inspection failed, producer running", nil, errors.New("access denied"), []string{"VRChat.exe"}, first, true},
		{"inspection failed, producer gone", nil, errors.New("access denied"), []string{"steam"}, first, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotName string
			c := New("VRChat.exe", WithTTL(0),
				WithLister(func(context.Context) ([]string, error) { return tt.procs, nil }),
				WithFileLister(func(_ context.Context, name string) ([]string, error) {
					gotName = name
					return tt.open, tt.err
				}),
			)
			if got := c.Writing(context.Background(), tt.path); got != tt.writing {
				t.Errorf("Writing() = %v, want %v", got, tt.writing)
			}
			if gotName != "vrchat" {
				t.Errorf("file lister name = %q, want normalized vrchat", gotName)
			}
		})
	}
}

func TestChecker_WritingCache(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "output_log_10-00-00.txt")
	calls := 0
	open := []string{path}

	c := New("VRChat",
		WithTTL(time.Second),
		WithNow(func() time.Time { return now }),
		WithFileLister(func(context.Context, string) ([]string, error) {
			calls++
			return open, nil
		}),
	)
	ctx := context.Background()

	if !c.Writing(ctx, path) {
		t.Fatal("expected writing")
	}
	open = nil
	if !c.Writing(ctx, path) {
		t.Error("cached result should still be writing")
	}
	now = now.Add(2 * time.Second)
	if c.Writing(ctx, path) {
		t.Error("expired cache should see the file released")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
