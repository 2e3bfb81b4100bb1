package dynamic

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/nodehost/capability"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWatcherStartStop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "created")
	loader, _ := newTestLoader(t)

	w := NewWatcher(loader, []string{dir}, WithDebounce(50*time.Millisecond))
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected watched directory to be created: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("failed to stop watcher: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
}

func TestWatcherReloadsAndUnloads(t *testing.T) {
	dir := t.TempDir()
	loader, reg := newTestLoader(t)

	var mu sync.Mutex
	reloaded := make(map[string]error)
	w := NewWatcher(loader, []string{dir},
		WithDebounce(50*time.Millisecond),
		WithOnReload(func(id string, err error) {
			mu.Lock()
			reloaded[id] = err
			mu.Unlock()
		}),
	)
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "answer.go")
	if err := os.WriteFile(path, []byte(answerSource), 0o644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}

	waitFor(t, "plugin load", func() bool {
		return reg.HasProvider(capability.ActionCapability)
	})
	mu.Lock()
	if err, ok := reloaded["answer"]; !ok || err != nil {
		t.Errorf("expected successful reload callback, got %v (seen=%v)", err, ok)
	}
	mu.Unlock()

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove plugin: %v", err)
	}
	waitFor(t, "plugin unload", func() bool {
		return !reg.HasProvider(capability.ActionCapability)
	})
}

func TestWatcherReportsViolations(t *testing.T) {
	dir := t.TempDir()
	loader, reg := newTestLoader(t)

	errs := make(chan error, 4)
	w := NewWatcher(loader, []string{dir},
		WithDebounce(50*time.Millisecond),
		WithOnReload(func(id string, err error) { errs <- err }),
	)
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "abstract.go"), []byte(abstractSource), 0o644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}

	select {
	case err := <-errs:
		if err == nil {
			t.Error("expected abstract plugin to fail loading")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
	if reg.HasProvider(capability.ActionCapability) {
		t.Error("abstract plugin must not be registered")
	}
}
