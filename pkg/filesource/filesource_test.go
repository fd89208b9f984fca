package filesource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vango-dev/herald/pkg/notify"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestSourceNotifiesKeyedListener(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "herald.yaml")
	writeFile(t, path, "a: 1\n")

	src, err := New(WithDebounce(50 * time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer src.Close()

	if err := src.Add(path); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := src.Add(path); err != nil {
		t.Fatalf("second Add: %v", err)
	}

	events := make(chan Event, 8)
	src.AddListener(notify.ValueFunc(func(v any) {
		events <- v.(Event)
	}), notify.Key(src.Key(path)))

	for i := 0; i < 3; i++ {
		writeFile(t, path, "a: 2\n")
	}

	select {
	case ev := <-events:
		if ev.Path != src.Key(path) {
			t.Errorf("event path = %q, want %q", ev.Path, src.Key(path))
		}
		if ev.Op == "" {
			t.Error("event op is empty")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}

	time.Sleep(200 * time.Millisecond)
	delivered, _ := src.Stats()
	if delivered != 1 {
		t.Errorf("delivered = %d, want one debounced notification", delivered)
	}
}

func TestSourceDirectoryKey(t *testing.T) {
	dir := t.TempDir()
	src, err := New(WithDebounce(20 * time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer src.Close()

	if err := src.Add(dir); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got := make(chan any, 4)
	src.AddListener(notify.KeyValueFunc(func(k, _ any) { got <- k }))

	writeFile(t, filepath.Join(dir, "new.txt"), "x")

	select {
	case k := <-got:
		if k != src.Key(dir) {
			t.Errorf("key = %v, want %v", k, src.Key(dir))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification for file created in watched directory")
	}
}

func TestSourceRemoveAndPaths(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	writeFile(t, a, "")
	writeFile(t, b, "")

	src, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer src.Close()

	for _, p := range []string{b, a} {
		if err := src.Add(p); err != nil {
			t.Fatalf("Add(%s): %v", p, err)
		}
	}
	paths := src.Paths()
	if len(paths) != 2 || paths[0] != src.Key(a) || paths[1] != src.Key(b) {
		t.Errorf("Paths = %v", paths)
	}

	if err := src.Remove(a); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if paths := src.Paths(); len(paths) != 1 {
		t.Errorf("Paths after Remove = %v", paths)
	}
	if err := src.Add(filepath.Join(dir, "missing")); err == nil {
		t.Error("Add(missing) err = nil")
	}
}

func TestSourceServeAndClose(t *testing.T) {
	src, err := New(WithName("config"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if src.String() != "filesource:config" || src.Name() != "config" {
		t.Errorf("String = %q Name = %q", src.String(), src.Name())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	if err := src.Add(t.TempDir()); !errors.Is(err, ErrClosed) {
		t.Errorf("Add after close err = %v, want ErrClosed", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close err = %v", err)
	}
}

func TestSourceDisposeCloses(t *testing.T) {
	src, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src.Dispose()
	if err := src.Add(t.TempDir()); !errors.Is(err, ErrClosed) {
		t.Errorf("Add after Dispose err = %v, want ErrClosed", err)
	}
}
