package shutdown

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestShutdown_PriorityOrder(t *testing.T) {
	m := NewManager(nil)
	var order []string
	step := func(name string) Func {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	m.Register("store", 30, step("store"))
	m.Register("logger", 5, step("logger"))
	m.Register("engines", 20, step("engines"))
	m.Register("http", 5, step("http"))

	if err := m.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	want := []string{"logger", "http", "engines", "store"}
	if len(order) != len(want) {
		t.Fatalf("ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("step %d = %s, want %s (full order %v)", i, order[i], want[i], order)
		}
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	m := NewManager(nil)
	calls := 0
	m.Register("once", 0, func(context.Context) error {
		calls++
		return nil
	})
	if err := m.Shutdown(); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if calls != 1 {
		t.Fatalf("cleanup ran %d times, want 1", calls)
	}
}

func TestShutdown_ReportsFailures(t *testing.T) {
	m := NewManager(nil)
	ran := false
	m.Register("broken", 0, func(context.Context) error {
		return errors.New("boom")
	})
	m.Register("after", 10, func(context.Context) error {
		ran = true
		return nil
	})
	if err := m.Shutdown(); err == nil {
		t.Fatal("expected an error from the failing step")
	}
	if !ran {
		t.Fatal("a failing step must not stop later steps")
	}
}

func TestShutdown_HonorsTimeout(t *testing.T) {
	m := NewManager(nil, WithTimeout(50*time.Millisecond))
	m.Register("slow", 0, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	start := time.Now()
	if err := m.Shutdown(); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("shutdown took %v, deadline not honored", time.Since(start))
	}
}

func TestSteps_ListsExecutionOrder(t *testing.T) {
	m := NewManager(nil)
	m.Register("b", 10, func(context.Context) error { return nil })
	m.Register("a", 0, func(context.Context) error { return nil })
	got := m.Steps()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("steps = %v, want [a b]", got)
	}
}

func TestCleanPartialDownloads(t *testing.T) {
	dir := t.TempDir()
	engineDir := filepath.Join(dir, "sdxl_inpaint")
	if err := os.MkdirAll(engineDir, 0o755); err != nil {
		t.Fatal(err)
	}
	partial := filepath.Join(engineDir, "model.safetensors.part")
	keep := filepath.Join(engineDir, "model.safetensors")
	for _, path := range []string{partial, keep} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := CleanPartialDownloads(nil, dir)(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(partial); !os.IsNotExist(err) {
		t.Fatal("partial download survived cleanup")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("completed weights were removed: %v", err)
	}
}

func TestCleanPartialDownloads_MissingDir(t *testing.T) {
	if err := CleanPartialDownloads(nil, filepath.Join(t.TempDir(), "nope"))(context.Background()); err != nil {
		t.Fatalf("missing dir should be a no-op, got %v", err)
	}
}
