package prefs

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

// TestSetGetTypes covers the typed accessors and their defaults.
func TestSetGetTypes(t *testing.T) {
	s, _ := tempStore(t)

	if err := s.Set("keyword", "open vault"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set("biometric", true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set("attempts", int64(3)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if got := s.GetString("keyword", ""); got != "open vault" {
		t.Errorf("GetString() = %q, want %q", got, "open vault")
	}
	if got := s.GetBool("biometric", false); !got {
		t.Error("GetBool() = false, want true")
	}
	if got := s.GetInt("attempts", 0); got != 3 {
		t.Errorf("GetInt() = %d, want 3", got)
	}
	if got := s.GetString("missing", "fallback"); got != "fallback" {
		t.Errorf("GetString() default = %q, want %q", got, "fallback")
	}
	if !s.Has("keyword") || s.Has("missing") {
		t.Error("Has() reported wrong presence")
	}
}

// TestPersistenceAcrossReopen verifies Set is durable before it returns.
func TestPersistenceAcrossReopen(t *testing.T) {
	s, path := tempStore(t)

	if err := s.SetAll(map[string]any{"pin": "4321", "attempts": 7}); err != nil {
		t.Fatalf("SetAll() error = %v", err)
	}
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() reopen error = %v", err)
	}
	defer reopened.Close()

	if got := reopened.GetString("pin", ""); got != "4321" {
		t.Errorf("reopened GetString(pin) = %q, want %q", got, "4321")
	}
	if got := reopened.GetInt("attempts", 0); got != 7 {
		t.Errorf("reopened GetInt(attempts) = %d, want 7", got)
	}
}

// TestDelete verifies removal is persisted.
func TestDelete(t *testing.T) {
	s, path := tempStore(t)

	if err := s.Set("pin", "1234"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Delete("pin"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if s.Has("pin") {
		t.Error("Has(pin) = true after Delete")
	}

	s.Close()
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() reopen error = %v", err)
	}
	defer reopened.Close()
	if reopened.Has("pin") {
		t.Error("deleted key survived reopen")
	}
}

// TestWatch verifies subscribers observe every committed change.
func TestWatch(t *testing.T) {
	s, _ := tempStore(t)

	ch := s.Watch("keyword")

	if err := s.Set("keyword", "first"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set("keyword", "second"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Delete("keyword"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	want := []any{"first", "second", nil}
	for i, w := range want {
		select {
		case got := <-ch:
			if got != w {
				t.Errorf("watch event %d = %v, want %v", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for watch event %d", i)
		}
	}
}

// TestFilePermissions verifies the store file is owner-only.
func TestFilePermissions(t *testing.T) {
	s, path := tempStore(t)
	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("preferences file permissions = %04o, want group/other bits clear", perm)
	}
}

// TestClosedStore verifies operations after Close fail cleanly.
func TestClosedStore(t *testing.T) {
	s, _ := tempStore(t)
	s.Close()

	if err := s.Set("k", "v"); err != ErrClosed {
		t.Errorf("Set() after Close error = %v, want ErrClosed", err)
	}
}
