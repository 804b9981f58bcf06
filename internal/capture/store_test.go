package capture

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStorePersists(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s := NewFileStore(path)
	if _, ok := s.Get(keyBackground); ok {
		t.Fatalf("empty store has a value")
	}
	if err := s.Set(keyBackground, "#ffffff"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened := NewFileStore(path)
	if v, ok := reopened.Get(keyBackground); !ok || v != "#ffffff" {
		t.Errorf("Get = %q, %v", v, ok)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind")
	}
}

func TestFileStoreIgnoresCorruptFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(path)
	if _, ok := s.Get(keyBackground); ok {
		t.Errorf("corrupt file yielded a value")
	}
	if err := s.Set(keyOptions, "{}"); err != nil {
		t.Errorf("Set over corrupt file: %v", err)
	}
}

func TestFileStoreWithoutPath(t *testing.T) {
	t.Parallel()
	s := NewFileStore("")
	if err := s.Set("k", "v"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Get("k"); v != "v" {
		t.Errorf("Get = %q", v)
	}
}
