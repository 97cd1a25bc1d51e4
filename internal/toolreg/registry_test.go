package toolreg

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func fakeBinary(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func TestOverrideWins(t *testing.T) {
	dir := t.TempDir()
	fake := fakeBinary(t, dir, "subfinder")

	r := New(map[string]string{"subfinder": fake}, "")
	got, err := r.Locate("subfinder")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if got != fake {
		t.Fatalf("got %q, want %q", got, fake)
	}
}

func TestLocalBinBeforePath(t *testing.T) {
	dir := t.TempDir()
	fake := fakeBinary(t, dir, "httpx")

	r := New(nil, dir)
	got, err := r.Locate("httpx")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if got != fake {
		t.Fatalf("got %q, want %q", got, fake)
	}
}

func TestNotInstalled(t *testing.T) {
	r := New(nil, t.TempDir())
	_, err := r.Locate("definitely-not-a-real-tool-name")
	if !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("want ErrNotInstalled, got %v", err)
	}
}

func TestLocateCaches(t *testing.T) {
	dir := t.TempDir()
	fake := fakeBinary(t, dir, "dnsx")

	r := New(nil, dir)
	first, err := r.Locate("dnsx")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}

	// Removing the binary must not change the cached answer.
	if err := os.Remove(fake); err != nil {
		t.Fatal(err)
	}
	second, err := r.Locate("dnsx")
	if err != nil {
		t.Fatalf("second Locate: %v", err)
	}
	if first != second {
		t.Fatalf("cache miss: %q vs %q", first, second)
	}
}

func TestMissing(t *testing.T) {
	dir := t.TempDir()
	fakeBinary(t, dir, "nuclei")

	r := New(nil, dir)
	missing := r.Missing([]string{"nuclei", "no-such-a", "no-such-b"})
	if len(missing) != 2 {
		t.Fatalf("missing = %v", missing)
	}
	if missing[0] != "no-such-a" || missing[1] != "no-such-b" {
		t.Fatalf("missing not sorted: %v", missing)
	}
}

func TestNonExecutableNotFound(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("mode bits are meaningless on windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "frobnicator-scan")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(nil, dir)
	if _, err := r.Locate("frobnicator-scan"); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("want ErrNotInstalled for non-executable, got %v", err)
	}
}
