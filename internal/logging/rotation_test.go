package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterRotatesAtLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ionia.log")
	rw, err := newRotatingWriter(path, 32, 3)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer rw.Close()

	if _, err := rw.Write([]byte("first line, fits in the limit\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// This write would push past 32 bytes: the file rotates first, so the
	// line lands in a fresh file.
	if _, err := rw.Write([]byte("second line\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if !strings.Contains(string(backup), "first line") {
		t.Fatalf("backup content %q, want the first line", backup)
	}
	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("current log: %v", err)
	}
	if got := string(current); got != "second line\n" {
		t.Fatalf("current log %q, want only the second line", got)
	}
	if rw.rotations != 1 {
		t.Fatalf("rotations %d, want 1", rw.rotations)
	}
}

func TestRotatingWriterShiftsAndPrunesBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ionia.log")
	rw, err := newRotatingWriter(path, 16, 2)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer rw.Close()

	// Each line is 10 bytes; every second write forces a rotation.
	for _, line := range []string{"aaaa-aaaa\n", "bbbb-bbbb\n", "cccc-cccc\n", "dddd-dddd\n"} {
		if _, err := rw.Write([]byte(line)); err != nil {
			t.Fatalf("write %q: %v", line, err)
		}
	}

	want := map[string]string{
		path:        "dddd-dddd\n",
		path + ".1": "cccc-cccc\n",
		path + ".2": "bbbb-bbbb\n",
	}
	for file, content := range want {
		data, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if string(data) != content {
			t.Fatalf("%s holds %q, want %q", file, data, content)
		}
	}
	// maxBackups is 2: the oldest line fell off.
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatalf("backup beyond maxBackups exists: %v", err)
	}
}

func TestRotatingWriterReopenAfterExternalMove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ionia.log")
	rw, err := newRotatingWriter(path, 1024, 3)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer rw.Close()

	if _, err := rw.Write([]byte("before\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Rename(path, path+".moved"); err != nil {
		t.Fatalf("move aside: %v", err)
	}
	if err := rw.Reopen(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := rw.Write([]byte("after\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("current log: %v", err)
	}
	if got := string(current); got != "after\n" {
		t.Fatalf("current log %q, want only the post-reopen line", got)
	}
	moved, err := os.ReadFile(path + ".moved")
	if err != nil {
		t.Fatalf("moved log: %v", err)
	}
	if got := string(moved); got != "before\n" {
		t.Fatalf("moved log %q, want the pre-reopen line", got)
	}
}
