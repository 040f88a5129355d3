package fileutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// assertPermNoMoreThan checks that the file at path has permissions no more
// permissive than want. This is umask-tolerant: a umask of 0077 turning
// 0644 into 0600 is fine, but 0644 appearing as 0666 would fail.
func assertPermNoMoreThan(t *testing.T, path string, want os.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	got := info.Mode().Perm()
	if got&^want != 0 {
		t.Errorf("perm = %04o, has bits beyond %04o (extra: %04o)", got, want, got&^want)
	}
}

func TestSecureWriteFile(t *testing.T) {
	for _, perm := range []os.FileMode{0600, 0644} {
		dir := t.TempDir()
		path := filepath.Join(dir, "testfile")
		data := []byte("index contents")

		if err := SecureWriteFile(path, data, perm); err != nil {
			t.Fatalf("SecureWriteFile(%04o): %v", perm, err)
		}

		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if string(got) != string(data) {
			t.Errorf("content = %q, want %q", got, data)
		}
		if runtime.GOOS != "windows" {
			assertPermNoMoreThan(t, path, perm)
		}
	}
}

func TestSecureWriteFile_NonexistentParent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "no", "such", "dir", "file")

	if err := SecureWriteFile(path, []byte("data"), 0600); err == nil {
		t.Fatal("expected error for nonexistent parent dir")
	}
}

func TestSecureMkdirAll(t *testing.T) {
	for _, perm := range []os.FileMode{0700, 0755} {
		dir := t.TempDir()
		path := filepath.Join(dir, "a", "b", "c")

		if err := SecureMkdirAll(path, perm); err != nil {
			t.Fatalf("SecureMkdirAll(%04o): %v", perm, err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected directory")
		}
		if runtime.GOOS != "windows" {
			assertPermNoMoreThan(t, path, perm)
		}
	}
}
