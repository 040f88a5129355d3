//go:build !windows

// Package fileutil provides the owner-only file helpers the working
// directory relies on. On Unix they are thin wrappers over os.* (the 0700
// working directory does the real protection); on Windows, owner-only modes
// (perm & 0077 == 0) additionally set a DACL restricting access to the
// current user.
package fileutil

import "os"

// SecureWriteFile writes data to the named file, creating it if necessary.
func SecureWriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

// SecureMkdirAll creates a directory path and all parents that do not yet
// exist.
func SecureMkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
