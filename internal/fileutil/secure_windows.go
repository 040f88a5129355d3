//go:build windows

package fileutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// ownerOnly reports whether perm grants nothing to group or other; such
// modes get a restrictive DACL on Windows, where Unix permission bits are
// otherwise meaningless.
func ownerOnly(perm os.FileMode) bool {
	return perm&0077 == 0
}

// applyOwnerDACL replaces path's DACL with one granting GENERIC_ALL to the
// current user only, with inherited ACEs blocked. Directories additionally
// get CONTAINER_INHERIT_ACE|OBJECT_INHERIT_ACE so files created under the
// working directory inherit the restriction. The caller treats failures as
// warnings: the file already exists with the requested mode, and the DACL
// is hardening on top.
func applyOwnerDACL(path string) error {
	user, err := windows.GetCurrentProcessToken().GetTokenUser()
	if err != nil {
		return fmt.Errorf("fileutil: current user SID for %s: %w", path, err)
	}

	inherit := uint32(windows.NO_INHERITANCE)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		inherit = windows.CONTAINER_INHERIT_ACE | windows.OBJECT_INHERIT_ACE
	}

	acl, err := windows.ACLFromEntries([]windows.EXPLICIT_ACCESS{{
		AccessPermissions: windows.GENERIC_ALL,
		AccessMode:        windows.SET_ACCESS,
		Inheritance:       inherit,
		Trustee: windows.TRUSTEE{
			TrusteeForm:  windows.TRUSTEE_IS_SID,
			TrusteeType:  windows.TRUSTEE_IS_USER,
			TrusteeValue: windows.TrusteeValueFromSID(user.User.Sid),
		},
	}}, nil)
	if err != nil {
		return fmt.Errorf("fileutil: build ACL for %s: %w", path, err)
	}

	secInfo := windows.DACL_SECURITY_INFORMATION | windows.PROTECTED_DACL_SECURITY_INFORMATION
	if err := windows.SetNamedSecurityInfo(
		path,
		windows.SE_FILE_OBJECT,
		windows.SECURITY_INFORMATION(secInfo),
		nil, nil, acl, nil,
	); err != nil {
		return fmt.Errorf("fileutil: set DACL on %s: %w", path, err)
	}
	return nil
}

func warnDACL(path string, err error) {
	slog.Warn("fileutil: best-effort DACL failed", "path", path, "err", err)
}

// SecureWriteFile writes data to the named file, creating it if necessary,
// applying an owner-only DACL for owner-only modes.
func SecureWriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.WriteFile(path, data, perm); err != nil {
		return err
	}
	if ownerOnly(perm) {
		if err := applyOwnerDACL(path); err != nil {
			warnDACL(path, err)
		}
	}
	return nil
}

// SecureMkdirAll creates a directory path and all missing parents. For
// owner-only modes, every directory this call creates (not ones that
// already existed) gets the owner-only DACL.
func SecureMkdirAll(path string, perm os.FileMode) error {
	var created []string
	if ownerOnly(perm) {
		for p := filepath.Clean(path); p != "" && p != "." && p != string(filepath.Separator); {
			if _, err := os.Stat(p); err == nil {
				break
			}
			created = append(created, p)
			parent := filepath.Dir(p)
			if parent == p {
				break
			}
			p = parent
		}
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}

	for _, dir := range created {
		if err := applyOwnerDACL(dir); err != nil {
			warnDACL(dir, err)
		}
	}
	return nil
}
