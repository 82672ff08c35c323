package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when the journal path is on a network
// mount, where SQLite locking is unreliable.
var ErrNetworkFilesystem = errors.New("journal must be on a local filesystem")

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"nfs4":   {},
	"smbfs":  {},
	"smb2":   {},
	"sshfs":  {},
	"webdav": {},
}

// fsDetector reports the filesystem type holding an existing path. An empty
// type means the platform cannot tell.
type fsDetector func(path string) (string, error)

func checkLocalFilesystem(path string) error {
	return checkLocalFilesystemWith(path, detectFilesystemType)
}

func checkLocalFilesystemWith(path string, detect fsDetector) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	existing, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve journal path %q: %w", path, err)
	}

	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("%w: %q is on %s; pass a local path with --journal or journal.path",
			ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

// nearestExistingPath walks up from path to the first ancestor that exists,
// so a journal in a not-yet-created directory can still be checked.
func nearestExistingPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	for candidate := abs; ; {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return found
}
