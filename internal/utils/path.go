package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// TempPrefix starts the name of every temporary file written inside a
// synchronized directory. Scans never report such files.
const TempPrefix = ".docsync-tmp-"

// ResolvePath expands a leading "~" and returns a clean absolute path.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("path cannot be empty")
	}

	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("failed to retrieve home directory")
		}
		path = homeDir + path[1:]
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	return filepath.Clean(absPath), nil
}

func EnsureParent(path string) error {
	return EnsureDir(filepath.Dir(path))
}

func EnsureDir(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.MkdirAll(path, 0o755)
}

func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// NormPath turns an OS relative path into the slash separated form used as
// a document path: cleaned, forward slashes, no leading slash.
func NormPath(path string) string {
	path = filepath.ToSlash(filepath.Clean(path))
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimLeft(path, "/")
	if path == "." {
		return ""
	}
	return path
}

// LocalPath joins a document path onto root using OS separators.
func LocalPath(root, docPath string) string {
	return filepath.Join(root, filepath.FromSlash(docPath))
}
