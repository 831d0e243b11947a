//go:build !unix

package scanner

import (
	"io/fs"
	"path/filepath"
)

// without inode numbers the resolved real path identifies a directory
func fileKey(abs string, _ fs.FileInfo) (string, bool) {
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", false
	}
	return real, true
}
