package downloader

import (
	"path/filepath"
	"strings"
)

// isPlainFilename reports whether name can be written directly inside a
// staging directory without creating or escaping subdirectories.
func isPlainFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}

	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}

	return filepath.Base(name) == name
}
