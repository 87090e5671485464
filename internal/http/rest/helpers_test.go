package rest

import (
	"os"
	"path/filepath"
)

func writeStaged(dir, name, content string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600)
}
