package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const deviceFile = "device-id"

// DeviceID returns the peer id stored in dataDir, creating one on first use.
// Ids are short so they stay readable in logs and rosters.
func DeviceID(fs afero.Fs, dataDir string) (string, error) {
	path := filepath.Join(dataDir, deviceFile)
	data, err := afero.ReadFile(fs, path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("read device id: %w", err)
	}

	id := uuid.NewString()[:8]
	if err := fs.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := afero.WriteFile(fs, path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write device id: %w", err)
	}
	return id, nil
}
