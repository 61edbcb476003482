package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// projectConfigDir returns a per-project directory under the user config
// dir, creating it if needed. The cache lives there so repeated runs over
// the same tree stay warm without polluting the project itself.
func projectConfigDir(projectRoot string) (string, error) {
	configDir, err := userConfigDir()
	if err != nil {
		return "", err
	}

	projectSlug := strings.ReplaceAll(projectRoot, "/", "_")
	projectSlug = strings.ReplaceAll(projectSlug, ":", "_")
	projectSlug = strings.ReplaceAll(projectSlug, "\\", "_")

	dir := filepath.Join(configDir, "mago-analyzer", projectSlug)

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to check directory: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}

	return dir, nil
}

func userConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		usr, err := user.Current()
		if err != nil {
			return "", fmt.Errorf("failed to get current user: %w", err)
		}
		return filepath.Join(usr.HomeDir, ".config"), nil
	}
	return configDir, nil
}
