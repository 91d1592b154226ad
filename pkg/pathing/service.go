package pathing

import (
	"os"
	"path/filepath"
)

// EnvConfigDir overrides the config directory, mostly for running unprivileged.
const EnvConfigDir = "HLW8032_CONFIG_DIR"

func GetConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	return "/etc/hlw8032_meter"
}

func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "meter_monitor.toml")
}
