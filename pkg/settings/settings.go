package settings

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sparedes88/projector/pkg/broadcast"
)

// ConsoleSettings holds the control console's persisted preferences
type ConsoleSettings struct {
	ServerURL string `json:"serverUrl"`
	Tenant    string `json:"tenant"`
	Screen    string `json:"screen"`
	// Draft is the last unapplied style; nil when nothing was pending
	Draft *broadcast.Style `json:"draft,omitempty"`
	// Mic enables the microphone key in the console
	Mic bool `json:"mic"`
}

// DefaultSettings returns the default settings
func DefaultSettings() ConsoleSettings {
	return ConsoleSettings{
		ServerURL: "http://localhost:8080",
		Tenant:    "default",
		Mic:       true,
	}
}

// Path returns the config file path.
// Uses XDG_CONFIG_HOME if set, otherwise the OS user config dir.
func Path() (string, error) {
	var configDir string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "projector")
	} else {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(userConfigDir, "projector")
	}

	return filepath.Join(configDir, "console.json"), nil
}

// Load reads settings from the config file.
// Returns default settings if file doesn't exist or is invalid.
func Load() (ConsoleSettings, error) {
	settings := DefaultSettings()

	path, err := Path()
	if err != nil {
		return settings, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, err
	}

	// Missing fields keep their defaults
	if err := json.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), nil
	}

	return settings, nil
}

// Save writes settings to the config file
func Save(settings ConsoleSettings) error {
	path, err := Path()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
