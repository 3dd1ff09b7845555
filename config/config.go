package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// Config holds every setting the sync orchestrator consults.
type Config struct {
	// MusicRootPath is where the media scanner starts.
	MusicRootPath string `json:"music_root_path"`
	// LibraryPath is the host library directory; all library-side I/O is
	// rooted here.
	LibraryPath string `json:"library_path"`
	// ParentCrateName is the crate tree's name prefix. Segments must not
	// contain "%%".
	ParentCrateName []string `json:"parent_crate_name"`

	Mode string `json:"mode"` // "gui" or "cmd"; governs the external logger only.

	Backup          bool `json:"backup"`
	ClearBeforeSync bool `json:"clear_before_sync"`
	SkipExisting    bool `json:"skip_existing"`
	FixBrokenPaths  bool `json:"fix_broken_paths"`
	Sort            bool `json:"sort"`
	DupeScan        bool `json:"dupe_scan"`

	// DedupMode is one of "off", "path", "filename".
	DedupMode string `json:"dedup_mode"`
	// DupeDetection is one of "off", "name-only", "name-and-size".
	DupeDetection string `json:"dupe_detection"`
	// DupeMove is one of "keep-newest", "keep-oldest", or "" (false).
	DupeMove string `json:"dupe_move"`

	BackupRoot     string `json:"backup_root"`
	QuarantineRoot string `json:"quarantine_root"`
}

// Validate enforces the config-time invariants the orchestrator requires
// before it starts a sync run.
func (c *Config) Validate() error {
	if c.MusicRootPath == "" {
		return errors.New("music root path is required")
	}
	if c.LibraryPath == "" {
		return errors.New("library path is required")
	}
	for _, seg := range c.ParentCrateName {
		if strings.Contains(seg, "%%") {
			return errors.Errorf("parent crate name segment %q must not contain %%%%", seg)
		}
	}
	return nil
}

// GetDefaultConfigPath returns the default configuration file path based on the OS.
func GetDefaultConfigPath() (string, error) {
	var configPath string

	// Check current working directory first
	cwd, err := os.Getwd()
	if err == nil {
		localConfig := filepath.Join(cwd, "config.json")
		if _, err := os.Stat(localConfig); err == nil {
			return localConfig, nil
		}
	}

	switch runtime.GOOS {
	case "windows":
		appdata, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		configPath = filepath.Join(appdata, "seratosync", "config.json")
	case "darwin":
		configDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configPath = filepath.Join(configDir, "Library", "Application Support", "seratosync", "config.json")
	default: // Linux and others
		configDir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		configPath = filepath.Join(configDir, "seratosync", "config.json")
	}
	return configPath, nil
}

// LoadConfig loads configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	configFile, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil // Return empty config if file doesn't exist
		}
		return nil, err
	}
	defer configFile.Close()

	var config Config
	decoder := json.NewDecoder(configFile)
	err = decoder.Decode(&config)
	if err != nil {
		return nil, err
	}

	return &config, nil
}

// SaveConfig saves configuration to a JSON file.
func SaveConfig(path string, config *Config) error {
	// Create directory if it doesn't exist
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(config)
}
