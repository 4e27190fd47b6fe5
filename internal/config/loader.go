package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config files above this size are rejected outright.
const maxConfigFileSize = 1 << 20

// Load resolves the daemon configuration from three layers, lowest
// precedence first: built-in defaults, the YAML file at configPath
// (default ~/.config/loomd/config.yaml), and environment variables
// such as SERVER_HTTP_PORT or PIPELINE_QUEUE_LIMIT.
//
// The file must resolve into one of the allowed config directories
// and be readable by its owner only. Both checks happen before any
// byte of it is parsed.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		dirs, err := configDirs()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dirs[0], "config.yaml")
	}
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	k := koanf.New(".")
	if err := loadFile(k, configPath); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider("", ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	// Unmarshal over the defaults so keys absent from both the file
	// and the environment keep their default values, booleans included.
	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config failed validation: %w", err)
	}
	return cfg, nil
}

// loadFile merges the YAML file at path into k. A missing file is not
// an error. Permission and size checks run against the opened
// descriptor, so the file that passed them is the file that gets
// parsed.
func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file %s: %w", path, err)
	}
	// Windows has a different permission model.
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions %v, want 0600 or 0400", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes, limit %d", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// envToKey maps an environment variable name onto a koanf key:
// SERVER_HTTP_PORT becomes server.http_port. The first underscore
// separates the section; the rest of the name keeps its underscores.
func envToKey(name string) string {
	section, field, ok := strings.Cut(strings.ToLower(name), "_")
	if !ok {
		return section
	}
	return section + "." + field
}

// normalize folds case-insensitive enum fields to lower case before
// validation.
func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	c.Telemetry.Protocol = strings.ToLower(c.Telemetry.Protocol)
}

// configDirs returns the directories a config file may live in. The
// first entry is the per-user directory, also used for the default
// file path and EnsureConfigDir.
func configDirs() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return []string{filepath.Join(home, ".config", "loomd"), "/etc/loomd"}, nil
}

// validateConfigPath rejects paths that resolve outside the allowed
// config directories. Symlinks are followed first so a link cannot
// escape them; files that do not exist yet are validated literally.
func validateConfigPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	dirs, err := configDirs()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if abs == dir || strings.HasPrefix(abs, dir+string(os.PathSeparator)) {
			return nil
		}
	}
	return errors.New("config file must be in ~/.config/loomd/ or /etc/loomd/")
}

// EnsureConfigDir creates the per-user config directory with 0700
// permissions if it does not exist.
func EnsureConfigDir() error {
	dirs, err := configDirs()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dirs[0], 0700); err != nil {
		return fmt.Errorf("failed to create config dir %s: %w", dirs[0], err)
	}
	return nil
}
