// Package config provides configuration file support for codex-tools-mcp.
// Settings are read from the "server:" section of a YAML or TOML file and
// merged with command line flags.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
)

// DefaultName is the server name reported in the initialize handshake
const DefaultName = "codex-tools-mcp"

// LockDisabled as lock_dir turns off cross-process patch locking
const LockDisabled = "-"

// LevelOff is above every level the server logs at
const LevelOff = slog.Level(12)

// ServerConfig represents the server section of a config file.
// It doubles as the set of flag overrides.
type ServerConfig struct {
	Name     string `yaml:"name" toml:"name"`
	LogLevel string `yaml:"log_level" toml:"log_level"`
	Workdir  string `yaml:"workdir" toml:"workdir"`
	LockDir  string `yaml:"lock_dir" toml:"lock_dir"`
}

type configWrapper struct {
	Server ServerConfig `yaml:"server" toml:"server"`
}

// LoadConfig loads server configuration from a YAML or TOML file, chosen by
// extension. Other sections of the file are ignored.
func LoadConfig(path string) (*ServerConfig, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, ErrConfigPathEmpty()
	}

	data, err := os.ReadFile(trimmedPath)
	if err != nil {
		return nil, WrapReadError(trimmedPath, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrConfigEmpty(trimmedPath)
	}

	var wrapper configWrapper
	switch ext := strings.ToLower(filepath.Ext(trimmedPath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &wrapper); err != nil {
			return nil, ErrConfigInvalidYAML(trimmedPath, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &wrapper); err != nil {
			return nil, ErrConfigInvalidTOML(trimmedPath, err)
		}
	default:
		return nil, ErrConfigUnsupportedFormat(trimmedPath, ext)
	}

	return &wrapper.Server, nil
}

// Settings are the values the server runs with
type Settings struct {
	Name    string
	Level   slog.Level
	Workdir string
	// LockDir is empty when locking is disabled
	LockDir string
}

// Resolve merges flag values over cfg and fills in defaults.
// Precedence: flag > config file > default. cfg may be nil.
func Resolve(flags ServerConfig, cfg *ServerConfig) (*Settings, error) {
	if cfg == nil {
		cfg = &ServerConfig{}
	}

	level, err := ParseLevel(ResolveValue(flags.LogLevel, cfg.LogLevel))
	if err != nil {
		return nil, err
	}

	name := ResolveValue(flags.Name, cfg.Name)
	if name == "" {
		name = DefaultName
	}

	workdir, err := resolveWorkdir(ResolveValue(flags.Workdir, cfg.Workdir))
	if err != nil {
		return nil, err
	}

	lockDir := ResolveValue(flags.LockDir, cfg.LockDir)
	switch lockDir {
	case "":
		lockDir = os.TempDir()
	case LockDisabled:
		lockDir = ""
	}

	return &Settings{
		Name:    name,
		Level:   level,
		Workdir: workdir,
		LockDir: lockDir,
	}, nil
}

func resolveWorkdir(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", ErrInvalidWorkdir(".", err)
		}
		return wd, nil
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", ErrInvalidWorkdir(dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", ErrInvalidWorkdir(abs, err)
	}
	if !info.IsDir() {
		return "", ErrInvalidWorkdir(abs, nil)
	}
	return abs, nil
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "off", "none":
		return LevelOff, nil
	default:
		return 0, ErrInvalidLogLevel(name)
	}
}

// ResolveValue returns the explicit value if non-empty, otherwise the config value.
func ResolveValue(explicit, configValue string) string {
	if explicit != "" {
		return explicit
	}
	return configValue
}
