// Package settings loads the editor bridge configuration.
//
// Values are resolved in three layers: built-in defaults, then an optional
// YAML file (by default .unity-mcp/settings.yaml), then UNITY_MCP_* environment
// variables. Watch re-reads the file when it changes on disk.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 8090
	DefaultRequestTimeout = 30 * time.Second
	DefaultInstanceName   = "unity-editor"

	// DefaultPath is the settings file location relative to the project root.
	DefaultPath = ".unity-mcp/settings.yaml"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("settings: invalid value")

// Settings is the resolved configuration surface of the editor bridge.
type Settings struct {
	Port                   int
	RequestTimeout         time.Duration
	AutoStart              bool
	AllowRemoteConnections bool
	VerboseLogging         bool
	InstanceName           string
}

// Default returns the built-in defaults.
func Default() Settings {
	return Settings{
		Port:           DefaultPort,
		RequestTimeout: DefaultRequestTimeout,
		AutoStart:      true,
		InstanceName:   DefaultInstanceName,
	}
}

// Validate reports the first out-of-range value.
func (s Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, s.Port)
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout must be positive, got %s", ErrInvalid, s.RequestTimeout)
	}
	if strings.TrimSpace(s.InstanceName) == "" {
		return fmt.Errorf("%w: instance name is empty", ErrInvalid)
	}
	return nil
}

// LogLevel maps VerboseLogging onto a slog level.
func (s Settings) LogLevel() slog.Level {
	if s.VerboseLogging {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Load resolves defaults, the file at path (a missing file is not an error)
// and the environment, then validates the result.
func Load(path string) (Settings, error) {
	s := Default()
	if path != "" {
		var err error
		s, err = applyFile(s, path)
		if err != nil {
			return Settings{}, err
		}
	}
	s, err := ApplyEnv(s)
	if err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// fileSettings is the on-disk shape. Pointers distinguish "absent" from zero.
type fileSettings struct {
	Port                   *int     `yaml:"port,omitempty"`
	RequestTimeoutSeconds  *float64 `yaml:"request_timeout_seconds,omitempty"`
	AutoStart              *bool    `yaml:"auto_start,omitempty"`
	AllowRemoteConnections *bool    `yaml:"allow_remote_connections,omitempty"`
	VerboseLogging         *bool    `yaml:"verbose_logging,omitempty"`
	InstanceName           *string  `yaml:"instance_name,omitempty"`
}

func applyFile(s Settings, path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("failed to read settings: %w", err)
	}

	var fs fileSettings
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fs); err != nil && !errors.Is(err, io.EOF) {
		return s, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}

	if fs.Port != nil {
		s.Port = *fs.Port
	}
	if fs.RequestTimeoutSeconds != nil {
		s.RequestTimeout = seconds(*fs.RequestTimeoutSeconds)
	}
	if fs.AutoStart != nil {
		s.AutoStart = *fs.AutoStart
	}
	if fs.AllowRemoteConnections != nil {
		s.AllowRemoteConnections = *fs.AllowRemoteConnections
	}
	if fs.VerboseLogging != nil {
		s.VerboseLogging = *fs.VerboseLogging
	}
	if fs.InstanceName != nil {
		s.InstanceName = *fs.InstanceName
	}
	return s, nil
}

// Save writes s to path as YAML, creating the parent directory.
func Save(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	secs := s.RequestTimeout.Seconds()
	fs := fileSettings{
		Port:                   &s.Port,
		RequestTimeoutSeconds:  &secs,
		AutoStart:              &s.AutoStart,
		AllowRemoteConnections: &s.AllowRemoteConnections,
		VerboseLogging:         &s.VerboseLogging,
		InstanceName:           &s.InstanceName,
	}
	data, err := yaml.Marshal(&fs)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return os.Rename(tmp, path)
}

// envSettings captures raw environment overrides. Strings keep "unset"
// distinguishable from a zero value.
type envSettings struct {
	Port           string `env:"UNITY_MCP_WS_PORT"`
	TimeoutSeconds string `env:"UNITY_MCP_TIMEOUT"`
	AutoStart      string `env:"UNITY_MCP_AUTO_START"`
	AllowRemote    string `env:"UNITY_MCP_ALLOW_REMOTE"`
	Verbose        string `env:"UNITY_MCP_VERBOSE"`
	InstanceName   string `env:"UNITY_MCP_INSTANCE"`
}

// ApplyEnv overlays UNITY_MCP_* environment variables onto s.
func ApplyEnv(s Settings) (Settings, error) {
	var env envSettings
	if err := envdecode.Decode(&env); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return s, nil
		}
		return s, fmt.Errorf("failed to decode environment: %w", err)
	}

	if env.Port != "" {
		p, err := strconv.Atoi(env.Port)
		if err != nil {
			return s, fmt.Errorf("%w: UNITY_MCP_WS_PORT=%q", ErrInvalid, env.Port)
		}
		s.Port = p
	}
	if env.TimeoutSeconds != "" {
		f, err := strconv.ParseFloat(env.TimeoutSeconds, 64)
		if err != nil {
			return s, fmt.Errorf("%w: UNITY_MCP_TIMEOUT=%q", ErrInvalid, env.TimeoutSeconds)
		}
		s.RequestTimeout = seconds(f)
	}
	for _, b := range []struct {
		name string
		raw  string
		dst  *bool
	}{
		{"UNITY_MCP_AUTO_START", env.AutoStart, &s.AutoStart},
		{"UNITY_MCP_ALLOW_REMOTE", env.AllowRemote, &s.AllowRemoteConnections},
		{"UNITY_MCP_VERBOSE", env.Verbose, &s.VerboseLogging},
	} {
		if b.raw == "" {
			continue
		}
		v, err := strconv.ParseBool(b.raw)
		if err != nil {
			return s, fmt.Errorf("%w: %s=%q", ErrInvalid, b.name, b.raw)
		}
		*b.dst = v
	}
	if env.InstanceName != "" {
		s.InstanceName = env.InstanceName
	}
	return s, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
