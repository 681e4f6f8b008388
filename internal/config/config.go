package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend transport modes.
const (
	ModeStream  = "stream"
	ModeOneShot = "oneshot"
)

// Sandbox runtimes for the reference backend.
const (
	RuntimeLocal  = "local"
	RuntimeDocker = "docker"
)

type BackendConfig struct {
	URL  string `mapstructure:"url"`
	Mode string `mapstructure:"mode"`
}

type ShareConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type WorkspaceConfig struct {
	DefaultExt string `mapstructure:"default_ext"`
}

type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	DBPath string `mapstructure:"db_path"`
}

type SandboxConfig struct {
	Runtime   string        `mapstructure:"runtime"`
	PythonBin string        `mapstructure:"python_bin"`
	Images    []string      `mapstructure:"images"`
	MaxMemory string        `mapstructure:"max_memory"`
	Network   bool          `mapstructure:"network"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Share     ShareConfig     `mapstructure:"share"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Server    ServerConfig    `mapstructure:"server"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
}

// Load reads playground.yaml from path, or from . and $HOME/.playground when
// path is empty. A missing file is not an error. PLAYGROUND_* environment
// variables override file values (PLAYGROUND_BACKEND_URL for backend.url).
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("playground")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.playground")
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PLAYGROUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	home := os.Getenv("HOME")
	v.SetDefault("backend.url", "http://localhost:5000")
	v.SetDefault("backend.mode", ModeStream)
	v.SetDefault("share.base_url", "")
	v.SetDefault("storage.db_path", filepath.Join(home, ".playground", "playground.db"))
	v.SetDefault("workspace.default_ext", ".py")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.db_path", filepath.Join(home, ".playground", "shares.db"))
	v.SetDefault("sandbox.runtime", RuntimeLocal)
	v.SetDefault("sandbox.python_bin", "python3")
	v.SetDefault("sandbox.images", []string{})
	v.SetDefault("sandbox.max_memory", "256m")
	v.SetDefault("sandbox.network", false)
	v.SetDefault("sandbox.timeout", 30*time.Second)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Backend.Mode {
	case ModeStream, ModeOneShot:
	default:
		return fmt.Errorf("unsupported backend.mode %q (want %s or %s)", c.Backend.Mode, ModeStream, ModeOneShot)
	}
	switch c.Sandbox.Runtime {
	case RuntimeLocal, RuntimeDocker:
	default:
		return fmt.Errorf("unsupported sandbox.runtime %q (want %s or %s)", c.Sandbox.Runtime, RuntimeLocal, RuntimeDocker)
	}
	if c.Workspace.DefaultExt != "" && !strings.HasPrefix(c.Workspace.DefaultExt, ".") {
		c.Workspace.DefaultExt = "." + c.Workspace.DefaultExt
	}
	return nil
}

// ShareBase is the page share links point at, defaulting to the backend.
func (c *Config) ShareBase() string {
	if c.Share.BaseURL != "" {
		return c.Share.BaseURL
	}
	return c.Backend.URL
}
