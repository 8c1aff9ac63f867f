// Package config loads shareboard settings from flags, the environment, an
// optional YAML file and built-in defaults, in that order of priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/BioHazard786/shareboard/internal/board"
	"github.com/BioHazard786/shareboard/internal/mesh"
	"github.com/BioHazard786/shareboard/internal/transfer"
)

// Default configuration values
const (
	DefaultRelayURL   = "ws://localhost:8080/ws"
	DefaultSTUN       = "stun:stun.l.google.com:19302"
	DefaultListenAddr = ":8080"
	DefaultSecret     = "fallback-secret-for-dev"

	FileName = "config.yaml"
)

// Relay policies for ICE.
const (
	RelayAuto   = "auto"
	RelayAlways = "always"
	RelayNever  = "never"
)

// Config holds application configuration
type Config struct {
	// RelayURL is the websocket endpoint of the signaling relay.
	RelayURL string `yaml:"relay_url" env:"SHAREBOARD_RELAY_URL"`

	// Room overrides the network room the relay assigns.
	Room string `yaml:"room" env:"SHAREBOARD_ROOM"`

	// ICE servers for WebRTC
	STUNServer  string `yaml:"stun_server" env:"STUN_SERVER"`
	TURNServer  string `yaml:"turn_server" env:"TURN_SERVER"`
	TURNUser    string `yaml:"turn_username" env:"TURN_USERNAME"`
	TURNPass    string `yaml:"turn_password" env:"TURN_PASSWORD"`
	RelayPolicy string `yaml:"relay_policy" env:"SHAREBOARD_RELAY_POLICY"`

	DataDir string        `yaml:"data_dir" env:"SHAREBOARD_DATA_DIR"`
	TTL     time.Duration `yaml:"ttl" env:"SHAREBOARD_TTL"`
	Pacing  time.Duration `yaml:"pacing" env:"SHAREBOARD_PACING"`

	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	MetricsAddr string `yaml:"metrics_addr" env:"SHAREBOARD_METRICS_ADDR"`

	// Relay server settings
	ListenAddr string `yaml:"listen_addr" env:"SHAREBOARD_LISTEN_ADDR"`
	Secret     string `yaml:"secret" env:"SHAREBOARD_SECRET"`
	Dev        bool   `yaml:"dev" env:"SHAREBOARD_DEV"`
}

// Options carries CLI flag overrides. Zero values mean the flag was not set;
// Pacing is a pointer so an explicit zero can disable pacing.
type Options struct {
	File        string
	RelayURL    string
	Room        string
	STUNServer  string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	RelayPolicy string
	DataDir     string
	TTL         time.Duration
	Pacing      *time.Duration
	LogLevel    string
	MetricsAddr string
	ListenAddr  string
	Secret      string
	Dev         bool

	// Environ replaces the process environment when non-nil.
	Environ map[string]string
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		RelayURL:    DefaultRelayURL,
		STUNServer:  DefaultSTUN,
		RelayPolicy: RelayAuto,
		DataDir:     DefaultDataDir(),
		TTL:         board.DefaultTTL,
		Pacing:      transfer.DefaultPacing,
		ListenAddr:  DefaultListenAddr,
		Secret:      DefaultSecret,
	}
}

// DefaultDataDir is where device state and payloads live.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "shareboard")
	}
	return ".shareboard"
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. YAML file (Options.File, or config.yaml in the data dir)
// 4. Hardcoded defaults - lowest priority
func Load(fs afero.Fs, opts Options) (*Config, error) {
	cfg := Defaults()
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}

	path := opts.File
	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.DataDir, FileName)
	}
	if err := loadFile(fs, path, &cfg, explicit); err != nil {
		return nil, err
	}

	envOpts := env.Options{}
	if opts.Environ != nil {
		envOpts.Environment = opts.Environ
	}
	if err := env.ParseWithOptions(&cfg, envOpts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	opts.apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(fs afero.Fs, path string, cfg *Config, required bool) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (o Options) apply(cfg *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.RelayURL, o.RelayURL)
	set(&cfg.Room, o.Room)
	set(&cfg.STUNServer, o.STUNServer)
	set(&cfg.TURNServer, o.TURNServer)
	set(&cfg.TURNUser, o.TURNUser)
	set(&cfg.TURNPass, o.TURNPass)
	set(&cfg.RelayPolicy, o.RelayPolicy)
	set(&cfg.DataDir, o.DataDir)
	set(&cfg.LogLevel, o.LogLevel)
	set(&cfg.MetricsAddr, o.MetricsAddr)
	set(&cfg.ListenAddr, o.ListenAddr)
	set(&cfg.Secret, o.Secret)
	if o.TTL > 0 {
		cfg.TTL = o.TTL
	}
	if o.Pacing != nil {
		cfg.Pacing = *o.Pacing
	}
	if o.Dev {
		cfg.Dev = true
	}
}

// Validate checks values that cannot be fixed up silently.
func (c *Config) Validate() error {
	switch c.RelayPolicy {
	case RelayAuto, RelayAlways, RelayNever:
	default:
		return fmt.Errorf("invalid relay policy %q (want auto, always or never)", c.RelayPolicy)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("invalid ttl %s", c.TTL)
	}
	if c.Pacing < 0 {
		return fmt.Errorf("invalid pacing %s", c.Pacing)
	}
	if !strings.HasPrefix(c.RelayURL, "ws://") && !strings.HasPrefix(c.RelayURL, "wss://") {
		return fmt.Errorf("relay url must start with ws:// or wss://: %q", c.RelayURL)
	}
	return nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured. A bare host expands
// to the usual UDP, TCP and TLS endpoints.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	if strings.Contains(c.TURNServer, "?") || strings.Count(c.TURNServer, ":") > 1 {
		return []string{c.TURNServer}
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turns:"), "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// ICE returns the peer connection settings. The auto relay policy forces
// TURN, when one is configured, if the host looks like it sits behind a VPN
// or CGNAT.
func (c *Config) ICE() mesh.ICEConfig {
	relayOnly := false
	switch c.RelayPolicy {
	case RelayAlways:
		relayOnly = true
	case RelayAuto:
		relayOnly = len(c.GetTURNServers()) > 0 && mesh.ShouldForceRelay()
	}
	return mesh.ICEConfig{
		STUN:      c.GetSTUNServers(),
		TURN:      c.GetTURNServers(),
		TURNUser:  c.TURNUser,
		TURNPass:  c.TURNPass,
		RelayOnly: relayOnly,
	}
}

// PayloadDir is where received and shared files are stored.
func (c *Config) PayloadDir() string {
	return filepath.Join(c.DataDir, "payloads")
}

// SnapshotPath is where the board is persisted between runs.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "board.snapshot")
}
