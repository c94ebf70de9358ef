package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"peerchat/logging"
)

const (
	// DefaultConfigFile is the config path used when --config is not given.
	DefaultConfigFile = "config.toml"
	// DefaultAppDirectory is resolved relative to $HOME.
	DefaultAppDirectory = ".peerchat"
	// DefaultNetworkAddress is where the discovery server listens.
	DefaultNetworkAddress = "127.0.0.1:7040"
	// DefaultChatAddress is where the chat hub listens.
	DefaultChatAddress = "127.0.0.1:7041"
	// DefaultWriteTimeout bounds a single chat write to one peer.
	DefaultWriteTimeout = 5 * time.Second
	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"

	envNetworkAddress = "PEERCHAT_NETWORK_ADDRESS"
	envChatAddress    = "PEERCHAT_CHAT_ADDRESS"
	envAppDirectory   = "PEERCHAT_APP_DIR"
	envLogLevel       = "PEERCHAT_LOG_LEVEL"

	dotenvFileName = ".env"
)

// ErrInvalidConfig marks config values that fail validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config mirrors the TOML config file.
type Config struct {
	Path    PathConfig    `toml:"path"`
	Network NetworkConfig `toml:"network"`
	Chat    ChatConfig    `toml:"chat"`
	Log     LogConfig     `toml:"log"`
}

// PathConfig holds file locations. Every entry except App is relative to App
// unless absolute.
type PathConfig struct {
	App           string `toml:"app"`
	PrivateKey    string `toml:"private_key"`
	PublicKey     string `toml:"public_key"`
	BoxPrivateKey string `toml:"box_private_key"`
	BoxPublicKey  string `toml:"box_public_key"`
	PeerInfo      string `toml:"peer_info"`
	Events        string `toml:"events"`
}

type NetworkConfig struct {
	Address string `toml:"address"`
}

type ChatConfig struct {
	Address      string   `toml:"address"`
	WriteTimeout Duration `toml:"write_timeout"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Duration decodes Go duration strings such as "5s" from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Paths are the resolved absolute locations derived from PathConfig.
type Paths struct {
	AppDir        string
	PrivateKey    string
	PublicKey     string
	BoxPrivateKey string
	BoxPublicKey  string
	PeerInfo      string
	Events        string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Path: PathConfig{
			App:           DefaultAppDirectory,
			PrivateKey:    filepath.Join("keys", "ed25519_private.pem"),
			PublicKey:     filepath.Join("keys", "ed25519_public.pem"),
			BoxPrivateKey: filepath.Join("keys", "x25519_private.pem"),
			BoxPublicKey:  filepath.Join("keys", "x25519_public.pem"),
			PeerInfo:      "peers.json",
			Events:        "events.db",
		},
		Network: NetworkConfig{Address: DefaultNetworkAddress},
		Chat: ChatConfig{
			Address:      DefaultChatAddress,
			WriteTimeout: Duration{DefaultWriteTimeout},
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

// Load reads the TOML file at path over the defaults, applies .env and
// environment overrides, then validates the result.
//
// A missing file is not an error: the defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: parse %q: %v", ErrInvalidConfig, path, err)
		}
	}

	if err := loadDotenv(filepath.Join(filepath.Dir(path), dotenvFileName)); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as TOML with 0600 permissions.
func Save(path string, cfg *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create config directory %q: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks addresses, timeouts and the log level.
func (c *Config) Validate() error {
	if err := validateAddress("network.address", c.Network.Address); err != nil {
		return err
	}
	if err := validateAddress("chat.address", c.Chat.Address); err != nil {
		return err
	}
	if c.Chat.WriteTimeout.Duration <= 0 {
		return fmt.Errorf("%w: chat.write_timeout must be positive, got %s", ErrInvalidConfig, c.Chat.WriteTimeout.Duration)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}

	if strings.TrimSpace(c.Path.App) == "" {
		return fmt.Errorf("%w: path.app is empty", ErrInvalidConfig)
	}
	return nil
}

// ResolvePaths turns PathConfig into absolute paths. path.app is relative to
// $HOME unless absolute.
func (c *Config) ResolvePaths() (Paths, error) {
	appDir := c.Path.App
	if !filepath.IsAbs(appDir) {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("resolve user home: %w", err)
		}
		appDir = filepath.Join(home, appDir)
	}

	within := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(appDir, p)
	}

	return Paths{
		AppDir:        appDir,
		PrivateKey:    within(c.Path.PrivateKey),
		PublicKey:     within(c.Path.PublicKey),
		BoxPrivateKey: within(c.Path.BoxPrivateKey),
		BoxPublicKey:  within(c.Path.BoxPublicKey),
		PeerInfo:      within(c.Path.PeerInfo),
		Events:        within(c.Path.Events),
	}, nil
}

// EnsureAppDirectory creates the application directory if needed.
func EnsureAppDirectory(paths Paths) error {
	if err := os.MkdirAll(paths.AppDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", paths.AppDir, err)
	}
	return nil
}

func loadDotenv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: load %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(envNetworkAddress)); v != "" {
		c.Network.Address = v
	}
	if v := strings.TrimSpace(os.Getenv(envChatAddress)); v != "" {
		c.Chat.Address = v
	}
	if v := strings.TrimSpace(os.Getenv(envAppDirectory)); v != "" {
		c.Path.App = v
	}
	if v := strings.TrimSpace(os.Getenv(envLogLevel)); v != "" {
		c.Log.Level = v
	}
}

// fillDefaults restores entries a file explicitly blanked.
func (c *Config) fillDefaults() {
	def := Default()
	fill := func(dst *string, fallback string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = fallback
		}
	}
	fill(&c.Path.PrivateKey, def.Path.PrivateKey)
	fill(&c.Path.PublicKey, def.Path.PublicKey)
	fill(&c.Path.BoxPrivateKey, def.Path.BoxPrivateKey)
	fill(&c.Path.BoxPublicKey, def.Path.BoxPublicKey)
	fill(&c.Path.PeerInfo, def.Path.PeerInfo)
	fill(&c.Path.Events, def.Path.Events)
	fill(&c.Log.Level, def.Log.Level)
}

func validateAddress(name, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalidConfig, name, addr, err)
	}
	if port == "" {
		return fmt.Errorf("%w: %s %q has no port", ErrInvalidConfig, name, addr)
	}
	return nil
}
