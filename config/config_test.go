package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"peerchat/logging"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	tempDir := t.TempDir()
	clearEnv(t)

	cfg, err := Load(filepath.Join(tempDir, "config.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.Address != DefaultNetworkAddress {
		t.Fatalf("expected default network address, got %q", cfg.Network.Address)
	}
	if cfg.Chat.Address != DefaultChatAddress {
		t.Fatalf("expected default chat address, got %q", cfg.Chat.Address)
	}
	if cfg.Chat.WriteTimeout.Duration != DefaultWriteTimeout {
		t.Fatalf("expected default write timeout, got %s", cfg.Chat.WriteTimeout.Duration)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Fatalf("expected default log level, got %q", cfg.Log.Level)
	}
}

func TestLoadReadsTOMLFile(t *testing.T) {
	tempDir := t.TempDir()
	clearEnv(t)

	path := filepath.Join(tempDir, "config.toml")
	writeFile(t, path, `
[path]
app = "/srv/peerchat"
peer_info = "directory.json"

[network]
address = "0.0.0.0:9000"

[chat]
address = "0.0.0.0:9001"
write_timeout = "750ms"

[log]
level = "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.Address != "0.0.0.0:9000" || cfg.Chat.Address != "0.0.0.0:9001" {
		t.Fatalf("unexpected addresses: %+v %+v", cfg.Network, cfg.Chat)
	}
	if cfg.Chat.WriteTimeout.Duration != 750*time.Millisecond {
		t.Fatalf("unexpected write timeout %s", cfg.Chat.WriteTimeout.Duration)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level %q", cfg.Log.Level)
	}
	if cfg.Path.Events != "events.db" {
		t.Fatalf("expected unset paths to keep defaults, got %q", cfg.Path.Events)
	}

	paths, err := cfg.ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths failed: %v", err)
	}
	if paths.PeerInfo != filepath.Join("/srv/peerchat", "directory.json") {
		t.Fatalf("unexpected peer info path %q", paths.PeerInfo)
	}
}

func TestEnvironmentOverridesFileAndDotenv(t *testing.T) {
	tempDir := t.TempDir()
	clearEnv(t)

	path := filepath.Join(tempDir, "config.toml")
	writeFile(t, path, "[network]\naddress = \"127.0.0.1:9000\"\n")
	writeFile(t, filepath.Join(tempDir, ".env"), "PEERCHAT_CHAT_ADDRESS=127.0.0.1:9100\nPEERCHAT_LOG_LEVEL=warn\n")
	t.Setenv(envNetworkAddress, "127.0.0.1:9200")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Network.Address != "127.0.0.1:9200" {
		t.Fatalf("expected environment to win over file, got %q", cfg.Network.Address)
	}
	if cfg.Chat.Address != "127.0.0.1:9100" {
		t.Fatalf("expected .env chat address, got %q", cfg.Chat.Address)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("expected .env log level, got %q", cfg.Log.Level)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad network address": "[network]\naddress = \"nowhere\"\n",
		"bad chat address":    "[chat]\naddress = \"127.0.0.1\"\n",
		"bad timeout":         "[chat]\nwrite_timeout = \"soon\"\n",
		"negative timeout":    "[chat]\nwrite_timeout = \"-1s\"\n",
		"bad log level":       "[log]\nlevel = \"loud\"\n",
		"not toml":            "[network\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			path := filepath.Join(t.TempDir(), "config.toml")
			writeFile(t, path, body)

			if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadAcceptsEveryLevelTheLoggerAccepts(t *testing.T) {
	for _, level := range []string{"warning", " WARN ", "Debug"} {
		t.Run(level, func(t *testing.T) {
			clearEnv(t)
			path := filepath.Join(t.TempDir(), "config.toml")
			writeFile(t, path, "[log]\nlevel = \""+level+"\"\n")

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load rejected level %q: %v", level, err)
			}
			if _, err := logging.New(cfg.Log.Level); err != nil {
				t.Fatalf("logger rejected level %q: %v", cfg.Log.Level, err)
			}
		})
	}
}

func TestResolvePathsRelativeToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Default()
	paths, err := cfg.ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths failed: %v", err)
	}
	if paths.AppDir != filepath.Join(home, DefaultAppDirectory) {
		t.Fatalf("unexpected app dir %q", paths.AppDir)
	}
	if paths.PrivateKey != filepath.Join(home, DefaultAppDirectory, "keys", "ed25519_private.pem") {
		t.Fatalf("unexpected private key path %q", paths.PrivateKey)
	}

	if err := EnsureAppDirectory(paths); err != nil {
		t.Fatalf("EnsureAppDirectory failed: %v", err)
	}
	if info, err := os.Stat(paths.AppDir); err != nil || !info.IsDir() {
		t.Fatalf("expected app directory to exist: %v", err)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Network.Address = "127.0.0.1:8800"
	cfg.Chat.WriteTimeout = Duration{2 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Network.Address != "127.0.0.1:8800" {
		t.Fatalf("unexpected network address %q", loaded.Network.Address)
	}
	if loaded.Chat.WriteTimeout.Duration != 2*time.Second {
		t.Fatalf("unexpected write timeout %s", loaded.Chat.WriteTimeout.Duration)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{envNetworkAddress, envChatAddress, envAppDirectory, envLogLevel} {
		// Setenv registers the restore; the unset keeps .env values loadable.
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
