// Package config handles wallet configuration: the mint to talk to,
// where data lives on disk, and operational knobs like timeouts and
// logging. None of it affects protocol semantics.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Config holds the wallet's runtime configuration.
type Config struct {
	// Mint settings
	Mint MintConfig

	// DataDir is the root directory for keystore and proof storage.
	DataDir string `conf:"datadir"`

	// WalletName selects which wallet file in the keystore to use.
	WalletName string `conf:"wallet.name"`

	// Logging
	Log LogConfig
}

// MintConfig holds issuer connection settings.
type MintConfig struct {
	URL     string        `conf:"mint.url"`
	Unit    string        `conf:"mint.unit"`
	Timeout time.Duration `conf:"mint.timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet-ecash
//	macOS:   ~/Library/Application Support/KlingnetEcash
//	Windows: %APPDATA%\KlingnetEcash
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-ecash"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetEcash")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KlingnetEcash")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingnetEcash")
	default:
		return filepath.Join(home, ".klingnet-ecash")
	}
}

// KeystoreDir returns the encrypted wallet file directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.DataDir, "keystore")
}

// ProofDBDir returns the proof/counter database directory.
func (c *Config) ProofDBDir() string {
	return filepath.Join(c.DataDir, "proofs")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "ecash.conf")
}
