package config

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	DataDir string
	Config  string
	Wallet  string

	// Mint
	MintURL     string
	MintUnit    string
	MintTimeout time.Duration

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string
}

// ParseFlags parses command-line flags from args (without the program
// name).
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("ecash", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.BoolVar(&f.Help, "help", false, "Show help")
	fs.BoolVar(&f.Version, "version", false, "Show version")

	fs.StringVar(&f.DataDir, "datadir", "", "Data directory")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Wallet, "wallet", "", "Wallet name")

	fs.StringVar(&f.MintURL, "mint", "", "Mint base URL")
	fs.StringVar(&f.MintUnit, "unit", "", "Denomination unit")
	fs.DurationVar(&f.MintTimeout, "timeout", 0, "Mint request timeout")

	fs.StringVar(&f.LogLevel, "loglevel", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "logfile", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "logjson", false, "JSON log output")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.Args = fs.Args()
	return f, nil
}

// Apply overlays set flags onto a config. Flags win over file values.
func (f *Flags) Apply(cfg *Config) error {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.Wallet != "" {
		cfg.WalletName = f.Wallet
	}
	if f.MintURL != "" {
		cfg.Mint.URL = f.MintURL
	}
	if f.MintUnit != "" {
		cfg.Mint.Unit = f.MintUnit
	}
	if f.MintTimeout != 0 {
		if f.MintTimeout < 0 {
			return fmt.Errorf("timeout must not be negative")
		}
		cfg.Mint.Timeout = f.MintTimeout
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.LogJSON {
		cfg.Log.JSON = true
	}
	return nil
}

// Load builds the effective config: defaults, then the config file,
// then flags.
func Load(f *Flags) (*Config, error) {
	cfg := Default()
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	path := f.Config
	if path == "" {
		path = cfg.ConfigFile()
	}
	values, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, values); err != nil {
		return nil, err
	}
	if err := f.Apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
