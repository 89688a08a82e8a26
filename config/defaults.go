package config

import "time"

// Default returns the default wallet configuration.
func Default() *Config {
	return &Config{
		Mint: MintConfig{
			Unit:    "sat",
			Timeout: 30 * time.Second,
		},
		DataDir:    DefaultDataDir(),
		WalletName: "default",
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
