package config

import (
	"fmt"
	"net/url"
)

// Validate checks the wallet config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Mint.URL == "" {
		return fmt.Errorf("mint.url is required")
	}
	u, err := url.Parse(cfg.Mint.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("mint.url must be an http(s) URL")
	}
	if cfg.Mint.Unit == "" {
		return fmt.Errorf("mint.unit is required")
	}
	if cfg.Mint.Timeout < 0 {
		return fmt.Errorf("mint.timeout must not be negative")
	}
	if cfg.WalletName == "" {
		return fmt.Errorf("wallet.name is required")
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error")
	}
	return nil
}
