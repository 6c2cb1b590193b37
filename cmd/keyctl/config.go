package main

import (
	"flag"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the keyctl connection settings. Flags override the
// environment and a positional argument overrides -url.
type Config struct {
	URL             string `env:"KEYCTL_URL" env-default:"ws://localhost:8000/ws" env-description:"keynode WebSocket URL" validate:"required,url"`
	NodeFingerprint string `env:"KEYCTL_NODE_FINGERPRINT" env-description:"expected node key fingerprint, 0x-hex SHA-256 of the PKIX key" validate:"omitempty,hexadecimal,len=66"`
}

func loadConfig(args []string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read env: %w", err)
	}

	fs := flag.NewFlagSet("keyctl", flag.ContinueOnError)
	fs.StringVar(&cfg.URL, "url", cfg.URL, "keynode WebSocket URL")
	fs.StringVar(&cfg.NodeFingerprint, "fingerprint", cfg.NodeFingerprint, "pin the node key to this fingerprint")
	header := "Usage: keyctl [flags] [keynode_ws_url]"
	fs.Usage = cleanenv.FUsage(fs.Output(), &cfg, &header, fs.PrintDefaults)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		cfg.URL = fs.Arg(0)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
