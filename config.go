package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/erc7824/nitrolite/keynode/pkg/log"
)

type Mode string

const (
	ModeProduction Mode = "production"
	ModeTest       Mode = "test"
)

const (
	configDirPathEnv     = "KEYNODE_CONFIG_DIR_PATH"
	defaultConfigDirPath = "."
)

// Config represents the overall application configuration
type Config struct {
	mode              Mode
	rpcListenAddr     string
	metricsListenAddr string
	nodeKeyPath       string
	responseDigest    string
	logConf           log.Config
	dbConf            DatabaseConfig
	keys              []ManifestKey
}

// envConfig is the part of Config read straight from the environment.
type envConfig struct {
	Mode              Mode   `env:"KEYNODE_MODE" env-default:"production" validate:"oneof=production test"`
	RPCListenAddr     string `env:"KEYNODE_RPC_LISTEN_ADDR" env-default:":8000" validate:"required"`
	MetricsListenAddr string `env:"KEYNODE_METRICS_LISTEN_ADDR" env-default:":4242" validate:"required"`
	NodeKeyPath       string `env:"KEYNODE_NODE_KEY_PATH" validate:"required"`
	ResponseDigest    string `env:"KEYNODE_RESPONSE_DIGEST" env-default:"sha256" validate:"digest"`

	Log log.Config `env-prefix:"KEYNODE_"`
}

// LoadConfig builds configuration from environment variables
func LoadConfig(logger log.Logger) (*Config, error) {
	logger = logger.WithName("config")

	configDirPath := os.Getenv(configDirPathEnv)
	if configDirPath == "" {
		configDirPath = defaultConfigDirPath
	}

	configDotEnvPath := filepath.Join(configDirPath, ".env")
	logger.Info("loading .env file", "path", configDotEnvPath)
	if err := godotenv.Load(configDotEnvPath); err != nil {
		logger.Warn(".env file not found")
	}

	var env envConfig
	if err := cleanenv.ReadEnv(&env); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}
	if err := getValidator().Struct(&env); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Info("set mode", "value", env.Mode)

	// KEYNODE_DATABASE_URL takes precedence over the individual variables.
	var dbConf DatabaseConfig
	if dbURL := os.Getenv("KEYNODE_DATABASE_URL"); dbURL != "" {
		var err error
		dbConf, err = ParseConnectionString(dbURL)
		if err != nil {
			logger.Error("failed to parse connection string", "error", err)
			return nil, err
		}
	} else if err := cleanenv.ReadEnv(&dbConf); err != nil {
		return nil, fmt.Errorf("failed to read database env: %w", err)
	}

	keys, err := LoadKeyManifest(configDirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load key manifest: %w", err)
	}
	logger.Info("loaded key manifest", "keys", len(keys))

	return &Config{
		mode:              env.Mode,
		rpcListenAddr:     env.RPCListenAddr,
		metricsListenAddr: env.MetricsListenAddr,
		nodeKeyPath:       resolvePath(configDirPath, env.NodeKeyPath),
		responseDigest:    env.ResponseDigest,
		logConf:           env.Log,
		dbConf:            dbConf,
		keys:              keys,
	}, nil
}

// resolvePath interprets relative paths against the config directory.
func resolvePath(configDirPath, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDirPath, path)
}
