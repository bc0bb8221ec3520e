package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultChainID    = 5
	defaultEntryPoint = "0x5ff137d4b0fdcd49dca30c7cf57e578a026d2789"
	defaultDataDir    = ".ch4nn337"
	defaultListen     = "127.0.0.1:8337"
	envPrefix         = "CH4NN337"
)

// Config holds the CLI settings. Values come from flags, then
// CH4NN337_* environment variables, then the config file.
type Config struct {
	RPCURL     string `mapstructure:"rpc-url"`
	BundlerURL string `mapstructure:"bundler-url"`
	ChainID    uint64 `mapstructure:"chain-id"`
	EntryPoint string `mapstructure:"entry-point"`
	Factory    string `mapstructure:"factory"`
	DataDir    string `mapstructure:"data-dir"`
	RelayURL   string `mapstructure:"relay-url"`
	Listen     string `mapstructure:"listen"`
	Remote     bool   `mapstructure:"allow-remote"`
	LogLevel   string `mapstructure:"log-level"`
}

func defaultDataDirPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultDataDir
	}
	return filepath.Join(home, defaultDataDir)
}

func addFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default <data-dir>/config.toml)")
	fs.String("rpc-url", "", "Ethereum JSON-RPC endpoint (also read from ETH_RPC_URL)")
	fs.String("bundler-url", "", "ERC-4337 bundler endpoint (defaults to rpc-url)")
	fs.Uint64("chain-id", defaultChainID, "chain id")
	fs.String("entry-point", defaultEntryPoint, "entry point contract address")
	fs.String("factory", "", "AA channel factory address")
	fs.String("data-dir", defaultDataDirPath(), "directory holding channel records")
	fs.String("relay-url", "", "relay used to exchange operations (default: copy and paste)")
	fs.String("listen", defaultListen, "listen address of the relay command")
	fs.Bool("allow-remote", false, "let the relay serve non-loopback clients (mailboxes are unauthenticated)")
	fs.String("log-level", "info", "log level")
}

// loadConfig merges flags, environment and the optional config file.
func loadConfig(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("rpc-url", envPrefix+"_RPC_URL", "ETH_RPC_URL"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	path := v.GetString("config")
	if path == "" {
		path = filepath.Join(v.GetString("data-dir"), "config.toml")
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) entryPoint() (common.Address, error) {
	if !common.IsHexAddress(c.EntryPoint) {
		return common.Address{}, fmt.Errorf("entry point %q is not an address", c.EntryPoint)
	}
	return common.HexToAddress(c.EntryPoint), nil
}

func (c *Config) factory() (common.Address, error) {
	if !common.IsHexAddress(c.Factory) {
		return common.Address{}, fmt.Errorf("factory %q is not an address", c.Factory)
	}
	return common.HexToAddress(c.Factory), nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	return cfg.Build()
}
