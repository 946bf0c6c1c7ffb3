package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vaultbridge/redeemer/internal/logging"
	"github.com/vaultbridge/redeemer/internal/util"
	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Chain   ChainConfig   `yaml:"chain"`
	Redeem  RedeemConfig  `yaml:"redeem"`
	Bitcoin BitcoinConfig `yaml:"bitcoin"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// ChainConfig contains settings for the ledger holding redeem requests
type ChainConfig struct {
	RPCURL         string `yaml:"rpc_url"`
	WSEndpoint     string `yaml:"ws_endpoint"`     // required for head subscriptions
	ChainID        int64  `yaml:"chain_id"`
	FinalityDepth  uint64 `yaml:"finality_depth"`  // blocks behind head considered final
	RedeemContract string `yaml:"redeem_contract"` // redeem module contract address
	SignerKeyFile  string `yaml:"signer_key_file"` // hex private key; empty = read-only
	MockMode       bool   `yaml:"mock_mode"`       // in-memory ledger

	Retry util.RetryConfig `yaml:"retry"`
}

// RedeemConfig contains defaults applied to redeem requests issued by the daemon
type RedeemConfig struct {
	Atomic        bool     `yaml:"atomic"`
	Retries       int      `yaml:"retries"`
	WatchAccounts []string `yaml:"watch_accounts"` // accounts whose requests are watched for expiry
}

// BitcoinConfig contains settings for payment proof lookups
type BitcoinConfig struct {
	EsploraURL        string  `yaml:"esplora_url"`
	Network           string  `yaml:"network"` // mainnet, testnet, signet, regtest
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// MetricsConfig contains Prometheus exporter settings
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // empty disables the endpoint
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Chain: ChainConfig{
			RPCURL:        "http://127.0.0.1:8545",
			WSEndpoint:    "ws://127.0.0.1:8546",
			ChainID:       1,
			FinalityDepth: 12,
			Retry:         *util.DefaultRetryConfig(),
		},
		Redeem: RedeemConfig{
			Atomic:  false,
			Retries: 0,
		},
		Bitcoin: BitcoinConfig{
			EsploraURL:        "https://blockstream.info/api",
			Network:           "mainnet",
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9464",
		},
	}
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	if !c.Chain.MockMode {
		if c.Chain.RPCURL == "" {
			return fmt.Errorf("chain.rpc_url is required when mock_mode is false")
		}
		if c.Chain.ChainID <= 0 {
			return fmt.Errorf("invalid chain_id: %d", c.Chain.ChainID)
		}
		if err := validateEthAddress("redeem_contract", c.Chain.RedeemContract); err != nil {
			return err
		}
		if c.Bitcoin.EsploraURL == "" {
			return fmt.Errorf("bitcoin.esplora_url is required when mock_mode is false")
		}
	}

	if c.Redeem.Retries < 0 {
		return fmt.Errorf("redeem.retries must not be negative, got %d", c.Redeem.Retries)
	}
	for i, acct := range c.Redeem.WatchAccounts {
		if err := validateEthAddress(fmt.Sprintf("watch_accounts[%d]", i), acct); err != nil {
			return err
		}
	}

	switch c.Bitcoin.Network {
	case "mainnet", "testnet", "signet", "regtest":
	default:
		return fmt.Errorf("invalid bitcoin network: %s", c.Bitcoin.Network)
	}
	if c.Bitcoin.RequestsPerSecond <= 0 {
		return fmt.Errorf("bitcoin.requests_per_second must be positive")
	}

	return nil
}

// validateEthAddress checks that an Ethereum address is 0x-prefixed, 40 hex chars, and non-zero.
func validateEthAddress(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", name)
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("%s must start with 0x, got %q", name, addr)
	}
	hexPart := addr[2:]
	if len(hexPart) != 40 {
		return fmt.Errorf("%s must be 42 characters (0x + 40 hex), got %d", name, len(addr))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("%s contains invalid hex characters: %w", name, err)
	}
	if strings.Trim(hexPart, "0") == "" {
		return fmt.Errorf("%s must not be the zero address", name)
	}
	return nil
}

// expandPaths expands ~ in all path fields
func (c *Config) expandPaths() {
	c.Chain.SignerKeyFile = expandPath(c.Chain.SignerKeyFile)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".redeemer", "config.yaml")
}
