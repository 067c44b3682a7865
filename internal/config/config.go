// Package config provides configuration management for the jury client.
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Version        int                      `yaml:"version"`
	Home           string                   `yaml:"home"`
	DefaultChainID uint64                   `yaml:"default_chain_id"`
	Networks       map[uint64]NetworkConfig `yaml:"networks"`
	MockChains     map[uint64]string        `yaml:"mock_chains"`
	Contracts      map[uint64]string        `yaml:"contracts"`
	Relayer        RelayerConfig            `yaml:"relayer"`
	Wallets        []WalletConfig           `yaml:"wallets"`
	NodeProviders  []NodeProviderConfig     `yaml:"node_providers,omitempty"`
	Storage        StorageConfig            `yaml:"storage"`
	Connection     ConnectionConfig         `yaml:"connection"`
	RPC            RPCConfig                `yaml:"rpc"`
	Output         OutputConfig             `yaml:"output"`
	Logging        LoggingConfig            `yaml:"logging"`
}

// NetworkConfig describes one chain the wallets may switch to.
type NetworkConfig struct {
	Name string `yaml:"name"`
	RPC  string `yaml:"rpc"`
}

// RelayerConfig holds the production relayer SDK settings.
type RelayerConfig struct {
	SDKURL                                    string `yaml:"sdk_url"`
	URL                                       string `yaml:"url"`
	ChainID                                   uint64 `yaml:"chain_id"`
	GatewayChainID                            uint64 `yaml:"gateway_chain_id"`
	ACLAddress                                string `yaml:"acl_address"`
	KMSVerifierAddress                        string `yaml:"kms_verifier_address"`
	InputVerifierAddress                      string `yaml:"input_verifier_address"`
	VerifyingContractAddressDecryption        string `yaml:"verifying_contract_address_decryption"`
	VerifyingContractAddressInputVerification string `yaml:"verifying_contract_address_input_verification"`
	TimeoutSeconds                            int    `yaml:"timeout_seconds"`
}

// WalletConfig describes a local HD wallet announced through discovery.
type WalletConfig struct {
	RDNS         string `yaml:"rdns"`
	Name         string `yaml:"name"`
	Icon         string `yaml:"icon,omitempty"`
	SeedFile     string `yaml:"seed_file,omitempty"`
	DevMnemonic  bool   `yaml:"dev_mnemonic,omitempty"`
	AccountCount int    `yaml:"account_count"`
}

// NodeProviderConfig describes a provider backed by node-managed accounts.
type NodeProviderConfig struct {
	RDNS    string `yaml:"rdns"`
	Name    string `yaml:"name"`
	ChainID uint64 `yaml:"chain_id"`
}

// StorageConfig selects the durable key/value backend.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	RedisAddr   string `yaml:"redis_addr,omitempty"`
	RedisDB     int    `yaml:"redis_db,omitempty"`
	RedisPrefix string `yaml:"redis_prefix,omitempty"`
}

// ConnectionConfig tunes the connection manager.
type ConnectionConfig struct {
	ReconnectDelayMS     int `yaml:"reconnect_delay_ms"`
	SwitchTimeoutSeconds int `yaml:"switch_timeout_seconds"`
	ReceiptTimeoutSecs   int `yaml:"receipt_timeout_seconds"`
}

// RPCConfig tunes outbound JSON-RPC traffic.
type RPCConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	RetryAttempts     int     `yaml:"retry_attempts"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
}

// OutputConfig defines output formatting settings.
type OutputConfig struct {
	DefaultFormat string `yaml:"default_format"`
	Color         string `yaml:"color"`
	Verbose       bool   `yaml:"verbose"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads configuration from the specified file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// GetHome returns the jury home directory path.
func (c *Config) GetHome() string {
	return c.Home
}

// NetworkName returns the configured name for a chain, or "" if unknown.
// A nil config knows no networks.
func (c *Config) NetworkName(chainID uint64) string {
	if c == nil {
		return ""
	}
	return c.Networks[chainID].Name
}

// RPCURL returns the node endpoint for a chain, or "" if unknown.
func (c *Config) RPCURL(chainID uint64) string {
	if c == nil {
		return ""
	}
	if n, ok := c.Networks[chainID]; ok && n.RPC != "" {
		return n.RPC
	}
	return c.MockChains[chainID]
}

// ChainIDs returns the configured network chain ids in ascending order.
func (c *Config) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(c.Networks))
	for id := range c.Networks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ReconnectDelay returns the delay before the second silent reconnect attempt.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Connection.ReconnectDelayMS) * time.Millisecond
}

// SwitchTimeout returns how long to wait for a chain change after a switch request.
func (c *Config) SwitchTimeout() time.Duration {
	return time.Duration(c.Connection.SwitchTimeoutSeconds) * time.Second
}

// ReceiptTimeout returns how long writes wait for on-chain confirmation.
func (c *Config) ReceiptTimeout() time.Duration {
	return time.Duration(c.Connection.ReceiptTimeoutSecs) * time.Second
}

// GetLoggingLevel returns the configured logging level.
func (c *Config) GetLoggingLevel() string {
	return c.Logging.Level
}

// GetLoggingFile returns the configured log file path.
func (c *Config) GetLoggingFile() string {
	return c.Logging.File
}

// GetOutputFormat returns the default output format.
func (c *Config) GetOutputFormat() string {
	return c.Output.DefaultFormat
}

// IsVerbose returns true if verbose output is enabled.
func (c *Config) IsVerbose() bool {
	return c.Output.Verbose
}

// DefaultHome returns the default jury home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jury"
	}
	return filepath.Join(home, ".jury")
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if len(path) < 2 || path[:2] != "~/" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}

// defaultHomePrefix is the home the default paths are written against.
const defaultHomePrefix = "~/.jury"

// Rehome points the paths still under the default home at home instead.
func (c *Config) Rehome(home string) {
	if home == "" {
		return
	}
	c.Home = home
	move := func(p string) string {
		if p == defaultHomePrefix {
			return home
		}
		if strings.HasPrefix(p, defaultHomePrefix+"/") {
			return filepath.Join(home, p[len(defaultHomePrefix)+1:])
		}
		return p
	}
	c.Storage.Path = move(c.Storage.Path)
	c.Logging.File = move(c.Logging.File)
	for i := range c.Wallets {
		c.Wallets[i].SeedFile = move(c.Wallets[i].SeedFile)
	}
}
