package config

import (
	"os"
	"strconv"
	"strings"
	"unicode"
)

// Environment variable names.
const (
	EnvHome             = "JURY_HOME"
	EnvRPCURL           = "JURY_RPC_URL"
	EnvChainID          = "JURY_CHAIN_ID"
	EnvContract         = "JURY_CONTRACT"
	EnvOutputFormat     = "JURY_OUTPUT_FORMAT"
	EnvVerbose          = "JURY_VERBOSE"
	EnvLogLevel         = "JURY_LOG_LEVEL"
	EnvStorage          = "JURY_STORAGE"
	EnvRedisAddr        = "JURY_REDIS_ADDR"
	EnvRelayerURL       = "JURY_RELAYER_URL"
	EnvWalletPassphrase = "JURY_WALLET_PASSPHRASE" // #nosec G101 -- false positive, this is a const name not a credential
	EnvNoColor          = "NO_COLOR"
)

// ApplyEnvironment applies environment variable overrides to the configuration.
//
//nolint:gocognit,gocyclo // Environment variable overrides require sequential checks
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv(EnvChainID); v != "" {
		if id, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil && id > 0 {
			cfg.DefaultChainID = id
		}
	}

	// JURY_RPC_URL overrides the endpoint of the default chain
	if v := os.Getenv(EnvRPCURL); v != "" {
		if cfg.Networks == nil {
			cfg.Networks = map[uint64]NetworkConfig{}
		}
		n := cfg.Networks[cfg.DefaultChainID]
		n.RPC = SanitizeURL(v)
		cfg.Networks[cfg.DefaultChainID] = n
	}

	// JURY_CONTRACT sets the contract address for the default chain
	if v := os.Getenv(EnvContract); v != "" {
		if cfg.Contracts == nil {
			cfg.Contracts = map[uint64]string{}
		}
		cfg.Contracts[cfg.DefaultChainID] = strings.TrimSpace(v)
	}

	if v := os.Getenv(EnvOutputFormat); v != "" {
		cfg.Output.DefaultFormat = strings.ToLower(v)
	}

	if v := os.Getenv(EnvVerbose); v != "" {
		cfg.Output.Verbose = parseBool(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	if v := os.Getenv(EnvStorage); v != "" {
		cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Storage.RedisAddr = strings.TrimSpace(v)
	}

	if v := os.Getenv(EnvRelayerURL); v != "" {
		cfg.Relayer.URL = SanitizeURL(v)
	}

	// NO_COLOR disables colored output
	if _, ok := os.LookupEnv(EnvNoColor); ok {
		cfg.Output.Color = "never"
	}
}

// WalletPassphrase returns the passphrase supplied through the environment, if any.
func WalletPassphrase() (string, bool) {
	v, ok := os.LookupEnv(EnvWalletPassphrase)
	return v, ok && v != ""
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}

// SanitizeURL trims whitespace and strips control and space characters
// left behind by copy-paste.
func SanitizeURL(url string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(url))
}
