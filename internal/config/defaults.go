package config

// Well-known chain ids.
const (
	ChainIDMainnet = 1
	ChainIDSepolia = 11155111
	ChainIDHardhat = 31337
)

// DefaultHardhatRPC is the local development node endpoint.
const DefaultHardhatRPC = "http://localhost:8545"

// DefaultRelayerSDKURL is the relayer SDK bundle the production loader fetches.
const DefaultRelayerSDKURL = "https://cdn.zama.org/relayer-sdk-js/0.3.0-5/relayer-sdk-js.umd.cjs"

// DefaultRelayerURL is the public testnet relayer.
const DefaultRelayerURL = "https://relayer.testnet.zama.cloud"

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version:        1,
		Home:           "~/.jury",
		DefaultChainID: ChainIDHardhat,
		Networks: map[uint64]NetworkConfig{
			ChainIDMainnet: {Name: "Ethereum", RPC: "https://ethereum-rpc.publicnode.com"},
			ChainIDSepolia: {Name: "Sepolia", RPC: "https://ethereum-sepolia-rpc.publicnode.com"},
			ChainIDHardhat: {Name: "Hardhat Local", RPC: DefaultHardhatRPC},
		},
		MockChains: map[uint64]string{
			ChainIDHardhat: DefaultHardhatRPC,
		},
		Contracts: map[uint64]string{},
		Relayer: RelayerConfig{
			SDKURL:                                    DefaultRelayerSDKURL,
			URL:                                       DefaultRelayerURL,
			ChainID:                                   ChainIDSepolia,
			GatewayChainID:                            55815,
			ACLAddress:                                "0xf0Ffdc93b7E186bC2f8CB3dAA75D86d1930A433D",
			KMSVerifierAddress:                        "0xbE0E383937d564D7FF0BC3b46c51f0bF8d5C311A",
			InputVerifierAddress:                      "0xBBC1fFCdc7C316aAAd72E807D9b0272BE8F84DA0",
			VerifyingContractAddressDecryption:        "0x5D8BD78e2ea6bbE41f26dFe9fdaEAa349e077478",
			VerifyingContractAddressInputVerification: "0x483b9dE06E4E4C7D35CCf5837A1668487406D955",
			TimeoutSeconds:                            30,
		},
		Wallets: []WalletConfig{
			{
				RDNS:         "local.jury.devwallet",
				Name:         "Jury Dev Wallet",
				DevMnemonic:  true,
				AccountCount: 5,
			},
		},
		Storage: StorageConfig{
			Backend:     "file",
			Path:        "~/.jury/state",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "jury:",
		},
		Connection: ConnectionConfig{
			ReconnectDelayMS:     500,
			SwitchTimeoutSeconds: 10,
			ReceiptTimeoutSecs:   120,
		},
		RPC: RPCConfig{
			RequestsPerSecond: 10,
			Burst:             20,
			RetryAttempts:     3,
			TimeoutSeconds:    30,
		},
		Output: OutputConfig{
			DefaultFormat: "auto",
			Color:         "auto",
			Verbose:       false,
		},
		Logging: LoggingConfig{
			Level:      "error",
			File:       "~/.jury/jury.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}
