package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/kvstore"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

// configCmd is the parent command for configuration operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and modify jury configuration settings.`,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	Long: `Create a default configuration file at ~/.jury/config.yaml.

If a configuration file already exists, this command will not overwrite it
unless --force is specified.`,
	Example: `  jury config init
  jury config init --force`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration, after environment overrides.`,
	Example: `  jury config show
  jury config show -o json`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Long:  `Print the path of the configuration file for the active home.`,
	Example: `  jury config path
  jury --home /tmp/jury config path`,
	Args: cobra.NoArgs,
	RunE: runConfigPath,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Get a configuration value",
	Long: `Get a specific configuration value by its path.

The path uses dot notation. Chain-keyed sections take the chain id.`,
	Example: `  jury config get default_chain_id
  jury config get networks.31337.rpc
  jury config get contracts.11155111
  jury config get storage.backend`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configSetCmd = &cobra.Command{
	Use:   "set <path> <value>",
	Short: "Set a configuration value",
	Long: `Set a specific configuration value by its path.

The configuration file is updated immediately.`,
	Example: `  jury config set contracts.31337 0x5FbDB2315678afecb367f032d93F642f64180aa3
  jury config set networks.31337.rpc http://127.0.0.1:8545
  jury config set storage.backend badger
  jury config set logging.level debug`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var configForce bool

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.GroupID = "config"
	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd, configGetCmd, configSetCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite existing configuration")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	configPath := config.Path(cfg.Home)

	if _, err := os.Stat(configPath); err == nil && !configForce {
		return juryerr.WithSuggestion(
			juryerr.ErrGeneral,
			fmt.Sprintf("configuration already exists at %s. Use --force to overwrite.", configPath),
		)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	defaultCfg := config.Defaults()
	defaultCfg.Rehome(cfg.Home)
	if err := config.Save(defaultCfg, configPath); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	w := cmd.OutOrStdout()
	out(w, "Configuration initialized at %s\n", configPath)
	outln(w)
	outln(w, "Edit this file to configure:")
	outln(w, "  - contracts.<chain-id>: FHECraftJury deployment addresses")
	outln(w, "  - networks.<chain-id>.rpc: RPC endpoints")
	outln(w, "  - storage.backend: file, badger or redis")
	outln(w, "  - logging.level: Log level (off/error/debug)")

	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	outln(cmd.OutOrStdout(), config.Path(cfg.Home))
	return nil
}

type networkView struct {
	ChainID  uint64 `json:"chain_id"`
	Name     string `json:"name"`
	RPC      string `json:"rpc"`
	Mock     bool   `json:"mock"`
	Contract string `json:"contract,omitempty"`
}

type walletView struct {
	RDNS     string `json:"rdns"`
	Name     string `json:"name"`
	Source   string `json:"source"`
	Accounts int    `json:"accounts"`
}

type configView struct {
	Version        int           `json:"version"`
	Home           string        `json:"home"`
	Path           string        `json:"path"`
	DefaultChainID uint64        `json:"default_chain_id"`
	Networks       []networkView `json:"networks"`
	Wallets        []walletView  `json:"wallets"`
	Storage        struct {
		Backend string `json:"backend"`
		Path    string `json:"path,omitempty"`
		Redis   string `json:"redis_addr,omitempty"`
	} `json:"storage"`
	Relayer struct {
		URL     string `json:"url"`
		ChainID uint64 `json:"chain_id"`
	} `json:"relayer"`
	Output struct {
		DefaultFormat string `json:"default_format"`
		Color         string `json:"color"`
		Verbose       bool   `json:"verbose"`
	} `json:"output"`
	Logging struct {
		Level string `json:"level"`
		File  string `json:"file"`
	} `json:"logging"`
}

func newConfigView(c *config.Config) configView {
	v := configView{
		Version:        c.Version,
		Home:           c.Home,
		Path:           config.Path(c.Home),
		DefaultChainID: c.DefaultChainID,
	}

	ids := map[uint64]bool{}
	for _, id := range c.ChainIDs() {
		ids[id] = true
	}
	for id := range c.Contracts {
		ids[id] = true
	}
	sorted := make([]uint64, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, id := range sorted {
		_, mock := c.MockChains[id]
		v.Networks = append(v.Networks, networkView{
			ChainID:  id,
			Name:     networkLabel(c, id),
			RPC:      config.SanitizeURL(c.RPCURL(id)),
			Mock:     mock,
			Contract: c.Contracts[id],
		})
	}

	for _, wc := range c.Wallets {
		src := "seed file"
		if wc.DevMnemonic {
			src = "dev mnemonic"
		}
		v.Wallets = append(v.Wallets, walletView{RDNS: wc.RDNS, Name: wc.Name, Source: src, Accounts: wc.AccountCount})
	}
	for _, np := range c.NodeProviders {
		v.Wallets = append(v.Wallets, walletView{RDNS: np.RDNS, Name: np.Name, Source: "node accounts"})
	}

	v.Storage.Backend = c.Storage.Backend
	if c.Storage.Backend == kvstore.BackendRedis {
		v.Storage.Redis = c.Storage.RedisAddr
	} else {
		v.Storage.Path = c.Storage.Path
	}
	v.Relayer.URL = c.Relayer.URL
	v.Relayer.ChainID = c.Relayer.ChainID
	v.Output.DefaultFormat = c.Output.DefaultFormat
	v.Output.Color = c.Output.Color
	v.Output.Verbose = c.Output.Verbose
	v.Logging.Level = c.Logging.Level
	v.Logging.File = c.Logging.File
	return v
}

func (v configView) WriteText(w io.Writer) error {
	outln(w, "Configuration:")
	outln(w)
	out(w, "  Home: %s\n", v.Home)
	out(w, "  File: %s\n", v.Path)
	out(w, "  Default chain: %d\n", v.DefaultChainID)
	outln(w)
	outln(w, "  Networks:")
	for _, n := range v.Networks {
		contract := n.Contract
		if contract == "" {
			contract = "(not deployed)"
		}
		mode := ""
		if n.Mock {
			mode = " [mock fhevm]"
		}
		out(w, "    %d %s%s\n", n.ChainID, n.Name, mode)
		out(w, "      rpc: %s\n", orUnset(n.RPC))
		out(w, "      contract: %s\n", contract)
	}
	outln(w)
	outln(w, "  Wallets:")
	for _, wv := range v.Wallets {
		out(w, "    %s (%s, %s)\n", wv.Name, wv.RDNS, wv.Source)
	}
	outln(w)
	outln(w, "  Storage:")
	out(w, "    backend: %s\n", v.Storage.Backend)
	if v.Storage.Redis != "" {
		out(w, "    redis_addr: %s\n", v.Storage.Redis)
	} else {
		out(w, "    path: %s\n", v.Storage.Path)
	}
	outln(w)
	outln(w, "  Output:")
	out(w, "    default_format: %s\n", v.Output.DefaultFormat)
	out(w, "    verbose: %t\n", v.Output.Verbose)
	out(w, "    color: %s\n", v.Output.Color)
	outln(w)
	outln(w, "  Logging:")
	out(w, "    level: %s\n", v.Logging.Level)
	out(w, "    file: %s\n", v.Logging.File)
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	return formatter.Print(newConfigView(cfg))
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	value, err := getConfigValue(cfg, args[0])
	if err != nil {
		return juryerr.WithSuggestion(err, fmt.Sprintf("configuration path '%s' not found", args[0]))
	}
	outln(cmd.OutOrStdout(), value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	path, value := args[0], args[1]

	configPath := config.Path(cfg.Home)
	current, err := config.Load(configPath)
	if err != nil {
		current = config.Defaults()
		current.Rehome(cfg.Home)
	}
	if err := setConfigValue(current, path, value); err != nil {
		return err
	}
	if err := config.Save(current, configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	out(cmd.OutOrStdout(), "Set %s = %s\n", path, value)
	return nil
}

func unknownKey(path string) error {
	return juryerr.WithDetails(juryerr.ErrUnknownConfigKey, map[string]string{"path": path})
}

func invalidValue(path, value, valid string) error {
	return juryerr.WithDetails(juryerr.ErrInvalidInput, map[string]string{"path": path, "value": value, "valid": valid})
}

func parseChainKey(path, s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, unknownKey(path)
	}
	return id, nil
}

// getConfigValue retrieves a value from the config using dot notation.
func getConfigValue(c *config.Config, path string) (string, error) {
	parts := strings.Split(path, ".")

	switch len(parts) {
	case 1:
		switch parts[0] {
		case "home":
			return c.Home, nil
		case "default_chain_id":
			return strconv.FormatUint(c.DefaultChainID, 10), nil
		}
	case 2:
		key := parts[1]
		switch parts[0] {
		case "contracts":
			id, err := parseChainKey(path, key)
			if err != nil {
				return "", err
			}
			if addr, ok := c.Contracts[id]; ok {
				return addr, nil
			}
			return "", unknownKey(path)
		case "mock_chains":
			id, err := parseChainKey(path, key)
			if err != nil {
				return "", err
			}
			if rpc, ok := c.MockChains[id]; ok {
				return rpc, nil
			}
			return "", unknownKey(path)
		case "storage":
			switch key {
			case "backend":
				return c.Storage.Backend, nil
			case "path":
				return c.Storage.Path, nil
			case "redis_addr":
				return c.Storage.RedisAddr, nil
			}
		case "relayer":
			switch key {
			case "url":
				return c.Relayer.URL, nil
			case "sdk_url":
				return c.Relayer.SDKURL, nil
			}
		case "output":
			switch key {
			case "default_format":
				return c.Output.DefaultFormat, nil
			case "verbose":
				return strconv.FormatBool(c.Output.Verbose), nil
			case "color":
				return c.Output.Color, nil
			}
		case "logging":
			switch key {
			case "level":
				return c.Logging.Level, nil
			case "file":
				return c.Logging.File, nil
			}
		}
	case 3:
		if parts[0] != "networks" {
			break
		}
		id, err := parseChainKey(path, parts[1])
		if err != nil {
			return "", err
		}
		n, ok := c.Networks[id]
		if !ok {
			return "", unknownKey(path)
		}
		switch parts[2] {
		case "rpc":
			return n.RPC, nil
		case "name":
			return n.Name, nil
		}
	}
	return "", unknownKey(path)
}

// setConfigValue sets a value in the config using dot notation.
func setConfigValue(c *config.Config, path, value string) error {
	parts := strings.Split(path, ".")

	switch len(parts) {
	case 1:
		switch parts[0] {
		case "home":
			c.Home = value
			return nil
		case "default_chain_id":
			id, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return invalidValue(path, value, "a chain id")
			}
			c.DefaultChainID = id
			return nil
		}
	case 2:
		return setSectionValue(c, path, parts[0], parts[1], value)
	case 3:
		if parts[0] != "networks" {
			break
		}
		id, err := parseChainKey(path, parts[1])
		if err != nil {
			return err
		}
		if c.Networks == nil {
			c.Networks = map[uint64]config.NetworkConfig{}
		}
		n := c.Networks[id]
		switch parts[2] {
		case "rpc":
			n.RPC = value
		case "name":
			n.Name = value
		default:
			return unknownKey(path)
		}
		c.Networks[id] = n
		return nil
	}
	return unknownKey(path)
}

func setSectionValue(c *config.Config, path, section, key, value string) error {
	switch section {
	case "contracts":
		id, err := parseChainKey(path, key)
		if err != nil {
			return err
		}
		if c.Contracts == nil {
			c.Contracts = map[uint64]string{}
		}
		if value == "" || value == "none" {
			delete(c.Contracts, id)
			return nil
		}
		addr, err := parseAddress(value)
		if err != nil {
			return err
		}
		c.Contracts[id] = addr.Hex()
		return nil
	case "mock_chains":
		id, err := parseChainKey(path, key)
		if err != nil {
			return err
		}
		if c.MockChains == nil {
			c.MockChains = map[uint64]string{}
		}
		if value == "" || value == "none" {
			delete(c.MockChains, id)
			return nil
		}
		c.MockChains[id] = value
		return nil
	case "storage":
		switch key {
		case "backend":
			switch value {
			case kvstore.BackendFile, kvstore.BackendBadger, kvstore.BackendRedis, kvstore.BackendMemory:
				c.Storage.Backend = value
				return nil
			}
			return invalidValue(path, value, "file, badger, redis or memory")
		case "path":
			c.Storage.Path = value
			return nil
		case "redis_addr":
			c.Storage.RedisAddr = value
			return nil
		}
	case "relayer":
		switch key {
		case "url":
			c.Relayer.URL = value
			return nil
		case "sdk_url":
			c.Relayer.SDKURL = value
			return nil
		}
	case "output":
		switch key {
		case "default_format":
			if value != "text" && value != "json" && value != "auto" {
				return invalidValue(path, value, "text, json, or auto")
			}
			c.Output.DefaultFormat = value
			return nil
		case "verbose":
			c.Output.Verbose = value == "true"
			return nil
		case "color":
			if value != "auto" && value != "always" && value != "never" {
				return invalidValue(path, value, "auto, always, or never")
			}
			c.Output.Color = value
			return nil
		}
	case "logging":
		switch key {
		case "level":
			for _, l := range []string{"off", "error", "debug"} {
				if value == l {
					c.Logging.Level = value
					return nil
				}
			}
			return invalidValue(path, value, "off, error, or debug")
		case "file":
			c.Logging.File = value
			return nil
		}
	}
	return unknownKey(path)
}
