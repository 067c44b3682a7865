package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/craftclass/jury/internal/app"
	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/output"
	"github.com/craftclass/jury/internal/provider/hdwallet"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	// initWords is the number of words for mnemonic generation.
	initWords int
	// initAccounts is how many accounts the wallet derives.
	initAccounts int
	// initName is the display name announced through discovery.
	initName string
	// initImport restores an existing recovery phrase instead of generating one.
	initImport bool
)

// walletCmd is the parent command for wallet operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage local wallets",
	Long: `Create and inspect the local HD wallets jury announces as providers.

Wallets are stored as age-encrypted seed files under the jury home.`,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletInitCmd = &cobra.Command{
	Use:   "init <rdns>",
	Short: "Create a new encrypted wallet",
	Long: `Create a new HD wallet with a BIP39 mnemonic phrase and add it to the
configuration. The wallet is announced under the given reverse-DNS id.

The mnemonic will be displayed once - write it down and store it securely.
You will be prompted for a passphrase to encrypt the seed file.`,
	Example: `  jury wallet init local.jury.judge --name "Judge wallet"
  jury wallet init local.jury.judge --words 24
  jury wallet init local.jury.admin --import`,
	Args: cobra.ExactArgs(1),
	RunE: runWalletInit,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List configured wallets",
	Long:    `List the wallets in the configuration and where their keys come from.`,
	Example: `  jury wallet list`,
	Args:    cobra.NoArgs,
	RunE:    runWalletList,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var walletAccountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Show the accounts of every local wallet",
	Long: `Unlock the configured wallets and show their derived accounts.

Seed files are unlocked with JURY_WALLET_PASSPHRASE or an interactive prompt.`,
	Example: `  jury wallet accounts
  JURY_WALLET_PASSPHRASE=secret jury wallet accounts -o json`,
	Args: cobra.NoArgs,
	RunE: runWalletAccounts,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.GroupID = "connection"
	walletCmd.AddCommand(walletInitCmd, walletListCmd, walletAccountsCmd)

	walletInitCmd.Flags().IntVar(&initWords, "words", 12, "number of mnemonic words (12 or 24)")
	walletInitCmd.Flags().IntVar(&initAccounts, "accounts", 5, "number of accounts to derive")
	walletInitCmd.Flags().StringVar(&initName, "name", "", "display name (default: the rdns)")
	walletInitCmd.Flags().BoolVar(&initImport, "import", false, "restore an existing recovery phrase")
}

// seedFilePath is where a wallet's encrypted seed lives.
func seedFilePath(home, rdns string) string {
	return filepath.Join(home, "wallets", rdns+".age")
}

// loadFileConfig reads the config file, falling back to defaults for home.
func loadFileConfig(home string) *config.Config {
	c, err := config.Load(config.Path(home))
	if err != nil {
		c = config.Defaults()
		c.Rehome(home)
	}
	return c
}

func validateWalletInit(c *config.Config, rdns string) error {
	if initWords != 12 && initWords != 24 {
		return juryerr.WithSuggestion(juryerr.ErrInvalidInput, "word count must be 12 or 24")
	}
	if initAccounts < 1 {
		return juryerr.WithSuggestion(juryerr.ErrInvalidInput, "derive at least one account")
	}
	if rdns == "" || strings.ContainsAny(rdns, `/\ `) {
		return juryerr.WithDetails(juryerr.ErrInvalidInput, map[string]string{"rdns": rdns})
	}
	for _, wc := range c.Wallets {
		if wc.RDNS == rdns {
			return juryerr.WithSuggestion(
				juryerr.WithDetails(juryerr.ErrInvalidInput, map[string]string{"rdns": rdns, "reason": "already configured"}),
				fmt.Sprintf("wallet '%s' already exists. Choose a different id.", rdns),
			)
		}
	}
	return nil
}

// newSeedPassphrase takes the environment passphrase, or asks for a new one.
func newSeedPassphrase() (string, error) {
	if p, ok := config.WalletPassphrase(); ok && p != "" {
		return p, nil
	}
	return promptNewPassphraseFn()
}

func runWalletInit(cmd *cobra.Command, args []string) error {
	rdns := strings.TrimSpace(args[0])
	home := cfg.GetHome()
	fileCfg := loadFileConfig(home)
	if err := validateWalletInit(fileCfg, rdns); err != nil {
		return err
	}

	path := seedFilePath(home, rdns)
	if _, err := os.Stat(path); err == nil {
		return juryerr.WithSuggestion(
			juryerr.WithDetails(juryerr.ErrInvalidInput, map[string]string{"seed_file": path}),
			"a seed file already exists there; remove it or choose another id",
		)
	}

	var imported string
	if initImport {
		phrase, err := promptPasswordFn("Enter recovery phrase: ")
		if err != nil {
			return err
		}
		imported = hdwallet.NormalizeMnemonic(string(phrase))
		zero(phrase)
		if err := hdwallet.ValidateMnemonic(imported); err != nil {
			return juryerr.WithSuggestion(juryerr.WithCause(juryerr.ErrInvalidInput, err), "check the words and their order")
		}
	}

	passphrase, err := newSeedPassphrase()
	if err != nil {
		return err
	}

	mnemonic := imported
	if initImport {
		err = hdwallet.WriteSeedFile(path, passphrase, imported)
	} else {
		mnemonic, err = hdwallet.CreateSeedFile(path, passphrase, initWords)
	}
	if err != nil {
		return fmt.Errorf("writing seed file: %w", err)
	}

	keys, err := hdwallet.DeriveKeys(mnemonic, "", initAccounts)
	if err != nil {
		return err
	}
	addrs := hdwallet.Addresses(keys)

	name := initName
	if name == "" {
		name = rdns
	}
	fileCfg.Wallets = append(fileCfg.Wallets, config.WalletConfig{
		RDNS:         rdns,
		Name:         name,
		SeedFile:     path,
		AccountCount: initAccounts,
	})
	if err := config.Save(fileCfg, config.Path(home)); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	w := cmd.OutOrStdout()
	if !initImport {
		displayMnemonic(w, mnemonic)
	}
	displayAccounts(w, addrs)
	outln(w)
	output.Successf(w, "Wallet '%s' created", rdns)
	outln(w, "Seed file: "+path)
	return nil
}

// displayMnemonic shows the mnemonic phrase with formatting.
func displayMnemonic(w io.Writer, mnemonic string) {
	outln(w)
	outln(w, "═══════════════════════════════════════════════════════════════")
	outln(w, "                    RECOVERY PHRASE")
	outln(w, "═══════════════════════════════════════════════════════════════")
	outln(w)
	outln(w, "Write down these words in order and store them securely.")
	outln(w, "This is the ONLY way to recover your wallet.")
	outln(w)

	for i, word := range strings.Fields(mnemonic) {
		out(w, "%2d. %s\n", i+1, word)
	}

	outln(w)
	outln(w, "═══════════════════════════════════════════════════════════════")
	outln(w)
}

func displayAccounts(w io.Writer, addrs []common.Address) {
	outln(w, "Accounts:")
	for i, a := range addrs {
		out(w, "  %d  %s\n", i, a.Hex())
	}
}

func runWalletList(_ *cobra.Command, _ []string) error {
	views := newConfigView(cfg).Wallets
	if views == nil {
		views = []walletView{}
	}
	return formatter.Result(views, func(w io.Writer) error {
		if len(views) == 0 {
			outln(w, "No wallets configured.")
			outln(w, "Create one with: jury wallet init <rdns>")
			return nil
		}
		tbl := output.NewTable("ID", "NAME", "SOURCE", "ACCOUNTS")
		tbl.AlignRight(3)
		for _, v := range views {
			count := "-"
			if v.Accounts > 0 {
				count = fmt.Sprint(v.Accounts)
			}
			tbl.AddRow(v.RDNS, v.Name, v.Source, count)
		}
		return tbl.Render(w)
	})
}

// addresser is a provider that knows its accounts without a request.
type addresser interface {
	Addresses() []common.Address
}

type accountsView struct {
	Provider string   `json:"provider"`
	Name     string   `json:"name"`
	Accounts []string `json:"accounts"`
}

func runWalletAccounts(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, readTimeout, func(_ context.Context, a *app.App) error {
		var views []accountsView
		for _, d := range a.Registry().ListProviders() {
			ad, ok := d.Provider.(addresser)
			if !ok {
				continue
			}
			v := accountsView{Provider: d.ID(), Name: d.Info.Name, Accounts: []string{}}
			for _, addr := range ad.Addresses() {
				v.Accounts = append(v.Accounts, addr.Hex())
			}
			views = append(views, v)
		}
		if views == nil {
			views = []accountsView{}
		}

		return formatter.Result(views, func(w io.Writer) error {
			if len(views) == 0 {
				output.Warn(w, "No local wallets are unlocked.")
				return nil
			}
			for i, v := range views {
				if i > 0 {
					outln(w)
				}
				out(w, "%s (%s)\n", v.Name, v.Provider)
				for j, acc := range v.Accounts {
					out(w, "  %d  %s\n", j, acc)
				}
			}
			return nil
		})
	})
}
