package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/craftclass/jury/internal/app"
	"github.com/craftclass/jury/internal/chain"
	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/jury"
	"github.com/craftclass/jury/internal/metrics"
	"github.com/craftclass/jury/internal/output"
	"github.com/craftclass/jury/internal/provider/hdwallet"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

// Command timeouts.
const (
	readTimeout  = 30 * time.Second
	writeTimeout = 5 * time.Minute
)

// CommandContext holds dependencies for CLI commands.
type CommandContext struct {
	Config    *config.Config
	Logger    *config.Logger
	Formatter *output.Formatter
	Metrics   *metrics.Metrics

	// Approver answers local wallet prompts.
	Approver hdwallet.Approver

	// Passphrase unlocks wallet seed files.
	Passphrase string
}

// NewCommandContext creates a context with the given dependencies.
func NewCommandContext(
	cfg *config.Config,
	logger *config.Logger,
	formatter *output.Formatter,
) *CommandContext {
	return &CommandContext{
		Config:    cfg,
		Logger:    logger,
		Formatter: formatter,
		Metrics:   metrics.Global,
	}
}

// WithApprover sets the wallet approver.
func (c *CommandContext) WithApprover(a hdwallet.Approver) *CommandContext {
	c.Approver = a
	return c
}

// WithPassphrase sets the seed file passphrase.
func (c *CommandContext) WithPassphrase(p string) *CommandContext {
	c.Passphrase = p
	return c
}

// AppOptions returns the options an App is built from.
func (c *CommandContext) AppOptions() app.Options {
	return app.Options{
		Config:     c.Config,
		Approver:   c.Approver,
		Passphrase: c.Passphrase,
		Logger:     c.Logger,
		Metrics:    c.Metrics,
	}
}

// newApp builds the app for one command. Tests replace it.
//
//nolint:gochecknoglobals // Replaced in tests
var newApp = func(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cc := NewCommandContext(cfg, logger, formatter).
		WithApprover(newApprover(cmd.ErrOrStderr())).
		WithPassphrase(seedPassphrase(cmd.ErrOrStderr()))
	return app.New(ctx, cc.AppOptions())
}

// seedPassphrase returns the passphrase for configured seed files, asking on
// a terminal when the environment does not supply one.
func seedPassphrase(w io.Writer) string {
	needed := false
	for _, wc := range cfg.Wallets {
		if wc.SeedFile != "" {
			needed = true
		}
	}
	if !needed {
		return ""
	}
	if p, ok := config.WalletPassphrase(); ok {
		return p
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) { //nolint:gosec // G115: Fd() returns uintptr, safe conversion for term.IsTerminal
		return ""
	}
	out(w, "Wallet seed files are encrypted.\n")
	pass, err := promptPasswordFn("Enter seed passphrase: ")
	if err != nil {
		logger.Error("reading seed passphrase: %v", err)
		return ""
	}
	return string(pass)
}

// withApp mounts an app for the duration of fn.
func withApp(cmd *cobra.Command, timeout time.Duration, fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := contextWithTimeout(cmd, timeout)
	defer cancel()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Error("closing app: %v", cerr)
		}
	}()

	if err := a.Mount(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

// connected returns the contract client of a connected app.
func connected(a *app.App) (*jury.Client, error) {
	st := a.Connection().State()
	if !st.IsConnected {
		return nil, juryerr.WithSuggestion(juryerr.ErrNoActiveProvider, "run 'jury connect' first")
	}
	return a.Jury(), nil
}

// deployed returns the contract client of a connected app on a chain with a
// known deployment.
func deployed(a *app.App) (*jury.Client, error) {
	c, err := connected(a)
	if err != nil {
		return nil, err
	}
	if !c.Deployed() {
		chainID := a.Connection().State().ChainID
		return nil, juryerr.WithSuggestion(
			juryerr.WithDetails(juryerr.ErrNotDeployed, map[string]string{"chain": networkLabel(cfg, chainID)}),
			"switch to a chain with a deployment, e.g. 'jury switch-chain 31337'",
		)
	}
	return c, nil
}

// ready waits for the encrypted computation session and returns a client
// that can encrypt and decrypt.
func ready(ctx context.Context, a *app.App) (*jury.Client, error) {
	if _, err := deployed(a); err != nil {
		return nil, err
	}
	if _, err := a.Session().Wait(ctx); err != nil {
		return nil, juryerr.WithCause(juryerr.ErrSessionNotReady, err)
	}
	return a.Jury(), nil
}

// networkLabel names a chain by c, falling back to the well-known names.
func networkLabel(c *config.Config, chainID uint64) string {
	if n := c.NetworkName(chainID); n != "" {
		return n
	}
	return chain.NetworkName(chainID)
}

// contextWithTimeout bounds a command's work. The command context is the
// parent when set so Ctrl-C cancels in-flight requests.
func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	if parent := cmd.Context(); parent != nil {
		return context.WithTimeout(parent, d)
	}
	return context.WithTimeout(context.Background(), d)
}
