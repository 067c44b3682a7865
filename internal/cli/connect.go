package cli

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/craftclass/jury/internal/app"
	"github.com/craftclass/jury/internal/connection"
	"github.com/craftclass/jury/internal/output"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var (
	providersCmd = &cobra.Command{
		Use:   "providers",
		Short: "List discovered wallet providers",
		Long: `List every wallet provider that answered discovery.

Providers are identified by their reverse-DNS id, which 'jury connect
--provider' accepts.`,
		Example: `  jury providers
  jury providers -o json`,
		Args: cobra.NoArgs,
		RunE: runProviders,
	}

	connectCmd = &cobra.Command{
		Use:   "connect",
		Short: "Connect a wallet",
		Long: `Request accounts from a wallet provider and remember the connection.

Without --provider the first discovered provider is used. Later commands
reconnect silently without prompting.`,
		Example: `  jury connect
  jury connect --provider local.jury.devwallet`,
		Args: cobra.NoArgs,
		RunE: runConnect,
	}

	disconnectCmd = &cobra.Command{
		Use:   "disconnect",
		Short: "Forget the wallet connection",
		Long: `Forget the remembered connection. Later commands start disconnected
until 'jury connect' runs again.`,
		Example: `  jury disconnect`,
		Args:    cobra.NoArgs,
		RunE:    runDisconnect,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show connection, session and contract status",
		Long: `Show the connected provider and account, the network, the contract
deployment and the encrypted computation session.`,
		Example: `  jury status
  jury status -o json`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}

	switchChainCmd = &cobra.Command{
		Use:   "switch-chain <chain-id>",
		Short: "Ask the wallet to switch networks",
		Long: `Ask the connected wallet to switch to another chain.

Everything bound to the old chain is discarded and rebuilt on the new one.`,
		Example: `  jury switch-chain 11155111`,
		Args:    cobra.ExactArgs(1),
		RunE:    runSwitchChain,
	}

	connectProvider string
)

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(providersCmd, connectCmd, disconnectCmd, statusCmd, switchChainCmd)
	providersCmd.GroupID = "connection"
	connectCmd.GroupID = "connection"
	disconnectCmd.GroupID = "connection"
	statusCmd.GroupID = "connection"
	switchChainCmd.GroupID = "connection"
	connectCmd.Flags().StringVarP(&connectProvider, "provider", "p", "", "provider id (reverse-DNS) to connect")
}

type providerView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UUID      string `json:"uuid"`
	Connected bool   `json:"connected"`
}

func runProviders(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, readTimeout, func(_ context.Context, a *app.App) error {
		st := a.Connection().State()
		details := a.Registry().ListProviders()

		views := make([]providerView, 0, len(details))
		for _, d := range details {
			views = append(views, providerView{
				ID:        d.ID(),
				Name:      d.Info.Name,
				UUID:      d.Info.UUID,
				Connected: st.IsConnected && st.ProviderID == d.ID(),
			})
		}

		return formatter.Result(views, func(w io.Writer) error {
			if len(views) == 0 {
				output.Warn(w, "No wallet providers found. Configure a wallet with 'jury wallet init'.")
				return nil
			}
			tbl := output.NewTable("ID", "NAME", "")
			for _, v := range views {
				mark := ""
				if v.Connected {
					mark = "connected"
				}
				tbl.AddRow(v.ID, v.Name, mark)
			}
			return tbl.Render(w)
		})
	})
}

type connectionView struct {
	Connected    bool     `json:"connected"`
	Provider     string   `json:"provider,omitempty"`
	ProviderName string   `json:"provider_name,omitempty"`
	Account      string   `json:"account,omitempty"`
	Accounts     []string `json:"accounts,omitempty"`
	ChainID      uint64   `json:"chain_id,omitempty"`
	Network      string   `json:"network,omitempty"`
	Contract     string   `json:"contract,omitempty"`
	Session      string   `json:"session,omitempty"`
	Backend      string   `json:"backend,omitempty"`
	SessionError string   `json:"session_error,omitempty"`
	LastError    string   `json:"last_error,omitempty"`
}

func newConnectionView(a *app.App, st connection.State) connectionView {
	v := connectionView{Connected: st.IsConnected}
	if st.LastError != nil {
		v.LastError = st.LastError.Error()
	}
	if !st.IsConnected {
		return v
	}

	v.Provider = st.ProviderID
	if d, ok := a.Registry().FindProvider(st.ProviderID); ok {
		v.ProviderName = d.Info.Name
	}
	v.Account = st.Account.Hex()
	for _, acc := range st.Accounts {
		v.Accounts = append(v.Accounts, acc.Hex())
	}
	v.ChainID = st.ChainID
	v.Network = networkLabel(cfg, st.ChainID)

	if b := a.Jury().Binding(); b != nil {
		v.Contract = b.Address().Hex()
	}
	if s := a.Session(); s != nil {
		ss := s.State()
		v.Session = ss.Status.String()
		if ss.Instance != nil {
			v.Backend = string(ss.Instance.Backend())
		}
		if ss.Err != nil {
			v.SessionError = ss.Err.Error()
		}
	}
	return v
}

func (v connectionView) WriteText(w io.Writer) error {
	if !v.Connected {
		outln(w, "Not connected")
		if v.LastError != "" {
			out(w, "  last error: %s\n", v.LastError)
		}
		return nil
	}
	name := v.ProviderName
	if name == "" {
		name = v.Provider
	}
	out(w, "Connected to %s (%s)\n", name, v.Provider)
	out(w, "  account:  %s\n", v.Account)
	out(w, "  network:  %s (%d)\n", v.Network, v.ChainID)
	if v.Contract != "" {
		out(w, "  contract: %s\n", v.Contract)
	} else {
		outln(w, "  contract: not deployed on this chain")
	}
	if v.Session != "" {
		backend := ""
		if v.Backend != "" {
			backend = " (" + v.Backend + ")"
		}
		out(w, "  fhevm:    %s%s\n", v.Session, backend)
	}
	if v.SessionError != "" {
		out(w, "  error:    %s\n", v.SessionError)
	}
	return nil
}

func runConnect(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, writeTimeout, func(ctx context.Context, a *app.App) error {
		if err := a.Connection().Connect(ctx, connectProvider); err != nil {
			if juryerr.Is(err, juryerr.ErrUserRejected) {
				return juryerr.WithSuggestion(err, "approve the request, or pass --yes for local wallets")
			}
			return err
		}
		a.Sync()
		return formatter.Print(newConnectionView(a, a.Connection().State()))
	})
}

func runDisconnect(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, readTimeout, func(ctx context.Context, a *app.App) error {
		a.Connection().Disconnect(ctx)
		return output.FormatSuccess(formatter.Writer(), "Disconnected", formatter.Format())
	})
}

// sessionSettle bounds how long status waits for a session build.
const sessionSettle = 10 * time.Second

func runStatus(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, readTimeout, func(ctx context.Context, a *app.App) error {
		st := a.Connection().State()
		if st.IsConnected {
			wctx, cancel := context.WithTimeout(ctx, sessionSettle)
			_, _ = a.Session().Wait(wctx)
			cancel()
		}
		return formatter.Print(newConnectionView(a, st))
	})
}

func runSwitchChain(cmd *cobra.Command, args []string) error {
	chainID, err := parseID("chain", args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, writeTimeout, func(ctx context.Context, a *app.App) error {
		if _, err := connected(a); err != nil {
			return err
		}
		if a.Connection().State().ChainID == chainID {
			return formatter.Print(newConnectionView(a, a.Connection().State()))
		}

		mounts := make(chan uint64, 4)
		sub := a.SubscribeMounts(mounts)
		defer sub.Unsubscribe()
		gen := a.Generation()

		if err := a.Connection().SwitchChain(ctx, chainID); err != nil {
			return err
		}
		if err := awaitMount(ctx, mounts, gen); err != nil {
			return err
		}
		return formatter.Print(newConnectionView(a, a.Connection().State()))
	})
}

// awaitMount waits for a mount newer than gen.
func awaitMount(ctx context.Context, mounts <-chan uint64, gen uint64) error {
	for {
		select {
		case got := <-mounts:
			if got > gen {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
