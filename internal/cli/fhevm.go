package cli

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/craftclass/jury/internal/app"
	"github.com/craftclass/jury/internal/output"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var (
	fhevmCmd = &cobra.Command{
		Use:   "fhevm",
		Short: "Inspect the encrypted computation session",
		Long:  `Inspect and reset the encrypted computation session and its caches.`,
	}

	fhevmStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the session backend and cached keys",
		Long: `Show how the encrypted computation session was built for the
connected chain: the mock backend on development chains, the relayer
backend everywhere else.`,
		Example: `  jury fhevm status
  jury fhevm status --wait 30s`,
		Args: cobra.NoArgs,
		RunE: runFhevmStatus,
	}

	fhevmClearCmd = &cobra.Command{
		Use:   "clear-cache",
		Short: "Forget cached public keys and decryption signatures",
		Long: `Remove the cached relayer public keys and the stored decryption
signatures. They are fetched or signed again on next use.`,
		Example: `  jury fhevm clear-cache`,
		Args:    cobra.NoArgs,
		RunE:    runFhevmClear,
	}

	fhevmWait time.Duration
)

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(fhevmCmd)
	fhevmCmd.GroupID = "connection"
	fhevmCmd.AddCommand(fhevmStatusCmd, fhevmClearCmd)
	fhevmStatusCmd.Flags().DurationVar(&fhevmWait, "wait", sessionSettle, "how long to wait for the session")
}

type fhevmView struct {
	Status     string   `json:"status"`
	Backend    string   `json:"backend,omitempty"`
	ChainID    uint64   `json:"chain_id,omitempty"`
	Network    string   `json:"network,omitempty"`
	ACL        string   `json:"acl,omitempty"`
	Relayer    string   `json:"relayer,omitempty"`
	Error      string   `json:"error,omitempty"`
	CachedKeys []string `json:"cached_keys"`
}

func (v fhevmView) WriteText(w io.Writer) error {
	out(w, "Session: %s\n", v.Status)
	if v.Backend != "" {
		out(w, "  backend: %s\n", v.Backend)
	}
	if v.ChainID != 0 {
		out(w, "  chain:   %s (%d)\n", v.Network, v.ChainID)
	}
	if v.ACL != "" {
		out(w, "  acl:     %s\n", v.ACL)
	}
	if v.Relayer != "" {
		out(w, "  relayer: %s\n", v.Relayer)
	}
	if v.Error != "" {
		out(w, "  error:   %s\n", v.Error)
	}
	if len(v.CachedKeys) == 0 {
		outln(w, "  no cached public keys")
		return nil
	}
	outln(w, "  cached public keys (by ACL):")
	for _, k := range v.CachedKeys {
		out(w, "    %s\n", k)
	}
	return nil
}

func runFhevmStatus(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, readTimeout, func(ctx context.Context, a *app.App) error {
		if a.Connection().State().IsConnected {
			wctx, cancel := context.WithTimeout(ctx, fhevmWait)
			_, _ = a.Session().Wait(wctx)
			cancel()
		}

		st := a.Session().State()
		v := fhevmView{Status: st.Status.String(), ChainID: st.ChainID, CachedKeys: []string{}}
		if st.ChainID != 0 {
			v.Network = networkLabel(cfg, st.ChainID)
		}
		if st.Err != nil {
			v.Error = st.Err.Error()
		}
		if st.Instance != nil {
			v.Backend = string(st.Instance.Backend())
			n := st.Instance.Network()
			v.ACL = n.ACLAddress
			v.Relayer = n.RelayerURL
		}
		keys, err := a.PublicKeys().Cached(ctx)
		if err != nil {
			return err
		}
		v.CachedKeys = append(v.CachedKeys, keys...)

		return formatter.Print(v)
	})
}

func runFhevmClear(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, readTimeout, func(ctx context.Context, a *app.App) error {
		if err := a.PublicKeys().ClearAll(ctx); err != nil {
			return err
		}
		if err := a.Signatures().ClearAll(ctx); err != nil {
			return err
		}
		return output.FormatSuccess(formatter.Writer(), "Cleared cached public keys and decryption signatures", formatter.Format())
	})
}
