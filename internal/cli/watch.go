package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/craftclass/jury/internal/app"
	"github.com/craftclass/jury/internal/connection"
	"github.com/craftclass/jury/internal/jury"
	"github.com/craftclass/jury/internal/metrics"
	"github.com/craftclass/jury/internal/output"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var (
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Follow the connection and contract activity",
		Long: `Stay connected and print connection changes and new contract events
until interrupted.

With --metrics-addr the Prometheus metrics of this process are served on
/metrics.`,
		Example: `  jury watch
  jury watch --metrics-addr 127.0.0.1:9464`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}

	watchMetricsAddr string
	watchInterval    time.Duration
)

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.GroupID = "connection"
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 15*time.Second, "activity poll interval")
}

// notifyContext is replaced in tests.
//
//nolint:gochecknoglobals // Replaced in tests
var notifyContext = func(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	ctx, stop := notifyContext(base)
	defer stop()

	if watchMetricsAddr != "" {
		shutdown, err := serveMetrics(ctx, watchMetricsAddr, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer shutdown()
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Error("closing app: %v", cerr)
		}
	}()

	mounts := make(chan uint64, 4)
	sub := a.SubscribeMounts(mounts)
	defer sub.Unsubscribe()

	if err := a.Mount(ctx); err != nil {
		return err
	}
	w := &watcher{app: a, w: formatter.Writer(), seen: make(map[eventKey]bool)}
	return w.run(ctx, mounts)
}

type eventKey struct {
	block uint64
	tx    string
	index uint
}

// watcher prints connection states and contract events of the current mount.
type watcher struct {
	app  *app.App
	w    io.Writer
	seen map[eventKey]bool
	last connectionView
}

func (w *watcher) run(ctx context.Context, mounts <-chan uint64) error {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		conn := w.app.Connection()
		if conn == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-mounts:
				continue
			}
		}
		states := make(chan connection.State, 16)
		sub := conn.Subscribe(states)
		w.report(conn.State())
		w.poll(ctx)

		remount := false
		for !remount {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return nil
			case st := <-states:
				w.report(st)
			case <-mounts:
				remount = true
			case <-ticker.C:
				w.poll(ctx)
			}
		}
		sub.Unsubscribe()
	}
}

// report prints a state when it differs from the last one printed.
func (w *watcher) report(st connection.State) {
	v := newConnectionView(w.app, st)
	if fmt.Sprint(v) == fmt.Sprint(w.last) {
		return
	}
	w.last = v
	if err := formatter.Print(v); err != nil {
		logger.Error("watch: %v", err)
	}
}

func (w *watcher) poll(ctx context.Context) {
	c := w.app.Jury()
	if !c.Deployed() {
		return
	}
	events := c.RecentActivity(ctx, jury.DefaultActivityBlocks)
	fresh := make([]jury.Event, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		k := eventKey{e.BlockNumber, e.TxHash.Hex(), e.LogIndex}
		if w.seen[k] {
			continue
		}
		w.seen[k] = true
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return
	}
	if formatter.IsJSON() {
		for _, e := range fresh {
			_ = formatter.Print(e)
		}
		return
	}
	writeEvents(w.w, fresh)
}

// serveMetrics serves /metrics until ctx ends.
func serveMetrics(ctx context.Context, addr string, w io.Writer) (func(), error) {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Global.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server: %v", err)
		}
	}()
	output.Infof(w, "Serving metrics on http://%s/metrics", ln.Addr())

	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}, nil
}
