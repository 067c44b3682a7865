// Package app wires discovery, the connection manager, the encrypted
// computation session and the contract binding into one mountable unit.
//
// A chain change rebuilds every chain-bound part from scratch: the
// connection manager, the session and the binding of the old mount are
// discarded and a new mount reconnects silently on the new chain.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/craftclass/jury/internal/chain"
	"github.com/craftclass/jury/internal/chain/rpc"
	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/connection"
	"github.com/craftclass/jury/internal/discovery"
	"github.com/craftclass/jury/internal/fhevm"
	"github.com/craftclass/jury/internal/fhevm/mock"
	"github.com/craftclass/jury/internal/fhevm/relayer"
	"github.com/craftclass/jury/internal/jury"
	"github.com/craftclass/jury/internal/kvstore"
	"github.com/craftclass/jury/internal/metrics"
	"github.com/craftclass/jury/internal/provider"
	"github.com/craftclass/jury/internal/provider/hdwallet"
	"github.com/craftclass/jury/internal/provider/node"
)

// ErrClosed is returned by Mount after Close.
var ErrClosed = errors.New("app closed")

// Options configures an App.
type Options struct {
	Config *config.Config

	// Store is the durable state store. When nil the store configured in
	// Config.Storage is opened and closed with the app.
	Store kvstore.Store

	// Approver confirms local wallet actions.
	Approver hdwallet.Approver

	// Passphrase unlocks wallet seed files.
	Passphrase string

	// Kernel is the production TFHE kernel, if one is available.
	Kernel fhevm.Kernel

	// Providers are announced alongside the configured wallets.
	Providers []discovery.ProviderDetail

	// Dial creates node clients. Defaults to a rate limited, retrying client.
	Dial func(url string) *rpc.Client

	// Runtime overrides the production runtime built from Config.Relayer.
	Runtime *fhevm.Runtime

	// Build overrides instance construction.
	Build fhevm.BuildFunc

	Logger  config.LogWriter
	Metrics *metrics.Metrics
}

// App owns the wallets announced on its discovery bus and the current mount.
type App struct {
	cfg       *config.Config
	store     kvstore.Store
	ownsStore bool
	logger    config.LogWriter
	metrics   *metrics.Metrics
	dial      func(url string) *rpc.Client
	build     fhevm.BuildFunc

	bus        *discovery.Bus
	announcers []*discovery.Announcer
	closers    []func() error

	runtime *fhevm.Runtime
	keys    *fhevm.PublicKeyStore
	sigs    *fhevm.SignatureStore
	addrs   jury.Addresses

	fallbackOnce sync.Once
	fallback     *node.Provider

	// life serializes Mount, Reload and Unmount.
	life   sync.Mutex
	base   context.Context
	closed bool

	mu  sync.RWMutex
	cur *mount
	gen uint64

	feed  event.Feed
	scope event.SubscriptionScope
}

// New creates the app and announces its wallets. Nothing connects until Mount.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	a := &App{
		cfg:     cfg,
		store:   opts.Store,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		dial:    opts.Dial,
		build:   opts.Build,
		bus:     discovery.NewBus(),
		runtime: opts.Runtime,
		addrs:   jury.NewAddresses(cfg.Contracts),
	}
	if a.logger == nil {
		a.logger = config.NullLogger()
	}
	if a.metrics == nil {
		a.metrics = metrics.Global
	}
	if a.dial == nil {
		limiter := chain.NewRateLimiter(cfg.RPC.RequestsPerSecond, cfg.RPC.Burst)
		retry := chain.DefaultRetryConfig()
		if cfg.RPC.RetryAttempts > 0 {
			retry.MaxAttempts = cfg.RPC.RetryAttempts
		}
		a.dial = func(url string) *rpc.Client {
			return rpc.NewClient(url, rpc.WithRateLimiter(limiter), rpc.WithRetry(retry), rpc.WithMetrics(a.metrics))
		}
	}
	if a.store == nil {
		store, err := kvstore.Open(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		a.store, a.ownsStore = store, true
	}
	if a.runtime == nil {
		rc := relayer.New(relayer.Options{
			Network: relayer.NetworkFromConfig(cfg.Relayer),
			Kernel:  opts.Kernel,
			Metrics: a.metrics,
			Logger:  a.logger,
		})
		a.runtime = fhevm.NewRuntime(rc, rc)
	}
	a.keys = fhevm.NewPublicKeyStore(a.store, a.logger)
	a.sigs = fhevm.NewSignatureStore(a.store, a.logger)

	a.announceWallets(ctx, opts)
	for _, d := range opts.Providers {
		a.announce(d.Info, d.Provider)
	}
	return a, nil
}

func (a *App) announceWallets(ctx context.Context, opts Options) {
	networks := make(map[uint64]string, len(a.cfg.Networks))
	for id := range a.cfg.Networks {
		networks[id] = a.cfg.RPCURL(id)
	}

	for _, wc := range a.cfg.Wallets {
		mnemonic, err := walletMnemonic(wc, opts.Passphrase)
		if err != nil {
			a.logger.Error("wallet %s: %v", wc.RDNS, err)
			continue
		}
		accounts := wc.AccountCount
		if accounts <= 0 {
			accounts = 1
		}
		w, err := hdwallet.New(ctx, hdwallet.Options{
			Name:     wc.Name,
			Mnemonic: mnemonic,
			Accounts: accounts,
			ChainID:  a.cfg.DefaultChainID,
			Networks: networks,
			Approver: opts.Approver,
			Store:    kvstore.WithPrefix(a.store, "hdwallet."+wc.RDNS+"."),
			Dial:     a.dial,
			Logger:   a.logger,
		})
		if err != nil {
			a.logger.Error("wallet %s: %v", wc.RDNS, err)
			continue
		}
		a.closers = append(a.closers, w.Close)
		a.announce(discovery.ProviderInfo{Name: wc.Name, Icon: wc.Icon, RDNS: wc.RDNS}, w)
	}

	for _, nc := range a.cfg.NodeProviders {
		url := a.cfg.RPCURL(nc.ChainID)
		if url == "" {
			a.logger.Error("node provider %s: no rpc endpoint for chain %d", nc.RDNS, nc.ChainID)
			continue
		}
		p := node.New(a.dial(url))
		a.closers = append(a.closers, p.Close)
		a.announce(discovery.ProviderInfo{Name: nc.Name, RDNS: nc.RDNS}, p)
	}
}

func walletMnemonic(wc config.WalletConfig, passphrase string) (string, error) {
	if wc.DevMnemonic {
		return hdwallet.DevMnemonic, nil
	}
	if wc.SeedFile == "" {
		return "", errors.New("no seed file configured")
	}
	path, err := config.ExpandHome(wc.SeedFile)
	if err != nil {
		return "", err
	}
	return hdwallet.LoadMnemonic(path, passphrase)
}

func (a *App) announce(info discovery.ProviderInfo, p provider.Provider) {
	ann, err := discovery.NewAnnouncer(a.bus, info, p)
	if err != nil {
		a.logger.Error("announcing %s: %v", info.RDNS, err)
		return
	}
	ann.Start()
	a.announcers = append(a.announcers, ann)
}

// fallbackProvider is the generic provider silent reconnect falls back to:
// node-managed accounts on the default chain.
func (a *App) fallbackProvider() provider.Provider {
	a.fallbackOnce.Do(func() {
		url := a.cfg.RPCURL(a.cfg.DefaultChainID)
		if url == "" {
			return
		}
		a.fallback = node.New(a.dial(url))
	})
	if a.fallback == nil {
		return nil
	}
	return a.fallback
}

// Config returns the app configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Store returns the durable state store.
func (a *App) Store() kvstore.Store { return a.store }

// Bus returns the discovery bus wallets announce on.
func (a *App) Bus() *discovery.Bus { return a.bus }

// PublicKeys returns the public key cache.
func (a *App) PublicKeys() *fhevm.PublicKeyStore { return a.keys }

// Signatures returns the decryption signature cache.
func (a *App) Signatures() *fhevm.SignatureStore { return a.sigs }

// Addresses returns the deployment table.
func (a *App) Addresses() jury.Addresses { return a.addrs }

// Generation counts mounts. Every reload increments it.
func (a *App) Generation() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.gen
}

// SubscribeMounts delivers the generation number after every mount.
func (a *App) SubscribeMounts(ch chan<- uint64) event.Subscription {
	return a.scope.Track(a.feed.Subscribe(ch))
}

func (a *App) current() *mount {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cur
}

// Connection returns the connection manager of the current mount.
func (a *App) Connection() *connection.Manager {
	if m := a.current(); m != nil {
		return m.conn
	}
	return nil
}

// Registry returns the provider registry of the current mount.
func (a *App) Registry() *discovery.Registry {
	if m := a.current(); m != nil {
		return m.registry
	}
	return nil
}

// Session returns the encrypted computation session of the current mount.
func (a *App) Session() *fhevm.Session {
	if m := a.current(); m != nil {
		return m.session
	}
	return nil
}

// Jury returns the contract client of the current mount. It is never nil;
// without a connection or deployment it has no binding.
func (a *App) Jury() *jury.Client {
	if m := a.current(); m != nil {
		return m.client()
	}
	return jury.NewClient(nil, nil, a.sigs, a.logger)
}

// Sync applies the current connection state to the session and binding.
// Mount and Reload do this themselves; call it after Connect to observe the
// new binding without waiting for the state feed.
func (a *App) Sync() {
	if m := a.current(); m != nil {
		m.apply(m.conn.State())
	}
}

// Mount starts discovery, mounts the connection manager and binds the
// session and contract to the connection.
func (a *App) Mount(ctx context.Context) error {
	a.life.Lock()
	defer a.life.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.cur != nil {
		return nil
	}
	a.base = ctx
	return a.mountLocked()
}

// Reload discards the current mount and mounts again. Nothing of the old
// mount is reused.
func (a *App) Reload() error {
	a.life.Lock()
	defer a.life.Unlock()
	if a.closed || a.cur == nil {
		return nil
	}
	a.unmountLocked()
	return a.mountLocked()
}

// Unmount tears the current mount down.
func (a *App) Unmount() {
	a.life.Lock()
	defer a.life.Unlock()
	a.unmountLocked()
}

// Close unmounts, stops the wallets and closes an owned store.
func (a *App) Close() error {
	a.life.Lock()
	a.unmountLocked()
	a.closed = true
	a.life.Unlock()

	for _, ann := range a.announcers {
		ann.Stop()
	}
	var errs []error
	a.fallbackOnce.Do(func() {})
	if a.fallback != nil {
		errs = append(errs, a.fallback.Close())
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.scope.Close()
	if a.ownsStore {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) onChainChanged(chainID uint64) {
	a.logger.Debug("app: chain changed to %d, rebuilding", chainID)
	if err := a.Reload(); err != nil {
		a.logger.Error("app: reload after chain change: %v", err)
	}
}

func (a *App) mountLocked() error {
	registry := discovery.NewRegistry(a.bus)
	if err := registry.Start(); err != nil {
		return err
	}
	// In-process wallets answer at once; late ones are picked up by the
	// connection manager's delayed retry.
	a.bus.WaitAsync()

	conn := connection.NewManager(connection.Options{
		Providers:      registry,
		Store:          a.store,
		Fallback:       a.fallbackProvider,
		Reloader:       a.onChainChanged,
		ReconnectDelay: a.cfg.ReconnectDelay(),
		SwitchTimeout:  a.cfg.SwitchTimeout(),
		Logger:         a.logger,
		Metrics:        a.metrics,
	})
	session := fhevm.NewSession(fhevm.SessionOptions{
		MockChains: a.cfg.MockChains,
		Runtime:    a.runtime,
		Mock:       mock.NewFactory(a.logger),
		KeyStore:   a.keys,
		Dial:       a.dial,
		Build:      a.build,
		Logger:     a.logger,
		Metrics:    a.metrics,
	})

	ctx, cancel := context.WithCancel(a.base)
	m := &mount{
		app:      a,
		registry: registry,
		conn:     conn,
		session:  session,
		cancel:   cancel,
		done:     make(chan struct{}),
		jury:     jury.NewClient(nil, session, a.sigs, a.logger),
	}

	states := make(chan connection.State, 16)
	m.sub = conn.Subscribe(states)
	go m.follow(states)

	a.mu.Lock()
	a.gen++
	m.gen = a.gen
	a.cur = m
	a.mu.Unlock()

	conn.Mount(ctx)
	m.apply(conn.State())

	a.logger.Debug("app: mount %d ready", m.gen)
	a.feed.Send(m.gen)
	return nil
}

func (a *App) unmountLocked() {
	a.mu.Lock()
	m := a.cur
	a.cur = nil
	a.mu.Unlock()
	if m == nil {
		return
	}

	m.cancel()
	m.conn.Close()
	<-m.done
	m.session.Close()
	m.registry.Stop()
	a.logger.Debug("app: mount %d torn down", m.gen)
}

// boundKey identifies what a binding was built for.
type boundKey struct {
	provider provider.Provider
	account  common.Address
	chainID  uint64
}

// mount is everything built for one (provider, chain) lifetime.
type mount struct {
	app      *App
	gen      uint64
	registry *discovery.Registry
	conn     *connection.Manager
	session  *fhevm.Session
	cancel   context.CancelFunc
	sub      event.Subscription
	done     chan struct{}

	mu      sync.Mutex
	jury    *jury.Client
	bound   *boundKey
	retired bool
}

func (m *mount) client() *jury.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jury
}

func (m *mount) follow(states <-chan connection.State) {
	defer close(m.done)
	for {
		select {
		case st := <-states:
			m.apply(st)
		case <-m.sub.Err():
			return
		}
	}
}

// apply keeps the session and the binding in step with the connection. A
// chain change retires the mount: the reload that follows builds new ones.
func (m *mount) apply(st connection.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.app

	if m.retired {
		return
	}
	if !st.IsConnected || st.Account == nil {
		if m.bound != nil {
			m.session.Stop()
			m.bound = nil
			m.jury = jury.NewClient(nil, m.session, a.sigs, a.logger)
		}
		return
	}

	key := boundKey{provider: st.Provider, account: *st.Account, chainID: st.ChainID}
	if m.bound != nil && *m.bound == key {
		return
	}
	if m.bound != nil && m.bound.chainID != key.chainID {
		m.retired = true
		m.session.Stop()
		m.bound = nil
		m.jury = jury.NewClient(nil, nil, a.sigs, a.logger)
		return
	}

	m.session.Start(st.Provider, st.ChainID)
	binding, err := jury.Bind(st.Provider, st.ChainID, key.account, jury.BindOptions{
		Addresses:      a.addrs,
		ReceiptTimeout: a.cfg.ReceiptTimeout(),
		Logger:         a.logger,
		Metrics:        a.metrics,
	})
	if err != nil {
		a.logger.Debug("app: no contract on chain %d: %v", st.ChainID, err)
		binding = nil
	}
	m.bound = &key
	m.jury = jury.NewClient(binding, m.session, a.sigs, a.logger)
}
