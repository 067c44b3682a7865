// Package connection owns the single active wallet connection: provider,
// account and chain. It connects interactively or silently from a persisted
// session, follows provider events and keeps the persisted session in step.
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/craftclass/jury/internal/chain"
	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/discovery"
	"github.com/craftclass/jury/internal/kvstore"
	"github.com/craftclass/jury/internal/metrics"
	"github.com/craftclass/jury/internal/provider"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

// Defaults used when Options leaves them zero.
const (
	DefaultReconnectDelay = 500 * time.Millisecond
	DefaultSwitchTimeout  = 10 * time.Second
)

// Connection operation names recorded in metrics.
const (
	opConnect         = "connect"
	opSilentReconnect = "silent_reconnect"
	opSwitchChain     = "switch_chain"
	opDisconnect      = "disconnect"
)

// State is a snapshot of the connection. IsConnected implies Account and
// Provider are set.
type State struct {
	Provider     provider.Provider
	ProviderID   string
	Account      *common.Address
	Accounts     []common.Address
	ChainID      uint64
	IsConnected  bool
	IsConnecting bool
	LastError    error
}

func (s State) clone() State {
	if s.Account != nil {
		a := *s.Account
		s.Account = &a
	}
	s.Accounts = append([]common.Address(nil), s.Accounts...)
	return s
}

// Directory is the discovery surface the manager needs.
type Directory interface {
	First() (discovery.ProviderDetail, bool)
	FindProvider(id string) (discovery.ProviderDetail, bool)
	Len() int
}

// Options configures a Manager.
type Options struct {
	Providers Directory
	Store     kvstore.Store

	// Fallback returns the generic provider used by silent reconnect when
	// discovery has not surfaced the persisted provider. May be nil.
	Fallback func() provider.Provider

	// Reloader runs after a chain change, on its own goroutine. The app uses
	// it to rebuild everything bound to the old chain.
	Reloader func(chainID uint64)

	ReconnectDelay time.Duration
	SwitchTimeout  time.Duration

	Logger  config.LogWriter
	Metrics *metrics.Metrics
}

// Manager is the connection state manager. One per app instance.
type Manager struct {
	providers Directory
	store     kvstore.Store
	fallback  func() provider.Provider
	reloader  func(uint64)
	delay     time.Duration
	timeout   time.Duration
	logger    config.LogWriter
	metrics   *metrics.Metrics

	mu          sync.Mutex
	state       State
	epoch       uint64
	sub         event.Subscription
	listenerGen uint64
	attempted   bool
	mounted     bool
	cancelMount context.CancelFunc
	chainWait   []chan uint64

	wg    sync.WaitGroup
	feed  event.Feed
	scope event.SubscriptionScope
}

// NewManager creates a disconnected manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		providers: opts.Providers,
		store:     opts.Store,
		fallback:  opts.Fallback,
		reloader:  opts.Reloader,
		delay:     opts.ReconnectDelay,
		timeout:   opts.SwitchTimeout,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
	if m.store == nil {
		m.store = kvstore.NewMemory()
	}
	if m.delay <= 0 {
		m.delay = DefaultReconnectDelay
	}
	if m.timeout <= 0 {
		m.timeout = DefaultSwitchTimeout
	}
	if m.logger == nil {
		m.logger = config.NullLogger()
	}
	if m.metrics == nil {
		m.metrics = metrics.Global
	}
	return m
}

// State returns a snapshot of the connection.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Subscribe delivers a snapshot after every state change.
func (m *Manager) Subscribe(ch chan<- State) event.Subscription {
	return m.scope.Track(m.feed.Subscribe(ch))
}

func (m *Manager) publish() {
	m.feed.Send(m.State())
}

// Connect selects a provider (preferredID, else the first discovered),
// requests accounts interactively and adopts the result. On failure the
// previous state is kept, LastError is set and IsConnecting is cleared.
func (m *Manager) Connect(ctx context.Context, preferredID string) (err error) {
	m.mu.Lock()
	m.state.IsConnecting = true
	m.state.LastError = nil
	m.mu.Unlock()
	m.publish()

	defer func() {
		m.metrics.RecordConnectionOp(opConnect, err)
		if err != nil {
			m.mu.Lock()
			m.state.IsConnecting = false
			m.state.LastError = err
			m.mu.Unlock()
			m.logger.Error("connect failed: %v", err)
			m.publish()
		}
	}()

	detail, err := m.selectProvider(preferredID)
	if err != nil {
		return err
	}

	accounts, err := provider.RequestAccounts(ctx, detail.Provider)
	if err != nil {
		if provider.IsUserRejected(err) {
			return juryerr.WithCause(juryerr.ErrUserRejected, err)
		}
		return juryerr.WithCause(juryerr.ErrRequestFailed, err)
	}
	if len(accounts) == 0 {
		return juryerr.WithDetails(juryerr.ErrRequestFailed, map[string]string{"reason": "no accounts returned"})
	}

	chainID, err := provider.ChainID(ctx, detail.Provider)
	if err != nil {
		return juryerr.WithCause(juryerr.ErrRequestFailed, err)
	}

	m.mu.Lock()
	m.adopt(detail.Provider, detail.ID(), accounts, chainID)
	m.state.IsConnecting = false
	m.mu.Unlock()

	m.saveSession(ctx, detail.ID(), accounts, chainID)
	m.logger.Debug("connected %s account %s chain %d", detail.ID(), accounts[0].Hex(), chainID)
	m.publish()
	return nil
}

func (m *Manager) selectProvider(preferredID string) (discovery.ProviderDetail, error) {
	if m.providers == nil {
		return discovery.ProviderDetail{}, juryerr.ErrNoProviderFound
	}
	if preferredID == "" {
		if d, ok := m.providers.First(); ok {
			return d, nil
		}
		return discovery.ProviderDetail{}, juryerr.ErrNoProviderFound
	}
	if d, ok := m.providers.FindProvider(preferredID); ok {
		return d, nil
	}

	err := juryerr.WithDetails(juryerr.ErrNoProviderFound, map[string]string{"provider": preferredID})
	if s, ok := m.providers.(interface{ Suggest(string) string }); ok {
		if guess := s.Suggest(preferredID); guess != "" {
			err = juryerr.WithSuggestion(err, "Did you mean '"+guess+"'?")
		}
	}
	return discovery.ProviderDetail{}, err
}

// adopt installs p as the active connection. Caller holds m.mu.
func (m *Manager) adopt(p provider.Provider, id string, accounts []common.Address, chainID uint64) {
	m.teardownLocked()

	account := accounts[0]
	m.state = State{
		Provider:    p,
		ProviderID:  id,
		Account:     &account,
		Accounts:    append([]common.Address(nil), accounts...),
		ChainID:     chainID,
		IsConnected: true,
	}
	m.epoch++
	m.listenLocked(p)
}

// Disconnect clears the connection and the persisted session. Idempotent.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	m.teardownLocked()
	m.state = State{}
	m.epoch++
	m.mu.Unlock()

	m.clearSession(ctx)
	m.metrics.RecordConnectionOp(opDisconnect, nil)
	m.metrics.SetConnected(false)
	m.publish()
}

// SwitchChain asks the active provider to change networks and waits for the
// provider's chain change. If the provider applies the switch silently, the
// chain is re-queried after SwitchTimeout and the change applied here.
func (m *Manager) SwitchChain(ctx context.Context, chainID uint64) (err error) {
	defer func() { m.metrics.RecordConnectionOp(opSwitchChain, err) }()

	m.mu.Lock()
	p := m.state.Provider
	if p == nil {
		m.mu.Unlock()
		return juryerr.ErrNoActiveProvider
	}
	if m.state.ChainID == chainID {
		m.mu.Unlock()
		return nil
	}
	wait := make(chan uint64, 1)
	m.chainWait = append(m.chainWait, wait)
	m.mu.Unlock()
	defer m.dropWaiter(wait)

	if err := provider.SwitchChain(ctx, p, chainID); err != nil {
		return juryerr.WithDetails(juryerr.WithCause(juryerr.ErrSwitchRejected, err),
			map[string]string{"chain": chain.NetworkName(chainID)})
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case got := <-wait:
			if got == chainID {
				return nil
			}
		case <-timer.C:
			return m.switchFallback(ctx, p, chainID)
		}
	}
}

func (m *Manager) switchFallback(ctx context.Context, p provider.Provider, target uint64) error {
	current, err := provider.ChainID(ctx, p)
	if err != nil {
		return juryerr.WithCause(juryerr.ErrSwitchTimeout, err)
	}

	m.mu.Lock()
	known := m.state.ChainID
	stillActive := m.state.Provider == p
	m.mu.Unlock()

	if current == known || !stillActive {
		return juryerr.WithDetails(juryerr.ErrSwitchTimeout, map[string]string{"chain": chain.NetworkName(target)})
	}
	m.logger.Debug("provider switched to chain %d without an event", current)
	m.applyChain(ctx, current)
	if current != target {
		return juryerr.WithDetails(juryerr.ErrSwitchTimeout, map[string]string{"chain": chain.NetworkName(target)})
	}
	return nil
}

func (m *Manager) dropWaiter(wait chan uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.chainWait {
		if w == wait {
			m.chainWait = append(m.chainWait[:i], m.chainWait[i+1:]...)
			return
		}
	}
}

// SilentReconnect restores the persisted session without prompting. It runs
// at most once until the delayed retry re-arms it. Failures are logged only.
func (m *Manager) SilentReconnect(ctx context.Context) {
	m.mu.Lock()
	if m.attempted {
		m.mu.Unlock()
		return
	}
	m.attempted = true
	epoch := m.epoch
	m.mu.Unlock()

	m.silentReconnect(ctx, epoch)
}

func (m *Manager) silentReconnect(ctx context.Context, epoch uint64) {
	sess, ok, err := LoadSession(ctx, m.store)
	if err != nil {
		m.logger.Error("reading persisted session: %v", err)
		m.metrics.RecordStorageError("load_session")
		return
	}
	if !ok {
		return
	}

	p := m.resolve(sess.LastProviderID)
	if p == nil {
		return
	}

	var opErr error
	defer func() { m.metrics.RecordConnectionOp(opSilentReconnect, opErr) }()

	accounts, err := provider.Accounts(ctx, p)
	if err != nil {
		opErr = err
		m.logger.Error("silent reconnect to %s failed: %v", sess.LastProviderID, err)
		m.clearSession(ctx)
		return
	}
	if len(accounts) == 0 {
		m.logger.Debug("persisted session for %s is stale", sess.LastProviderID)
		m.clearSession(ctx)
		return
	}
	chainID, err := provider.ChainID(ctx, p)
	if err != nil {
		opErr = err
		m.logger.Error("silent reconnect to %s failed: %v", sess.LastProviderID, err)
		m.clearSession(ctx)
		return
	}

	m.mu.Lock()
	if m.epoch != epoch || m.state.IsConnected {
		// An interactive connect won the race.
		m.mu.Unlock()
		return
	}
	m.adopt(p, sess.LastProviderID, accounts, chainID)
	m.mu.Unlock()

	m.saveSession(ctx, sess.LastProviderID, accounts, chainID)
	m.logger.Debug("silently reconnected %s account %s", sess.LastProviderID, accounts[0].Hex())
	m.publish()
}

func (m *Manager) resolve(id string) provider.Provider {
	if m.providers != nil {
		if d, ok := m.providers.FindProvider(id); ok {
			return d.Provider
		}
	}
	if m.fallback != nil {
		return m.fallback()
	}
	return nil
}

// Mount runs the silent reconnect and schedules the single delayed retry
// for providers that announce late.
func (m *Manager) Mount(ctx context.Context) {
	m.mu.Lock()
	if m.mounted {
		m.mu.Unlock()
		return
	}
	m.mounted = true
	ctx, cancel := context.WithCancel(ctx)
	m.cancelMount = cancel
	m.mu.Unlock()

	emptyAtFirst := m.providers == nil || m.providers.Len() == 0
	m.SilentReconnect(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(m.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		m.mu.Lock()
		retry := emptyAtFirst && !m.state.IsConnected
		if retry {
			m.attempted = false
		}
		m.mu.Unlock()
		if retry {
			m.SilentReconnect(ctx)
		}
	}()
}

// Unmount cancels the pending retry and removes the provider listener.
func (m *Manager) Unmount() {
	m.mu.Lock()
	cancel := m.cancelMount
	m.cancelMount = nil
	m.mounted = false
	m.teardownLocked()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Close unmounts and detaches state subscribers.
func (m *Manager) Close() {
	m.Unmount()
	m.scope.Close()
}

// listenLocked subscribes to p and starts the event loop. Caller holds m.mu.
func (m *Manager) listenLocked(p provider.Provider) {
	events := make(chan provider.Event, 16)
	sub := p.Subscribe(events)
	if sub == nil {
		return
	}
	m.listenerGen++
	m.sub = sub
	m.metrics.SetConnected(true)

	gen := m.listenerGen
	go func() {
		for {
			select {
			case ev := <-events:
				m.handle(gen, ev)
			case <-sub.Err():
				return
			}
		}
	}()
}

// teardownLocked removes the provider listener. Caller holds m.mu.
func (m *Manager) teardownLocked() {
	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
	m.listenerGen++
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.listenerGen
}

func (m *Manager) handle(gen uint64, ev provider.Event) {
	if !m.current(gen) {
		return
	}
	ctx := context.Background()

	switch ev.Kind {
	case provider.AccountsChanged:
		m.applyAccounts(ctx, ev.Accounts)
	case provider.ChainChanged:
		id, err := chain.ParseHexChainID(ev.ChainID)
		if err != nil {
			m.logger.Error("ignoring chainChanged with bad chain id %q: %v", ev.ChainID, err)
			return
		}
		m.applyChain(ctx, id)
	case provider.Disconnect:
		m.logger.Debug("provider disconnected: %v", ev.Err)
		m.mu.Lock()
		m.teardownLocked()
		m.state = State{}
		m.epoch++
		m.mu.Unlock()
		m.clearSession(ctx)
		m.metrics.SetConnected(false)
		m.publish()
	}
}

func (m *Manager) applyAccounts(ctx context.Context, accounts []common.Address) {
	m.mu.Lock()
	if len(accounts) == 0 {
		m.state.Account = nil
		m.state.Accounts = nil
		m.state.IsConnected = false
		m.mu.Unlock()
		m.clearSession(ctx)
		m.metrics.SetConnected(false)
		m.publish()
		return
	}

	account := accounts[0]
	m.state.Account = &account
	m.state.Accounts = append([]common.Address(nil), accounts...)
	m.state.IsConnected = m.state.Provider != nil
	id, chainID := m.state.ProviderID, m.state.ChainID
	m.mu.Unlock()

	m.saveSession(ctx, id, accounts, chainID)
	m.publish()
}

func (m *Manager) applyChain(ctx context.Context, chainID uint64) {
	m.mu.Lock()
	m.state.ChainID = chainID
	id, accounts := m.state.ProviderID, append([]common.Address(nil), m.state.Accounts...)
	for _, w := range m.chainWait {
		select {
		case w <- chainID:
		default:
		}
	}
	m.mu.Unlock()

	if id != "" {
		m.saveSession(ctx, id, accounts, chainID)
	}
	m.logger.Debug("chain changed to %d", chainID)
	m.publish()

	if m.reloader != nil {
		go m.reloader(chainID)
	}
}

func (m *Manager) saveSession(ctx context.Context, id string, accounts []common.Address, chainID uint64) {
	err := SaveSession(ctx, m.store, PersistedSession{
		WasConnected:   true,
		LastProviderID: id,
		LastAccounts:   accounts,
		LastChainID:    chainID,
	})
	if err != nil {
		m.logger.Error("saving persisted session: %v", err)
		m.metrics.RecordStorageError("save_session")
	}
}

func (m *Manager) clearSession(ctx context.Context) {
	if err := ClearSession(ctx, m.store); err != nil {
		m.logger.Error("clearing persisted session: %v", err)
		m.metrics.RecordStorageError("clear_session")
	}
}
