package fhevm

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/craftclass/jury/internal/chain/rpc"
	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/metrics"
	"github.com/craftclass/jury/internal/provider"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

// BuildFunc constructs an instance. CreateInstance is the default.
type BuildFunc func(ctx context.Context, p Params) (Instance, error)

// SessionOptions configures a Session.
type SessionOptions struct {
	MockChains map[uint64]string
	Runtime    *Runtime
	Mock       MockFactory
	KeyStore   *PublicKeyStore
	Dial       func(url string) *rpc.Client
	Build      BuildFunc
	Logger     config.LogWriter
	Metrics    *metrics.Metrics
}

// Session owns the instance for the current (provider, chain id) input.
// It holds exactly one cancel func; new inputs cancel the build in flight
// and stale builds never touch state.
type Session struct {
	opts    SessionOptions
	build   BuildFunc
	logger  config.LogWriter
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    State
	gen      uint64
	cancel   context.CancelFunc
	provider provider.Provider
	chainID  uint64
	active   bool

	// sendMu keeps feed delivery in mutation order.
	sendMu sync.Mutex
	wg     sync.WaitGroup
	feed   event.Feed
	scope  event.SubscriptionScope
}

// NewSession creates an idle Session.
func NewSession(opts SessionOptions) *Session {
	s := &Session{opts: opts, build: opts.Build, logger: opts.Logger, metrics: opts.Metrics}
	if s.build == nil {
		s.build = CreateInstance
	}
	if s.logger == nil {
		s.logger = config.NullLogger()
	}
	if s.metrics == nil {
		s.metrics = metrics.Global
	}
	return s
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsLoading reports whether a build is in flight.
func (s *Session) IsLoading() bool { return s.State().IsLoading() }

// IsReady reports whether an instance is available.
func (s *Session) IsReady() bool { return s.State().IsReady() }

// Instance returns the ready instance or nil.
func (s *Session) Instance() Instance {
	st := s.State()
	if !st.IsReady() {
		return nil
	}
	return st.Instance
}

// Subscribe delivers every state change to ch. Receivers must keep
// draining ch and must not call back into the Session from that loop.
func (s *Session) Subscribe(ch chan<- State) event.Subscription {
	return s.scope.Track(s.feed.Subscribe(ch))
}

// Start builds an instance for (p, chainID). The same inputs as the
// current ones are a no-op; a nil provider resets to idle.
func (s *Session) Start(p provider.Provider, chainID uint64) {
	s.mu.Lock()
	if p == nil {
		s.resetLocked()
		s.commitLocked()
		return
	}
	if s.active && s.provider == p && s.chainID == chainID {
		s.mu.Unlock()
		return
	}
	s.launchLocked(p, chainID)
	s.commitLocked()
}

// Refresh rebuilds for the current inputs.
func (s *Session) Refresh() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.launchLocked(s.provider, s.chainID)
	s.commitLocked()
}

// Stop cancels any build and resets to idle.
func (s *Session) Stop() {
	s.mu.Lock()
	s.resetLocked()
	s.commitLocked()
}

// Close stops the session, waits for the build goroutine and ends all
// subscriptions.
func (s *Session) Close() {
	s.Stop()
	s.wg.Wait()
	s.scope.Close()
}

// Wait blocks until the current build settles. It returns the instance,
// the build error, or ErrSessionNotReady when no build is active.
func (s *Session) Wait(ctx context.Context) (Instance, error) {
	ch := make(chan State, 16)
	sub := s.Subscribe(ch)
	defer sub.Unsubscribe()

	s.mu.Lock()
	st, active := s.state, s.active
	s.mu.Unlock()

	for {
		switch {
		case st.IsReady():
			return st.Instance, nil
		case st.Status == StatusError:
			return nil, st.Err
		case st.Status == StatusIdle && !active:
			return nil, juryerr.ErrSessionNotReady
		}

		select {
		case st = <-ch:
			if st.Status == StatusIdle {
				s.mu.Lock()
				active = s.active
				s.mu.Unlock()
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Session) resetLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.provider, s.chainID, s.active = nil, 0, false
	s.state = State{Status: StatusIdle}
}

func (s *Session) launchLocked(p provider.Provider, chainID uint64) {
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.provider, s.chainID, s.active = p, chainID, true
	s.state = State{Status: StatusIdle, ChainID: chainID}

	params := Params{
		Provider:   p,
		MockChains: s.opts.MockChains,
		Runtime:    s.opts.Runtime,
		Mock:       s.opts.Mock,
		KeyStore:   s.opts.KeyStore,
		Dial:       s.opts.Dial,
		Logger:     s.logger,
		// Terminal statuses are published by run together with the instance.
		OnStatus: func(st Status) {
			if st == StatusReady || st == StatusError {
				return
			}
			s.apply(gen, func(state *State) { state.Status = st })
		},
	}

	s.wg.Add(1)
	go s.run(ctx, gen, params)
}

func (s *Session) run(ctx context.Context, gen uint64, p Params) {
	defer s.wg.Done()

	inst, err := s.build(ctx, p)
	if errors.Is(err, ErrAborted) || ctx.Err() != nil {
		s.logger.Debug("fhevm: build %d superseded", gen)
		return
	}

	backend := "unknown"
	if inst != nil {
		backend = string(inst.Backend())
	}
	s.metrics.RecordSessionBuild(backend, err)

	if err != nil {
		s.logger.Error("fhevm: building instance: %v", err)
	}
	s.apply(gen, func(state *State) {
		if err != nil {
			state.Status, state.Err, state.Instance = StatusError, err, nil
			return
		}
		state.Status, state.Err, state.Instance = StatusReady, nil, inst
	})
}

// apply mutates state on behalf of build gen; stale generations are dropped.
func (s *Session) apply(gen uint64, fn func(*State)) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	fn(&s.state)
	s.commitLocked()
}

// commitLocked publishes the current state and releases s.mu.
func (s *Session) commitLocked() {
	snap := s.state
	s.sendMu.Lock()
	s.mu.Unlock()
	defer s.sendMu.Unlock()
	s.feed.Send(snap)
}
