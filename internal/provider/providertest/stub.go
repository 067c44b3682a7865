// Package providertest offers a scriptable in-memory provider for tests.
package providertest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/craftclass/jury/internal/chain"
	"github.com/craftclass/jury/internal/provider"
)

// HandlerFunc answers one request method.
type HandlerFunc func(ctx context.Context, params []any) (any, error)

// Stub is a provider.Provider whose answers are set per method. Requests to
// methods without a handler fail with 4200.
type Stub struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    []string
	feed     event.Feed
	scope    event.SubscriptionScope
}

var _ provider.Provider = (*Stub)(nil)

// New creates a stub that reports accounts for both account methods and
// chainID for eth_chainId.
func New(chainID uint64, accounts ...common.Address) *Stub {
	s := &Stub{handlers: make(map[string]HandlerFunc)}
	s.SetAccounts(accounts...)
	s.SetChainID(chainID)
	return s
}

// Handle sets the handler for method.
func (s *Stub) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Fail makes method return err.
func (s *Stub) Fail(method string, err error) {
	s.Handle(method, func(context.Context, []any) (any, error) { return nil, err })
}

// SetAccounts sets the result of eth_requestAccounts and eth_accounts.
func (s *Stub) SetAccounts(accounts ...common.Address) {
	h := func(context.Context, []any) (any, error) { return provider.EncodeAccounts(accounts), nil }
	s.Handle(provider.MethodRequestAccounts, h)
	s.Handle(provider.MethodAccounts, h)
}

// SetChainID sets the result of eth_chainId.
func (s *Stub) SetChainID(id uint64) {
	s.Handle(provider.MethodChainID, func(context.Context, []any) (any, error) { return chain.HexChainID(id), nil })
}

// Request implements provider.Provider.
func (s *Stub) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, method)
	h, ok := s.handlers[method]
	s.mu.Unlock()

	if !ok {
		return nil, provider.UnsupportedMethod(method)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := h(ctx, params)
	if err != nil {
		return nil, err
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// Subscribe implements provider.Provider.
func (s *Stub) Subscribe(ch chan<- provider.Event) event.Subscription {
	return s.scope.Track(s.feed.Subscribe(ch))
}

// Emit delivers ev to every subscriber and returns how many received it.
func (s *Stub) Emit(ev provider.Event) int {
	return s.feed.Send(ev)
}

// Subscribers returns the number of live subscriptions.
func (s *Stub) Subscribers() int {
	return s.scope.Count()
}

// Calls returns the methods requested so far, in order.
func (s *Stub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Called reports whether method was requested.
func (s *Stub) Called(method string) bool {
	for _, c := range s.Calls() {
		if c == method {
			return true
		}
	}
	return false
}
