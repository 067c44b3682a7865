// Package node implements a provider over a node's own unlocked accounts.
// It serves as the generic fallback when discovery has not surfaced the
// wallet a persisted session names.
package node

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/craftclass/jury/internal/chain"
	"github.com/craftclass/jury/internal/chain/rpc"
	"github.com/craftclass/jury/internal/provider"
)

// Provider forwards every request to one node. The node's chain is fixed,
// so switching to any other chain fails with 4902.
type Provider struct {
	client *rpc.Client

	mu      sync.Mutex
	chainID uint64
	closed  bool

	feed  event.Feed
	scope event.SubscriptionScope
}

var _ provider.Provider = (*Provider)(nil)

// New creates a provider for the node behind client.
func New(client *rpc.Client) *Provider {
	return &Provider{client: client}
}

// Request implements provider.Provider.
func (p *Provider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, provider.ErrDisconnected
	}

	switch method {
	case provider.MethodRequestAccounts:
		// Node accounts are always unlocked, so the interactive request is the silent one.
		method = provider.MethodAccounts
	case provider.MethodSwitchChain:
		return p.switchChain(ctx, params)
	case provider.MethodRevokePermissions:
		return nil, provider.UnsupportedMethod(method)
	}

	raw, err := p.client.Call(ctx, method, params...)
	return raw, provider.FromNode(err)
}

func (p *Provider) switchChain(ctx context.Context, params []any) (json.RawMessage, error) {
	var sp provider.SwitchChainParams
	if err := provider.DecodeParam(params, 0, &sp); err != nil {
		return nil, err
	}
	target, err := chain.ParseHexChainID(sp.ChainID)
	if err != nil {
		return nil, provider.NewRPCError(provider.CodeInvalidParams, err.Error())
	}

	current, err := p.chainIDCached(ctx)
	if err != nil {
		return nil, err
	}
	if target != current {
		return nil, provider.UnrecognizedChain(sp.ChainID)
	}
	return json.RawMessage("null"), nil
}

func (p *Provider) chainIDCached(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	id := p.chainID
	p.mu.Unlock()
	if id != 0 {
		return id, nil
	}

	id, err := p.client.ChainID(ctx)
	if err != nil {
		return 0, provider.FromNode(err)
	}
	p.mu.Lock()
	p.chainID = id
	p.mu.Unlock()
	return id, nil
}

// Subscribe implements provider.Provider. A node only ever emits disconnect.
func (p *Provider) Subscribe(ch chan<- provider.Event) event.Subscription {
	return p.scope.Track(p.feed.Subscribe(ch))
}

// Close disconnects subscribers and releases idle connections.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.feed.Send(provider.Event{Kind: provider.Disconnect, Err: provider.ErrDisconnected})
	p.scope.Close()
	p.client.Close()
	return nil
}
