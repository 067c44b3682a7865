// Package fhevm builds and owns the encrypted-computation instance for the
// active chain. A local development node that exposes relayer metadata gets
// the mock backend; every other chain gets the production relayer SDK.
package fhevm

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/craftclass/jury/internal/chain/rpc"
	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/provider"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

// ErrAborted reports a construction superseded by newer inputs. It never
// reaches session state.
var ErrAborted = errors.New("fhevm: construction aborted")

// hardhatSignature is the client version marker of a local dev node.
const hardhatSignature = "hardhat"

// MockFactory builds a mock instance against a local node.
type MockFactory interface {
	NewInstance(ctx context.Context, client *rpc.Client, chainID uint64, meta rpc.RelayerMetadata) (Instance, error)
}

// Params are the inputs of one construction.
type Params struct {
	// Provider is the live wallet provider. RPCURL, when set, takes its
	// place for chain id resolution and as the mock node endpoint.
	Provider provider.Provider
	RPCURL   string

	// MockChains maps chain ids to local node endpoints.
	MockChains map[uint64]string

	Runtime  *Runtime
	Mock     MockFactory
	KeyStore *PublicKeyStore
	OnStatus func(Status)
	Dial     func(url string) *rpc.Client
	Logger   config.LogWriter
}

func (p *Params) report(s Status) {
	if p.OnStatus != nil {
		p.OnStatus(s)
	}
}

func (p *Params) dial(url string) *rpc.Client {
	if p.Dial != nil {
		return p.Dial(url)
	}
	return rpc.NewClient(url)
}

func aborted(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrAborted
	}
	return nil
}

// CreateInstance runs the construction protocol. Statuses are reported in
// order; a cancelled ctx stops it with ErrAborted and no further status.
func CreateInstance(ctx context.Context, p Params) (Instance, error) {
	if p.Logger == nil {
		p.Logger = config.NullLogger()
	}

	chainID, err := resolveChainID(ctx, &p)
	if aerr := aborted(ctx); aerr != nil {
		return nil, aerr
	}
	if err != nil {
		return nil, juryerr.WithCause(juryerr.ErrNetworkError, err)
	}

	if url, ok := mockEndpoint(&p, chainID); ok && p.Mock != nil {
		client := p.dial(url)
		meta, ok := probeDevNode(ctx, client, p.Logger)
		if aerr := aborted(ctx); aerr != nil {
			return nil, aerr
		}
		if ok {
			p.report(StatusCreating)
			inst, err := p.Mock.NewInstance(ctx, client, chainID, meta)
			if aerr := aborted(ctx); aerr != nil {
				return nil, aerr
			}
			if err != nil {
				return nil, err
			}
			p.report(StatusReady)
			return inst, nil
		}
		p.Logger.Debug("fhevm: chain %d is not a recognized dev node, using production", chainID)
	}

	return createProduction(ctx, &p)
}

func resolveChainID(ctx context.Context, p *Params) (uint64, error) {
	if p.RPCURL != "" {
		return p.dial(p.RPCURL).ChainID(ctx)
	}
	if p.Provider == nil {
		return 0, provider.ErrDisconnected
	}
	return provider.ChainID(ctx, p.Provider)
}

func mockEndpoint(p *Params, chainID uint64) (string, bool) {
	url, ok := p.MockChains[chainID]
	if !ok {
		return "", false
	}
	if p.RPCURL != "" {
		return p.RPCURL, true
	}
	return url, url != ""
}

// probeDevNode checks the node signature and relayer metadata. Any failure
// means "not a dev node".
func probeDevNode(ctx context.Context, client *rpc.Client, logger config.LogWriter) (rpc.RelayerMetadata, bool) {
	version, err := client.ClientVersion(ctx)
	if err != nil {
		logger.Debug("fhevm: web3_clientVersion failed: %v", err)
		return rpc.RelayerMetadata{}, false
	}
	if !strings.Contains(strings.ToLower(version), hardhatSignature) {
		return rpc.RelayerMetadata{}, false
	}

	meta, err := client.RelayerMetadata(ctx)
	if err != nil {
		logger.Debug("fhevm: fhevm_relayer_metadata failed: %v", err)
		return rpc.RelayerMetadata{}, false
	}
	return meta, meta.Complete()
}

func createProduction(ctx context.Context, p *Params) (Instance, error) {
	rt := p.Runtime
	if rt == nil || rt.loader == nil || rt.sdk == nil {
		return nil, juryerr.WithDetails(juryerr.ErrSDKLoad, map[string]string{"reason": "no relayer runtime configured"})
	}

	if !rt.loader.IsLoaded() {
		p.report(StatusSDKLoading)
		err := rt.loader.Load(ctx)
		if aerr := aborted(ctx); aerr != nil {
			return nil, aerr
		}
		if err != nil {
			return nil, juryerr.WithCause(juryerr.ErrSDKLoad, err)
		}
		p.report(StatusSDKLoaded)
	}

	ran, err := rt.ensureInit(ctx, func() { p.report(StatusSDKInitializing) })
	if aerr := aborted(ctx); aerr != nil {
		return nil, aerr
	}
	if err != nil {
		return nil, juryerr.WithCause(juryerr.ErrSDKInit, err)
	}
	if ran {
		p.report(StatusSDKInitialized)
	}

	network := rt.sdk.Network()
	if !common.IsHexAddress(network.ACLAddress) {
		return nil, juryerr.WithDetails(juryerr.ErrInvalidACLAddress, map[string]string{"address": network.ACLAddress})
	}

	cached := p.KeyStore.Get(ctx, network.ACLAddress)
	if aerr := aborted(ctx); aerr != nil {
		return nil, aerr
	}

	p.report(StatusCreating)
	inst, err := rt.sdk.CreateInstance(ctx, InstanceConfig{
		Network:      network,
		Provider:     p.Provider,
		RPCURL:       p.RPCURL,
		PublicKey:    cached.PublicKey,
		PublicParams: cached.PublicParams,
	})
	if aerr := aborted(ctx); aerr != nil {
		return nil, aerr
	}
	if err != nil {
		return nil, err
	}

	if err := p.KeyStore.Set(ctx, network.ACLAddress, inst.PublicKey(), inst.PublicParams(PublicParamsBits)); err != nil {
		p.Logger.Error("fhevm: caching public key: %v", err)
	}

	p.report(StatusReady)
	return inst, nil
}
