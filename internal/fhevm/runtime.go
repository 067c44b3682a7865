package fhevm

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/craftclass/jury/internal/provider"
)

// Loader brings the production SDK into the runtime.
type Loader interface {
	IsLoaded() bool
	Load(ctx context.Context) error
}

// SDK is a loaded production SDK.
type SDK interface {
	// Init prepares the SDK. It runs at most once per Runtime.
	Init(ctx context.Context) error

	// Network returns the chain-supplied configuration the SDK ships with.
	Network() NetworkConfig

	CreateInstance(ctx context.Context, cfg InstanceConfig) (Instance, error)
}

// InstanceConfig is the merged configuration handed to SDK.CreateInstance.
type InstanceConfig struct {
	Network      NetworkConfig
	Provider     provider.Provider
	RPCURL       string
	PublicKey    *KeyMaterial
	PublicParams *KeyMaterial
}

// ACL returns the parsed ACL contract address.
func (c InstanceConfig) ACL() common.Address {
	return common.HexToAddress(c.Network.ACLAddress)
}

// Runtime is the shared production runtime: one loader, one SDK and the
// once-per-process init guard. Share one Runtime across sessions.
type Runtime struct {
	loader Loader
	sdk    SDK

	mu          sync.Mutex
	initialized bool
}

// NewRuntime creates a Runtime.
func NewRuntime(loader Loader, sdk SDK) *Runtime {
	return &Runtime{loader: loader, sdk: sdk}
}

// Initialized reports whether the SDK finished Init.
func (r *Runtime) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// ensureInit runs Init once. before runs only when Init is actually
// attempted, under the guard.
func (r *Runtime) ensureInit(ctx context.Context, before func()) (ran bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return false, nil
	}
	before()
	if err := r.sdk.Init(ctx); err != nil {
		return true, err
	}
	r.initialized = true
	return true, nil
}
