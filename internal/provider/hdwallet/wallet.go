// Package hdwallet implements a local wallet provider holding BIP44 keys
// derived from a mnemonic. It answers the account, chain, signing and
// transaction methods itself and forwards everything else to the node of
// the active network.
package hdwallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/craftclass/jury/internal/chain"
	"github.com/craftclass/jury/internal/chain/rpc"
	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/kvstore"
	"github.com/craftclass/jury/internal/provider"
)

// Keys in the wallet's own storage namespace.
const (
	keyPermitted = "permitted"
	keyChainID   = "chainId"
)

// ErrUnknownNetwork indicates the initial chain has no configured endpoint.
var ErrUnknownNetwork = errors.New("no rpc endpoint configured for chain")

// Options configures a Wallet.
type Options struct {
	Name       string
	Mnemonic   string
	Passphrase string
	Accounts   int
	ChainID    uint64

	// Networks maps chain id to node endpoint. Switching is limited to these.
	Networks map[uint64]string

	Approver Approver

	// Store holds the connect permission and the selected chain. It should
	// already be scoped to this wallet.
	Store kvstore.Store

	// Dial creates node clients. Defaults to rpc.NewClient.
	Dial func(url string) *rpc.Client

	Logger config.LogWriter
}

// Wallet is a provider.Provider backed by local keys.
type Wallet struct {
	name     string
	keys     []*ecdsa.PrivateKey
	addrs    []common.Address
	networks map[uint64]string
	approver Approver
	store    kvstore.Store
	dial     func(string) *rpc.Client
	logger   config.LogWriter

	mu      sync.Mutex
	chainID uint64
	clients map[uint64]*rpc.Client
	closed  bool

	feed  event.Feed
	scope event.SubscriptionScope
}

var _ provider.Provider = (*Wallet)(nil)

// New derives the wallet keys and restores the previously selected chain.
func New(ctx context.Context, opts Options) (*Wallet, error) {
	keys, err := DeriveKeys(opts.Mnemonic, opts.Passphrase, opts.Accounts)
	if err != nil {
		return nil, err
	}

	w := &Wallet{
		name:     opts.Name,
		keys:     keys,
		addrs:    Addresses(keys),
		networks: opts.Networks,
		approver: opts.Approver,
		store:    opts.Store,
		dial:     opts.Dial,
		logger:   opts.Logger,
		chainID:  opts.ChainID,
		clients:  make(map[uint64]*rpc.Client),
	}
	if w.approver == nil {
		w.approver = Deny()
	}
	if w.store == nil {
		w.store = kvstore.NewMemory()
	}
	if w.dial == nil {
		w.dial = func(url string) *rpc.Client { return rpc.NewClient(url) }
	}
	if w.logger == nil {
		w.logger = config.NullLogger()
	}

	if v, ok, err := w.store.Get(ctx, keyChainID); err != nil {
		w.logger.Error("wallet %s: reading selected chain: %v", w.name, err)
	} else if ok {
		if id, perr := strconv.ParseUint(v, 10, 64); perr == nil && w.networks[id] != "" {
			w.chainID = id
		}
	}

	if _, ok := w.networks[w.chainID]; !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownNetwork, w.chainID)
	}
	return w, nil
}

// Name returns the display name.
func (w *Wallet) Name() string {
	return w.name
}

// Addresses returns every derived account, whether permitted or not.
func (w *Wallet) Addresses() []common.Address {
	return append([]common.Address(nil), w.addrs...)
}

// CurrentChainID returns the selected chain.
func (w *Wallet) CurrentChainID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID
}

// Subscribe implements provider.Provider.
func (w *Wallet) Subscribe(ch chan<- provider.Event) event.Subscription {
	return w.scope.Track(w.feed.Subscribe(ch))
}

// Close disconnects every subscriber.
func (w *Wallet) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	clients := w.clients
	w.clients = nil
	w.mu.Unlock()

	w.feed.Send(provider.Event{Kind: provider.Disconnect, Err: provider.ErrDisconnected})
	w.scope.Close()
	for _, c := range clients {
		c.Close()
	}
	return nil
}

// Request implements provider.Provider.
func (w *Wallet) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return nil, provider.ErrDisconnected
	}

	switch method {
	case provider.MethodRequestAccounts:
		return w.requestAccounts(ctx)
	case provider.MethodAccounts:
		return w.accounts(ctx)
	case provider.MethodChainID:
		return json.Marshal(chain.HexChainID(w.CurrentChainID()))
	case "net_version":
		return json.Marshal(strconv.FormatUint(w.CurrentChainID(), 10))
	case provider.MethodSwitchChain:
		return w.switchChain(ctx, params)
	case provider.MethodSendTransaction:
		return w.sendTransaction(ctx, params)
	case provider.MethodSignTypedData:
		return w.signTypedData(ctx, params)
	case provider.MethodRevokePermissions:
		return w.revoke(ctx)
	case "personal_sign", "eth_sign", "eth_signTransaction":
		return nil, provider.UnsupportedMethod(method)
	default:
		raw, err := w.client().Call(ctx, method, params...)
		return raw, provider.FromNode(err)
	}
}

func (w *Wallet) client() *rpc.Client {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.clients[w.chainID]
	if !ok {
		c = w.dial(w.networks[w.chainID])
		w.clients[w.chainID] = c
	}
	return c
}

func (w *Wallet) permitted(ctx context.Context) bool {
	v, ok, err := w.store.Get(ctx, keyPermitted)
	if err != nil {
		w.logger.Error("wallet %s: reading permission: %v", w.name, err)
		return false
	}
	return ok && v == "true"
}

func (w *Wallet) requestAccounts(ctx context.Context) (json.RawMessage, error) {
	if w.permitted(ctx) {
		return provider.EncodeAccounts(w.addrs), nil
	}

	ok, err := w.approver.Approve(ctx, ApprovalRequest{
		Kind:     ApproveConnect,
		Wallet:   w.name,
		Accounts: w.Addresses(),
		ChainID:  w.CurrentChainID(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, provider.ErrUserRejected
	}

	if err := w.store.Set(ctx, keyPermitted, "true"); err != nil {
		w.logger.Error("wallet %s: saving permission: %v", w.name, err)
	}
	return provider.EncodeAccounts(w.addrs), nil
}

func (w *Wallet) accounts(ctx context.Context) (json.RawMessage, error) {
	if !w.permitted(ctx) {
		return provider.EncodeAccounts(nil), nil
	}
	return provider.EncodeAccounts(w.addrs), nil
}

func (w *Wallet) revoke(ctx context.Context) (json.RawMessage, error) {
	if err := w.store.Delete(ctx, keyPermitted); err != nil {
		w.logger.Error("wallet %s: revoking permission: %v", w.name, err)
	}
	w.feed.Send(provider.Event{Kind: provider.AccountsChanged, Accounts: []common.Address{}})
	return json.RawMessage("null"), nil
}

func (w *Wallet) switchChain(ctx context.Context, params []any) (json.RawMessage, error) {
	var p provider.SwitchChainParams
	if err := provider.DecodeParam(params, 0, &p); err != nil {
		return nil, err
	}
	id, err := chain.ParseHexChainID(p.ChainID)
	if err != nil {
		return nil, provider.NewRPCError(provider.CodeInvalidParams, err.Error())
	}
	if id == w.CurrentChainID() {
		return json.RawMessage("null"), nil
	}
	if _, ok := w.networks[id]; !ok {
		return nil, provider.UnrecognizedChain(p.ChainID)
	}

	ok, err := w.approver.Approve(ctx, ApprovalRequest{Kind: ApproveSwitchChain, Wallet: w.name, ChainID: id})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, provider.ErrUserRejected
	}

	w.mu.Lock()
	w.chainID = id
	w.mu.Unlock()

	if err := w.store.Set(ctx, keyChainID, strconv.FormatUint(id, 10)); err != nil {
		w.logger.Error("wallet %s: saving selected chain: %v", w.name, err)
	}
	w.logger.Debug("wallet %s: switched to chain %d", w.name, id)

	w.feed.Send(provider.Event{Kind: provider.ChainChanged, ChainID: chain.HexChainID(id)})
	return json.RawMessage("null"), nil
}

// TxArgs is the eth_sendTransaction parameter object.
type TxArgs struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to,omitempty"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Nonce    *hexutil.Uint64 `json:"nonce,omitempty"`
	Data     hexutil.Bytes   `json:"data,omitempty"`
}

func (w *Wallet) key(ctx context.Context, addr common.Address) (*ecdsa.PrivateKey, error) {
	if !w.permitted(ctx) {
		return nil, provider.ErrUnauthorized
	}
	for i, a := range w.addrs {
		if a == addr {
			return w.keys[i], nil
		}
	}
	return nil, provider.ErrUnauthorized
}

func (w *Wallet) sendTransaction(ctx context.Context, params []any) (json.RawMessage, error) {
	var args TxArgs
	if err := provider.DecodeParam(params, 0, &args); err != nil {
		return nil, err
	}
	key, err := w.key(ctx, args.From)
	if err != nil {
		return nil, err
	}

	chainID := w.CurrentChainID()
	client := w.client()

	if args.Nonce == nil {
		n, err := client.GetTransactionCount(ctx, args.From)
		if err != nil {
			return nil, provider.FromNode(err)
		}
		args.Nonce = (*hexutil.Uint64)(&n)
	}
	if args.GasPrice == nil {
		price, err := client.GasPrice(ctx)
		if err != nil {
			return nil, provider.FromNode(err)
		}
		args.GasPrice = (*hexutil.Big)(price)
	}
	value := new(big.Int)
	if args.Value != nil {
		value = args.Value.ToInt()
	}
	if args.Gas == nil {
		from := args.From
		gas, err := client.EstimateGas(ctx, rpc.CallMsg{From: &from, To: args.To, Value: value, Data: args.Data})
		if err != nil {
			// Reverts surface here with their revert data intact.
			return nil, provider.FromNode(err)
		}
		args.Gas = (*hexutil.Uint64)(&gas)
	}

	ok, err := w.approver.Approve(ctx, ApprovalRequest{Kind: ApproveTransaction, Wallet: w.name, ChainID: chainID, Tx: &args})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, provider.ErrUserRejected
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    uint64(*args.Nonce),
		GasPrice: args.GasPrice.ToInt(),
		Gas:      uint64(*args.Gas),
		To:       args.To,
		Value:    value,
		Data:     args.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chain.BigChainID(chainID)), key)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding transaction: %w", err)
	}

	hash, err := client.SendRawTransaction(ctx, raw)
	if err != nil {
		return nil, provider.FromNode(err)
	}
	w.logger.Debug("wallet %s: sent transaction %s", w.name, hash.Hex())
	return json.Marshal(hash)
}

func (w *Wallet) signTypedData(ctx context.Context, params []any) (json.RawMessage, error) {
	var addr common.Address
	if err := provider.DecodeParam(params, 0, &addr); err != nil {
		return nil, err
	}
	typed, err := decodeTypedData(params)
	if err != nil {
		return nil, err
	}
	key, err := w.key(ctx, addr)
	if err != nil {
		return nil, err
	}

	ok, err := w.approver.Approve(ctx, ApprovalRequest{Kind: ApproveSignTypedData, Wallet: w.name, ChainID: w.CurrentChainID(), TypedData: typed})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, provider.ErrUserRejected
	}

	hash, _, err := apitypes.TypedDataAndHash(*typed)
	if err != nil {
		return nil, provider.NewRPCError(provider.CodeInvalidParams, err.Error())
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, fmt.Errorf("signing typed data: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return json.Marshal(hexutil.Encode(sig))
}

// decodeTypedData accepts the typed data either as an object or as the JSON
// string most dapps send.
func decodeTypedData(params []any) (*apitypes.TypedData, error) {
	var typed apitypes.TypedData
	var s string
	if err := provider.DecodeParam(params, 1, &s); err == nil {
		if err := json.Unmarshal([]byte(s), &typed); err != nil {
			return nil, provider.NewRPCError(provider.CodeInvalidParams, err.Error())
		}
		return &typed, nil
	}
	if err := provider.DecodeParam(params, 1, &typed); err != nil {
		return nil, err
	}
	return &typed, nil
}
