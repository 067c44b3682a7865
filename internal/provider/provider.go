// Package provider defines the wallet provider contract shared by the local
// wallets, discovery and the connection manager: a JSON-RPC request surface
// plus an account/chain event feed with explicit unsubscribe.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/craftclass/jury/internal/chain"
)

// Provider request methods.
const (
	MethodRequestAccounts   = "eth_requestAccounts"
	MethodAccounts          = "eth_accounts"
	MethodChainID           = "eth_chainId"
	MethodSwitchChain       = "wallet_switchEthereumChain"
	MethodSendTransaction   = "eth_sendTransaction"
	MethodSignTypedData     = "eth_signTypedData_v4"
	MethodRevokePermissions = "wallet_revokePermissions"
)

// Provider is a wallet capability: it answers JSON-RPC style requests and
// emits account, chain and disconnect events to subscribers.
type Provider interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
	Subscribe(ch chan<- Event) event.Subscription
}

// EventKind identifies a provider event.
type EventKind int

// Provider event kinds.
const (
	AccountsChanged EventKind = iota
	ChainChanged
	Disconnect
)

func (k EventKind) String() string {
	switch k {
	case AccountsChanged:
		return "accountsChanged"
	case ChainChanged:
		return "chainChanged"
	case Disconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is emitted by a provider. Accounts is set for AccountsChanged,
// ChainID (hex) for ChainChanged and Err optionally for Disconnect.
type Event struct {
	Kind     EventKind
	Accounts []common.Address
	ChainID  string
	Err      error
}

// RequestAccounts performs the interactive account request.
func RequestAccounts(ctx context.Context, p Provider) ([]common.Address, error) {
	return accounts(ctx, p, MethodRequestAccounts)
}

// Accounts performs the non-interactive account query. It never prompts.
func Accounts(ctx context.Context, p Provider) ([]common.Address, error) {
	return accounts(ctx, p, MethodAccounts)
}

func accounts(ctx context.Context, p Provider, method string) ([]common.Address, error) {
	raw, err := p.Request(ctx, method)
	if err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decoding %s result: %w", method, err)
	}
	out := make([]common.Address, 0, len(list))
	for _, s := range list {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("%s returned invalid address %q", method, s)
		}
		out = append(out, common.HexToAddress(s))
	}
	return out, nil
}

// ChainID queries the provider's active chain.
func ChainID(ctx context.Context, p Provider) (uint64, error) {
	raw, err := p.Request(ctx, MethodChainID)
	if err != nil {
		return 0, err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return 0, fmt.Errorf("decoding eth_chainId result: %w", err)
	}
	return chain.ParseHexChainID(hex)
}

// SwitchChainParams is the wallet_switchEthereumChain parameter object.
type SwitchChainParams struct {
	ChainID string `json:"chainId"`
}

// SwitchChain asks the provider to change networks.
func SwitchChain(ctx context.Context, p Provider, chainID uint64) error {
	_, err := p.Request(ctx, MethodSwitchChain, SwitchChainParams{ChainID: chain.HexChainID(chainID)})
	return err
}

// EncodeAccounts renders addresses the way providers return them.
func EncodeAccounts(addrs []common.Address) json.RawMessage {
	list := make([]string, len(addrs))
	for i, a := range addrs {
		list[i] = strings.ToLower(a.Hex())
	}
	raw, _ := json.Marshal(list)
	return raw
}

// DecodeParam decodes the i-th request parameter into out. Parameters may
// arrive as Go values or already-encoded JSON.
func DecodeParam(params []any, i int, out any) error {
	if i >= len(params) {
		return NewRPCError(CodeInvalidParams, fmt.Sprintf("missing parameter %d", i))
	}
	var raw []byte
	switch v := params[i].(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return NewRPCError(CodeInvalidParams, err.Error())
		}
		raw = b
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewRPCError(CodeInvalidParams, err.Error())
	}
	return nil
}

// IsUserRejected reports whether err is a user rejection (code 4001).
func IsUserRejected(err error) bool {
	return HasCode(err, CodeUserRejected)
}

// HasCode reports whether err carries a provider or node error with code.
func HasCode(err error, code int) bool {
	var rerr *RPCError
	return errors.As(err, &rerr) && rerr.Code == code
}
