package hdwallet

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ApprovalKind identifies what the wallet is asking the user to approve.
type ApprovalKind int

// Approval kinds.
const (
	ApproveConnect ApprovalKind = iota
	ApproveSwitchChain
	ApproveTransaction
	ApproveSignTypedData
)

func (k ApprovalKind) String() string {
	switch k {
	case ApproveConnect:
		return "connect"
	case ApproveSwitchChain:
		return "switch chain"
	case ApproveTransaction:
		return "send transaction"
	case ApproveSignTypedData:
		return "sign typed data"
	default:
		return "unknown"
	}
}

// ApprovalRequest describes one interactive prompt.
type ApprovalRequest struct {
	Kind      ApprovalKind
	Wallet    string
	Accounts  []common.Address
	ChainID   uint64
	Tx        *TxArgs
	TypedData *apitypes.TypedData
}

// Approver decides interactive requests. Returning false rejects the
// request with code 4001.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req ApprovalRequest) (bool, error)

// Approve implements Approver.
func (f ApproverFunc) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	return f(ctx, req)
}

// AutoApprove approves everything.
func AutoApprove() Approver {
	return ApproverFunc(func(context.Context, ApprovalRequest) (bool, error) { return true, nil })
}

// Deny rejects everything.
func Deny() Approver {
	return ApproverFunc(func(context.Context, ApprovalRequest) (bool, error) { return false, nil })
}
