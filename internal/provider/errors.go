package provider

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/craftclass/jury/internal/chain/rpc"
)

// EIP-1193 provider error codes, plus the JSON-RPC codes providers reuse.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeUnrecognizedChain = 4902
	CodeInvalidParams     = -32602
	CodeInternal          = -32603
)

// RPCError is an error returned by a provider request.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewRPCError creates a provider error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// Common provider errors.
var (
	ErrUserRejected = NewRPCError(CodeUserRejected, "user rejected the request")
	ErrUnauthorized = NewRPCError(CodeUnauthorized, "the requested account has not been authorized")
	ErrDisconnected = NewRPCError(CodeDisconnected, "provider is disconnected")
)

// UnsupportedMethod returns the 4200 error for method.
func UnsupportedMethod(method string) *RPCError {
	return NewRPCError(CodeUnsupportedMethod, "unsupported method: "+method)
}

// UnrecognizedChain returns the 4902 error for chainID.
func UnrecognizedChain(chainID string) *RPCError {
	return NewRPCError(CodeUnrecognizedChain, "unrecognized chain id "+chainID)
}

// FromNode converts a node JSON-RPC error into a provider error so that
// forwarded failures keep their code and revert data.
func FromNode(err error) error {
	var nerr *rpc.Error
	if errors.As(err, &nerr) {
		return &RPCError{Code: nerr.Code, Message: nerr.Message, Data: nerr.Data}
	}
	return err
}
