package mock

import (
	"context"

	"github.com/craftclass/jury/internal/chain/rpc"
	"github.com/craftclass/jury/internal/fhevm"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

// Relayer methods served by the development node plugin.
const (
	MethodInputProof  = "fhevm_relayer_v1_input_proof"
	MethodUserDecrypt = "fhevm_relayer_v1_user_decrypt"
)

// Transport speaks the relayer protocol over the node's JSON-RPC endpoint.
type Transport struct {
	client *rpc.Client
}

var _ fhevm.Transport = (*Transport)(nil)

// NewTransport creates a Transport over client.
func NewTransport(client *rpc.Client) *Transport {
	return &Transport{client: client}
}

// InputProof implements fhevm.Transport.
func (t *Transport) InputProof(ctx context.Context, req fhevm.InputProofRequest) (*fhevm.InputProofResponse, error) {
	var resp fhevm.InputProofResponse
	if err := t.client.CallResult(ctx, &resp, MethodInputProof, req); err != nil {
		return nil, juryerr.WithCause(juryerr.ErrRequestFailed, err)
	}
	return &resp, nil
}

// UserDecrypt implements fhevm.Transport.
func (t *Transport) UserDecrypt(ctx context.Context, req fhevm.UserDecryptRequest) (*fhevm.UserDecryptResponse, error) {
	var resp fhevm.UserDecryptResponse
	if err := t.client.CallResult(ctx, &resp, MethodUserDecrypt, req); err != nil {
		return nil, juryerr.WithCause(juryerr.ErrRequestFailed, err)
	}
	return &resp, nil
}
