package fhevm

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Transport carries the relayer protocol. Production speaks HTTP to the
// relayer; the mock backend speaks JSON-RPC to the local node.
type Transport interface {
	InputProof(ctx context.Context, req InputProofRequest) (*InputProofResponse, error)
	UserDecrypt(ctx context.Context, req UserDecryptRequest) (*UserDecryptResponse, error)
}

// InputProofRequest asks the relayer to verify a ciphertext batch.
type InputProofRequest struct {
	ContractAddress common.Address `json:"contractAddress"`
	UserAddress     common.Address `json:"userAddress"`
	Ciphertext      hexutil.Bytes  `json:"ciphertextWithInputVerification"`
	ContractChainID hexutil.Uint64 `json:"contractChainId"`
	Handles         []common.Hash  `json:"handles,omitempty"`
	ExtraData       string         `json:"extraData"`
}

// InputProofResponse carries the handles and coprocessor signatures.
type InputProofResponse struct {
	Handles    []common.Hash   `json:"handles"`
	Signatures []hexutil.Bytes `json:"signatures"`
}

// RequestValidity is the signed validity window of a user decryption.
type RequestValidity struct {
	StartTimestamp string `json:"startTimestamp"`
	DurationDays   string `json:"durationDays"`
}

// UserDecryptRequest is the relayer user-decrypt payload.
type UserDecryptRequest struct {
	HandleContractPairs []HandleContractPair `json:"handleContractPairs"`
	RequestValidity     RequestValidity      `json:"requestValidity"`
	ContractsChainID    string               `json:"contractsChainId"`
	ContractAddresses   []common.Address     `json:"contractAddresses"`
	UserAddress         common.Address       `json:"userAddress"`
	Signature           string               `json:"signature"`
	PublicKey           string               `json:"publicKey"`
	ExtraData           string               `json:"extraData"`
}

// UserDecryptResponse carries either cleartext values (mock node) or the
// KMS shares a production kernel reconstructs.
type UserDecryptResponse struct {
	Values map[string]string `json:"values,omitempty"`
	Shares []json.RawMessage `json:"shares,omitempty"`
}
