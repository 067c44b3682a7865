package rpc

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/craftclass/jury/internal/chain"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

// ChainID returns the node's chain id.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var hexVal string
	if err := c.CallResult(ctx, &hexVal, "eth_chainId"); err != nil {
		return 0, err
	}
	return chain.ParseHexChainID(hexVal)
}

// ClientVersion returns the node signature reported by web3_clientVersion.
func (c *Client) ClientVersion(ctx context.Context) (string, error) {
	var v string
	if err := c.CallResult(ctx, &v, "web3_clientVersion"); err != nil {
		return "", err
	}
	return v, nil
}

// RelayerMetadata holds the encrypted-computation contract addresses a
// local development node exposes through fhevm_relayer_metadata.
type RelayerMetadata struct {
	ACLAddress           string `json:"ACLAddress"`
	InputVerifierAddress string `json:"InputVerifierAddress"`
	KMSVerifierAddress   string `json:"KMSVerifierAddress"`
}

// Complete reports whether all three addresses are present.
func (m RelayerMetadata) Complete() bool {
	return m.ACLAddress != "" && m.InputVerifierAddress != "" && m.KMSVerifierAddress != ""
}

// RelayerMetadata queries fhevm_relayer_metadata.
func (c *Client) RelayerMetadata(ctx context.Context) (RelayerMetadata, error) {
	var m RelayerMetadata
	err := c.CallResult(ctx, &m, "fhevm_relayer_metadata")
	return m, err
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := c.CallResult(ctx, &n, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// GetTransactionCount returns the pending nonce for an address.
func (c *Client) GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	var n hexutil.Uint64
	if err := c.CallResult(ctx, &n, "eth_getTransactionCount", addr, "pending"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// GasPrice returns the current gas price in wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var p hexutil.Big
	if err := c.CallResult(ctx, &p, "eth_gasPrice"); err != nil {
		return nil, err
	}
	return p.ToInt(), nil
}

// CallMsg represents the parameters for eth_call and eth_estimateGas.
type CallMsg struct {
	From  *common.Address
	To    *common.Address
	Gas   uint64
	Value *big.Int
	Data  []byte
}

// toArg renders the message the way nodes expect it.
func (m CallMsg) toArg() map[string]any {
	arg := map[string]any{}
	if m.From != nil {
		arg["from"] = *m.From
	}
	if m.To != nil {
		arg["to"] = *m.To
	}
	if m.Gas > 0 {
		arg["gas"] = hexutil.Uint64(m.Gas)
	}
	if m.Value != nil && m.Value.Sign() > 0 {
		arg["value"] = (*hexutil.Big)(m.Value)
	}
	if len(m.Data) > 0 {
		arg["data"] = hexutil.Bytes(m.Data)
	}
	return arg
}

// EthCall performs an eth_call against the latest block.
func (c *Client) EthCall(ctx context.Context, msg CallMsg) ([]byte, error) {
	var out hexutil.Bytes
	if err := c.CallResult(ctx, &out, "eth_call", msg.toArg(), "latest"); err != nil {
		return nil, err
	}
	return out, nil
}

// EstimateGas estimates the gas needed for a transaction.
func (c *Client) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	var n hexutil.Uint64
	if err := c.CallResult(ctx, &n, "eth_estimateGas", msg.toArg()); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// SendRawTransaction broadcasts a signed transaction and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, signedTx []byte) (common.Hash, error) {
	var h common.Hash
	if err := c.CallResult(ctx, &h, "eth_sendRawTransaction", hexutil.Bytes(signedTx)); err != nil {
		return common.Hash{}, err
	}
	return h, nil
}

// Log is an event log as returned by receipts and eth_getLogs.
type Log struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TxHash      common.Hash    `json:"transactionHash"`
	Index       hexutil.Uint   `json:"logIndex"`
}

// ToTypes converts the log for go-ethereum ABI helpers.
func (l Log) ToTypes() types.Log {
	return types.Log{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: uint64(l.BlockNumber),
		TxHash:      l.TxHash,
		Index:       uint(l.Index),
	}
}

// Receipt is the subset of a transaction receipt the client relies on.
type Receipt struct {
	TxHash      common.Hash    `json:"transactionHash"`
	Status      hexutil.Uint64 `json:"status"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	GasUsed     hexutil.Uint64 `json:"gasUsed"`
	Logs        []Log          `json:"logs"`
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return uint64(r.Status) == types.ReceiptStatusSuccessful
}

// TransactionReceipt returns the receipt, or nil if the transaction is still pending.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	raw, err := c.Call(ctx, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil //nolint:nilnil // pending transactions have no receipt yet
	}
	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, juryerr.WithCause(ErrRPCResponse, err)
	}
	return &r, nil
}

// FilterQuery selects logs for eth_getLogs.
type FilterQuery struct {
	FromBlock uint64
	ToBlock   *uint64
	Addresses []common.Address
	Topics    [][]common.Hash
}

// GetLogs returns logs matching q.
func (c *Client) GetLogs(ctx context.Context, q FilterQuery) ([]Log, error) {
	arg := map[string]any{
		"fromBlock": hexutil.Uint64(q.FromBlock),
		"toBlock":   "latest",
	}
	if q.ToBlock != nil {
		arg["toBlock"] = hexutil.Uint64(*q.ToBlock)
	}
	if len(q.Addresses) > 0 {
		arg["address"] = q.Addresses
	}
	if len(q.Topics) > 0 {
		arg["topics"] = q.Topics
	}

	var logs []Log
	if err := c.CallResult(ctx, &logs, "eth_getLogs", arg); err != nil {
		return nil, err
	}
	return logs, nil
}

// BlockTimestamp returns the timestamp of a block in unix seconds.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	var header struct {
		Timestamp hexutil.Uint64 `json:"timestamp"`
	}
	if err := c.CallResult(ctx, &header, "eth_getBlockByNumber", hexutil.Uint64(number), false); err != nil {
		return 0, err
	}
	return uint64(header.Timestamp), nil
}
