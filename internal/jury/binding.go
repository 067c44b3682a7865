package jury

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/craftclass/jury/internal/chain/rpc"
	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/metrics"
	"github.com/craftclass/jury/internal/provider"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

//go:embed abi.json
var abiJSON []byte

// ContractABI is the parsed FHECraftJury ABI.
//
//nolint:gochecknoglobals // parsed once from the embedded ABI
var ContractABI = func() abi.ABI {
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		panic(fmt.Sprintf("jury: parsing embedded abi: %v", err))
	}
	return parsed
}()

const (
	defaultReceiptTimeout = 2 * time.Minute
	defaultPollInterval   = 500 * time.Millisecond
)

// BindOptions configures Bind.
type BindOptions struct {
	// Addresses defaults to DefaultAddresses.
	Addresses Addresses

	ReceiptTimeout time.Duration
	PollInterval   time.Duration

	Logger  config.LogWriter
	Metrics *metrics.Metrics
}

// Binding is the contract deployed on one chain, bound to the provider and
// the account that signs writes.
type Binding struct {
	provider provider.Provider
	chainID  uint64
	address  common.Address
	account  common.Address

	receiptTimeout time.Duration
	pollInterval   time.Duration
	logger         config.LogWriter
	metrics        *metrics.Metrics
}

// Bind resolves the deployment on chainID. A chain without a deployment
// yields ErrNotDeployed.
func Bind(p provider.Provider, chainID uint64, account common.Address, opts BindOptions) (*Binding, error) {
	if p == nil {
		return nil, juryerr.ErrNoActiveProvider
	}
	addrs := opts.Addresses
	if addrs == nil {
		addrs = NewAddresses(nil)
	}
	address, ok := addrs.Lookup(chainID)
	if !ok {
		return nil, juryerr.WithDetails(juryerr.ErrNotDeployed, map[string]string{"chain_id": fmt.Sprint(chainID)})
	}

	b := &Binding{
		provider:       p,
		chainID:        chainID,
		address:        address,
		account:        account,
		receiptTimeout: opts.ReceiptTimeout,
		pollInterval:   opts.PollInterval,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
	}
	if b.receiptTimeout <= 0 {
		b.receiptTimeout = defaultReceiptTimeout
	}
	if b.pollInterval <= 0 {
		b.pollInterval = defaultPollInterval
	}
	if b.logger == nil {
		b.logger = config.NullLogger()
	}
	if b.metrics == nil {
		b.metrics = metrics.Global
	}
	return b, nil
}

// Address returns the contract address.
func (b *Binding) Address() common.Address { return b.address }

// ChainID returns the bound chain.
func (b *Binding) ChainID() uint64 { return b.chainID }

// Account returns the signing account.
func (b *Binding) Account() common.Address { return b.account }

// Provider returns the bound provider.
func (b *Binding) Provider() provider.Provider { return b.provider }

// call runs a view method through eth_call and unpacks its outputs.
func (b *Binding) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := ContractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	msg := map[string]any{"to": b.address, "data": hexutil.Bytes(data)}
	if b.account != (common.Address{}) {
		msg["from"] = b.account
	}

	raw, err := b.provider.Request(ctx, "eth_call", msg, "latest")
	if err != nil {
		return nil, callError(err)
	}
	var out hexutil.Bytes
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, juryerr.WithCause(juryerr.ErrRequestFailed, err)
	}
	values, err := ContractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", method, err)
	}
	return values, nil
}

func (b *Binding) callUint(ctx context.Context, method string, args ...any) (*big.Int, error) {
	values, err := b.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpacking %s: unexpected %T", method, values[0])
	}
	return v, nil
}

// WorkCount returns the number of registered works.
func (b *Binding) WorkCount(ctx context.Context) (*big.Int, error) {
	return b.callUint(ctx, "workCount")
}

// GroupCount returns the number of groups.
func (b *Binding) GroupCount(ctx context.Context) (*big.Int, error) {
	return b.callUint(ctx, "groupCount")
}

// ScoringDeadline returns the deadline as unix seconds, zero when unset.
func (b *Binding) ScoringDeadline(ctx context.Context) (*big.Int, error) {
	return b.callUint(ctx, "scoringDeadline")
}

// WorkJudgeCount returns how many judges scored a work.
func (b *Binding) WorkJudgeCount(ctx context.Context, workID *big.Int) (*big.Int, error) {
	return b.callUint(ctx, "getWorkJudgeCount", workID)
}

// HasJudgeScoredWork reports whether judge scored a work.
func (b *Binding) HasJudgeScoredWork(ctx context.Context, workID *big.Int, judge common.Address) (bool, error) {
	values, err := b.call(ctx, "hasJudgeScoredWork", workID, judge)
	if err != nil {
		return false, err
	}
	v, _ := values[0].(bool)
	return v, nil
}

// GetWork returns a work.
func (b *Binding) GetWork(ctx context.Context, workID *big.Int) (*Work, error) {
	values, err := b.call(ctx, "getWork", workID)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Id        *big.Int //nolint:revive,stylecheck // abi field name
		Title     string
		Category  uint8
		GroupId   *big.Int //nolint:revive,stylecheck // abi field name
		Timestamp *big.Int
		Exists    bool
	}
	if err := convert(values[0], &raw); err != nil {
		return nil, err
	}
	return &Work{ID: raw.Id, Title: raw.Title, Category: Category(raw.Category), GroupID: raw.GroupId, Timestamp: raw.Timestamp, Exists: raw.Exists}, nil
}

// GetGroup returns a group with its work ids.
func (b *Binding) GetGroup(ctx context.Context, groupID *big.Int) (*Group, error) {
	values, err := b.call(ctx, "getGroup", groupID)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Id      *big.Int //nolint:revive,stylecheck // abi field name
		Name    string
		WorkIds []*big.Int //nolint:revive,stylecheck // abi field name
		Exists  bool
	}
	if err := convert(values[0], &raw); err != nil {
		return nil, err
	}
	return &Group{ID: raw.Id, Name: raw.Name, WorkIDs: raw.WorkIds, Exists: raw.Exists}, nil
}

// GroupAggregate returns the encrypted aggregate of a group.
func (b *Binding) GroupAggregate(ctx context.Context, groupID *big.Int) (*GroupAggregate, error) {
	values, err := b.call(ctx, "getGroupAggregate", groupID)
	if err != nil {
		return nil, err
	}
	var raw struct {
		OverallScore [32]byte
		JudgeCount   *big.Int
		Aggregated   bool
	}
	if err := convert(values[0], &raw); err != nil {
		return nil, err
	}
	return &GroupAggregate{OverallScore: raw.OverallScore, JudgeCount: raw.JudgeCount, Aggregated: raw.Aggregated}, nil
}

// PublishedAward returns the award of a group.
func (b *Binding) PublishedAward(ctx context.Context, groupID *big.Int) (*Award, error) {
	values, err := b.call(ctx, "publishedAwards", groupID)
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unpacking publishedAwards: %d values", len(values))
	}
	score, _ := values[0].(uint8)
	tier, _ := values[1].(uint8)
	published, _ := values[2].(bool)
	return &Award{Score: score, Tier: Tier(tier), Published: published}, nil
}

func convert(in any, out any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("converting abi value: %v", r)
		}
	}()
	abi.ConvertType(in, out)
	return nil
}

// TxResult is a mined contract transaction.
type TxResult struct {
	Hash        common.Hash `json:"hash"`
	BlockNumber uint64      `json:"blockNumber"`
	GasUsed     uint64      `json:"gasUsed"`
	Events      []Event     `json:"events,omitempty"`
}

// transact sends a write through eth_sendTransaction and waits for it to
// be mined. A reverted receipt is ErrTxFailed.
func (b *Binding) transact(ctx context.Context, method string, args ...any) (res *TxResult, err error) {
	defer func() {
		b.metrics.RecordContractTx(method, err)
		if err != nil {
			b.logger.Error("jury: %s failed: %v", method, err)
		}
	}()

	data, err := ContractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}

	raw, err := b.provider.Request(ctx, provider.MethodSendTransaction, map[string]any{
		"from": b.account,
		"to":   b.address,
		"data": hexutil.Bytes(data),
	})
	if err != nil {
		return nil, callError(err)
	}
	var hash common.Hash
	if err := json.Unmarshal(raw, &hash); err != nil {
		return nil, juryerr.WithCause(juryerr.ErrRequestFailed, err)
	}
	b.logger.Debug("jury: %s sent in %s", method, hash.Hex())

	receipt, err := b.waitReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !receipt.Succeeded() {
		return nil, juryerr.WithDetails(juryerr.ErrTxFailed, map[string]string{"method": method, "tx": hash.Hex()})
	}

	return &TxResult{
		Hash:        hash,
		BlockNumber: uint64(receipt.BlockNumber),
		GasUsed:     uint64(receipt.GasUsed),
		Events:      b.receiptEvents(receipt),
	}, nil
}

func (b *Binding) waitReceipt(ctx context.Context, hash common.Hash) (*rpc.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, b.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		raw, err := b.provider.Request(ctx, "eth_getTransactionReceipt", hash)
		switch {
		case err != nil && ctx.Err() == nil:
			b.logger.Debug("jury: polling receipt %s: %v", hash.Hex(), err)
		case err == nil && !isNull(raw):
			var r rpc.Receipt
			if err := json.Unmarshal(raw, &r); err != nil {
				return nil, juryerr.WithCause(juryerr.ErrRequestFailed, err)
			}
			return &r, nil
		}

		select {
		case <-ctx.Done():
			return nil, juryerr.WithDetails(juryerr.WithCause(juryerr.ErrTxFailed, ctx.Err()), map[string]string{
				"tx":     hash.Hex(),
				"reason": "receipt not available",
			})
		case <-ticker.C:
		}
	}
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// callError classifies a provider failure: rejections, reverts with their
// decoded reason, or a generic request failure.
func callError(err error) error {
	if provider.IsUserRejected(err) {
		return juryerr.WithCause(juryerr.ErrUserRejected, err)
	}
	var rerr *provider.RPCError
	if !errors.As(err, &rerr) {
		return juryerr.WithCause(juryerr.ErrRequestFailed, err)
	}
	if reason, ok := revertReason(rerr); ok {
		return juryerr.WithCause(juryerr.WithDetails(juryerr.ErrContractRevert, map[string]string{"reason": reason}), err)
	}
	return juryerr.WithCause(juryerr.ErrRequestFailed, err)
}

// revertReason extracts the reason from revert data, or from the node
// message when no data came back.
func revertReason(rerr *provider.RPCError) (string, bool) {
	if data := revertData(rerr.Data); len(data) > 0 {
		if reason, err := abi.UnpackRevert(data); err == nil {
			return reason, true
		}
		return hexutil.Encode(data), true
	}

	msg := rerr.Message
	for _, marker := range []string{"reverted with reason string '", "execution reverted: "} {
		if i := strings.Index(msg, marker); i >= 0 {
			return strings.TrimSuffix(msg[i+len(marker):], "'"), true
		}
	}
	if strings.Contains(msg, "revert") {
		return msg, true
	}
	return "", false
}

func revertData(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var obj struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil
		}
		s = obj.Data
	}
	data, err := hexutil.Decode(s)
	if err != nil {
		return nil
	}
	return data
}
