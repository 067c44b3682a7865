package jury_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftclass/jury/internal/chain/rpc"
	"github.com/craftclass/jury/internal/fhevm"
	"github.com/craftclass/jury/internal/fhevm/mock"
	"github.com/craftclass/jury/internal/jury"
	"github.com/craftclass/jury/internal/kvstore"
	"github.com/craftclass/jury/internal/metrics"
	"github.com/craftclass/jury/internal/provider"
	"github.com/craftclass/jury/internal/provider/providertest"
)

var (
	contractAddr = jury.DefaultAddresses[31337]
	judge        = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	aclAddr      = "0x687820221192C5B662b25367F70076A37bc79b6c"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type fakeGroup struct {
	name       string
	works      []*big.Int
	agg        common.Hash
	judges     int64
	aggregated bool
	score      uint8
	tier       jury.Tier
	hasAward   bool
}

type fakeWork struct {
	title    string
	category uint8
	group    *big.Int
	scored   map[common.Address]bool
}

type submission struct {
	workID  *big.Int
	handles [3][32]byte
	proof   []byte
}

// fakeContract answers the contract's calls over a providertest stub the
// way a node behind the wallet would.
type fakeContract struct {
	t    *testing.T
	stub *providertest.Stub

	mu          sync.Mutex
	groups      []*fakeGroup
	works       []*fakeWork
	deadline    *big.Int
	submissions []submission
	logs        []rpc.Log
	receipts    map[common.Hash]*rpc.Receipt
	block       uint64
	failStatus  bool
	withhold    bool
	dropLogs    bool
	logger      *recordingLogger
}

// recordingLogger keeps error lines for assertions.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Debug(string, ...any) {}

func (l *recordingLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

func newFakeContract(t *testing.T) *fakeContract {
	t.Helper()
	f := &fakeContract{
		t:        t,
		stub:     providertest.New(31337, judge),
		deadline: new(big.Int),
		receipts: make(map[common.Hash]*rpc.Receipt),
		block:    100,
		logger:   &recordingLogger{},
	}
	f.stub.Handle("eth_call", f.call)
	f.stub.Handle(provider.MethodSendTransaction, f.send)
	f.stub.Handle("eth_getTransactionReceipt", f.receipt)
	f.stub.Handle("eth_blockNumber", func(context.Context, []any) (any, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return hexutil.Uint64(f.block), nil
	})
	f.stub.Handle("eth_getLogs", func(_ context.Context, params []any) (any, error) {
		q, _ := params[0].(map[string]any)
		assert.Equal(t, contractAddr, q["address"])
		f.mu.Lock()
		defer f.mu.Unlock()
		return append([]rpc.Log(nil), f.logs...), nil
	})
	f.stub.Handle("eth_getBlockByNumber", func(_ context.Context, params []any) (any, error) {
		n, _ := params[0].(hexutil.Uint64)
		return map[string]any{"timestamp": hexutil.Uint64(1_700_000_000 + uint64(n))}, nil
	})
	return f
}

func (f *fakeContract) bind(t *testing.T) *jury.Binding {
	t.Helper()
	b, err := jury.Bind(f.stub, 31337, judge, jury.BindOptions{
		PollInterval:   time.Millisecond,
		ReceiptTimeout: time.Second,
		Logger:         f.logger,
		Metrics:        metrics.New(),
	})
	require.NoError(t, err)
	return b
}

func unpackCall(t *testing.T, params []any) (*abi.Method, []any) {
	t.Helper()
	msg, ok := params[0].(map[string]any)
	require.True(t, ok)
	data, ok := msg["data"].(hexutil.Bytes)
	require.True(t, ok)
	m, err := jury.ContractABI.MethodById(data[:4])
	require.NoError(t, err)
	args, err := m.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	return m, args
}

func revert(reason string) error {
	str, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: str}}.Pack(reason)
	data := append(hexutil.MustDecode("0x08c379a0"), packed...)
	raw, _ := json.Marshal(hexutil.Bytes(data))
	return &provider.RPCError{Code: 3, Message: "execution reverted", Data: raw}
}

func (f *fakeContract) call(_ context.Context, params []any) (any, error) {
	m, args := unpackCall(f.t, params)
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []any
	switch m.Name {
	case "workCount":
		out = []any{big.NewInt(int64(len(f.works)))}
	case "groupCount":
		out = []any{big.NewInt(int64(len(f.groups)))}
	case "scoringDeadline":
		out = []any{f.deadline}
	case "getWork":
		w := struct {
			Id        *big.Int //nolint:revive,stylecheck // abi field name
			Title     string
			Category  uint8
			GroupId   *big.Int //nolint:revive,stylecheck // abi field name
			Timestamp *big.Int
			Exists    bool
		}{Id: args[0].(*big.Int), GroupId: new(big.Int), Timestamp: new(big.Int)}
		if g := f.work(args[0].(*big.Int)); g != nil {
			w.Title, w.Category, w.GroupId, w.Timestamp, w.Exists = g.title, g.category, g.group, big.NewInt(1_700_000_000), true
		}
		out = []any{w}
	case "getGroup":
		g := struct {
			Id      *big.Int   //nolint:revive,stylecheck // abi field name
			Name    string
			WorkIds []*big.Int //nolint:revive,stylecheck // abi field name
			Exists  bool
		}{Id: args[0].(*big.Int), WorkIds: []*big.Int{}}
		if fg := f.group(args[0].(*big.Int)); fg != nil {
			g.Name, g.WorkIds, g.Exists = fg.name, fg.works, true
		}
		out = []any{g}
	case "getGroupAggregate":
		a := struct {
			OverallScore [32]byte
			JudgeCount   *big.Int
			Aggregated   bool
		}{JudgeCount: new(big.Int)}
		if fg := f.group(args[0].(*big.Int)); fg != nil && fg.aggregated {
			a.OverallScore, a.JudgeCount, a.Aggregated = fg.agg, big.NewInt(fg.judges), true
		}
		out = []any{a}
	case "publishedAwards":
		var score, tier uint8
		var published bool
		if fg := f.group(args[0].(*big.Int)); fg != nil && fg.hasAward {
			score, tier, published = fg.score, uint8(fg.tier), true
		}
		out = []any{score, tier, published}
	case "hasJudgeScoredWork":
		scored := false
		if w := f.work(args[0].(*big.Int)); w != nil {
			scored = w.scored[args[1].(common.Address)]
		}
		out = []any{scored}
	case "getWorkJudgeCount":
		n := 0
		if w := f.work(args[0].(*big.Int)); w != nil {
			n = len(w.scored)
		}
		out = []any{big.NewInt(int64(n))}
	default:
		f.t.Errorf("unexpected eth_call %s", m.Name)
		return nil, revert("unknown")
	}

	packed, err := m.Outputs.Pack(out...)
	require.NoError(f.t, err)
	return hexutil.Bytes(packed), nil
}

func (f *fakeContract) group(id *big.Int) *fakeGroup {
	if !id.IsInt64() || id.Int64() >= int64(len(f.groups)) {
		return nil
	}
	return f.groups[id.Int64()]
}

func (f *fakeContract) work(id *big.Int) *fakeWork {
	if !id.IsInt64() || id.Int64() >= int64(len(f.works)) {
		return nil
	}
	return f.works[id.Int64()]
}

func (f *fakeContract) send(_ context.Context, params []any) (any, error) {
	m, args := unpackCall(f.t, params)
	msg := params[0].(map[string]any)
	assert.Equal(f.t, judge, msg["from"])
	assert.Equal(f.t, contractAddr, msg["to"])

	f.mu.Lock()
	defer f.mu.Unlock()

	var logs []rpc.Log
	switch m.Name {
	case "createGroup":
		id := big.NewInt(int64(len(f.groups)))
		f.groups = append(f.groups, &fakeGroup{name: args[0].(string), works: []*big.Int{}})
		logs = append(logs, f.emit("GroupCreated", id, args[0]))
	case "registerWork":
		g := f.group(args[2].(*big.Int))
		if g == nil {
			return nil, revert("Group does not exist")
		}
		id := big.NewInt(int64(len(f.works)))
		f.works = append(f.works, &fakeWork{title: args[0].(string), category: args[1].(uint8), group: args[2].(*big.Int), scored: map[common.Address]bool{}})
		g.works = append(g.works, id)
		logs = append(logs, f.emit("WorkRegistered", id, args[0], args[1], args[2]))
	case "submitScore":
		w := f.work(args[0].(*big.Int))
		if w == nil {
			return nil, revert("Work does not exist")
		}
		if w.scored[judge] {
			return nil, revert("Already scored")
		}
		w.scored[judge] = true
		f.submissions = append(f.submissions, submission{
			workID:  args[0].(*big.Int),
			handles: [3][32]byte{args[1].([32]byte), args[2].([32]byte), args[3].([32]byte)},
			proof:   args[4].([]byte),
		})
		logs = append(logs, f.emit("ScoreSubmitted", args[0], judge, big.NewInt(1_700_000_000)))
	case "aggregateGroup":
		g := f.group(args[0].(*big.Int))
		if g == nil {
			return nil, revert("Group does not exist")
		}
		judges := map[common.Address]bool{}
		for _, id := range g.works {
			for j := range f.works[id.Int64()].scored {
				judges[j] = true
			}
		}
		g.agg = crypto.Keccak256Hash([]byte("aggregate"), args[0].(*big.Int).Bytes())
		g.judges = int64(len(judges))
		g.aggregated = true
		logs = append(logs, f.emit("GroupAggregated", args[0], big.NewInt(g.judges)))
	case "publishAward":
		g := f.group(args[0].(*big.Int))
		if g == nil || !g.aggregated {
			return nil, revert("Group not aggregated")
		}
		g.score = args[1].(uint8)
		g.tier = jury.TierFor(uint(g.score))
		g.hasAward = true
		logs = append(logs, f.emit("AwardPublished", args[0], g.score, uint8(g.tier)))
	case "setScoringDeadline":
		f.deadline = args[0].(*big.Int)
	default:
		f.t.Errorf("unexpected transaction %s", m.Name)
	}

	f.block++
	hash := crypto.Keccak256Hash(new(big.Int).SetUint64(f.block).Bytes())
	status := hexutil.Uint64(1)
	if f.failStatus {
		status = 0
	}
	for i := range logs {
		logs[i].BlockNumber = hexutil.Uint64(f.block)
		logs[i].TxHash = hash
		logs[i].Index = hexutil.Uint(i)
	}
	if f.dropLogs {
		logs = nil
	}
	f.logs = append(f.logs, logs...)
	f.receipts[hash] = &rpc.Receipt{TxHash: hash, Status: status, BlockNumber: hexutil.Uint64(f.block), GasUsed: 21000, Logs: logs}
	return hash, nil
}

func (f *fakeContract) receipt(_ context.Context, params []any) (any, error) {
	hash, ok := params[0].(common.Hash)
	require.True(f.t, ok)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.withhold {
		return nil, nil
	}
	r, ok := f.receipts[hash]
	if !ok {
		return nil, nil
	}
	return r, nil
}

func (f *fakeContract) emit(name string, args ...any) rpc.Log {
	ev := jury.ContractABI.Events[name]
	topics := []common.Hash{ev.ID}
	var nonIndexed abi.Arguments
	var data []any
	for i, in := range ev.Inputs {
		if !in.Indexed {
			nonIndexed = append(nonIndexed, in)
			data = append(data, args[i])
			continue
		}
		switch v := args[i].(type) {
		case *big.Int:
			topics = append(topics, common.BigToHash(v))
		case common.Address:
			topics = append(topics, common.BytesToHash(v.Bytes()))
		default:
			f.t.Fatalf("unsupported indexed %T", v)
		}
	}
	packed, err := nonIndexed.Pack(data...)
	require.NoError(f.t, err)
	return rpc.Log{Address: contractAddr, Topics: topics, Data: packed}
}

// echoTransport accepts the locally derived handles and serves cleartext
// decryptions from values.
type echoTransport struct {
	mu         sync.Mutex
	ciphertext []byte
	handles    []common.Hash
	values     map[string]string
}

func (e *echoTransport) InputProof(_ context.Context, req fhevm.InputProofRequest) (*fhevm.InputProofResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ciphertext = req.Ciphertext
	e.handles = req.Handles
	return &fhevm.InputProofResponse{Handles: req.Handles, Signatures: []hexutil.Bytes{make([]byte, 65)}}, nil
}

func (e *echoTransport) UserDecrypt(context.Context, fhevm.UserDecryptRequest) (*fhevm.UserDecryptResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &fhevm.UserDecryptResponse{Values: e.values}, nil
}

func readySession(t *testing.T, p provider.Provider, tr fhevm.Transport) *fhevm.Session {
	t.Helper()
	inst := fhevm.NewInstance(fhevm.InstanceOptions{
		Backend:   fhevm.BackendMock,
		Transport: tr,
		Kernel:    mock.Kernel{},
		Network: fhevm.NetworkConfig{
			ChainID:                            31337,
			ACLAddress:                         aclAddr,
			VerifyingContractAddressDecryption: mock.VerifyingContractAddressDecryption,
		},
	})
	s := fhevm.NewSession(fhevm.SessionOptions{
		Build: func(context.Context, fhevm.Params) (fhevm.Instance, error) { return inst, nil },
	})
	t.Cleanup(s.Close)
	s.Start(p, 31337)
	_, err := s.Wait(testCtx(t))
	require.NoError(t, err)
	return s
}

func newSignatures() *fhevm.SignatureStore {
	return fhevm.NewSignatureStore(kvstore.NewMemory(), nil)
}
