package fhevm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/craftclass/jury/internal/chain/rpc"
	"github.com/craftclass/jury/internal/fhevm"
)

const testACL = "0xf0Ffdc93b7E186bC2f8CB3dAA75D86d1930A433D"

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// devNode answers the JSON-RPC methods in results.
func devNode(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := map[string]any{"jsonrpc": "2.0", "id": req["id"]}
		method, _ := req["method"].(string)
		if v, ok := results[method]; ok {
			resp["result"] = v
		} else {
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)
	return server
}

func hardhatResults(chainHex string) map[string]any {
	return map[string]any{
		"eth_chainId":        chainHex,
		"web3_clientVersion": "HardhatNetwork/2.22.17/@nomicfoundation/edr/0.6.5",
		"fhevm_relayer_metadata": map[string]string{
			"ACLAddress":           "0x50157CFfD6bBFA2DECe204a89ec419c23ef5755D",
			"InputVerifierAddress": "0x901F8942346f7AB3a01F6D7613119Bca447Bb030",
			"KMSVerifierAddress":   "0x1364cBBf2cDF5032C47d8226a6f6FBD2AFCDacAC",
		},
	}
}

// statusLog records reported statuses.
type statusLog struct {
	mu   sync.Mutex
	list []fhevm.Status
}

func (l *statusLog) add(s fhevm.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, s)
}

func (l *statusLog) all() []fhevm.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]fhevm.Status(nil), l.list...)
}

// stubLoader counts loads; block makes Load wait for ctx cancellation.
type stubLoader struct {
	mu     sync.Mutex
	loaded bool
	loads  int
	err    error
	block  bool
}

func (l *stubLoader) IsLoaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

func (l *stubLoader) Load(ctx context.Context) error {
	l.mu.Lock()
	l.loads++
	block, err := l.block, l.err
	l.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.loaded = true
	l.mu.Unlock()
	return nil
}

// stubSDK builds instances over a recording transport.
type stubSDK struct {
	mu       sync.Mutex
	network  fhevm.NetworkConfig
	initErr  error
	inits    int
	createFn func(cfg fhevm.InstanceConfig) (fhevm.Instance, error)
	configs  []fhevm.InstanceConfig
}

func newStubSDK() *stubSDK {
	return &stubSDK{network: fhevm.NetworkConfig{
		ChainID:                            11155111,
		ACLAddress:                         testACL,
		VerifyingContractAddressDecryption: "0x5D8BD78e2ea6bbE41f26dFe9fdaEAa349e077478",
	}}
}

func (s *stubSDK) Init(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits++
	return s.initErr
}

func (s *stubSDK) Network() fhevm.NetworkConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.network
}

func (s *stubSDK) CreateInstance(_ context.Context, cfg fhevm.InstanceConfig) (fhevm.Instance, error) {
	s.mu.Lock()
	s.configs = append(s.configs, cfg)
	fn := s.createFn
	s.mu.Unlock()
	if fn != nil {
		return fn(cfg)
	}
	key := cfg.PublicKey
	if key.Empty() {
		key = &fhevm.KeyMaterial{ID: "pk-1", Data: []byte{0xaa, 0xbb}}
	}
	params := cfg.PublicParams
	if params.Empty() {
		params = &fhevm.KeyMaterial{ID: "crs-2048", Data: []byte{0xcc}}
	}
	return fhevm.NewInstance(fhevm.InstanceOptions{
		Backend:      fhevm.BackendProduction,
		Network:      cfg.Network,
		Transport:    &fakeTransport{},
		PublicKey:    key,
		PublicParams: map[int]*fhevm.KeyMaterial{fhevm.PublicParamsBits: params},
	}), nil
}

func (s *stubSDK) lastConfig() fhevm.InstanceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configs[len(s.configs)-1]
}

// stubMock records mock instance builds.
type stubMock struct {
	mu    sync.Mutex
	metas []rpc.RelayerMetadata
}

func (m *stubMock) NewInstance(_ context.Context, _ *rpc.Client, chainID uint64, meta rpc.RelayerMetadata) (fhevm.Instance, error) {
	m.mu.Lock()
	m.metas = append(m.metas, meta)
	m.mu.Unlock()
	return fhevm.NewInstance(fhevm.InstanceOptions{
		Backend:   fhevm.BackendMock,
		Network:   fhevm.NetworkConfig{ChainID: chainID, ACLAddress: meta.ACLAddress},
		Transport: &fakeTransport{},
	}), nil
}

func (m *stubMock) builds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.metas)
}

// fakeTransport answers the relayer protocol from fixed values.
type fakeTransport struct {
	mu         sync.Mutex
	handles    []common.Hash
	signatures [][]byte
	values     map[string]string
	proofReqs  []fhevm.InputProofRequest
	decReqs    []fhevm.UserDecryptRequest
	err        error
}

func (f *fakeTransport) InputProof(_ context.Context, req fhevm.InputProofRequest) (*fhevm.InputProofResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proofReqs = append(f.proofReqs, req)
	if f.err != nil {
		return nil, f.err
	}
	resp := &fhevm.InputProofResponse{Handles: f.handles}
	for _, s := range f.signatures {
		resp.Signatures = append(resp.Signatures, s)
	}
	return resp, nil
}

func (f *fakeTransport) UserDecrypt(_ context.Context, req fhevm.UserDecryptRequest) (*fhevm.UserDecryptResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decReqs = append(f.decReqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &fhevm.UserDecryptResponse{Values: f.values}, nil
}

var errBoom = errors.New("boom")
