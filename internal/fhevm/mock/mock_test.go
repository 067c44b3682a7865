package mock_test

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftclass/jury/internal/chain/rpc"
	"github.com/craftclass/jury/internal/fhevm"
	"github.com/craftclass/jury/internal/fhevm/mock"
)

var (
	meta = rpc.RelayerMetadata{
		ACLAddress:           "0x50157CFfD6bBFA2DECe204a89ec419c23ef5755D",
		InputVerifierAddress: "0x901F8942346f7AB3a01F6D7613119Bca447Bb030",
		KMSVerifierAddress:   "0x1364cBBf2cDF5032C47d8226a6f6FBD2AFCDacAC",
	}
	contract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	user     = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	verifier = common.HexToAddress("0x812b06e1CDCE800494b79fFE4f925A504a9A9810")
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// node is a development node answering methods through handlers.
type node struct {
	mu       sync.Mutex
	handlers map[string]func(params []json.RawMessage) (any, error)
}

func newNode(t *testing.T) (*node, *rpc.Client) {
	t.Helper()
	n := &node{handlers: map[string]func([]json.RawMessage) (any, error){}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		n.mu.Lock()
		h, ok := n.handlers[req.Method]
		n.mu.Unlock()

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch {
		case !ok:
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		default:
			v, err := h(req.Params)
			if err != nil {
				resp["error"] = map[string]any{"code": -32000, "message": err.Error()}
			} else {
				resp["result"] = v
			}
		}
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)
	return n, rpc.NewClient(server.URL)
}

func (n *node) handle(method string, h func([]json.RawMessage) (any, error)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

func (n *node) serveDomain(t *testing.T, chainID int64, contract common.Address) {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(`[{"type":"function","name":"eip712Domain","inputs":[],"outputs":[
		{"type":"bytes1"},{"type":"string"},{"type":"string"},{"type":"uint256"},
		{"type":"address"},{"type":"bytes32"},{"type":"uint256[]"}]}]`))
	require.NoError(t, err)
	out, err := parsed.Methods["eip712Domain"].Outputs.Pack(
		[1]byte{0x0f}, "InputVerification", "1", big.NewInt(chainID), contract, [32]byte{}, []*big.Int{})
	require.NoError(t, err)
	n.handle("eth_call", func([]json.RawMessage) (any, error) { return hexutil.Bytes(out), nil })
}

func TestFactory_ReadsInputVerifierDomain(t *testing.T) {
	t.Parallel()
	n, client := newNode(t)
	n.serveDomain(t, 654321, verifier)

	inst, err := mock.NewFactory(nil).NewInstance(testCtx(t), client, 31337, meta)
	require.NoError(t, err)
	assert.Equal(t, fhevm.BackendMock, inst.Backend())

	net := inst.Network()
	assert.Equal(t, uint64(31337), net.ChainID)
	assert.Equal(t, uint64(654321), net.GatewayChainID)
	assert.Equal(t, verifier.Hex(), net.VerifyingContractAddressInputVerification)
	assert.Equal(t, mock.VerifyingContractAddressDecryption, net.VerifyingContractAddressDecryption)
	assert.Equal(t, meta.ACLAddress, net.ACLAddress)
	assert.Equal(t, mock.PublicKey(meta.ACLAddress), inst.PublicKey())
	assert.NotNil(t, inst.PublicParams(fhevm.PublicParamsBits))
}

func TestFactory_DomainFallback(t *testing.T) {
	t.Parallel()
	_, client := newNode(t)

	inst, err := mock.NewFactory(nil).NewInstance(testCtx(t), client, 31337, meta)
	require.NoError(t, err)
	net := inst.Network()
	assert.Equal(t, uint64(fhevm.DefaultGatewayChainID), net.GatewayChainID)
	assert.Equal(t, meta.InputVerifierAddress, net.VerifyingContractAddressInputVerification)
}

func TestFactory_IncompleteMetadata(t *testing.T) {
	t.Parallel()
	_, client := newNode(t)
	_, err := mock.NewFactory(nil).NewInstance(testCtx(t), client, 31337, rpc.RelayerMetadata{ACLAddress: meta.ACLAddress})
	require.ErrorIs(t, err, mock.ErrIncompleteMetadata)
}

func TestKernel_HandleLayout(t *testing.T) {
	t.Parallel()
	acl := common.HexToAddress(meta.ACLAddress)
	ct, handles, err := mock.Kernel{}.Encrypt(fhevm.EncryptRequest{
		Values:  []fhevm.TypedValue{{Type: fhevm.FheUint16, Value: 0x0150}, {Type: fhevm.FheBool, Value: 1}},
		ACL:     acl,
		ChainID: 31337,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(fhevm.FheUint16), 0x01, 0x50, byte(fhevm.FheBool), 0x01}, ct)

	require.Len(t, handles, 2)
	for i, h := range handles {
		assert.Equal(t, byte(i), h[21])
		assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0x7a, 0x69}, h[22:30])
		assert.Equal(t, byte(mock.HandleVersion), h[31])
	}
	assert.Equal(t, fhevm.FheUint16, mock.HandleType(handles[0]))
	assert.Equal(t, fhevm.FheBool, mock.HandleType(handles[1]))
	assert.NotEqual(t, handles[0][:21], handles[1][:21])

	_, again, err := mock.Kernel{}.Encrypt(fhevm.EncryptRequest{
		Values:  []fhevm.TypedValue{{Type: fhevm.FheUint16, Value: 0x0150}, {Type: fhevm.FheBool, Value: 1}},
		ACL:     acl,
		ChainID: 31337,
	})
	require.NoError(t, err)
	assert.Equal(t, handles, again)
}

func TestInstance_EncryptAndDecryptThroughNode(t *testing.T) {
	t.Parallel()
	n, client := newNode(t)

	proofs := make(chan fhevm.InputProofRequest, 1)
	n.handle(mock.MethodInputProof, func(params []json.RawMessage) (any, error) {
		var req fhevm.InputProofRequest
		if assert.Len(t, params, 1) {
			assert.NoError(t, json.Unmarshal(params[0], &req))
		}
		proofs <- req
		return map[string]any{"handles": req.Handles, "signatures": []string{"0x" + strings.Repeat("11", 65)}}, nil
	})

	inst, err := mock.NewFactory(nil).NewInstance(testCtx(t), client, 31337, meta)
	require.NoError(t, err)

	batch, err := inst.CreateEncryptedInput(contract, user).Add16(80).Add16(70).Add16(90).Encrypt(testCtx(t))
	require.NoError(t, err)
	require.Len(t, batch.Handles, 3)
	proofReq := <-proofs
	assert.Len(t, proofReq.Handles, 3)
	assert.Equal(t, contract, proofReq.ContractAddress)
	assert.Equal(t, byte(3), batch.InputProof[0])
	assert.Equal(t, byte(1), batch.InputProof[1])

	handle := common.Hash(batch.Handles[1])
	decrypts := make(chan fhevm.UserDecryptRequest, 1)
	n.handle(mock.MethodUserDecrypt, func(params []json.RawMessage) (any, error) {
		var req fhevm.UserDecryptRequest
		if assert.Len(t, params, 1) {
			assert.NoError(t, json.Unmarshal(params[0], &req))
		}
		decrypts <- req
		return map[string]any{"values": map[string]string{strings.ToUpper(handle.Hex()[2:]): "70"}}, nil
	})
	values, err := inst.UserDecrypt(testCtx(t), fhevm.DecryptRequest{
		Handles:           []fhevm.HandleContractPair{{Handle: handle, ContractAddress: contract}},
		Keypair:           fhevm.Keypair{PublicKey: "ab", PrivateKey: "cd"},
		Signature:         "0x01",
		ContractAddresses: []common.Address{contract},
		UserAddress:       user,
		StartTimestamp:    time.Now().Unix(),
		DurationDays:      1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(70), values[handle].Int64())
	decReq := <-decrypts
	require.Len(t, decReq.HandleContractPairs, 1)
	assert.Equal(t, user, decReq.UserAddress)
}

func TestKernel_RevealRejectsGarbage(t *testing.T) {
	t.Parallel()
	h := common.HexToHash("0x01")
	_, err := mock.Kernel{}.Reveal(
		&fhevm.UserDecryptResponse{Values: map[string]string{h.Hex(): "seventy"}},
		fhevm.DecryptRequest{Handles: []fhevm.HandleContractPair{{Handle: h}}},
	)
	require.ErrorIs(t, err, mock.ErrBadValue)
}

func TestTransport_NodeErrorIsRequestFailure(t *testing.T) {
	t.Parallel()
	_, client := newNode(t)
	_, err := mock.NewTransport(client).InputProof(testCtx(t), fhevm.InputProofRequest{})
	require.Error(t, err)
	assert.True(t, rpc.IsRPCError(err, -32601))
}
