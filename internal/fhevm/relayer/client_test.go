package relayer_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftclass/jury/internal/fhevm"
	"github.com/craftclass/jury/internal/fhevm/relayer"
	"github.com/craftclass/jury/internal/kvstore"
	"github.com/craftclass/jury/internal/metrics"
	"github.com/craftclass/jury/internal/provider/providertest"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

const acl = "0x687820221192C5B662b25367F70076A37bc79b6c"

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// fakeRelayer serves the key manifest, the key blobs and the protocol endpoints.
type fakeRelayer struct {
	server    *httptest.Server
	downloads atomic.Int32
	manifest  func(base string) any
}

func newFakeRelayer(t *testing.T) *fakeRelayer {
	t.Helper()
	f := &fakeRelayer{manifest: fullManifest}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/keyurl", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"response": f.manifest(f.server.URL)})
	})
	mux.HandleFunc("/keys/pk", func(w http.ResponseWriter, _ *http.Request) {
		f.downloads.Add(1)
		_, _ = w.Write([]byte{0xaa, 0xbb})
	})
	mux.HandleFunc("/keys/crs", func(w http.ResponseWriter, _ *http.Request) {
		f.downloads.Add(1)
		_, _ = w.Write([]byte{0xcc})
	})
	mux.HandleFunc("/v1/input-proof", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0x7a69", req["contractChainId"])
		writeJSON(t, w, map[string]any{"response": map[string]any{
			"handles":    []string{common.HexToHash("0x01").Hex()},
			"signatures": []string{"0x0102"},
		}})
	})
	mux.HandleFunc("/v1/user-decrypt", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"response": []any{map[string]string{"payload": "00"}}})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func fullManifest(base string) any {
	return map[string]any{
		"fhe_key_info": []any{
			map[string]any{"fhe_public_key": map[string]any{"data_id": "pk-id", "urls": []string{base + "/missing", base + "/keys/pk"}}},
		},
		"crs": map[string]any{
			"2048": map[string]any{"data_id": "crs-id", "urls": []string{base + "/keys/crs"}},
		},
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func newClient(f *fakeRelayer, kernel fhevm.Kernel) *relayer.Client {
	return relayer.New(relayer.Options{
		Network: fhevm.NetworkConfig{ChainID: 31337, RelayerURL: f.server.URL + "/", ACLAddress: acl},
		Kernel:  kernel,
		Metrics: metrics.New(),
	})
}

func TestClient_LoadInitCreate(t *testing.T) {
	t.Parallel()
	f := newFakeRelayer(t)
	c := newClient(f, nil)
	ctx := testCtx(t)

	assert.False(t, c.IsLoaded())
	require.NoError(t, c.Load(ctx))
	assert.True(t, c.IsLoaded())
	require.NoError(t, c.Init(ctx))

	inst, err := c.CreateInstance(ctx, fhevm.InstanceConfig{Network: c.Network()})
	require.NoError(t, err)
	assert.Equal(t, fhevm.BackendProduction, inst.Backend())
	assert.Equal(t, "pk-id", inst.PublicKey().ID)
	assert.Equal(t, []byte{0xaa, 0xbb}, inst.PublicKey().Data)
	assert.Equal(t, []byte{0xcc}, inst.PublicParams(fhevm.PublicParamsBits).Data)
	assert.Equal(t, int32(2), f.downloads.Load())
}

func TestClient_CachedKeysSkipDownload(t *testing.T) {
	t.Parallel()
	f := newFakeRelayer(t)
	c := newClient(f, nil)
	ctx := testCtx(t)
	require.NoError(t, c.Load(ctx))

	_, err := c.CreateInstance(ctx, fhevm.InstanceConfig{
		Network:      c.Network(),
		PublicKey:    &fhevm.KeyMaterial{ID: "cached", Data: []byte{1}},
		PublicParams: &fhevm.KeyMaterial{ID: "cached-crs", Data: []byte{2}},
	})
	require.NoError(t, err)
	assert.Zero(t, f.downloads.Load())
}

func TestClient_InitRejectsIncompleteManifest(t *testing.T) {
	t.Parallel()
	f := newFakeRelayer(t)
	f.manifest = func(string) any { return map[string]any{"fhe_key_info": []any{}} }
	c := newClient(f, nil)

	require.NoError(t, c.Load(testCtx(t)))
	err := c.Init(testCtx(t))
	require.ErrorIs(t, err, relayer.ErrKeyInfo)
	assert.Equal(t, "fhe_public_key", juryerr.Detail(err, "missing"))
}

func TestClient_LoadHTTPError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	}))
	t.Cleanup(server.Close)

	c := relayer.New(relayer.Options{Network: fhevm.NetworkConfig{RelayerURL: server.URL}})
	err := c.Load(testCtx(t))
	require.ErrorIs(t, err, relayer.ErrAPIError)
	assert.Equal(t, "502", juryerr.Detail(err, "status"))
	assert.Equal(t, "upstream down", juryerr.Detail(err, "body"))
	assert.False(t, c.IsLoaded())
}

func TestClient_Transport(t *testing.T) {
	t.Parallel()
	f := newFakeRelayer(t)
	c := newClient(f, nil)

	proof, err := c.InputProof(testCtx(t), fhevm.InputProofRequest{ContractChainID: 31337})
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{common.HexToHash("0x01")}, proof.Handles)
	require.Len(t, proof.Signatures, 1)
	assert.Equal(t, []byte{1, 2}, []byte(proof.Signatures[0]))

	dec, err := c.UserDecrypt(testCtx(t), fhevm.UserDecryptRequest{})
	require.NoError(t, err)
	assert.Len(t, dec.Shares, 1)
	assert.Empty(t, dec.Values)
}

func TestClient_WithoutKernel(t *testing.T) {
	t.Parallel()
	f := newFakeRelayer(t)
	c := newClient(f, nil)
	ctx := testCtx(t)
	require.NoError(t, c.Load(ctx))

	inst, err := c.CreateInstance(ctx, fhevm.InstanceConfig{Network: c.Network()})
	require.NoError(t, err)
	_, err = inst.CreateEncryptedInput(common.Address{}, common.Address{}).Add16(1).Encrypt(ctx)
	require.ErrorIs(t, err, fhevm.ErrKernelUnavailable)
}

func TestClient_ThroughSession(t *testing.T) {
	t.Parallel()
	f := newFakeRelayer(t)
	c := newClient(f, nil)
	keys := fhevm.NewPublicKeyStore(kvstore.NewMemory(), nil)

	s := fhevm.NewSession(fhevm.SessionOptions{Runtime: fhevm.NewRuntime(c, c), KeyStore: keys})
	t.Cleanup(s.Close)
	s.Start(providertest.New(31337), 31337)

	inst, err := s.Wait(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, fhevm.BackendProduction, inst.Backend())

	cached := keys.Get(testCtx(t), acl)
	require.NotNil(t, cached.PublicKey)
	assert.Equal(t, "pk-id", cached.PublicKey.ID)
}
