package fhevm_test

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"github.com/craftclass/jury/internal/fhevm"
)

var (
	contractAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	userAddr     = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

// cleartextKernel packs nothing and derives no handles.
type cleartextKernel struct {
	handles []common.Hash
	values  map[common.Hash]*big.Int
}

func (k cleartextKernel) Encrypt(req fhevm.EncryptRequest) ([]byte, []common.Hash, error) {
	out := make([]byte, 0, len(req.Values))
	for _, v := range req.Values {
		out = append(out, byte(v.Type), byte(v.Value))
	}
	return out, k.handles, nil
}

func (k cleartextKernel) Reveal(*fhevm.UserDecryptResponse, fhevm.DecryptRequest) (map[common.Hash]*big.Int, error) {
	return k.values, nil
}

func testInstance(tr fhevm.Transport, k fhevm.Kernel) fhevm.Instance {
	return fhevm.NewInstance(fhevm.InstanceOptions{
		Backend:   fhevm.BackendMock,
		Transport: tr,
		Kernel:    k,
		Network: fhevm.NetworkConfig{
			ChainID:                            31337,
			ACLAddress:                         testACL,
			VerifyingContractAddressDecryption: "0x5ffdaAB0373E62E2ea2944776209aEf29E631A64",
		},
	})
}

func TestEncrypt_ProofLayoutAndOrder(t *testing.T) {
	t.Parallel()
	h := []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02"), common.HexToHash("0x03")}
	sig := bytes.Repeat([]byte{0x5a}, 65)
	tr := &fakeTransport{handles: h, signatures: [][]byte{sig}}

	batch, err := testInstance(tr, cleartextKernel{}).
		CreateEncryptedInput(contractAddr, userAddr).
		Add16(80).Add16(70).Add16(90).
		Encrypt(testCtx(t))
	require.NoError(t, err)

	require.Len(t, batch.Handles, 3)
	for i := range h {
		assert.Equal(t, [32]byte(h[i]), batch.Handles[i])
	}

	want := []byte{3, 1}
	for _, x := range h {
		want = append(want, x.Bytes()...)
	}
	want = append(want, sig...)
	want = append(want, 0x00)
	assert.Equal(t, want, batch.InputProof)

	require.Len(t, tr.proofReqs, 1)
	req := tr.proofReqs[0]
	assert.Equal(t, contractAddr, req.ContractAddress)
	assert.Equal(t, userAddr, req.UserAddress)
	assert.Equal(t, uint64(31337), uint64(req.ContractChainID))
	assert.Equal(t, []byte{3, 80, 3, 70, 3, 90}, []byte(req.Ciphertext))
}

func TestEncrypt_LocalHandlesMustMatch(t *testing.T) {
	t.Parallel()
	local := []common.Hash{common.HexToHash("0xaa")}
	tr := &fakeTransport{handles: []common.Hash{common.HexToHash("0xbb")}}

	_, err := testInstance(tr, cleartextKernel{handles: local}).
		CreateEncryptedInput(contractAddr, userAddr).AddBool(true).
		Encrypt(testCtx(t))
	require.ErrorIs(t, err, fhevm.ErrInputProof)
}

func TestEncrypt_UsesLocalHandlesWhenRelayerOmitsThem(t *testing.T) {
	t.Parallel()
	local := []common.Hash{common.HexToHash("0xaa"), common.HexToHash("0xbb")}

	batch, err := testInstance(&fakeTransport{}, cleartextKernel{handles: local}).
		CreateEncryptedInput(contractAddr, userAddr).Add8(1).Add32(2).
		Encrypt(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, [32]byte(local[1]), batch.Handles[1])
	assert.Equal(t, byte(0), batch.InputProof[1])
}

func TestEncrypt_Errors(t *testing.T) {
	t.Parallel()
	inst := testInstance(&fakeTransport{}, cleartextKernel{})

	_, err := inst.CreateEncryptedInput(contractAddr, userAddr).Encrypt(testCtx(t))
	require.ErrorIs(t, err, fhevm.ErrEmptyInput)

	large := inst.CreateEncryptedInput(contractAddr, userAddr)
	for i := 0; i < 33; i++ {
		large.Add64(uint64(i))
	}
	_, err = large.Encrypt(testCtx(t))
	require.ErrorIs(t, err, fhevm.ErrInputTooLarge)

	_, err = inst.CreateEncryptedInput(contractAddr, userAddr).Add16(1).Encrypt(testCtx(t))
	require.ErrorIs(t, err, fhevm.ErrInputProof, "relayer returned no handles")

	prod := fhevm.NewInstance(fhevm.InstanceOptions{Backend: fhevm.BackendProduction, Transport: &fakeTransport{}})
	_, err = prod.CreateEncryptedInput(contractAddr, userAddr).Add16(1).Encrypt(testCtx(t))
	require.ErrorIs(t, err, fhevm.ErrKernelUnavailable)
}

func TestGenerateKeypair(t *testing.T) {
	t.Parallel()
	seed := bytes.Repeat([]byte{7}, 32)
	inst := fhevm.NewInstance(fhevm.InstanceOptions{Rand: bytes.NewReader(seed)})

	kp, err := inst.GenerateKeypair()
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(seed), kp.PrivateKey)

	pub, err := curve25519.X25519(seed, curve25519.Basepoint)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(pub), kp.PublicKey)
}

func TestCreateEIP712(t *testing.T) {
	t.Parallel()
	inst := testInstance(&fakeTransport{}, cleartextKernel{})

	typed := inst.CreateEIP712("0xabcd", []common.Address{contractAddr}, 1700000000, 365)
	assert.Equal(t, "UserDecryptRequestVerification", typed.PrimaryType)
	assert.Equal(t, "Decryption", typed.Domain.Name)
	assert.Equal(t, "0x5ffdaAB0373E62E2ea2944776209aEf29E631A64", typed.Domain.VerifyingContract)
	assert.Equal(t, int64(fhevm.DefaultGatewayChainID), (*big.Int)(typed.Domain.ChainId).Int64())
	assert.Equal(t, "31337", typed.Message["contractsChainId"])
	assert.Equal(t, "0xabcd", typed.Message["publicKey"])

	_, _, err := apitypes.TypedDataAndHash(typed)
	require.NoError(t, err)
}

func TestUserDecrypt(t *testing.T) {
	t.Parallel()
	handle := common.HexToHash("0x42")
	tr := &fakeTransport{}
	k := cleartextKernel{values: map[common.Hash]*big.Int{handle: big.NewInt(87)}}
	inst := testInstance(tr, k)

	req := fhevm.DecryptRequest{
		Handles:           []fhevm.HandleContractPair{{Handle: handle, ContractAddress: contractAddr}},
		Keypair:           fhevm.Keypair{PublicKey: "0xbeef", PrivateKey: "00"},
		Signature:         "0x1234",
		ContractAddresses: []common.Address{contractAddr},
		UserAddress:       userAddr,
		StartTimestamp:    1700000000,
		DurationDays:      1,
	}
	got, err := inst.UserDecrypt(testCtx(t), req)
	require.NoError(t, err)
	assert.Equal(t, int64(87), got[handle].Int64())

	require.Len(t, tr.decReqs, 1)
	sent := tr.decReqs[0]
	assert.Equal(t, "1234", sent.Signature)
	assert.Equal(t, "beef", sent.PublicKey)
	assert.Equal(t, "31337", sent.ContractsChainID)
	assert.Equal(t, "1", sent.RequestValidity.DurationDays)
}

func TestUserDecrypt_Validation(t *testing.T) {
	t.Parallel()
	handle := common.HexToHash("0x42")
	base := fhevm.DecryptRequest{
		Handles:           []fhevm.HandleContractPair{{Handle: handle, ContractAddress: contractAddr}},
		Keypair:           fhevm.Keypair{PublicKey: "beef"},
		Signature:         "1234",
		ContractAddresses: []common.Address{contractAddr},
		DurationDays:      1,
	}

	tests := []struct {
		name   string
		mutate func(*fhevm.DecryptRequest)
	}{
		{"no handles", func(r *fhevm.DecryptRequest) { r.Handles = nil }},
		{"no contracts", func(r *fhevm.DecryptRequest) { r.ContractAddresses = nil }},
		{"zero duration", func(r *fhevm.DecryptRequest) { r.DurationDays = 0 }},
		{"too long", func(r *fhevm.DecryptRequest) { r.DurationDays = 366 }},
		{"unsigned", func(r *fhevm.DecryptRequest) { r.Signature = "" }},
		{"foreign contract", func(r *fhevm.DecryptRequest) { r.Handles[0].ContractAddress = userAddr }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := base
			req.Handles = append([]fhevm.HandleContractPair(nil), base.Handles...)
			tc.mutate(&req)
			_, err := testInstance(&fakeTransport{}, cleartextKernel{}).UserDecrypt(testCtx(t), req)
			require.ErrorIs(t, err, fhevm.ErrInvalidDecryptRequest)
		})
	}

	_, err := testInstance(&fakeTransport{}, cleartextKernel{values: map[common.Hash]*big.Int{}}).UserDecrypt(testCtx(t), base)
	require.ErrorIs(t, err, fhevm.ErrInvalidDecryptRequest, "missing value for a requested handle")
}
