package fhevm_test

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftclass/jury/internal/fhevm"
	"github.com/craftclass/jury/internal/kvstore"
	"github.com/craftclass/jury/internal/provider"
	"github.com/craftclass/jury/internal/provider/hdwallet"
	"github.com/craftclass/jury/internal/provider/providertest"
)

func TestLoadOrSign_CachesPerUserAndContracts(t *testing.T) {
	t.Parallel()
	store := kvstore.NewMemory()
	sigs := fhevm.NewSignatureStore(store, nil)
	inst := testInstance(&fakeTransport{}, cleartextKernel{})

	p := providertest.New(31337, userAddr)
	signs := 0
	p.Handle(provider.MethodSignTypedData, func(_ context.Context, params []any) (any, error) {
		signs++
		return "0x" + strings.Repeat("ab", 65), nil
	})

	other := common.HexToAddress("0x0000000000000000000000000000000000000001")
	ctx := testCtx(t)

	first, err := sigs.LoadOrSign(ctx, inst, p, userAddr, []common.Address{contractAddr, other})
	require.NoError(t, err)
	assert.Equal(t, fhevm.DefaultDurationDays, first.DurationDays)
	assert.Equal(t, []common.Address{other, contractAddr}, first.ContractAddresses, "contracts are sorted")
	assert.NotEmpty(t, first.PrivateKey)

	again, err := sigs.LoadOrSign(ctx, inst, p, userAddr, []common.Address{other, contractAddr})
	require.NoError(t, err)
	assert.Equal(t, first.Signature, again.Signature)
	assert.Equal(t, first.PublicKey, again.PublicKey)
	assert.Equal(t, 1, signs)

	_, err = sigs.LoadOrSign(ctx, inst, p, userAddr, []common.Address{contractAddr})
	require.NoError(t, err)
	assert.Equal(t, 2, signs)

	keys, err := store.Keys(ctx, fhevm.SignaturePrefix+strings.ToLower(userAddr.Hex()))
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	require.NoError(t, sigs.ClearAll(ctx))
	keys, err = store.Keys(ctx, fhevm.SignaturePrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLoadOrSign_Rejected(t *testing.T) {
	t.Parallel()
	p := providertest.New(31337, userAddr)
	p.Fail(provider.MethodSignTypedData, provider.ErrUserRejected)

	_, err := fhevm.NewSignatureStore(kvstore.NewMemory(), nil).
		LoadOrSign(testCtx(t), testInstance(&fakeTransport{}, cleartextKernel{}), p, userAddr, []common.Address{contractAddr})
	require.Error(t, err)
	assert.True(t, provider.IsUserRejected(err))
}

func TestLoadOrSign_ThroughLocalWallet(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	wallet, err := hdwallet.New(ctx, hdwallet.Options{
		Name:     "test",
		Mnemonic: hdwallet.DevMnemonic,
		Accounts: 1,
		ChainID:  31337,
		Networks: map[uint64]string{31337: "http://127.0.0.1:1"},
		Approver: hdwallet.AutoApprove(),
		Store:    kvstore.NewMemory(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = wallet.Close() })

	_, err = provider.RequestAccounts(ctx, wallet)
	require.NoError(t, err)

	sig, err := fhevm.NewSignatureStore(kvstore.NewMemory(), nil).
		LoadOrSign(ctx, testInstance(&fakeTransport{}, cleartextKernel{}), wallet, userAddr, []common.Address{contractAddr})
	require.NoError(t, err)
	assert.Len(t, common.FromHex(sig.Signature), 65)
	assert.Equal(t, userAddr, sig.UserAddress)
}
