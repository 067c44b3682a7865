package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/metrics"
	"github.com/craftclass/jury/internal/output"
	"github.com/craftclass/jury/internal/provider/hdwallet"
)

func TestNewCommandContext(t *testing.T) {
	t.Parallel()

	testCfg := config.Defaults()
	testLogger := config.NullLogger()
	testFmt := output.NewFormatter(output.FormatText, nil)

	cc := NewCommandContext(testCfg, testLogger, testFmt)

	require.NotNil(t, cc)
	assert.Equal(t, testCfg, cc.Config)
	assert.Equal(t, testLogger, cc.Logger)
	assert.Equal(t, testFmt, cc.Formatter)
	assert.Equal(t, metrics.Global, cc.Metrics)
	assert.Nil(t, cc.Approver)
	assert.Empty(t, cc.Passphrase)
}

func TestCommandContext_WithApproverAndPassphrase(t *testing.T) {
	t.Parallel()

	approved := false
	approver := hdwallet.ApproverFunc(func(_ context.Context, _ hdwallet.ApprovalRequest) (bool, error) {
		approved = true
		return true, nil
	})

	cc := NewCommandContext(config.Defaults(), config.NullLogger(), nil).
		WithApprover(approver).
		WithPassphrase("hunter22")

	opts := cc.AppOptions()
	assert.Equal(t, cc.Config, opts.Config)
	assert.Equal(t, "hunter22", opts.Passphrase)
	assert.Equal(t, cc.Metrics, opts.Metrics)
	require.NotNil(t, opts.Approver)

	ok, err := opts.Approver.Approve(context.Background(), hdwallet.ApprovalRequest{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, approved)
	assert.Nil(t, opts.Store, "store comes from the configured backend")
}

func TestSeedPassphrase_NoSeedFiles(t *testing.T) {
	setupTestEnv(t)
	scriptedPasswords(t, "never asked")

	assert.Empty(t, seedPassphrase(new(bytes.Buffer)))
}

func TestSeedPassphrase_FromEnv(t *testing.T) {
	setupTestEnv(t)
	cfg.Wallets = append(cfg.Wallets, config.WalletConfig{RDNS: "io.example", SeedFile: "/tmp/x.age"})
	t.Setenv(config.EnvWalletPassphrase, "from-the-env")

	assert.Equal(t, "from-the-env", seedPassphrase(new(bytes.Buffer)))
}

func TestNetworkLabel(t *testing.T) {
	setupTestEnv(t)
	cfg.Networks[8009] = config.NetworkConfig{Name: "Zama Devnet"}

	assert.Equal(t, "Zama Devnet", networkLabel(cfg, 8009))
	assert.Equal(t, "Sepolia", networkLabel(cfg, config.ChainIDSepolia))
	assert.NotEmpty(t, networkLabel(cfg, 424242))
}

func TestNetworkLabel_NilConfig(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Sepolia", networkLabel(nil, config.ChainIDSepolia))
	assert.NotEmpty(t, networkLabel(nil, 424242))
}

func TestContextWithTimeout(t *testing.T) {
	t.Parallel()

	t.Run("parent cancel propagates", func(t *testing.T) {
		t.Parallel()
		parent, cancelParent := context.WithCancel(context.Background())
		cmd := &cobra.Command{}
		cmd.SetContext(parent)

		ctx, cancel := contextWithTimeout(cmd, time.Minute)
		defer cancel()
		cancelParent()

		<-ctx.Done()
		require.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("no command context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := contextWithTimeout(&cobra.Command{}, 20*time.Millisecond)
		defer cancel()

		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(20*time.Millisecond), deadline, time.Second)
		<-ctx.Done()
		require.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	})
}
