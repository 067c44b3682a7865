package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/output"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

// testMnemonic is the well-known hardhat development mnemonic.
const testMnemonic = "test test test test test test test test test test test junk"

// setupTestEnv points the package globals at a fresh home directory with a
// memory store and a text formatter writing to the returned buffer.
func setupTestEnv(t *testing.T) (string, *bytes.Buffer) {
	t.Helper()

	restore := saveGlobals(t)
	t.Cleanup(restore)

	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "wallets"), 0o750))

	testCfg := config.Defaults()
	testCfg.Rehome(tmpDir)
	testCfg.Storage.Backend = "memory"
	cfg = testCfg

	logger = config.NullLogger()

	buf := new(bytes.Buffer)
	formatter = output.NewFormatter(output.FormatText, buf)
	assumeYes = false

	return tmpDir, buf
}

// withMockPrompts replaces prompt functions for testing and restores on cleanup.
func withMockPrompts(t *testing.T, password []byte, confirm bool) {
	t.Helper()
	origPW := promptPasswordFn
	origNewPass := promptNewPassphraseFn
	origConfirm := promptConfirmFn
	t.Cleanup(func() {
		promptPasswordFn = origPW
		promptNewPassphraseFn = origNewPass
		promptConfirmFn = origConfirm
	})
	promptPasswordFn = func(_ string) ([]byte, error) {
		cp := make([]byte, len(password))
		copy(cp, password)
		return cp, nil
	}
	promptNewPassphraseFn = func() (string, error) {
		return string(password), nil
	}
	promptConfirmFn = func(_ string) bool { return confirm }
}

// suggestion returns the suggestion carried by a jury error.
func suggestion(err error) string {
	var je *juryerr.JuryError
	if juryerr.As(err, &je) {
		return je.Suggestion
	}
	return ""
}
