package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/output"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

// errTestRandom is used for testing non-jury error handling.
var errTestRandom = juryerr.New("TEST_ERROR", "some random error")

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		name string
		info BuildInfo
		want string
	}{
		{
			name: "all fields populated",
			info: BuildInfo{Version: "v1.2.3", Commit: "abc1234", Date: "2026-01-15"},
			want: "v1.2.3 (commit: abc1234, built: 2026-01-15)",
		},
		{
			name: "all fields empty",
			info: BuildInfo{},
			want: "dev (commit: unknown, built: unknown)",
		},
		{
			name: "only version empty",
			info: BuildInfo{Commit: "def5678", Date: "2026-02-20"},
			want: "dev (commit: def5678, built: 2026-02-20)",
		},
		{
			name: "only commit empty",
			info: BuildInfo{Version: "v2.0.0", Date: "2026-03-25"},
			want: "v2.0.0 (commit: unknown, built: 2026-03-25)",
		},
		{
			name: "only date empty",
			info: BuildInfo{Version: "v3.0.0", Commit: "ghi9012"},
			want: "v3.0.0 (commit: ghi9012, built: unknown)",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, formatVersion(tc.info))
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error returns success", nil, juryerr.ExitSuccess},
		{"general error", juryerr.ErrGeneral, juryerr.ExitGeneral},
		{"invalid input error", juryerr.ErrInvalidInput, juryerr.ExitInput},
		{"not found error", juryerr.ErrNotFound, juryerr.ExitNotFound},
		{"user rejected", juryerr.ErrUserRejected, juryerr.ExitAuth},
		{"no active provider", juryerr.ErrNoActiveProvider, juryerr.ExitInput},
		{"not deployed", juryerr.ErrNotDeployed, juryerr.ExitInput},
		{"contract revert", juryerr.ErrContractRevert, juryerr.ExitPermission},
		{"invalid score", juryerr.ErrInvalidScore, juryerr.ExitInput},
		{"session not ready", juryerr.ErrSessionNotReady, juryerr.ExitGeneral},
		{"non-jury error returns general", errTestRandom, juryerr.ExitGeneral},
		{
			"wrapped jury error preserves exit code",
			juryerr.Wrap(juryerr.ErrUserRejected, "wallet said no"),
			juryerr.ExitAuth,
		},
		{
			"suggestion preserves exit code",
			juryerr.WithSuggestion(juryerr.ErrNotFound, "try again"),
			juryerr.ExitNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}

// TestGlobalGetters tests Config(), Logger() and Formatter().
// NOT parallel: mutates package-level globals.
func TestGlobalGetters(t *testing.T) {
	restore := saveGlobals(t)
	defer restore()

	testCfg := config.Defaults()
	testLogger := config.NullLogger()
	testFmt := output.NewFormatter(output.FormatText, nil)

	cfg = testCfg
	logger = testLogger
	formatter = testFmt

	assert.Equal(t, testCfg, Config())
	assert.Equal(t, testLogger, Logger())
	assert.Equal(t, testFmt, Formatter())
}

func TestCleanup_NilLogger(t *testing.T) {
	origLogger := logger
	defer func() { logger = origLogger }()

	logger = nil
	assert.NotPanics(t, func() { cleanup() })
}

func TestCleanup_LoggerCloseError(t *testing.T) {
	origLogger := logger
	defer func() { logger = origLogger }()

	testLogger, err := config.NewLogger(config.ParseLogLevel("debug"), filepath.Join(t.TempDir(), "test.log"))
	require.NoError(t, err)
	require.NoError(t, testLogger.Close())

	logger = testLogger
	assert.NotPanics(t, func() { cleanup() })
}

func TestFormatErr(t *testing.T) {
	origFormatter := formatter
	defer func() { formatter = origFormatter }()

	for _, f := range []*output.Formatter{
		nil,
		output.NewFormatter(output.FormatText, nil),
		output.NewFormatter(output.FormatJSON, nil),
	} {
		formatter = f
		assert.NotPanics(t, func() { formatErr(juryerr.ErrInvalidInput) })
	}
}

// saveGlobals saves all package-level globals and returns a restore function.
func saveGlobals(t *testing.T) func() {
	t.Helper()
	origCfg := cfg
	origLogger := logger
	origFormatter := formatter
	origHomeDir := homeDir
	origOutputFormat := outputFormat
	origVerbose := verbose
	origYes := assumeYes
	return func() {
		cfg = origCfg
		logger = origLogger
		formatter = origFormatter
		homeDir = origHomeDir
		outputFormat = origOutputFormat
		verbose = origVerbose
		assumeYes = origYes
	}
}

func TestInitGlobals_DefaultConfig(t *testing.T) {
	restore := saveGlobals(t)
	defer restore()

	home := t.TempDir()
	homeDir = home
	outputFormat = ""
	verbose = false

	require.NoError(t, initGlobals())

	require.NotNil(t, cfg)
	require.NotNil(t, logger)
	require.NotNil(t, formatter)
	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, filepath.Join(home, "state"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join(home, "jury.log"), cfg.Logging.File)
}

func TestInitGlobals_VerboseFlag(t *testing.T) {
	restore := saveGlobals(t)
	defer restore()

	homeDir = t.TempDir()
	outputFormat = ""
	verbose = true

	require.NoError(t, initGlobals())

	assert.True(t, cfg.Output.Verbose)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestInitGlobals_OutputFormatFlag(t *testing.T) {
	restore := saveGlobals(t)
	defer restore()

	homeDir = t.TempDir()
	outputFormat = "json"
	verbose = false

	require.NoError(t, initGlobals())

	assert.Equal(t, "json", cfg.Output.DefaultFormat)
	assert.True(t, formatter.IsJSON())
}

func TestInitGlobals_WithExistingConfig(t *testing.T) {
	restore := saveGlobals(t)
	defer restore()

	home := t.TempDir()
	testCfg := config.Defaults()
	testCfg.Rehome(home)
	testCfg.Logging.Level = "off"
	testCfg.Contracts[31337] = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	require.NoError(t, config.Save(testCfg, config.Path(home)))

	homeDir = home
	outputFormat = ""
	verbose = false

	require.NoError(t, initGlobals())

	assert.Equal(t, "off", cfg.Logging.Level)
	assert.Equal(t, "0x5FbDB2315678afecb367f032d93F642f64180aa3", cfg.Contracts[31337])
}

func TestInitGlobals_EnvHome(t *testing.T) {
	restore := saveGlobals(t)
	defer restore()

	home := t.TempDir()
	homeDir = ""
	outputFormat = ""
	verbose = false
	t.Setenv(config.EnvHome, home)

	require.NoError(t, initGlobals())

	assert.Equal(t, home, cfg.Home)
}

func TestExecute_Version(t *testing.T) {
	restore := saveGlobals(t)
	defer restore()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"--home", t.TempDir(), "-o", "text", "version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	err := Execute(BuildInfo{Version: "v1.0.0-test", Commit: "abc", Date: "2026-01-01"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "jury v1.0.0-test (commit: abc, built: 2026-01-01)")
}

func TestExecute_VersionJSON(t *testing.T) {
	restore := saveGlobals(t)
	defer restore()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"--home", t.TempDir(), "-o", "json", "version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, Execute(BuildInfo{Version: "v1.0.0", Commit: "abc"}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "v1.0.0", got["version"])
	assert.Equal(t, "abc", got["commit"])
}
