package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	versionpkg "github.com/craftclass/jury/internal/version"
)

const (
	devVersionString = "dev"
	releaseOwner     = "craftclass"
	releaseRepo      = "jury"
)

// BuildInfo is stamped into the binary at build time.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// versionCmd prints the build version.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Show the jury build version.

With --check the latest published release is looked up and compared.`,
	Example: `  jury version
  jury version --check`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	versionCheck   bool
	releaseBaseURL = versionpkg.DefaultBaseURL
)

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.GroupID = "config"
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check for a newer release")
}

// formatVersion renders build info for humans.
func formatVersion(info BuildInfo) string {
	v, commit, date := info.Version, info.Commit, info.Date
	if v == "" {
		v = devVersionString
	}
	if commit == "" {
		commit = "unknown"
	}
	if date == "" {
		date = "unknown"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", v, commit, date)
}

type versionResult struct {
	BuildInfo

	Latest  string `json:"latest,omitempty"`
	IsNewer bool   `json:"is_newer,omitempty"`
}

func runVersion(cmd *cobra.Command, _ []string) error {
	res := versionResult{BuildInfo: buildInfo}
	if res.Version == "" {
		res.Version = devVersionString
	}

	if versionCheck {
		ctx, cancel := contextWithTimeout(cmd, 15*time.Second)
		defer cancel()

		client := versionpkg.NewClient(versionpkg.WithBaseURL(releaseBaseURL), versionpkg.WithUserAgent("jury/"+res.Version))
		release, err := client.GetLatestRelease(ctx, releaseOwner, releaseRepo)
		if err != nil {
			return fmt.Errorf("checking for updates: %w", err)
		}
		res.Latest = strings.TrimPrefix(release.TagName, "v")
		res.IsNewer = versionpkg.IsNewerVersion(res.Version, res.Latest)
	}

	return formatter.Result(res, func(w io.Writer) error {
		out(w, "jury %s\n", formatVersion(buildInfo))
		switch {
		case res.Latest == "":
		case res.IsNewer:
			out(w, "A newer version is available: %s\n", res.Latest)
		default:
			out(w, "You are on the latest version (%s)\n", res.Latest)
		}
		return nil
	})
}
