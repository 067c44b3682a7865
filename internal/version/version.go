// Package version compares build versions and looks up published releases.
package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"runtime"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// Release lookup defaults.
const (
	DefaultBaseURL = "https://api.github.com"
	DefaultTimeout = 30 * time.Second

	maxErrorBody    = 1 << 10
	maxResponseBody = 64 << 10
)

// Errors returned by this package.
var (
	ErrReleaseLookup    = errors.New("release lookup failed")
	ErrInvalidOwner     = errors.New("owner cannot be empty")
	ErrInvalidRepo      = errors.New("repo cannot be empty")
	ErrInvalidOwnerRepo = errors.New("owner/repo contains invalid characters")
)

var (
	repoNamePattern   = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)
	commitHashPattern = regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`)
)

// Release is a published release.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
}

// Client fetches releases from a GitHub compatible API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  fmt.Sprintf("jury/dev (%s/%s)", runtime.GOOS, runtime.GOARCH),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func validateOwnerRepo(owner, repo string) error {
	switch {
	case owner == "":
		return ErrInvalidOwner
	case repo == "":
		return ErrInvalidRepo
	case !repoNamePattern.MatchString(owner), !repoNamePattern.MatchString(repo):
		return ErrInvalidOwnerRepo
	}
	return nil
}

// GetLatestRelease returns the latest non-draft release of owner/repo.
func (c *Client) GetLatestRelease(ctx context.Context, owner, repo string) (*Release, error) {
	if err := validateOwnerRepo(owner, repo); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.baseURL, owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL is built from the configured API root
	if err != nil {
		return nil, fmt.Errorf("fetching release: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", ErrReleaseLookup, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var r Release
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&r); err != nil {
		return nil, fmt.Errorf("decoding release: %w", err)
	}
	return &r, nil
}

// isDevBuild reports whether v is an unreleased build: empty, "dev" or a
// commit hash.
func isDevBuild(v string) bool {
	v = strings.TrimSuffix(strings.TrimPrefix(v, "v"), "-dirty")
	if v == "" || v == "dev" {
		return true
	}
	return commitHashPattern.MatchString(v) && strings.ContainsAny(v, "abcdefABCDEF")
}

// canonical turns v into the "vMAJOR.MINOR.PATCH" form semver compares,
// dropping prerelease and build suffixes.
func canonical(v string) string {
	v = NormalizeVersion(v)
	if v == "" {
		return ""
	}
	return semver.Canonical("v" + v)
}

// CompareVersions returns 1, 0 or -1 as v1 is newer than, equal to or older
// than v2. Development builds are older than any release.
func CompareVersions(v1, v2 string) int {
	dev1, dev2 := isDevBuild(v1), isDevBuild(v2)
	switch {
	case dev1 && dev2:
		return 0
	case dev1:
		return -1
	case dev2:
		return 1
	}
	return semver.Compare(canonical(v1), canonical(v2))
}

// IsNewerVersion reports whether latest is newer than current.
func IsNewerVersion(current, latest string) bool {
	return CompareVersions(latest, current) > 0
}

// NormalizeVersion trims whitespace, "v" prefixes and any prerelease or
// build suffix.
func NormalizeVersion(v string) string {
	if i := strings.IndexAny(v, "-+"); i != -1 {
		v = v[:i]
	}
	return strings.TrimLeft(strings.TrimSpace(v), "v")
}
