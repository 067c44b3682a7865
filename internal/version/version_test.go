package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Parallel()

	t.Run("DefaultValues", func(t *testing.T) {
		t.Parallel()
		client := NewClient()

		assert.Equal(t, DefaultBaseURL, client.baseURL)
		assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)
		assert.True(t, strings.HasPrefix(client.userAgent, "jury/dev ("))
	})

	t.Run("Options", func(t *testing.T) {
		t.Parallel()
		hc := &http.Client{Timeout: time.Second}
		client := NewClient(WithBaseURL("https://example.com/api/"), WithHTTPClient(hc), WithUserAgent("jury/v1.0.0"))

		assert.Equal(t, "https://example.com/api", client.baseURL)
		assert.Same(t, hc, client.httpClient)
		assert.Equal(t, "jury/v1.0.0", client.userAgent)
	})
}

func TestValidateOwnerRepo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		owner       string
		repo        string
		expectedErr error
	}{
		{name: "ValidOwnerRepo", owner: "craftclass", repo: "jury"},
		{name: "DotsAndDashes", owner: "craft-class", repo: "jury.cli_v2"},
		{name: "EmptyOwner", repo: "jury", expectedErr: ErrInvalidOwner},
		{name: "EmptyRepo", owner: "craftclass", expectedErr: ErrInvalidRepo},
		{name: "PathInOwner", owner: "craft/class", repo: "jury", expectedErr: ErrInvalidOwnerRepo},
		{name: "LeadingDot", owner: "craftclass", repo: ".jury", expectedErr: ErrInvalidOwnerRepo},
		{name: "QueryInRepo", owner: "craftclass", repo: "jury?x=1", expectedErr: ErrInvalidOwnerRepo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validateOwnerRepo(tt.owner, tt.repo)
			if tt.expectedErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestGetLatestRelease(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		body        string
		wantTag     string
		wantErr     error
		errContains string
	}{
		{
			name:    "Success",
			status:  http.StatusOK,
			body:    `{"tag_name":"v1.4.0","name":"Jury 1.4","published_at":"2026-09-01T10:00:00Z"}`,
			wantTag: "v1.4.0",
		},
		{
			name:        "NotFound",
			status:      http.StatusNotFound,
			body:        `{"message":"Not Found"}`,
			wantErr:     ErrReleaseLookup,
			errContains: "status 404",
		},
		{
			name:        "BadJSON",
			status:      http.StatusOK,
			body:        `{"tag_name":`,
			errContains: "decoding release",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/repos/craftclass/jury/releases/latest", r.URL.Path)
				assert.Contains(t, r.Header.Get("User-Agent"), "jury")
				assert.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(WithBaseURL(server.URL))
			release, err := client.GetLatestRelease(context.Background(), "craftclass", "jury")

			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				if tt.wantErr != nil {
					require.ErrorIs(t, err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTag, release.TagName)
			assert.Equal(t, 2026, release.PublishedAt.Year())
		})
	}
}

func TestGetLatestRelease_InvalidRepo(t *testing.T) {
	t.Parallel()

	_, err := NewClient(WithBaseURL("http://127.0.0.1:1")).GetLatestRelease(context.Background(), "", "jury")
	require.ErrorIs(t, err, ErrInvalidOwner)
}

func TestGetLatestRelease_ContextCanceled(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(WithBaseURL(server.URL)).GetLatestRelease(ctx, "craftclass", "jury")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetching release")
}

func TestCompareVersions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v1, v2 string
		want   int
	}{
		{"1.0.0", "1.0.0", 0},
		{"v1.0.0", "1.0.0", 0},
		{"1.2.0", "1.1.9", 1},
		{"1.10.0", "1.9.0", 1},
		{"2.0.0", "10.0.0", -1},
		{"1.2", "1.2.0", 0},
		{"1.2.3-rc1", "1.2.3", 0},
		{"1.2.3+build.5", "1.2.4", -1},
		{"dev", "1.0.0", -1},
		{"1.0.0", "dev", 1},
		{"dev", "", 0},
		{"abc1234", "0.0.1", -1},
		{"abc1234-dirty", "0.0.1", -1},
		{"1234567", "1.0.0", 1},
	}

	for _, tt := range tests {
		t.Run(tt.v1+"_vs_"+tt.v2, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CompareVersions(tt.v1, tt.v2))
		})
	}
}

func TestIsNewerVersion(t *testing.T) {
	t.Parallel()

	assert.True(t, IsNewerVersion("1.0.0", "1.0.1"))
	assert.True(t, IsNewerVersion("dev", "0.1.0"))
	assert.False(t, IsNewerVersion("1.0.1", "1.0.0"))
	assert.False(t, IsNewerVersion("1.0.0", "v1.0.0"))
}

func TestNormalizeVersion(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"v1.2.3":       "1.2.3",
		"  v1.2.3  ":   "1.2.3",
		"vv1.2.3":      "1.2.3",
		"1.2.3-rc1":    "1.2.3",
		"1.2.3+abc":    "1.2.3",
		"v1.2.3-dirty": "1.2.3",
		"":             "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeVersion(in), "NormalizeVersion(%q)", in)
	}
}

func TestIsDevBuild(t *testing.T) {
	t.Parallel()

	for _, v := range []string{"", "dev", "vdev", "abc1234", "ABCDEF0123", "abc1234-dirty"} {
		assert.True(t, isDevBuild(v), v)
	}
	for _, v := range []string{"1.0.0", "1234567", "abc12", "zzz1234"} {
		assert.False(t, isDevBuild(v), v)
	}
}
