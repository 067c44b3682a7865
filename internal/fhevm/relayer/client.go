// Package relayer is the production backend: it loads the network key
// manifest from the relayer, downloads the public key and CRS, and speaks the
// relayer HTTP protocol for input proofs and user decryption.
package relayer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/craftclass/jury/internal/chain"
	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/fhevm"
	"github.com/craftclass/jury/internal/metrics"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

const (
	// DefaultURL is the public testnet relayer.
	DefaultURL = "https://relayer.testnet.zama.cloud"

	httpTimeout = 60 * time.Second

	// maxResponseBody caps JSON answers (1 MB).
	maxResponseBody = 1 << 20

	// maxKeyBody caps key and CRS downloads (256 MB).
	maxKeyBody = 256 << 20
)

var (
	// ErrAPIError indicates the relayer answered with a non-success status.
	ErrAPIError = &juryerr.JuryError{
		Code:     "RELAYER_API_ERROR",
		Message:  "relayer returned an error",
		ExitCode: juryerr.ExitGeneral,
	}

	// ErrKeyInfo indicates the key manifest lacks the public key or CRS.
	ErrKeyInfo = &juryerr.JuryError{
		Code:     "RELAYER_KEY_INFO",
		Message:  "relayer key manifest is incomplete",
		ExitCode: juryerr.ExitGeneral,
	}
)

// KeyURL locates one downloadable key blob.
type KeyURL struct {
	DataID string   `json:"data_id"`
	URLs   []string `json:"urls"`
}

// KeyInfo is the /v1/keyurl manifest.
type KeyInfo struct {
	FheKeyInfo []struct {
		FhePublicKey KeyURL `json:"fhe_public_key"`
	} `json:"fhe_key_info"`
	Crs map[string]KeyURL `json:"crs"`
}

func (k *KeyInfo) publicKey() (KeyURL, bool) {
	if k == nil || len(k.FheKeyInfo) == 0 || len(k.FheKeyInfo[0].FhePublicKey.URLs) == 0 {
		return KeyURL{}, false
	}
	return k.FheKeyInfo[0].FhePublicKey, true
}

func (k *KeyInfo) crs(bits int) (KeyURL, bool) {
	if k == nil {
		return KeyURL{}, false
	}
	u, ok := k.Crs[fmt.Sprint(bits)]
	return u, ok && len(u.URLs) > 0
}

// envelope is the relayer response wrapper.
type envelope struct {
	Response json.RawMessage `json:"response"`
	Status   string          `json:"status,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// Options configures a Client.
type Options struct {
	// Network is the chain configuration this relayer serves. Its
	// RelayerURL is the base URL; DefaultURL when empty.
	Network fhevm.NetworkConfig

	// Kernel packs ciphertexts and reconstructs decryption shares.
	// Without one, encryption and decryption fail with ErrKernelUnavailable.
	Kernel fhevm.Kernel

	HTTPClient  *http.Client
	RateLimiter *chain.RateLimiter
	Metrics     *metrics.Metrics
	Logger      config.LogWriter
}

// Client implements fhevm.Loader, fhevm.SDK and fhevm.Transport.
type Client struct {
	baseURL     string
	network     fhevm.NetworkConfig
	kernel      fhevm.Kernel
	httpClient  *http.Client
	rateLimiter *chain.RateLimiter
	metrics     *metrics.Metrics
	logger      config.LogWriter

	mu      sync.Mutex
	keyInfo *KeyInfo
}

var (
	_ fhevm.Loader    = (*Client)(nil)
	_ fhevm.SDK       = (*Client)(nil)
	_ fhevm.Transport = (*Client)(nil)
)

// New creates a relayer client.
func New(opts Options) *Client {
	c := &Client{
		baseURL: strings.TrimRight(opts.Network.RelayerURL, "/"),
		network: opts.Network,
		kernel:  opts.Kernel,
		httpClient: &http.Client{
			Timeout: httpTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		rateLimiter: opts.RateLimiter,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultURL
		c.network.RelayerURL = DefaultURL
	}
	if opts.HTTPClient != nil {
		c.httpClient = opts.HTTPClient
	}
	if c.rateLimiter == nil {
		c.rateLimiter = chain.NewRateLimiter(5, 5)
	}
	if c.logger == nil {
		c.logger = config.NullLogger()
	}
	return c
}

// NetworkFromConfig maps relayer settings to a network configuration.
func NetworkFromConfig(rc config.RelayerConfig) fhevm.NetworkConfig {
	nc := fhevm.NetworkConfig{
		ChainID:                            rc.ChainID,
		GatewayChainID:                     rc.GatewayChainID,
		RelayerURL:                         rc.URL,
		ACLAddress:                         rc.ACLAddress,
		KMSVerifierAddress:                 rc.KMSVerifierAddress,
		InputVerifierAddress:               rc.InputVerifierAddress,
		VerifyingContractAddressDecryption: rc.VerifyingContractAddressDecryption,
	}
	nc.VerifyingContractAddressInputVerification = rc.VerifyingContractAddressInputVerification
	return nc
}

// IsLoaded reports whether the key manifest has been fetched.
func (c *Client) IsLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keyInfo != nil
}

// Load fetches the key manifest.
func (c *Client) Load(ctx context.Context) error {
	var info KeyInfo
	if err := c.do(ctx, http.MethodGet, "/v1/keyurl", nil, &info); err != nil {
		return err
	}
	c.mu.Lock()
	c.keyInfo = &info
	c.mu.Unlock()
	c.logger.Debug("relayer: loaded key manifest from %s", config.SanitizeURL(c.baseURL))
	return nil
}

// Init checks the manifest names a public key and a CRS of the size input
// proofs use.
func (c *Client) Init(context.Context) error {
	c.mu.Lock()
	info := c.keyInfo
	c.mu.Unlock()

	if _, ok := info.publicKey(); !ok {
		return juryerr.WithDetails(ErrKeyInfo, map[string]string{"missing": "fhe_public_key"})
	}
	if _, ok := info.crs(fhevm.PublicParamsBits); !ok {
		return juryerr.WithDetails(ErrKeyInfo, map[string]string{"missing": fmt.Sprintf("crs %d", fhevm.PublicParamsBits)})
	}
	return nil
}

// Network returns the configured network.
func (c *Client) Network() fhevm.NetworkConfig {
	return c.network
}

// CreateInstance builds a production instance. Key material missing from
// cfg is downloaded from the manifest URLs.
func (c *Client) CreateInstance(ctx context.Context, cfg fhevm.InstanceConfig) (fhevm.Instance, error) {
	c.mu.Lock()
	info := c.keyInfo
	c.mu.Unlock()

	pk := cfg.PublicKey
	if pk.Empty() {
		loc, ok := info.publicKey()
		if !ok {
			return nil, juryerr.WithDetails(ErrKeyInfo, map[string]string{"missing": "fhe_public_key"})
		}
		data, err := c.download(ctx, loc)
		if err != nil {
			return nil, err
		}
		pk = &fhevm.KeyMaterial{ID: loc.DataID, Data: data}
	}

	params := cfg.PublicParams
	if params.Empty() {
		loc, ok := info.crs(fhevm.PublicParamsBits)
		if !ok {
			return nil, juryerr.WithDetails(ErrKeyInfo, map[string]string{"missing": fmt.Sprintf("crs %d", fhevm.PublicParamsBits)})
		}
		data, err := c.download(ctx, loc)
		if err != nil {
			return nil, err
		}
		params = &fhevm.KeyMaterial{ID: loc.DataID, Data: data}
	}

	return fhevm.NewInstance(fhevm.InstanceOptions{
		Backend:      fhevm.BackendProduction,
		Network:      cfg.Network,
		Transport:    c,
		Kernel:       c.kernel,
		PublicKey:    pk,
		PublicParams: map[int]*fhevm.KeyMaterial{fhevm.PublicParamsBits: params},
	}), nil
}

// InputProof implements fhevm.Transport.
func (c *Client) InputProof(ctx context.Context, req fhevm.InputProofRequest) (*fhevm.InputProofResponse, error) {
	var resp fhevm.InputProofResponse
	if err := c.do(ctx, http.MethodPost, "/v1/input-proof", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UserDecrypt implements fhevm.Transport. The relayer answers with the KMS
// shares the kernel reconstructs.
func (c *Client) UserDecrypt(ctx context.Context, req fhevm.UserDecryptRequest) (*fhevm.UserDecryptResponse, error) {
	var shares []json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/v1/user-decrypt", req, &shares); err != nil {
		return nil, err
	}
	return &fhevm.UserDecryptResponse{Shares: shares}, nil
}

// do sends one relayer request and decodes the envelope's response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordRPCCall("relayer "+path, time.Since(start), err)
		}
	}()

	if err := c.rateLimiter.Wait(ctx, c.baseURL); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, merr := json.Marshal(body)
		if merr != nil {
			return fmt.Errorf("marshaling request: %w", merr)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq) //nolint:gosec // G704: URL is built from validated config
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return juryerr.WithCause(juryerr.ErrNetworkError, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return juryerr.WithDetails(ErrAPIError, map[string]string{
			"path":   path,
			"status": fmt.Sprintf("%d", resp.StatusCode),
			"body":   truncateBody(string(raw), 512),
		})
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if env.Status != "" && env.Status != "succeeded" {
		return juryerr.WithDetails(ErrAPIError, map[string]string{"path": path, "status": env.Status, "message": env.Message})
	}
	if len(env.Response) == 0 {
		return juryerr.WithDetails(ErrAPIError, map[string]string{"path": path, "message": "empty response"})
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// download fetches a key blob, trying each mirror in turn.
func (c *Client) download(ctx context.Context, loc KeyURL) ([]byte, error) {
	var lastErr error
	for _, u := range loc.URLs {
		data, err := c.fetch(ctx, u)
		if err == nil {
			c.logger.Debug("relayer: downloaded %s (%d bytes)", loc.DataID, len(data))
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Debug("relayer: download %s failed: %v", config.SanitizeURL(u), err)
		lastErr = err
	}
	return nil, juryerr.WithCause(juryerr.WithDetails(ErrKeyInfo, map[string]string{"data_id": loc.DataID}), lastErr)
}

func (c *Client) fetch(ctx context.Context, u string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq) //nolint:gosec // G704: URL comes from the relayer manifest
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, juryerr.WithDetails(ErrAPIError, map[string]string{"status": fmt.Sprintf("%d", resp.StatusCode)})
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxKeyBody))
}

func truncateBody(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
