package fhevm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"golang.org/x/crypto/curve25519"
)

// Backend names the computation backend variant behind an Instance.
type Backend string

// Backend variants.
const (
	BackendMock       Backend = "mock"
	BackendProduction Backend = "production"
)

// Defaults shared by both backends.
const (
	// PublicParamsBits is the CRS size requested for input proofs.
	PublicParamsBits = 2048

	// DefaultGatewayChainID is the decryption gateway chain used in EIP-712 domains.
	DefaultGatewayChainID = 55815

	// DefaultDurationDays is the validity of a user decryption signature.
	DefaultDurationDays = 365

	maxDurationDays    = 365
	maxDecryptContract = 10
)

var (
	// ErrKernelUnavailable is returned when ciphertext packing or share
	// reconstruction needs a TFHE kernel that was not supplied.
	ErrKernelUnavailable = errors.New("fhevm: tfhe kernel unavailable")

	// ErrInvalidDecryptRequest is returned for malformed user decryption requests.
	ErrInvalidDecryptRequest = errors.New("fhevm: invalid user decryption request")
)

// NetworkConfig is the chain-supplied configuration an instance is built from.
type NetworkConfig struct {
	ChainID                                   uint64
	GatewayChainID                            uint64
	RelayerURL                                string
	ACLAddress                                string
	KMSVerifierAddress                        string
	InputVerifierAddress                      string
	VerifyingContractAddressDecryption        string
	VerifyingContractAddressInputVerification string
}

// KeyMaterial is a public key or public params blob and its relayer id.
type KeyMaterial struct {
	ID   string
	Data []byte
}

// Empty reports whether k carries no data.
func (k *KeyMaterial) Empty() bool { return k == nil || len(k.Data) == 0 }

// Keypair is a user decryption keypair, hex encoded without 0x.
type Keypair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// HandleContractPair names a ciphertext and the contract that holds it.
type HandleContractPair struct {
	Handle          common.Hash    `json:"handle"`
	ContractAddress common.Address `json:"contractAddress"`
}

// DecryptRequest is a user decryption of one or more handles.
type DecryptRequest struct {
	Handles           []HandleContractPair
	Keypair           Keypair
	Signature         string
	ContractAddresses []common.Address
	UserAddress       common.Address
	StartTimestamp    int64
	DurationDays      int
}

// Instance is a ready-to-use computation handle bound to one chain.
// Callers see the same surface whichever backend built it.
type Instance interface {
	Backend() Backend
	Network() NetworkConfig
	PublicKey() *KeyMaterial
	PublicParams(bits int) *KeyMaterial
	CreateEncryptedInput(contract, user common.Address) *EncryptedInput
	GenerateKeypair() (Keypair, error)
	CreateEIP712(publicKey string, contracts []common.Address, startTimestamp int64, durationDays int) apitypes.TypedData
	UserDecrypt(ctx context.Context, req DecryptRequest) (map[common.Hash]*big.Int, error)
}

// Kernel packs cleartext into ciphertext and reconstructs decrypted values.
// The mock kernel works on cleartext; a production TFHE kernel lives
// outside this module.
type Kernel interface {
	// Encrypt returns the ciphertext with input verification and, when the
	// kernel can derive them locally, the handles.
	Encrypt(req EncryptRequest) (ciphertext []byte, handles []common.Hash, err error)

	// Reveal turns a relayer user-decrypt response into cleartext values.
	Reveal(resp *UserDecryptResponse, req DecryptRequest) (map[common.Hash]*big.Int, error)
}

// EncryptRequest is everything a kernel needs to pack one input batch.
type EncryptRequest struct {
	Values       []TypedValue
	Contract     common.Address
	User         common.Address
	ACL          common.Address
	ChainID      uint64
	PublicKey    *KeyMaterial
	PublicParams *KeyMaterial
}

// UnavailableKernel is the production kernel placeholder.
type UnavailableKernel struct{}

// Encrypt always fails with ErrKernelUnavailable.
func (UnavailableKernel) Encrypt(EncryptRequest) ([]byte, []common.Hash, error) {
	return nil, nil, ErrKernelUnavailable
}

// Reveal always fails with ErrKernelUnavailable.
func (UnavailableKernel) Reveal(*UserDecryptResponse, DecryptRequest) (map[common.Hash]*big.Int, error) {
	return nil, ErrKernelUnavailable
}

// InstanceOptions configures NewInstance.
type InstanceOptions struct {
	Backend      Backend
	Network      NetworkConfig
	Transport    Transport
	Kernel       Kernel
	PublicKey    *KeyMaterial
	PublicParams map[int]*KeyMaterial

	// Rand feeds keypair generation. Defaults to crypto/rand.
	Rand io.Reader
}

type instance struct {
	backend   Backend
	network   NetworkConfig
	transport Transport
	kernel    Kernel
	publicKey *KeyMaterial
	params    map[int]*KeyMaterial
	rand      io.Reader
}

// NewInstance assembles an Instance from a transport and a kernel.
func NewInstance(opts InstanceOptions) Instance {
	inst := &instance{
		backend:   opts.Backend,
		network:   opts.Network,
		transport: opts.Transport,
		kernel:    opts.Kernel,
		publicKey: opts.PublicKey,
		params:    opts.PublicParams,
		rand:      opts.Rand,
	}
	if inst.kernel == nil {
		inst.kernel = UnavailableKernel{}
	}
	if inst.rand == nil {
		inst.rand = rand.Reader
	}
	if inst.params == nil {
		inst.params = map[int]*KeyMaterial{}
	}
	if inst.network.GatewayChainID == 0 {
		inst.network.GatewayChainID = DefaultGatewayChainID
	}
	return inst
}

func (i *instance) Backend() Backend       { return i.backend }
func (i *instance) Network() NetworkConfig { return i.network }
func (i *instance) PublicKey() *KeyMaterial {
	return i.publicKey
}

func (i *instance) PublicParams(bits int) *KeyMaterial {
	return i.params[bits]
}

func (i *instance) CreateEncryptedInput(contract, user common.Address) *EncryptedInput {
	return &EncryptedInput{inst: i, contract: contract, user: user}
}

// GenerateKeypair creates an X25519 keypair for user decryption.
func (i *instance) GenerateKeypair() (Keypair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(i.rand, priv); err != nil {
		return Keypair{}, fmt.Errorf("reading entropy: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return Keypair{}, fmt.Errorf("deriving public key: %w", err)
	}
	return Keypair{PublicKey: hex.EncodeToString(pub), PrivateKey: hex.EncodeToString(priv)}, nil
}

// CreateEIP712 builds the UserDecryptRequestVerification typed data the
// user signs to authorize decryption of handles held by contracts.
func (i *instance) CreateEIP712(publicKey string, contracts []common.Address, startTimestamp int64, durationDays int) apitypes.TypedData {
	addrs := make([]interface{}, len(contracts))
	for n, c := range contracts {
		addrs[n] = c.Hex()
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"UserDecryptRequestVerification": {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "contractsChainId", Type: "uint256"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
				{Name: "extraData", Type: "bytes"},
			},
		},
		PrimaryType: "UserDecryptRequestVerification",
		Domain: apitypes.TypedDataDomain{
			Name:              "Decryption",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(int64(i.network.GatewayChainID)), //nolint:gosec // gateway chain ids fit in int64
			VerifyingContract: i.network.VerifyingContractAddressDecryption,
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         "0x" + strip0x(publicKey),
			"contractAddresses": addrs,
			"contractsChainId":  strconv.FormatUint(i.network.ChainID, 10),
			"startTimestamp":    strconv.FormatInt(startTimestamp, 10),
			"durationDays":      strconv.Itoa(durationDays),
			"extraData":         "0x00",
		},
	}
}

// UserDecrypt asks the relayer to re-encrypt handles for the keypair and
// reveals their cleartext values.
func (i *instance) UserDecrypt(ctx context.Context, req DecryptRequest) (map[common.Hash]*big.Int, error) {
	if err := validateDecrypt(req); err != nil {
		return nil, err
	}

	resp, err := i.transport.UserDecrypt(ctx, UserDecryptRequest{
		HandleContractPairs: req.Handles,
		RequestValidity: RequestValidity{
			StartTimestamp: strconv.FormatInt(req.StartTimestamp, 10),
			DurationDays:   strconv.Itoa(req.DurationDays),
		},
		ContractsChainID:  strconv.FormatUint(i.network.ChainID, 10),
		ContractAddresses: req.ContractAddresses,
		UserAddress:       req.UserAddress,
		Signature:         strip0x(req.Signature),
		PublicKey:         strip0x(req.Keypair.PublicKey),
		ExtraData:         "0x00",
	})
	if err != nil {
		return nil, err
	}

	values, err := i.kernel.Reveal(resp, req)
	if err != nil {
		return nil, err
	}
	for _, h := range req.Handles {
		if _, ok := values[h.Handle]; !ok {
			return nil, fmt.Errorf("%w: no value for handle %s", ErrInvalidDecryptRequest, h.Handle.Hex())
		}
	}
	return values, nil
}

func validateDecrypt(req DecryptRequest) error {
	switch {
	case len(req.Handles) == 0:
		return fmt.Errorf("%w: no handles", ErrInvalidDecryptRequest)
	case len(req.ContractAddresses) == 0 || len(req.ContractAddresses) > maxDecryptContract:
		return fmt.Errorf("%w: need 1 to %d contract addresses", ErrInvalidDecryptRequest, maxDecryptContract)
	case req.DurationDays <= 0 || req.DurationDays > maxDurationDays:
		return fmt.Errorf("%w: duration must be 1 to %d days", ErrInvalidDecryptRequest, maxDurationDays)
	case req.Signature == "" || req.Keypair.PublicKey == "":
		return fmt.Errorf("%w: missing signature or public key", ErrInvalidDecryptRequest)
	}

	allowed := make(map[common.Address]bool, len(req.ContractAddresses))
	for _, c := range req.ContractAddresses {
		allowed[c] = true
	}
	for _, h := range req.Handles {
		if !allowed[h.ContractAddress] {
			return fmt.Errorf("%w: contract %s not in signed set", ErrInvalidDecryptRequest, h.ContractAddress.Hex())
		}
	}
	return nil
}

func strip0x(s string) string {
	return strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
}
