// Package mock builds encrypted-computation instances against a local
// development node that ships the fhevm relayer plugin. Values travel in
// cleartext; handles and proofs keep their production layout so contracts
// treat them the same way.
package mock

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/craftclass/jury/internal/chain/rpc"
	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/fhevm"
)

// VerifyingContractAddressDecryption is the decryption verifier the local
// gateway signs for.
const VerifyingContractAddressDecryption = "0x5ffdaAB0373E62E2ea2944776209aEf29E631A64"

const domainABI = `[{"type":"function","name":"eip712Domain","stateMutability":"view","inputs":[],"outputs":[
	{"name":"fields","type":"bytes1"},
	{"name":"name","type":"string"},
	{"name":"version","type":"string"},
	{"name":"chainId","type":"uint256"},
	{"name":"verifyingContract","type":"address"},
	{"name":"salt","type":"bytes32"},
	{"name":"extensions","type":"uint256[]"}]}]`

// ErrIncompleteMetadata is returned when the node metadata lacks an address.
var ErrIncompleteMetadata = errors.New("mock: incomplete relayer metadata")

var parsedDomainABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(domainABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Factory implements fhevm.MockFactory.
type Factory struct {
	logger config.LogWriter
}

var _ fhevm.MockFactory = (*Factory)(nil)

// NewFactory creates a Factory.
func NewFactory(logger config.LogWriter) *Factory {
	if logger == nil {
		logger = config.NullLogger()
	}
	return &Factory{logger: logger}
}

// NewInstance builds a mock instance bound to chainID. The input
// verification domain is read from the InputVerifier contract; when that
// fails the metadata address and the default gateway chain are used.
func (f *Factory) NewInstance(ctx context.Context, client *rpc.Client, chainID uint64, meta rpc.RelayerMetadata) (fhevm.Instance, error) {
	if !meta.Complete() {
		return nil, ErrIncompleteMetadata
	}

	network := fhevm.NetworkConfig{
		ChainID:                            chainID,
		GatewayChainID:                     fhevm.DefaultGatewayChainID,
		RelayerURL:                         client.URL(),
		ACLAddress:                         meta.ACLAddress,
		KMSVerifierAddress:                 meta.KMSVerifierAddress,
		InputVerifierAddress:               meta.InputVerifierAddress,
		VerifyingContractAddressDecryption: VerifyingContractAddressDecryption,
	}
	network.VerifyingContractAddressInputVerification = meta.InputVerifierAddress

	if gateway, verifier, err := inputVerifierDomain(ctx, client, common.HexToAddress(meta.InputVerifierAddress)); err != nil {
		f.logger.Debug("mock: reading input verifier domain, using defaults: %v", err)
	} else {
		network.GatewayChainID = gateway
		network.VerifyingContractAddressInputVerification = verifier.Hex()
		f.logger.Debug("mock: input verifier domain chain %d contract %s", gateway, verifier.Hex())
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return fhevm.NewInstance(fhevm.InstanceOptions{
		Backend:   fhevm.BackendMock,
		Network:   network,
		Transport: NewTransport(client),
		Kernel:    Kernel{},
		PublicKey: PublicKey(network.ACLAddress),
		PublicParams: map[int]*fhevm.KeyMaterial{
			fhevm.PublicParamsBits: PublicParams(network.ACLAddress),
		},
	}), nil
}

// inputVerifierDomain calls eip712Domain on the InputVerifier and returns
// the domain chain id and verifying contract.
func inputVerifierDomain(ctx context.Context, client *rpc.Client, verifier common.Address) (uint64, common.Address, error) {
	data, err := parsedDomainABI.Pack("eip712Domain")
	if err != nil {
		return 0, common.Address{}, err
	}
	out, err := client.EthCall(ctx, rpc.CallMsg{To: &verifier, Data: data})
	if err != nil {
		return 0, common.Address{}, err
	}
	values, err := parsedDomainABI.Unpack("eip712Domain", out)
	if err != nil {
		return 0, common.Address{}, fmt.Errorf("decoding eip712Domain: %w", err)
	}
	if len(values) != 7 {
		return 0, common.Address{}, fmt.Errorf("decoding eip712Domain: %d values", len(values))
	}

	chainID, ok := values[3].(*big.Int)
	if !ok || !chainID.IsUint64() {
		return 0, common.Address{}, fmt.Errorf("decoding eip712Domain: bad chain id %v", values[3])
	}
	contract, ok := values[4].(common.Address)
	if !ok {
		return 0, common.Address{}, fmt.Errorf("decoding eip712Domain: bad verifying contract %v", values[4])
	}
	return chainID.Uint64(), contract, nil
}

// PublicKey is the placeholder network key of a local node. It is stable
// per ACL so cached entries stay valid across restarts.
func PublicKey(acl string) *fhevm.KeyMaterial {
	return placeholder("mock-public-key", acl)
}

// PublicParams is the placeholder CRS of a local node.
func PublicParams(acl string) *fhevm.KeyMaterial {
	return placeholder("mock-public-params", acl)
}

func placeholder(kind, acl string) *fhevm.KeyMaterial {
	digest := crypto.Keccak256([]byte(kind), []byte(strings.ToLower(acl)))
	return &fhevm.KeyMaterial{ID: kind, Data: digest}
}
