package jury

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/craftclass/jury/internal/chain"
)

// DefaultAddresses are the known deployments.
//
//nolint:gochecknoglobals // read-only deployment table
var DefaultAddresses = map[uint64]common.Address{
	chain.Hardhat: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
	chain.Sepolia: common.HexToAddress("0x3a0d9bE4aD1C7f2A8d3eC1e20aF3f0773E9A9C5b"),
}

// Addresses maps chain ids to contract deployments.
type Addresses map[uint64]common.Address

// NewAddresses merges configured deployments over the defaults. Invalid
// or empty entries are ignored.
func NewAddresses(configured map[uint64]string) Addresses {
	out := make(Addresses, len(DefaultAddresses)+len(configured))
	for id, addr := range DefaultAddresses {
		out[id] = addr
	}
	for id, s := range configured {
		if common.IsHexAddress(s) {
			out[id] = common.HexToAddress(s)
		}
	}
	return out
}

// Lookup returns the deployment on chainID.
func (a Addresses) Lookup(chainID uint64) (common.Address, bool) {
	addr, ok := a[chainID]
	return addr, ok && addr != (common.Address{})
}

// ChainIDs lists the chains with a deployment, ascending.
func (a Addresses) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(a))
	for id := range a {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
