// Package chain provides chain identifiers, network naming and the shared
// retry and rate limiting helpers used by every outbound RPC client.
package chain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	juryerr "github.com/craftclass/jury/pkg/errors"
)

// Well-known chain ids.
const (
	Mainnet uint64 = 1
	Sepolia uint64 = 11155111
	Hardhat uint64 = 31337
)

// ErrInvalidChainID is returned when a chain id cannot be parsed.
var ErrInvalidChainID = &juryerr.JuryError{
	Code:     "INVALID_CHAIN_ID",
	Message:  "invalid chain id",
	ExitCode: juryerr.ExitInput,
}

// NetworkName returns a display name for well-known chains and
// "Chain <id>" otherwise.
func NetworkName(id uint64) string {
	switch id {
	case Mainnet:
		return "Ethereum"
	case Sepolia:
		return "Sepolia"
	case Hardhat:
		return "Hardhat Local"
	default:
		return fmt.Sprintf("Chain %d", id)
	}
}

// ParseHexChainID parses a 0x-prefixed chain id as reported by eth_chainId
// and chainChanged events.
func ParseHexChainID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, juryerr.WithDetails(ErrInvalidChainID, map[string]string{"value": s})
	}
	n, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return 0, juryerr.WithDetails(juryerr.WithCause(ErrInvalidChainID, err), map[string]string{"value": s})
	}
	return n, nil
}

// ParseChainID accepts either hex ("0x7a69") or decimal ("31337") input.
func ParseChainID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return ParseHexChainID(s)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, juryerr.WithDetails(juryerr.WithCause(ErrInvalidChainID, err), map[string]string{"value": s})
	}
	return n, nil
}

// HexChainID formats a chain id the way wallets expect it.
func HexChainID(id uint64) string {
	return hexutil.EncodeUint64(id)
}

// BigChainID converts a chain id for transaction signing.
func BigChainID(id uint64) *big.Int {
	return new(big.Int).SetUint64(id)
}
