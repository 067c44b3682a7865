package cli

import (
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/craftclass/jury/internal/jury"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

// out is a helper for CLI output that ignores write errors (standard pattern for CLI tools).
//
//nolint:errcheck // CLI output writes to stdout are intentionally unchecked
func out(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}

// outln is a helper for CLI output with newline.
//
//nolint:errcheck // CLI output writes to stdout are intentionally unchecked
func outln(w io.Writer, args ...any) {
	fmt.Fprintln(w, args...)
}

// parseID parses a non-negative decimal id argument.
func parseID(what, arg string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(arg), "#"), 10, 64)
	if err != nil {
		return 0, juryerr.WithDetails(juryerr.ErrInvalidInput, map[string]string{what: arg})
	}
	return id, nil
}

// parseAddress parses a hex account address.
func parseAddress(arg string) (common.Address, error) {
	if !common.IsHexAddress(arg) {
		return common.Address{}, juryerr.WithDetails(juryerr.ErrInvalidAddress, map[string]string{"address": arg})
	}
	return common.HexToAddress(arg), nil
}

// describeCall names the contract method encoded in calldata.
func describeCall(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	m, err := jury.ContractABI.MethodById(data[:4])
	if err != nil {
		return fmt.Sprintf("0x%x", data[:4])
	}
	return m.Name
}

func bigString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

// idString renders an id read from a receipt; nil means the event was missing.
func idString(n *big.Int) string {
	if n == nil {
		return "unknown"
	}
	return n.String()
}

func unixTime(n *big.Int) string {
	if n == nil || n.Sign() == 0 {
		return "-"
	}
	return time.Unix(n.Int64(), 0).UTC().Format(time.RFC3339)
}

// txView is the result of a write.
type txView struct {
	Hash        string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
}

func newTxView(r *jury.TxResult) txView {
	if r == nil {
		return txView{}
	}
	return txView{Hash: r.Hash.Hex(), BlockNumber: r.BlockNumber, GasUsed: r.GasUsed}
}

func (v txView) write(w io.Writer) {
	out(w, "  tx:    %s\n", v.Hash)
	out(w, "  block: %d (gas %d)\n", v.BlockNumber, v.GasUsed)
}

func u64(n *big.Int) uint64 {
	if n == nil {
		return 0
	}
	return n.Uint64()
}
