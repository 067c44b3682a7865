package mock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/craftclass/jury/internal/fhevm"
)

// HandleVersion is the handle format version written in the last byte.
const HandleVersion = 0

// ErrBadValue is returned when the node answers a decryption with a value
// that is not a decimal integer.
var ErrBadValue = errors.New("mock: malformed decrypted value")

// Kernel is the cleartext kernel of the mock backend.
//
// The ciphertext is one record per value: the type tag followed by the
// value as a big-endian integer of the type's byte width (one byte for
// booleans). Handles are derived from the ciphertext so the node can
// recompute them.
type Kernel struct{}

var _ fhevm.Kernel = Kernel{}

// Encrypt packs req.Values and derives their handles.
func (Kernel) Encrypt(req fhevm.EncryptRequest) ([]byte, []common.Hash, error) {
	var ct []byte
	for _, v := range req.Values {
		width := v.Type.Bits() / 8
		if width == 0 {
			width = 1
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, v.Value)
		ct = append(ct, byte(v.Type))
		ct = append(ct, buf[8-width:]...)
	}

	ctHash := crypto.Keccak256(ct)
	handles := make([]common.Hash, len(req.Values))
	for i, v := range req.Values {
		handles[i] = Handle(ctHash, i, req.ACL, req.ChainID, v.Type)
	}
	return ct, handles, nil
}

// Handle computes the handle of value index within a ciphertext.
//
// Layout: bytes 0..20 hash prefix, 21 index, 22..29 chain id, 30 type,
// 31 version.
func Handle(ctHash []byte, index int, acl common.Address, chainID uint64, t fhevm.FheType) common.Hash {
	chain := make([]byte, 32)
	binary.BigEndian.PutUint64(chain[24:], chainID)
	h := crypto.Keccak256Hash(ctHash, []byte{byte(index)}, acl.Bytes(), chain)

	binary.BigEndian.PutUint64(h[22:30], chainID)
	h[21] = byte(index)
	h[30] = byte(t)
	h[31] = HandleVersion
	return h
}

// HandleType reads the type tag of a handle.
func HandleType(h common.Hash) fhevm.FheType {
	return fhevm.FheType(h[30])
}

// Reveal reads the cleartext values the node returned, keyed by handle hex
// with or without the 0x prefix.
func (Kernel) Reveal(resp *fhevm.UserDecryptResponse, req fhevm.DecryptRequest) (map[common.Hash]*big.Int, error) {
	values := make(map[common.Hash]string, len(resp.Values))
	for k, v := range resp.Values {
		values[common.HexToHash(k)] = v
	}

	out := make(map[common.Hash]*big.Int, len(req.Handles))
	for _, pair := range req.Handles {
		raw, ok := values[pair.Handle]
		if !ok {
			continue
		}
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("%w: %q for %s", ErrBadValue, raw, pair.Handle.Hex())
		}
		out[pair.Handle] = v
	}
	return out, nil
}
