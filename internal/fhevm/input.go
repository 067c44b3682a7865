package fhevm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// FheType is the encrypted type tag carried in a handle.
type FheType uint8

// Encrypted types used by this client.
const (
	FheBool   FheType = 0
	FheUint8  FheType = 2
	FheUint16 FheType = 3
	FheUint32 FheType = 4
	FheUint64 FheType = 5
)

// Bits returns the encryption width of t.
func (t FheType) Bits() int {
	switch t {
	case FheBool:
		return 2
	case FheUint8:
		return 8
	case FheUint16:
		return 16
	case FheUint32:
		return 32
	case FheUint64:
		return 64
	default:
		return 0
	}
}

const (
	maxInputBits   = 2048
	maxInputValues = 255
)

var (
	// ErrEmptyInput is returned when encrypting a batch with no values.
	ErrEmptyInput = errors.New("fhevm: encrypted input has no values")

	// ErrInputTooLarge is returned when a batch exceeds the packing limit.
	ErrInputTooLarge = errors.New("fhevm: encrypted input exceeds 2048 bits")

	// ErrInputProof is returned when the relayer answer does not match the batch.
	ErrInputProof = errors.New("fhevm: invalid input proof response")
)

// TypedValue is one cleartext value queued for encryption.
type TypedValue struct {
	Type  FheType
	Value uint64
}

// Batch is the result of encrypting an input: one handle per added value,
// in insertion order, plus the proof the contract verifies.
type Batch struct {
	Handles    [][32]byte
	InputProof []byte
}

// EncryptedInput collects values for one contract call. Values are
// positional; the receiving contract reads them by index.
type EncryptedInput struct {
	inst     *instance
	contract common.Address
	user     common.Address
	values   []TypedValue
}

func (in *EncryptedInput) add(t FheType, v uint64) *EncryptedInput {
	in.values = append(in.values, TypedValue{Type: t, Value: v})
	return in
}

// AddBool appends an encrypted boolean.
func (in *EncryptedInput) AddBool(v bool) *EncryptedInput {
	var n uint64
	if v {
		n = 1
	}
	return in.add(FheBool, n)
}

// Add8 appends an encrypted uint8.
func (in *EncryptedInput) Add8(v uint8) *EncryptedInput { return in.add(FheUint8, uint64(v)) }

// Add16 appends an encrypted uint16.
func (in *EncryptedInput) Add16(v uint16) *EncryptedInput { return in.add(FheUint16, uint64(v)) }

// Add32 appends an encrypted uint32.
func (in *EncryptedInput) Add32(v uint32) *EncryptedInput { return in.add(FheUint32, uint64(v)) }

// Add64 appends an encrypted uint64.
func (in *EncryptedInput) Add64(v uint64) *EncryptedInput { return in.add(FheUint64, v) }

// Values returns the queued values in insertion order.
func (in *EncryptedInput) Values() []TypedValue {
	return append([]TypedValue(nil), in.values...)
}

// Encrypt packs the queued values, obtains the input proof from the relayer
// and returns the handles in insertion order.
func (in *EncryptedInput) Encrypt(ctx context.Context) (*Batch, error) {
	if len(in.values) == 0 {
		return nil, ErrEmptyInput
	}
	bits := 0
	for _, v := range in.values {
		bits += v.Type.Bits()
	}
	if bits > maxInputBits || len(in.values) > maxInputValues {
		return nil, ErrInputTooLarge
	}

	net := in.inst.network
	ciphertext, local, err := in.inst.kernel.Encrypt(EncryptRequest{
		Values:       in.Values(),
		Contract:     in.contract,
		User:         in.user,
		ACL:          common.HexToAddress(net.ACLAddress),
		ChainID:      net.ChainID,
		PublicKey:    in.inst.publicKey,
		PublicParams: in.inst.PublicParams(PublicParamsBits),
	})
	if err != nil {
		return nil, err
	}

	resp, err := in.inst.transport.InputProof(ctx, InputProofRequest{
		ContractAddress: in.contract,
		UserAddress:     in.user,
		Ciphertext:      ciphertext,
		ContractChainID: hexutil.Uint64(net.ChainID),
		Handles:         local,
		ExtraData:       "0x00",
	})
	if err != nil {
		return nil, err
	}

	handles := resp.Handles
	switch {
	case len(handles) == 0:
		handles = local
	case len(local) > 0:
		if err := sameHandles(local, handles); err != nil {
			return nil, err
		}
	}
	if len(handles) != len(in.values) {
		return nil, fmt.Errorf("%w: got %d handles for %d values", ErrInputProof, len(handles), len(in.values))
	}
	if len(resp.Signatures) > 0xff {
		return nil, fmt.Errorf("%w: too many signatures", ErrInputProof)
	}

	out := &Batch{Handles: make([][32]byte, len(handles))}
	for i, h := range handles {
		out.Handles[i] = h
	}
	out.InputProof = buildProof(handles, resp.Signatures, []byte{0x00})
	return out, nil
}

func sameHandles(want, got []common.Hash) error {
	if len(want) != len(got) {
		return fmt.Errorf("%w: handle count mismatch", ErrInputProof)
	}
	for i := range want {
		if want[i] != got[i] {
			return fmt.Errorf("%w: handle %d mismatch", ErrInputProof, i)
		}
	}
	return nil
}

// buildProof lays out the proof as handle count, signer count, handles,
// signatures, extra data.
func buildProof(handles []common.Hash, sigs []hexutil.Bytes, extra []byte) []byte {
	size := 2 + len(handles)*common.HashLength + len(extra)
	for _, s := range sigs {
		size += len(s)
	}
	proof := make([]byte, 0, size)
	proof = append(proof, byte(len(handles)), byte(len(sigs)))
	for _, h := range handles {
		proof = append(proof, h.Bytes()...)
	}
	for _, s := range sigs {
		proof = append(proof, s...)
	}
	return append(proof, extra...)
}
