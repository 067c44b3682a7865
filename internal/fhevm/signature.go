package fhevm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/kvstore"
	"github.com/craftclass/jury/internal/provider"
)

// SignaturePrefix prefixes cached decryption signatures.
const SignaturePrefix = "fhevm.decryptionSignature."

// DecryptionSignature authorizes user decryption for a set of contracts
// during a validity window.
type DecryptionSignature struct {
	PublicKey         string             `json:"publicKey"`
	PrivateKey        string             `json:"privateKey"`
	Signature         string             `json:"signature"`
	StartTimestamp    int64              `json:"startTimestamp"`
	DurationDays      int                `json:"durationDays"`
	UserAddress       common.Address     `json:"userAddress"`
	ContractAddresses []common.Address   `json:"contractAddresses"`
	EIP712            apitypes.TypedData `json:"eip712"`
}

// ValidAt reports whether the signature window covers t.
func (d *DecryptionSignature) ValidAt(t time.Time) bool {
	end := d.StartTimestamp + int64(d.DurationDays)*24*60*60
	return t.Unix() < end
}

// Keypair returns the decryption keypair.
func (d *DecryptionSignature) Keypair() Keypair {
	return Keypair{PublicKey: d.PublicKey, PrivateKey: d.PrivateKey}
}

// Request builds a user decryption request for handles.
func (d *DecryptionSignature) Request(handles ...HandleContractPair) DecryptRequest {
	return DecryptRequest{
		Handles:           handles,
		Keypair:           d.Keypair(),
		Signature:         d.Signature,
		ContractAddresses: d.ContractAddresses,
		UserAddress:       d.UserAddress,
		StartTimestamp:    d.StartTimestamp,
		DurationDays:      d.DurationDays,
	}
}

// SignatureStore caches decryption signatures per user and contract set.
type SignatureStore struct {
	store  kvstore.Store
	logger config.LogWriter
	now    func() time.Time
}

// NewSignatureStore creates a cache over store.
func NewSignatureStore(store kvstore.Store, logger config.LogWriter) *SignatureStore {
	if logger == nil {
		logger = config.NullLogger()
	}
	return &SignatureStore{store: store, logger: logger, now: time.Now}
}

// signatureKey derives the cache key from the user and the sorted contracts.
func signatureKey(user common.Address, contracts []common.Address) string {
	parts := make([]string, len(contracts))
	for i, c := range contracts {
		parts[i] = strings.ToLower(c.Hex())
	}
	digest := crypto.Keccak256Hash([]byte(strings.Join(parts, ",")))
	return SignaturePrefix + strings.ToLower(user.Hex()) + "." + digest.Hex()
}

func sortedContracts(contracts []common.Address) []common.Address {
	out := append([]common.Address(nil), contracts...)
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Hex()) < strings.ToLower(out[j].Hex())
	})
	return out
}

// LoadOrSign returns a cached signature still valid for user and contracts,
// or signs a fresh one through the provider and caches it.
func (s *SignatureStore) LoadOrSign(ctx context.Context, inst Instance, p provider.Provider, user common.Address, contracts []common.Address) (*DecryptionSignature, error) {
	contracts = sortedContracts(contracts)
	key := signatureKey(user, contracts)

	if cached, ok := s.load(ctx, key); ok && cached.ValidAt(s.now()) {
		return cached, nil
	}

	kp, err := inst.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	start := s.now().Unix()
	typed := inst.CreateEIP712(kp.PublicKey, contracts, start, DefaultDurationDays)

	raw, err := p.Request(ctx, provider.MethodSignTypedData, user, typed)
	if err != nil {
		return nil, err
	}
	var sig string
	if err := json.Unmarshal(raw, &sig); err != nil {
		return nil, fmt.Errorf("decoding signature: %w", err)
	}

	out := &DecryptionSignature{
		PublicKey:         kp.PublicKey,
		PrivateKey:        kp.PrivateKey,
		Signature:         sig,
		StartTimestamp:    start,
		DurationDays:      DefaultDurationDays,
		UserAddress:       user,
		ContractAddresses: contracts,
		EIP712:            typed,
	}
	s.save(ctx, key, out)
	return out, nil
}

func (s *SignatureStore) load(ctx context.Context, key string) (*DecryptionSignature, bool) {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Error("fhevm: reading decryption signature: %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var sig DecryptionSignature
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		s.logger.Error("fhevm: discarding malformed decryption signature: %v", err)
		return nil, false
	}
	return &sig, true
}

func (s *SignatureStore) save(ctx context.Context, key string, sig *DecryptionSignature) {
	data, err := json.Marshal(sig)
	if err != nil {
		s.logger.Error("fhevm: encoding decryption signature: %v", err)
		return
	}
	if err := s.store.Set(ctx, key, string(data)); err != nil {
		s.logger.Error("fhevm: caching decryption signature: %v", err)
	}
}

// ClearAll removes every cached decryption signature.
func (s *SignatureStore) ClearAll(ctx context.Context) error {
	keys, err := s.store.Keys(ctx, SignaturePrefix)
	if err != nil || len(keys) == 0 {
		return err
	}
	return s.store.Delete(ctx, keys...)
}
