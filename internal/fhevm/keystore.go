package fhevm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/kvstore"
	"github.com/craftclass/jury/internal/metrics"
)

// PublicKeyPrefix prefixes cached public key entries.
const PublicKeyPrefix = "fhevm.publicKey."

// StoredKey is a cached public key set. Missing halves are nil.
type StoredKey struct {
	PublicKey    *KeyMaterial
	PublicParams *KeyMaterial
	Timestamp    time.Time
}

type storedKeyDoc struct {
	PublicKey      string `json:"publicKey"`
	PublicKeyID    string `json:"publicKeyId,omitempty"`
	PublicParams   string `json:"publicParams"`
	PublicParamsID string `json:"publicParamsId,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// PublicKeyStore caches public keys per ACL address. Failures are logged
// and never surface to the caller.
type PublicKeyStore struct {
	store   kvstore.Store
	logger  config.LogWriter
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewPublicKeyStore creates a cache over store.
func NewPublicKeyStore(store kvstore.Store, logger config.LogWriter) *PublicKeyStore {
	if logger == nil {
		logger = config.NullLogger()
	}
	return &PublicKeyStore{store: store, logger: logger, metrics: metrics.Global, now: time.Now}
}

func publicKeyKey(acl string) string {
	return PublicKeyPrefix + strings.ToLower(acl)
}

// Get returns the cached key set for acl, or an empty StoredKey.
func (s *PublicKeyStore) Get(ctx context.Context, acl string) StoredKey {
	if s == nil || s.store == nil {
		return StoredKey{}
	}
	raw, ok, err := s.store.Get(ctx, publicKeyKey(acl))
	if err != nil {
		s.logger.Error("fhevm: reading cached public key: %v", err)
		s.metrics.RecordStorageError("public_key_get")
		return StoredKey{}
	}
	if !ok {
		return StoredKey{}
	}

	var doc storedKeyDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		s.logger.Error("fhevm: discarding malformed public key entry: %v", err)
		return StoredKey{}
	}
	return StoredKey{
		PublicKey:    decodeMaterial(doc.PublicKeyID, doc.PublicKey),
		PublicParams: decodeMaterial(doc.PublicParamsID, doc.PublicParams),
		Timestamp:    time.UnixMilli(doc.Timestamp),
	}
}

// Set caches key and params for acl.
func (s *PublicKeyStore) Set(ctx context.Context, acl string, key, params *KeyMaterial) error {
	if s == nil || s.store == nil {
		return nil
	}
	doc := storedKeyDoc{Timestamp: s.now().UnixMilli()}
	if !key.Empty() {
		doc.PublicKey, doc.PublicKeyID = hexutil.Encode(key.Data), key.ID
	}
	if !params.Empty() {
		doc.PublicParams, doc.PublicParamsID = hexutil.Encode(params.Data), params.ID
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, publicKeyKey(acl), string(data)); err != nil {
		s.metrics.RecordStorageError("public_key_set")
		return err
	}
	return nil
}

// Clear removes the cached entry for acl.
func (s *PublicKeyStore) Clear(ctx context.Context, acl string) error {
	return s.store.Delete(ctx, publicKeyKey(acl))
}

// ClearAll removes every cached public key.
func (s *PublicKeyStore) ClearAll(ctx context.Context) error {
	keys, err := s.store.Keys(ctx, PublicKeyPrefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.store.Delete(ctx, keys...)
}

// Cached returns the lowercased ACL addresses with a cached entry.
func (s *PublicKeyStore) Cached(ctx context.Context) ([]string, error) {
	keys, err := s.store.Keys(ctx, PublicKeyPrefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, PublicKeyPrefix)
	}
	return keys, nil
}

func decodeMaterial(id, encoded string) *KeyMaterial {
	if encoded == "" {
		return nil
	}
	data, err := hexutil.Decode(encoded)
	if err != nil || len(data) == 0 {
		return nil
	}
	return &KeyMaterial{ID: id, Data: data}
}
