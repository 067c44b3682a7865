package connection

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/craftclass/jury/internal/kvstore"
)

// Persisted session keys.
const (
	KeyConnected       = "wallet.connected"
	KeyLastConnectorID = "wallet.lastConnectorId"
	KeyLastAccounts    = "wallet.lastAccounts"
	KeyLastChainID     = "wallet.lastChainId"
)

// PersistedSession is the durable record that drives silent reconnect. It is
// never trusted as current truth; the live provider is always re-queried.
type PersistedSession struct {
	WasConnected   bool
	LastProviderID string
	LastAccounts   []common.Address
	LastChainID    uint64
}

// SaveSession writes s under the wallet.* keys.
func SaveSession(ctx context.Context, store kvstore.Store, s PersistedSession) error {
	accounts := make([]string, len(s.LastAccounts))
	for i, a := range s.LastAccounts {
		accounts[i] = a.Hex()
	}
	encoded, err := json.Marshal(accounts)
	if err != nil {
		return err
	}

	for _, kv := range [][2]string{
		{KeyConnected, "true"},
		{KeyLastConnectorID, s.LastProviderID},
		{KeyLastAccounts, string(encoded)},
		{KeyLastChainID, strconv.FormatUint(s.LastChainID, 10)},
	} {
		if err := store.Set(ctx, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// LoadSession reads the persisted session. ok is false unless the session
// was marked connected and names a provider.
func LoadSession(ctx context.Context, store kvstore.Store) (PersistedSession, bool, error) {
	var s PersistedSession

	connected, _, err := store.Get(ctx, KeyConnected)
	if err != nil {
		return s, false, err
	}
	id, _, err := store.Get(ctx, KeyLastConnectorID)
	if err != nil {
		return s, false, err
	}
	if connected != "true" || id == "" {
		return s, false, nil
	}
	s.WasConnected = true
	s.LastProviderID = id

	// Accounts and chain are informational; malformed values are dropped.
	if raw, ok, err := store.Get(ctx, KeyLastAccounts); err == nil && ok {
		var list []string
		if json.Unmarshal([]byte(raw), &list) == nil {
			for _, a := range list {
				if common.IsHexAddress(a) {
					s.LastAccounts = append(s.LastAccounts, common.HexToAddress(a))
				}
			}
		}
	}
	if raw, ok, err := store.Get(ctx, KeyLastChainID); err == nil && ok {
		s.LastChainID, _ = strconv.ParseUint(raw, 10, 64)
	}
	return s, true, nil
}

// ClearSession erases every wallet.* key.
func ClearSession(ctx context.Context, store kvstore.Store) error {
	return store.Delete(ctx, KeyConnected, KeyLastConnectorID, KeyLastAccounts, KeyLastChainID)
}
