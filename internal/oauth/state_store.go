package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"parley/internal/store"
	"parley/pkg/logging"
)

const (
	// stateKeyPrefix namespaces state records in the shared keyspace.
	stateKeyPrefix = "mcp:state:"

	// StateTTL is how long a pending authorization may sit before the user
	// completes it. Ten minutes matches the ceiling recommended for
	// authorization requests.
	StateTTL = 10 * time.Minute
)

// StateStore persists pending authorization flows keyed by their state
// parameter. Records live in the shared KV backend so any parley instance
// can serve the callback, and are consumed exactly once.
type StateStore struct {
	kv  store.KV
	ttl time.Duration
}

// NewStateStore creates a state store on the given backend.
func NewStateStore(kv store.KV) *StateStore {
	return &StateStore{
		kv:  kv,
		ttl: StateTTL,
	}
}

func stateKey(state string) string {
	return stateKeyPrefix + state
}

// Put stores a pending flow record under its state parameter.
func (ss *StateStore) Put(ctx context.Context, state string, record *StateRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode state record: %w", err)
	}

	if err := ss.kv.Set(ctx, stateKey(state), string(data), ss.ttl); err != nil {
		return fmt.Errorf("failed to store state record: %w", err)
	}

	logging.Debug("OAuth", "Stored state for session=%s connection=%s",
		logging.TruncateSessionID(record.SessionID), record.ConnectionID)
	return nil
}

// TakeOnce atomically retrieves and deletes the record for a state
// parameter. A second call with the same state, or a concurrent racer,
// gets ErrStateNotFound. A key that exists but fails to decode yields
// ErrStateCorrupted; the key is already gone either way, so a corrupted
// record cannot be retried into acceptance.
func (ss *StateStore) TakeOnce(ctx context.Context, state string) (*StateRecord, error) {
	data, err := ss.kv.GetDel(ctx, stateKey(state))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to retrieve state record: %w", err)
	}

	var record StateRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}

	return &record, nil
}
