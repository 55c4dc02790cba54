package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"parley/internal/store"
	"parley/pkg/logging"
)

const (
	// connKeyPrefix namespaces connection records in the shared keyspace.
	connKeyPrefix = "mcp:conn:"

	// ConnectionTTL is the idle lifetime of a stored connection. Every
	// write refreshes it, so active connections never expire.
	ConnectionTTL = 7 * 24 * time.Hour
)

// ErrConnectionNotFound is returned by Get for a missing connection.
var ErrConnectionNotFound = errors.New("connection not found")

// ConnectionStore persists MCP connections scoped to a browser session.
// Keys are mcp:conn:{sessionID}:{connectionID}, which keeps listing a
// session's connections a prefix scan rather than a table walk.
type ConnectionStore struct {
	kv  store.KV
	ttl time.Duration
}

// NewConnectionStore creates a connection store on the given backend.
func NewConnectionStore(kv store.KV) *ConnectionStore {
	return &ConnectionStore{
		kv:  kv,
		ttl: ConnectionTTL,
	}
}

func connKey(sessionID, connectionID string) string {
	return connKeyPrefix + sessionID + ":" + connectionID
}

// Put writes a connection record, refreshing its TTL.
func (cs *ConnectionStore) Put(ctx context.Context, conn *Connection) error {
	if conn.SessionID == "" || conn.ID == "" {
		return fmt.Errorf("connection must have a session ID and an ID")
	}

	data, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("failed to encode connection: %w", err)
	}

	if err := cs.kv.Set(ctx, connKey(conn.SessionID, conn.ID), string(data), cs.ttl); err != nil {
		return fmt.Errorf("failed to store connection: %w", err)
	}

	logging.Debug("OAuth", "Stored connection %s for session=%s",
		conn.ID, logging.TruncateSessionID(conn.SessionID))
	return nil
}

// Get returns one connection, or ErrConnectionNotFound.
func (cs *ConnectionStore) Get(ctx context.Context, sessionID, connectionID string) (*Connection, error) {
	data, err := cs.kv.Get(ctx, connKey(sessionID, connectionID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to retrieve connection: %w", err)
	}

	var conn Connection
	if err := json.Unmarshal([]byte(data), &conn); err != nil {
		// Damaged records are dropped, same as in List; the caller sees a
		// missing connection, not a decode failure.
		logging.Warn("OAuth", "Dropping undecodable connection record %s: %v", connectionID, err)
		return nil, ErrConnectionNotFound
	}

	return &conn, nil
}

// List returns all connections for a session, oldest first. Records that
// fail to decode are dropped with a warning rather than failing the whole
// listing.
func (cs *ConnectionStore) List(ctx context.Context, sessionID string) ([]*Connection, error) {
	keys, err := cs.kv.Keys(ctx, connKeyPrefix+sessionID+":*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan connections: %w", err)
	}

	connections := make([]*Connection, 0, len(keys))
	for _, key := range keys {
		data, err := cs.kv.Get(ctx, key)
		if err != nil {
			// The key can expire between the scan and the read.
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to read connection %s: %w", key, err)
		}

		var conn Connection
		if err := json.Unmarshal([]byte(data), &conn); err != nil {
			logging.Warn("OAuth", "Dropping undecodable connection record %s: %v", key, err)
			continue
		}
		// The scan pattern is built from caller input; trust only the
		// session ID recorded inside the connection itself.
		if conn.SessionID != sessionID {
			logging.Warn("OAuth", "Dropping connection %s: record session does not match requested session=%s",
				conn.ID, logging.TruncateSessionID(sessionID))
			continue
		}
		connections = append(connections, &conn)
	}

	sort.Slice(connections, func(i, j int) bool {
		return connections[i].CreatedAt.Before(connections[j].CreatedAt)
	})

	return connections, nil
}

// Delete removes a connection. Deleting a connection that does not exist is
// a no-op, so disconnect is idempotent.
func (cs *ConnectionStore) Delete(ctx context.Context, sessionID, connectionID string) error {
	if err := cs.kv.Del(ctx, connKey(sessionID, connectionID)); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	logging.Debug("OAuth", "Deleted connection %s for session=%s",
		connectionID, logging.TruncateSessionID(sessionID))
	return nil
}
