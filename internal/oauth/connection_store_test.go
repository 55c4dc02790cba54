package oauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"parley/internal/store"
)

func newTestConnectionStore(t *testing.T) (*ConnectionStore, *store.MemoryKV) {
	t.Helper()
	kv := store.NewMemoryKV()
	t.Cleanup(kv.Close)
	return NewConnectionStore(kv), kv
}

func testConnection(sessionID, id string) *Connection {
	now := time.Now()
	return &Connection{
		ID:        id,
		Name:      "Example",
		Endpoint:  "https://mcp.example.com/mcp",
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestConnectionStorePutGet(t *testing.T) {
	cs, _ := newTestConnectionStore(t)
	ctx := context.Background()

	conn := testConnection("sess-a", "conn-1")
	conn.AccessToken = "tok_secret"
	if err := cs.Put(ctx, conn); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := cs.Get(ctx, "sess-a", "conn-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.AccessToken != "tok_secret" {
		t.Errorf("AccessToken = %q, want %q", got.AccessToken, "tok_secret")
	}
	if !got.HasAuth() {
		t.Error("HasAuth() = false, want true")
	}
}

func TestConnectionStoreGetMissing(t *testing.T) {
	cs, _ := newTestConnectionStore(t)

	_, err := cs.Get(context.Background(), "sess-a", "nope")
	if !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("Get(missing) = %v, want ErrConnectionNotFound", err)
	}
}

func TestConnectionStorePutRejectsUnkeyed(t *testing.T) {
	cs, _ := newTestConnectionStore(t)

	if err := cs.Put(context.Background(), &Connection{ID: "conn-1"}); err == nil {
		t.Error("Put without session ID should fail")
	}
	if err := cs.Put(context.Background(), &Connection{SessionID: "sess-a"}); err == nil {
		t.Error("Put without connection ID should fail")
	}
}

func TestConnectionStoreListSessionScoped(t *testing.T) {
	cs, _ := newTestConnectionStore(t)
	ctx := context.Background()

	for _, conn := range []*Connection{
		testConnection("sess-a", "conn-1"),
		testConnection("sess-a", "conn-2"),
		testConnection("sess-b", "conn-3"),
	} {
		if err := cs.Put(ctx, conn); err != nil {
			t.Fatalf("Put(%s) error = %v", conn.ID, err)
		}
	}

	conns, err := cs.List(ctx, "sess-a")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(conns) != 2 {
		t.Fatalf("List() returned %d connections, want 2", len(conns))
	}
	for _, conn := range conns {
		if conn.SessionID != "sess-a" {
			t.Errorf("List() leaked connection from session %q", conn.SessionID)
		}
	}
}

// TestConnectionStoreListWildcardSessionLeaksNothing feeds hostile session
// IDs straight into List: a glob wildcard and an ID that rides the ':' key
// separator into another session's prefix. Neither may surface a foreign
// connection.
func TestConnectionStoreListWildcardSessionLeaksNothing(t *testing.T) {
	cs, _ := newTestConnectionStore(t)
	ctx := context.Background()

	victim1 := testConnection("victim-session-1", "conn-1")
	victim1.AccessToken = "tok_secret"
	victim2 := testConnection("victim-session-2", "conn-2")
	for _, conn := range []*Connection{victim1, victim2} {
		if err := cs.Put(ctx, conn); err != nil {
			t.Fatalf("Put(%s) error = %v", conn.ID, err)
		}
	}

	for _, sessionID := range []string{"*", "victim-session-*", "victim-session-?"} {
		conns, err := cs.List(ctx, sessionID)
		if err != nil {
			t.Fatalf("List(%q) error = %v", sessionID, err)
		}
		if len(conns) != 0 {
			t.Errorf("List(%q) leaked %d connections from other sessions", sessionID, len(conns))
		}
	}

	// A stored session ID carrying the key separator lands under a key
	// prefix that aliases a shorter session; listing the shorter session
	// must not pick it up.
	aliased := testConnection("victim:sub", "conn-3")
	if err := cs.Put(ctx, aliased); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	conns, err := cs.List(ctx, "victim")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(conns) != 0 {
		t.Errorf("List(%q) leaked %d connections stored under an aliasing session ID", "victim", len(conns))
	}

	// The real owners still see their own connections.
	conns, err = cs.List(ctx, "victim-session-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(conns) != 1 || conns[0].ID != "conn-1" {
		t.Errorf("owner listing broken, got %d connections", len(conns))
	}
}

func TestConnectionStoreGetDropsCorrupted(t *testing.T) {
	cs, kv := newTestConnectionStore(t)
	ctx := context.Background()

	if err := kv.Set(ctx, "mcp:conn:sess-a:conn-bad", "{broken", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	_, err := cs.Get(ctx, "sess-a", "conn-bad")
	if !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("Get(corrupted) = %v, want ErrConnectionNotFound", err)
	}
}

func TestConnectionStoreListDropsCorrupted(t *testing.T) {
	cs, kv := newTestConnectionStore(t)
	ctx := context.Background()

	if err := cs.Put(ctx, testConnection("sess-a", "conn-1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := kv.Set(ctx, "mcp:conn:sess-a:conn-bad", "{broken", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	conns, err := cs.List(ctx, "sess-a")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(conns) != 1 {
		t.Fatalf("List() returned %d connections, want 1 (corrupted dropped)", len(conns))
	}
	if conns[0].ID != "conn-1" {
		t.Errorf("List()[0].ID = %q, want conn-1", conns[0].ID)
	}
}

func TestConnectionStoreListOrderedByCreation(t *testing.T) {
	cs, _ := newTestConnectionStore(t)
	ctx := context.Background()

	older := testConnection("sess-a", "conn-old")
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := testConnection("sess-a", "conn-new")

	if err := cs.Put(ctx, newer); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := cs.Put(ctx, older); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	conns, err := cs.List(ctx, "sess-a")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(conns) != 2 || conns[0].ID != "conn-old" {
		t.Errorf("List() should be oldest first, got %v", []string{conns[0].ID, conns[1].ID})
	}
}

func TestConnectionStoreDeleteIdempotent(t *testing.T) {
	cs, _ := newTestConnectionStore(t)
	ctx := context.Background()

	if err := cs.Put(ctx, testConnection("sess-a", "conn-1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := cs.Delete(ctx, "sess-a", "conn-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := cs.Delete(ctx, "sess-a", "conn-1"); err != nil {
		t.Errorf("repeat Delete() error = %v, want nil", err)
	}
	if err := cs.Delete(ctx, "sess-a", "never-existed"); err != nil {
		t.Errorf("Delete(missing) error = %v, want nil", err)
	}

	if _, err := cs.Get(ctx, "sess-a", "conn-1"); !errors.Is(err, ErrConnectionNotFound) {
		t.Errorf("Get after Delete = %v, want ErrConnectionNotFound", err)
	}
}

func TestConnectionExpired(t *testing.T) {
	conn := testConnection("sess-a", "conn-1")

	if conn.Expired() {
		t.Error("connection without expiry should never be expired")
	}

	conn.TokenExpiresAt = time.Now().Add(time.Hour).UnixMilli()
	if conn.Expired() {
		t.Error("token valid for an hour should not be expired")
	}

	// Inside the skew margin counts as expired.
	conn.TokenExpiresAt = time.Now().Add(10 * time.Second).UnixMilli()
	if !conn.Expired() {
		t.Error("token expiring within the margin should be expired")
	}

	conn.TokenExpiresAt = time.Now().Add(-time.Minute).UnixMilli()
	if !conn.Expired() {
		t.Error("token past its expiry should be expired")
	}
}

func TestConnectionOAuth2Token(t *testing.T) {
	conn := testConnection("sess-a", "conn-1")
	if conn.OAuth2Token() != nil {
		t.Error("tokenless connection should convert to nil")
	}

	conn.AccessToken = "tok_abc"
	conn.RefreshToken = "refresh_xyz"
	conn.TokenExpiresAt = time.Now().Add(time.Hour).UnixMilli()

	token := conn.OAuth2Token()
	if token == nil {
		t.Fatal("OAuth2Token() = nil, want token")
	}
	if token.AccessToken != "tok_abc" || token.RefreshToken != "refresh_xyz" {
		t.Errorf("token fields = %q/%q, want tok_abc/refresh_xyz", token.AccessToken, token.RefreshToken)
	}
	if token.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", token.TokenType)
	}
	if token.Expiry.IsZero() {
		t.Error("Expiry should be set")
	}
}
