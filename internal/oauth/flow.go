package oauth

import (
	"context"
	"fmt"
	"time"

	"parley/pkg/logging"

	"github.com/google/uuid"
)

// FlowConfig carries the deployment-level OAuth settings into the manager.
type FlowConfig struct {
	// RedirectURI is the absolute callback URL registered with
	// authorization servers.
	RedirectURI string

	// ClientName and ClientURI are the identity submitted during dynamic
	// registration.
	ClientName string
	ClientURI  string
}

// Manager orchestrates the connection lifecycle: probing endpoints, running
// the authorization-code flow, and maintaining the stored connections.
type Manager struct {
	client      *Client
	prober      *Prober
	states      *StateStore
	connections *ConnectionStore
	cfg         FlowConfig
}

// NewManager wires the manager from its collaborators.
func NewManager(client *Client, prober *Prober, states *StateStore, connections *ConnectionStore, cfg FlowConfig) *Manager {
	return &Manager{
		client:      client,
		prober:      prober,
		states:      states,
		connections: connections,
		cfg:         cfg,
	}
}

// ConnectRequest is a request to connect a session to an MCP endpoint.
type ConnectRequest struct {
	Endpoint  string
	Name      string
	SessionID string

	// APIKey gates dynamic registration on servers that require one.
	APIKey string

	// Static, when set, provides a pre-provisioned OAuth client and skips
	// discovery and registration.
	Static *StaticRegistration
}

// ConnectResult is either an immediate connection (no auth needed) or a
// pending authorization the browser must complete in a popup.
type ConnectResult struct {
	RequiresAuth  bool
	Connection    *Connection
	Authorization *Authorization
}

// Connect probes the endpoint and either stores a tokenless connection
// right away or starts an authorization flow.
func (m *Manager) Connect(ctx context.Context, req ConnectRequest) (*ConnectResult, error) {
	probe, err := m.prober.Probe(ctx, req.Endpoint)
	if err != nil {
		return nil, err
	}

	if probe.RequiresAuth {
		auth, err := m.BeginAuthorization(ctx, req)
		if err != nil {
			return nil, err
		}
		return &ConnectResult{RequiresAuth: true, Authorization: auth}, nil
	}

	name := req.Name
	if name == "" {
		name = probe.ServerName
	}
	if name == "" {
		name = req.Endpoint
	}

	now := time.Now()
	conn := &Connection{
		ID:        uuid.NewString(),
		Name:      name,
		Endpoint:  req.Endpoint,
		SessionID: req.SessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.connections.Put(ctx, conn); err != nil {
		return nil, err
	}

	logging.Info("OAuth", "Connected %s without authorization for session=%s",
		req.Endpoint, logging.TruncateSessionID(req.SessionID))
	return &ConnectResult{Connection: conn}, nil
}

// BeginAuthorization starts an authorization-code flow for an endpoint that
// demanded OAuth. It resolves the registration mode once up front, persists
// the pending flow under a fresh state parameter, and returns the URL the
// browser should open.
//
// There is no rollback on partial failure: a state record orphaned by a
// later error simply expires.
func (m *Manager) BeginAuthorization(ctx context.Context, req ConnectRequest) (*Authorization, error) {
	connectionID := uuid.NewString()

	var mode RegistrationMode
	if req.Static != nil {
		mode = *req.Static
	} else {
		mode = DynamicRegistration{APIKey: req.APIKey}
	}

	var clientID, authEndpoint, tokenEndpoint string
	switch mode := mode.(type) {
	case StaticRegistration:
		clientID = mode.ClientID
		authEndpoint = mode.AuthorizationEndpoint
		tokenEndpoint = mode.TokenEndpoint

	case DynamicRegistration:
		origin, err := Origin(req.Endpoint)
		if err != nil {
			return nil, err
		}
		endpoints := m.client.DiscoverEndpoints(ctx, origin)
		authEndpoint = endpoints.Authorization
		tokenEndpoint = endpoints.Token

		clientID, err = m.client.RegisterClient(ctx,
			endpoints.Registration, m.cfg.ClientName, m.cfg.ClientURI, m.cfg.RedirectURI, mode.APIKey)
		if err != nil {
			return nil, err
		}
	}

	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	record := &StateRecord{
		SessionID:     req.SessionID,
		ConnectionID:  connectionID,
		Endpoint:      req.Endpoint,
		Name:          req.Name,
		CodeVerifier:  pkce.CodeVerifier,
		TokenEndpoint: tokenEndpoint,
		ClientID:      clientID,
		CreatedAt:     time.Now(),
	}
	if err := m.states.Put(ctx, state, record); err != nil {
		return nil, err
	}

	authURL, err := BuildAuthorizationURL(authEndpoint, clientID, m.cfg.RedirectURI, state, pkce)
	if err != nil {
		return nil, err
	}

	logging.Info("OAuth", "Started authorization for %s session=%s connection=%s",
		req.Endpoint, logging.TruncateSessionID(req.SessionID), connectionID)

	return &Authorization{
		AuthURL:      authURL,
		ConnectionID: connectionID,
		SessionID:    req.SessionID,
	}, nil
}

// CompleteAuthorization finishes a flow when the authorization server
// redirects back. The state is consumed exactly once; the code is exchanged
// at the token endpoint recorded when the flow started; the resulting
// connection is written to the store.
func (m *Manager) CompleteAuthorization(ctx context.Context, state, code string) (*Connection, error) {
	record, err := m.states.TakeOnce(ctx, state)
	if err != nil {
		return nil, err
	}

	token, err := m.client.ExchangeCode(ctx,
		record.TokenEndpoint, code, m.cfg.RedirectURI, record.ClientID, record.CodeVerifier)
	if err != nil {
		return nil, err
	}

	name := record.Name
	if name == "" {
		name = record.Endpoint
	}

	now := time.Now()
	conn := &Connection{
		ID:           record.ConnectionID,
		Name:         name,
		Endpoint:     record.Endpoint,
		SessionID:    record.SessionID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if token.ExpiresIn > 0 {
		conn.TokenExpiresAt = now.Add(time.Duration(token.ExpiresIn) * time.Second).UnixMilli()
	}

	if err := m.connections.Put(ctx, conn); err != nil {
		return nil, fmt.Errorf("authorization succeeded but the connection could not be stored: %w", err)
	}

	logging.Info("OAuth", "Completed authorization for connection=%s session=%s",
		conn.ID, logging.TruncateSessionID(conn.SessionID))
	return conn, nil
}

// List returns the session's connections.
func (m *Manager) List(ctx context.Context, sessionID string) ([]*Connection, error) {
	return m.connections.List(ctx, sessionID)
}

// Disconnect removes a connection. Idempotent.
func (m *Manager) Disconnect(ctx context.Context, sessionID, connectionID string) error {
	return m.connections.Delete(ctx, sessionID, connectionID)
}
