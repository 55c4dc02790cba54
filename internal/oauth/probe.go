package oauth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"parley/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// probeTimeout bounds both the challenge probe and the MCP handshake.
	probeTimeout = 10 * time.Second

	mcpProtocolVersion = "2024-11-05"
	clientVersion      = "1.0.0"
)

// initializeProbeBody is a minimal MCP initialize request, sent unauthenticated
// to see whether the server answers with an OAuth challenge.
const initializeProbeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"` + mcpProtocolVersion + `","capabilities":{},"clientInfo":{"name":"parley","version":"` + clientVersion + `"}}}`

// ProbeResult is what connecting needs to know about an MCP endpoint before
// storing anything.
type ProbeResult struct {
	// RequiresAuth is true when the server answered the unauthenticated
	// probe with a Bearer challenge.
	RequiresAuth bool

	// ServerName is the name the server advertised during the MCP
	// handshake. Empty when RequiresAuth is true; the handshake is only
	// possible once a token exists.
	ServerName string
}

// Prober checks whether an MCP endpoint demands OAuth before use.
type Prober struct {
	httpClient *http.Client
}

// NewProber creates a prober with a bounded probe timeout.
func NewProber() *Prober {
	return &Prober{
		httpClient: &http.Client{Timeout: probeTimeout},
	}
}

// Probe sends an unauthenticated MCP initialize to the endpoint. A 401 or
// 403 carrying a Bearer WWW-Authenticate header means the server wants
// OAuth. Anything else means no auth is needed, in which case a real MCP
// handshake verifies the endpoint and yields the advertised server name.
func (p *Prober) Probe(ctx context.Context, endpoint string) (*ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(initializeProbeBody))
	if err != nil {
		return nil, fmt.Errorf("invalid MCP endpoint: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("MCP endpoint unreachable: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		challenge := ParseWWWAuthenticate(resp.Header.Get("WWW-Authenticate"))
		if challenge.IsOAuthChallenge() {
			logging.Debug("OAuth", "Endpoint %s requires authorization (status %d)", endpoint, resp.StatusCode)
			return &ProbeResult{RequiresAuth: true}, nil
		}
		// 401 without a Bearer challenge is some other auth scheme parley
		// cannot satisfy.
		return nil, fmt.Errorf("endpoint rejected the probe with status %d and no OAuth challenge", resp.StatusCode)
	}

	serverName, err := p.handshake(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return &ProbeResult{ServerName: serverName}, nil
}

// handshake completes a real MCP initialize over streamable HTTP and returns
// the server's advertised name.
func (p *Prober) handshake(ctx context.Context, endpoint string) (string, error) {
	httpClient, err := client.NewStreamableHttpClient(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to create MCP client: %w", err)
	}
	defer httpClient.Close()

	timeoutCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := httpClient.Start(timeoutCtx); err != nil {
		return "", fmt.Errorf("failed to start MCP client: %w", err)
	}

	req := mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: mcpProtocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    "parley",
				Version: clientVersion,
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}

	result, err := httpClient.Initialize(timeoutCtx, req)
	if err != nil {
		return "", fmt.Errorf("MCP handshake failed: %w", err)
	}

	return result.ServerInfo.Name, nil
}
