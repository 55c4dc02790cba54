package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"parley/pkg/logging"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout bounds registration and token exchange requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DiscoveryTimeout bounds the well-known metadata fetch. Discovery is
	// best-effort, so it gets a tighter budget than the fatal requests.
	DiscoveryTimeout = 5 * time.Second

	// DefaultEndpointsCacheTTL is how long discovered endpoints are reused.
	DefaultEndpointsCacheTTL = 30 * time.Minute

	wellKnownPath = "/.well-known/oauth-authorization-server"
)

// endpointsCacheEntry holds cached endpoints with their fetch timestamp.
type endpointsCacheEntry struct {
	endpoints Endpoints
	fetchedAt time.Time
}

// Client handles the OAuth protocol operations parley performs against
// third-party MCP authorization servers: endpoint discovery, dynamic client
// registration, and the authorization-code token exchange.
type Client struct {
	httpClient *http.Client

	// Endpoint cache with mutex for thread safety
	endpointsMu    sync.RWMutex
	endpointsCache map[string]*endpointsCacheEntry
	endpointsTTL   time.Duration

	// singleflight group to deduplicate concurrent discovery fetches
	endpointsGroup singleflight.Group
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithEndpointsCacheTTL sets the discovery cache TTL.
func WithEndpointsCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.endpointsTTL = ttl
	}
}

// NewClient creates a new OAuth client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: DefaultHTTPTimeout},
		endpointsCache: make(map[string]*endpointsCacheEntry),
		endpointsTTL:   DefaultEndpointsCacheTTL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// DefaultEndpoints returns the conventional endpoints for an origin, used
// when the server publishes no metadata.
func DefaultEndpoints(origin string) Endpoints {
	origin = strings.TrimSuffix(origin, "/")
	return Endpoints{
		Registration:  origin + "/register",
		Authorization: origin + "/authorize",
		Token:         origin + "/token",
	}
}

// Origin reduces an MCP endpoint URL to its scheme://host origin.
func Origin(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint URL %q is not absolute", endpoint)
	}
	return u.Scheme + "://" + u.Host, nil
}

// DiscoverEndpoints resolves the OAuth endpoints for an origin via the RFC
// 8414 well-known document. Discovery never fails: any fetch or parse
// problem, and any field the document omits, falls back to the conventional
// defaults under the origin. Results are cached; concurrent fetches for the
// same origin are deduplicated.
func (c *Client) DiscoverEndpoints(ctx context.Context, origin string) Endpoints {
	origin = strings.TrimSuffix(origin, "/")

	c.endpointsMu.RLock()
	if entry, ok := c.endpointsCache[origin]; ok {
		if time.Since(entry.fetchedAt) < c.endpointsTTL {
			c.endpointsMu.RUnlock()
			return entry.endpoints
		}
	}
	c.endpointsMu.RUnlock()

	result, _, _ := c.endpointsGroup.Do(origin, func() (interface{}, error) {
		// Double-check cache after acquiring singleflight lock
		c.endpointsMu.RLock()
		if entry, ok := c.endpointsCache[origin]; ok {
			if time.Since(entry.fetchedAt) < c.endpointsTTL {
				c.endpointsMu.RUnlock()
				return entry.endpoints, nil
			}
		}
		c.endpointsMu.RUnlock()

		endpoints := c.doDiscoverEndpoints(ctx, origin)
		c.endpointsMu.Lock()
		c.endpointsCache[origin] = &endpointsCacheEntry{
			endpoints: endpoints,
			fetchedAt: time.Now(),
		}
		c.endpointsMu.Unlock()
		return endpoints, nil
	})

	return result.(Endpoints)
}

// doDiscoverEndpoints performs the actual well-known fetch and merges the
// response over the defaults.
func (c *Client) doDiscoverEndpoints(ctx context.Context, origin string) Endpoints {
	endpoints := DefaultEndpoints(origin)

	fetchCtx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, origin+wellKnownPath, nil)
	if err != nil {
		return endpoints
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.Debug("OAuth", "Metadata discovery failed for %s, using defaults: %v", origin, err)
		return endpoints
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Debug("OAuth", "Metadata discovery for %s returned status %d, using defaults", origin, resp.StatusCode)
		return endpoints
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logging.Debug("OAuth", "Failed to read metadata for %s, using defaults: %v", origin, err)
		return endpoints
	}

	var metadata Metadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		logging.Debug("OAuth", "Failed to parse metadata for %s, using defaults: %v", origin, err)
		return endpoints
	}

	// Merge field by field; an absent field keeps its default.
	if metadata.RegistrationEndpoint != "" {
		endpoints.Registration = metadata.RegistrationEndpoint
	}
	if metadata.AuthorizationEndpoint != "" {
		endpoints.Authorization = metadata.AuthorizationEndpoint
	}
	if metadata.TokenEndpoint != "" {
		endpoints.Token = metadata.TokenEndpoint
	}

	return endpoints
}

// ClearEndpointsCache clears the discovery cache.
// Useful for testing or when endpoints need to be refreshed immediately.
func (c *Client) ClearEndpointsCache() {
	c.endpointsMu.Lock()
	c.endpointsCache = make(map[string]*endpointsCacheEntry)
	c.endpointsMu.Unlock()
}

// registrationRequest is the RFC 7591 client metadata parley submits.
type registrationRequest struct {
	ClientName              string   `json:"client_name"`
	ClientURI               string   `json:"client_uri,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// registrationResponse is the subset of the RFC 7591 response parley uses.
type registrationResponse struct {
	ClientID string `json:"client_id"`
}

// RegisterClient performs RFC 7591 dynamic client registration and returns
// the issued client_id. The client is registered as a public client
// (token_endpoint_auth_method "none") for the authorization-code grant.
// apiKey, when non-empty, is sent as X-API-Key.
func (c *Client) RegisterClient(ctx context.Context, registrationEndpoint, clientName, clientURI, redirectURI, apiKey string) (string, error) {
	payload := registrationRequest{
		ClientName:              clientName,
		ClientURI:               clientURI,
		RedirectURIs:            []string{redirectURI},
		GrantTypes:              []string{"authorization_code"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &RegistrationError{Message: "failed to encode registration request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", &RegistrationError{Message: "failed to create registration request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &RegistrationError{Message: "registration request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &RegistrationError{StatusCode: resp.StatusCode, Message: "failed to read registration response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Debug("OAuth", "Registration at %s failed: status=%d body=%s", registrationEndpoint, resp.StatusCode, string(respBody))
		return "", &RegistrationError{StatusCode: resp.StatusCode, Message: "server rejected registration"}
	}

	var reg registrationResponse
	if err := json.Unmarshal(respBody, &reg); err != nil {
		return "", &RegistrationError{StatusCode: resp.StatusCode, Message: "unparseable registration response", Err: err}
	}
	if reg.ClientID == "" {
		return "", &RegistrationError{StatusCode: resp.StatusCode, Message: "registration response missing client_id"}
	}

	return reg.ClientID, nil
}

// ExchangeCode exchanges an authorization code for tokens at the token
// endpoint, proving possession of the PKCE verifier.
func (c *Client) ExchangeCode(ctx context.Context, tokenEndpoint, code, redirectURI, clientID, codeVerifier string) (*Token, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {clientID},
		"code_verifier": {codeVerifier},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &TokenExchangeError{Message: "failed to create token request", Err: err}
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TokenExchangeError{Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Message: "failed to read token response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Debug("OAuth", "Token exchange at %s failed: status=%d body=%s", tokenEndpoint, resp.StatusCode, string(body))
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Message: "server rejected code exchange"}
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Message: "unparseable token response", Err: err}
	}
	if token.AccessToken == "" {
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Message: "token response missing access_token"}
	}

	return &token, nil
}

// BuildAuthorizationURL constructs an OAuth authorization URL.
func BuildAuthorizationURL(authEndpoint, clientID, redirectURI, state string, pkce *PKCEChallenge) (string, error) {
	authURL, err := url.Parse(authEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	query := authURL.Query()
	query.Set("response_type", "code")
	query.Set("client_id", clientID)
	query.Set("redirect_uri", redirectURI)
	query.Set("state", state)
	query.Set("code_challenge", pkce.CodeChallenge)
	query.Set("code_challenge_method", pkce.CodeChallengeMethod)

	authURL.RawQuery = query.Encode()
	return authURL.String(), nil
}
