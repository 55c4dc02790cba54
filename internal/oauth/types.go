package oauth

import (
	"time"

	"golang.org/x/oauth2"
)

// StateRecord is the server-side record created when an authorization flow
// starts. It is keyed by the opaque state parameter and read back exactly
// once by the callback handler.
type StateRecord struct {
	// SessionID is the browser session that initiated the flow.
	SessionID string `json:"sessionId"`

	// ConnectionID is the pre-allocated ID of the connection being authorized.
	ConnectionID string `json:"connectionId"`

	// Endpoint is the MCP server URL the user is connecting to.
	Endpoint string `json:"endpoint"`

	// Name is the display name chosen for the connection.
	Name string `json:"name"`

	// CodeVerifier is the PKCE verifier. Server-side only, never sent to the
	// authorization server before the token exchange.
	CodeVerifier string `json:"codeVerifier"`

	// TokenEndpoint is where the authorization code will be exchanged.
	TokenEndpoint string `json:"tokenEndpoint"`

	// ClientID is the OAuth client identifier used for this flow.
	ClientID string `json:"clientId"`

	// CreatedAt is when the flow started.
	CreatedAt time.Time `json:"createdAt"`
}

// Connection is a stored MCP server connection scoped to a browser session.
type Connection struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`

	// AccessToken is empty for servers that did not require authorization.
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`

	// TokenExpiresAt is a Unix timestamp in milliseconds; zero when the
	// token does not expire or no token is present.
	TokenExpiresAt int64 `json:"tokenExpiresAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// expiryMargin treats tokens about to expire as already expired, covering
// clock skew and request latency.
const expiryMargin = 30 * time.Second

// HasAuth reports whether the connection holds an access token.
func (c *Connection) HasAuth() bool {
	return c.AccessToken != ""
}

// Expired reports whether the access token has expired or will expire within
// the skew margin. Connections without an expiry never expire.
func (c *Connection) Expired() bool {
	if c.TokenExpiresAt == 0 {
		return false
	}
	expiresAt := time.UnixMilli(c.TokenExpiresAt)
	return time.Now().Add(expiryMargin).After(expiresAt)
}

// OAuth2Token converts the stored credentials to an oauth2.Token for callers
// that speak golang.org/x/oauth2.
func (c *Connection) OAuth2Token() *oauth2.Token {
	if !c.HasAuth() {
		return nil
	}
	token := &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
	}
	if c.TokenExpiresAt != 0 {
		token.Expiry = time.UnixMilli(c.TokenExpiresAt)
	}
	return token
}

// Endpoints holds the three OAuth endpoints parley needs from an
// authorization server.
type Endpoints struct {
	Registration  string `json:"registration_endpoint"`
	Authorization string `json:"authorization_endpoint"`
	Token         string `json:"token_endpoint"`
}

// Metadata is the subset of RFC 8414 authorization server metadata that
// parley reads from the well-known document.
type Metadata struct {
	Issuer                string `json:"issuer,omitempty"`
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string `json:"token_endpoint,omitempty"`
	RegistrationEndpoint  string `json:"registration_endpoint,omitempty"`
}

// PKCEChallenge holds a PKCE verifier and its S256 challenge.
type PKCEChallenge struct {
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod string
}

// RegistrationMode says how the flow obtains its OAuth client identity.
// Exactly one of the two concrete types is used per flow; the choice is made
// once when the flow starts and never re-derived mid-flow.
type RegistrationMode interface {
	isRegistrationMode()
}

// DynamicRegistration registers a fresh client via RFC 7591 against the
// discovered registration endpoint.
type DynamicRegistration struct {
	// APIKey, when set, is forwarded as X-API-Key on the registration
	// request for servers that gate registration.
	APIKey string
}

// StaticRegistration skips discovery and registration entirely and uses a
// pre-provisioned client.
type StaticRegistration struct {
	ClientID              string
	AuthorizationEndpoint string
	TokenEndpoint         string
}

func (DynamicRegistration) isRegistrationMode() {}
func (StaticRegistration) isRegistrationMode()  {}

// Token is an OAuth token response from the token endpoint.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Authorization is the result of starting an authorization flow: everything
// the browser needs to open the popup and correlate the eventual callback.
type Authorization struct {
	AuthURL      string `json:"authUrl"`
	ConnectionID string `json:"connectionId"`
	SessionID    string `json:"sessionId"`
}

// WWWAuthenticateParams contains parsed parameters from a WWW-Authenticate
// header.
type WWWAuthenticateParams struct {
	Scheme              string
	Realm               string
	Scope               string
	Error               string
	ErrorDescription    string
	ResourceMetadataURL string
}
