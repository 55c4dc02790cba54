package oauth

import (
	"regexp"
	"strings"
)

var wwwAuthParamRegex = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseWWWAuthenticate parses a WWW-Authenticate header value.
// It supports the Bearer scheme with OAuth 2.0 and MCP-specific parameters.
//
// Example header:
//
//	Bearer realm="https://auth.example.com",
//	       scope="openid profile",
//	       resource_metadata="https://mcp.example.com/.well-known/oauth-authorization-server"
func ParseWWWAuthenticate(header string) *WWWAuthenticateParams {
	if header == "" {
		return nil
	}

	params := &WWWAuthenticateParams{}

	// Extract the scheme (first word before space)
	parts := strings.SplitN(header, " ", 2)
	params.Scheme = strings.TrimSpace(parts[0])

	if len(parts) == 1 {
		return params
	}

	// Parse key="value" pairs
	for _, match := range wwwAuthParamRegex.FindAllStringSubmatch(parts[1], -1) {
		key := strings.ToLower(match[1])
		value := match[2]

		switch key {
		case "realm":
			params.Realm = value
		case "scope":
			params.Scope = value
		case "error":
			params.Error = value
		case "error_description":
			params.ErrorDescription = value
		case "resource_metadata":
			params.ResourceMetadataURL = value
		}
	}

	return params
}

// IsOAuthChallenge checks if the WWW-Authenticate parameters indicate
// an OAuth authentication challenge (as opposed to other auth types).
func (p *WWWAuthenticateParams) IsOAuthChallenge() bool {
	if p == nil {
		return false
	}

	return strings.EqualFold(p.Scheme, "Bearer")
}
