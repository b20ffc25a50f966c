package authserver

// AuthorizationServerMetadata is the RFC 8414 discovery document. The
// same document is served under the openid-configuration alias for
// clients that only probe the OIDC path.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
}

// ProtectedResourceMetadata is the RFC 9728 document advertising which
// authorization server protects the MCP endpoint.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ResourceName           string   `json:"resource_name"`
}

// Metadata builds the authorization-server discovery document.
func (s *Service) Metadata() AuthorizationServerMetadata {
	return AuthorizationServerMetadata{
		Issuer:                            s.issuerURL,
		AuthorizationEndpoint:             s.issuerURL + "/oauth/authorize",
		TokenEndpoint:                     s.issuerURL + "/oauth/token",
		RegistrationEndpoint:              s.issuerURL + "/oauth/register",
		RevocationEndpoint:                s.issuerURL + "/oauth/revoke",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token", "client_credentials"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post", "none"},
		ScopesSupported:                   []string{"mcp"},
	}
}

// ResourceMetadata builds the protected-resource discovery document.
func (s *Service) ResourceMetadata() ProtectedResourceMetadata {
	return ProtectedResourceMetadata{
		Resource:               s.issuerURL + "/mcp",
		AuthorizationServers:   []string{s.issuerURL},
		BearerMethodsSupported: []string{"header"},
		ResourceName:           "MCP Hub",
	}
}
