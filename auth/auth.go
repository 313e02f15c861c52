// Package auth resolves which authentication header (if any) accompanies an
// outgoing request, and holds the credential set that can be rotated while
// the SDK is running.
package auth

import "sync"

// ResourceKind distinguishes admin-only endpoints from ordinary ones, since
// the admin key is header-additive rather than substitutive.
type ResourceKind int

const (
	ResourceOrdinary ResourceKind = iota
	ResourceAdmin
)

// CredentialSet is the raw material an Authenticator resolves headers from.
// At most one of APIKey/AccessToken is meaningful at a time, per precedence;
// AdminKey is independent and additive.
type CredentialSet struct {
	APIKey       string
	AccessToken  string
	RefreshToken string
	AdminKey     string
}

// Credentials is a small thread-safe holder so reads always observe a
// consistent set even while SetAccessToken/SetRefreshToken rotate values
// concurrently with in-flight requests.
type Credentials struct {
	mu  sync.RWMutex
	set CredentialSet
}

// NewCredentials creates a holder seeded with the given set.
func NewCredentials(set CredentialSet) *Credentials {
	return &Credentials{set: set}
}

// Get returns a copy of the current credential set.
func (c *Credentials) Get() CredentialSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set
}

// SetAccessToken rotates the access token used by subsequent requests.
func (c *Credentials) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set.AccessToken = token
}

// SetRefreshToken rotates the refresh token.
func (c *Credentials) SetRefreshToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set.RefreshToken = token
}

// Authenticator resolves the authentication header(s) for a request from a
// Credentials holder.
type Authenticator struct {
	creds *Credentials
}

// New creates an Authenticator backed by creds.
func New(creds *Credentials) *Authenticator {
	return &Authenticator{creds: creds}
}

// HeaderFor returns the primary authentication header for target, following
// the precedence: access token beats API key; neither present means no
// header. It does not return the admin header — call AdminHeader separately
// since it is additive, not exclusive.
func (a *Authenticator) HeaderFor(target ResourceKind) (key, value string, ok bool) {
	set := a.creds.Get()
	switch {
	case set.AccessToken != "":
		return "Authorization", "Bearer " + set.AccessToken, true
	case set.APIKey != "":
		return "Authorization", "Bearer " + set.APIKey, true
	default:
		return "", "", false
	}
}

// AdminHeader returns the X-Admin-Key header when target is an admin
// resource and an admin key is configured. It is additive: a caller applies
// both HeaderFor and AdminHeader to the same request.
func (a *Authenticator) AdminHeader(target ResourceKind) (key, value string, ok bool) {
	if target != ResourceAdmin {
		return "", "", false
	}
	set := a.creds.Get()
	if set.AdminKey == "" {
		return "", "", false
	}
	return "X-Admin-Key", set.AdminKey, true
}

// QueryParam returns the query parameter fallback pair used by streaming
// transports that cannot set request headers: "token" carrying the access
// token when one is set, otherwise "api_key" carrying the API key. ok is
// false when neither is configured.
func (a *Authenticator) QueryParam() (key, value string, ok bool) {
	set := a.creds.Get()
	switch {
	case set.AccessToken != "":
		return "token", set.AccessToken, true
	case set.APIKey != "":
		return "api_key", set.APIKey, true
	default:
		return "", "", false
	}
}

// RPCMetadata returns the "x-api-key" gRPC metadata pair carrying the raw
// API key, unlike HeaderFor/QueryParam which wrap it as a Bearer token or
// query parameter for the HTTP leg. ok is false when no API key is
// configured.
func (a *Authenticator) RPCMetadata() (key, value string, ok bool) {
	set := a.creds.Get()
	if set.APIKey == "" {
		return "", "", false
	}
	return "x-api-key", set.APIKey, true
}

// SetAccessToken rotates the access token for subsequent requests.
func (a *Authenticator) SetAccessToken(token string) {
	a.creds.SetAccessToken(token)
}

// SetRefreshToken rotates the refresh token.
func (a *Authenticator) SetRefreshToken(token string) {
	a.creds.SetRefreshToken(token)
}
