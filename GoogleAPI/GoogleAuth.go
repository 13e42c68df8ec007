package GoogleAPI

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

// CloudPlatformScope is requested for every management API call made as the caller.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// ReadOnlyScope is the narrowest scope used to prove a key can still mint tokens.
const ReadOnlyScope = "https://www.googleapis.com/auth/cloud-platform.read-only"

// ErrInvalidKeyMaterial means a key file could not be turned into a JWT config.
var ErrInvalidKeyMaterial = errors.New("invalid service account key material")

// CredentialKind tells which authentication mode is active for a run.
type CredentialKind int

const (
	BearerTokenCredential CredentialKind = iota
	ServiceAccountKeyCredential
)

func (k CredentialKind) String() string {
	if k == ServiceAccountKeyCredential {
		return "service-account-key"
	}
	return "bearer-token"
}

// Credentials is the identity every management API call is made as.
// HTTPClient authorizes outgoing requests, Token refreshes (or returns) the access token.
type Credentials interface {
	Kind() CredentialKind
	// Email is the principal email when it is known locally, otherwise "".
	Email() string
	Token(ctx context.Context) (*oauth2.Token, error)
	HTTPClient(ctx context.Context) *http.Client
}

// TokenCredentials wraps a caller-supplied bearer token. It cannot be refreshed.
type TokenCredentials struct {
	AccessToken string
}

// NewTokenCredentials returns bearer-token credentials.
func NewTokenCredentials(accessToken string) *TokenCredentials {
	return &TokenCredentials{AccessToken: accessToken}
}

func (c *TokenCredentials) Kind() CredentialKind { return BearerTokenCredential }

func (c *TokenCredentials) Email() string { return "" }

func (c *TokenCredentials) Token(context.Context) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: c.AccessToken, TokenType: "Bearer"}, nil
}

func (c *TokenCredentials) HTTPClient(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.AccessToken, TokenType: "Bearer"}))
}

// KeyCredentials authenticates with a service account key, optionally
// impersonating a Workspace user through domain-wide delegation.
type KeyCredentials struct {
	config *jwt.Config
}

// NewKeyCredentials parses keyJSON; subject may be empty.
func NewKeyCredentials(keyJSON []byte, subject string, scopes ...string) (*KeyCredentials, error) {
	if len(scopes) == 0 {
		scopes = []string{CloudPlatformScope}
	}
	config, err := GetJWTConfig(subject, keyJSON, scopes)
	if err != nil {
		return nil, err
	}
	return &KeyCredentials{config: config}, nil
}

// NewKeyCredentialsFromFile reads the key at path and calls NewKeyCredentials.
func NewKeyCredentialsFromFile(path, subject string, scopes ...string) (*KeyCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return NewKeyCredentials(data, subject, scopes...)
}

func (c *KeyCredentials) Kind() CredentialKind { return ServiceAccountKeyCredential }

func (c *KeyCredentials) Email() string { return c.config.Email }

// Subject is the impersonated user, if any.
func (c *KeyCredentials) Subject() string { return c.config.Subject }

func (c *KeyCredentials) Token(ctx context.Context) (*oauth2.Token, error) {
	return c.config.TokenSource(ctx).Token()
}

func (c *KeyCredentials) HTTPClient(ctx context.Context) *http.Client {
	return c.config.Client(ctx)
}

// GetJWTConfig builds a JWT config from a key, impersonating subjectEmail when it is set.
func GetJWTConfig(subjectEmail string, delegationKey []byte, scopes []string) (*jwt.Config, error) {
	config, err := google.JWTConfigFromJSON(delegationKey, scopes...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	if err := checkPrivateKey(config.PrivateKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}

	// Set the subject to the user's email address
	config.Subject = subjectEmail
	return config, nil
}

// checkPrivateKey accepts the PKCS#8 or PKCS#1 PEM keys that jwt can sign with.
func checkPrivateKey(key []byte) error {
	block, _ := pem.Decode(key)
	if block == nil {
		return errors.New("private_key is not PEM encoded")
	}
	if _, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return nil
	}
	if _, err := x509.ParsePKCS1PrivateKey(block.Bytes); err != nil {
		return fmt.Errorf("parsing private_key: %w", err)
	}
	return nil
}

// DelegatedTokenMinter mints access tokens for a user through a key's delegation grant.
type DelegatedTokenMinter struct{}

// Mint asks the token endpoint for a token scoped to exactly one scope on behalf of subject.
func (DelegatedTokenMinter) Mint(ctx context.Context, keyJSON []byte, subject, scope string) (*oauth2.Token, error) {
	config, err := GetJWTConfig(subject, keyJSON, []string{scope})
	if err != nil {
		return nil, err
	}
	return config.TokenSource(ctx).Token()
}

// KeyValidator checks that a stored key is still accepted by the provider.
type KeyValidator struct{}

// Validate refreshes a token with the read-only scope.
func (KeyValidator) Validate(ctx context.Context, keyJSON []byte) error {
	config, err := GetJWTConfig("", keyJSON, []string{ReadOnlyScope})
	if err != nil {
		return err
	}
	_, err = config.TokenSource(ctx).Token()
	return err
}
