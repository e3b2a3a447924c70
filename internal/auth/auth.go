// Package auth builds Deribit public/auth parameters using HMAC-SHA256 client signatures.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Grant types accepted by public/auth.
const (
	GrantClientCredentials = "client_credentials"
	GrantClientSignature   = "client_signature"
)

// Credentials holds the API key pair from the Deribit account settings.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// AuthParams are the parameters of a public/auth request.
type AuthParams struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"` // Milliseconds
	Nonce        string `json:"nonce,omitempty"`
	Data         string `json:"data,omitempty"`
	Signature    string `json:"signature,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// LoadCredentials validates a client id and secret.
func LoadCredentials(clientID, clientSecret string) (*Credentials, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if clientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	return &Credentials{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}, nil
}

// LoadSecretFile reads a client secret from a file, trimming whitespace.
func LoadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret file: %w", err)
	}

	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}

	return secret, nil
}

// Sign builds client_signature auth parameters for the current time with a
// fresh nonce. data is optional and is covered by the signature.
func (c *Credentials) Sign(data string) *AuthParams {
	timestampMs := time.Now().UnixMilli()
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")

	return &AuthParams{
		GrantType: GrantClientSignature,
		ClientID:  c.ClientID,
		Timestamp: timestampMs,
		Nonce:     nonce,
		Data:      data,
		Signature: c.generateSignature(timestampMs, nonce, data),
	}
}

// ClientCredentials builds parameters for the plain secret grant.
func (c *Credentials) ClientCredentials() *AuthParams {
	return &AuthParams{
		GrantType:    GrantClientCredentials,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
	}
}

// Params builds public/auth parameters for grantType. data is signed by the
// client_signature grant and ignored by client_credentials.
func (c *Credentials) Params(grantType, data string) (*AuthParams, error) {
	switch grantType {
	case GrantClientSignature:
		return c.Sign(data), nil
	case GrantClientCredentials:
		return c.ClientCredentials(), nil
	default:
		return nil, fmt.Errorf("unsupported grant type %q", grantType)
	}
}

// generateSignature returns the lowercase hex HMAC-SHA256 of the string to sign.
// Message format: timestamp_ms + "\n" + nonce + "\n" + data
func (c *Credentials) generateSignature(timestampMs int64, nonce, data string) string {
	message := fmt.Sprintf("%d\n%s\n%s", timestampMs, nonce, data)

	mac := hmac.New(sha256.New, []byte(c.ClientSecret))
	mac.Write([]byte(message))

	return hex.EncodeToString(mac.Sum(nil))
}
