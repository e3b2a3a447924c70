package auth

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCredentials_GenerateSignature(t *testing.T) {
	creds := &Credentials{ClientID: "AMANDA", ClientSecret: "AMANDASECRECT"}

	tests := []struct {
		name string
		data string
		want string
	}{
		{"no data", "", "438f21e59fce07c7e646e21a547e503546ad132f48e49aec6a7f771d981520a9"},
		{"with data", "session-data", "14e6cc9e66c25fb8d206c8c4c79733830d50b13eaa54d238ec572cc5b9ac0d54"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := creds.generateSignature(1554883365000, "fdbmmz79", tt.data)
			if got != tt.want {
				t.Errorf("signature = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCredentials_Sign(t *testing.T) {
	creds := &Credentials{ClientID: "test-client", ClientSecret: "test-secret"}

	before := time.Now().UnixMilli()
	params := creds.Sign("")
	after := time.Now().UnixMilli()

	if params.GrantType != GrantClientSignature {
		t.Errorf("GrantType = %q, want %q", params.GrantType, GrantClientSignature)
	}
	if params.ClientID != "test-client" {
		t.Errorf("ClientID = %q, want %q", params.ClientID, "test-client")
	}
	if params.ClientSecret != "" {
		t.Error("client secret must not be sent with a signature grant")
	}
	if params.Timestamp < before || params.Timestamp > after {
		t.Errorf("Timestamp = %d, want between %d and %d", params.Timestamp, before, after)
	}
	if len(params.Nonce) != 32 {
		t.Errorf("Nonce = %q, want 32 hex chars", params.Nonce)
	}

	// Signature should be hex encoded SHA-256
	raw, err := hex.DecodeString(params.Signature)
	if err != nil {
		t.Fatalf("Signature is not valid hex: %q", params.Signature)
	}
	if len(raw) != 32 {
		t.Errorf("Signature length = %d bytes, want 32", len(raw))
	}

	if want := creds.generateSignature(params.Timestamp, params.Nonce, ""); params.Signature != want {
		t.Errorf("Signature = %s, want %s", params.Signature, want)
	}
}

func TestCredentials_SignUsesFreshNonce(t *testing.T) {
	creds := &Credentials{ClientID: "id", ClientSecret: "secret"}

	a := creds.Sign("")
	b := creds.Sign("")
	if a.Nonce == b.Nonce {
		t.Error("expected distinct nonces")
	}
}

func TestAuthParams_JSON(t *testing.T) {
	creds := &Credentials{ClientID: "id", ClientSecret: "secret"}

	data, err := json.Marshal(creds.ClientCredentials())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"grant_type":"client_credentials","client_id":"id","client_secret":"secret"}`
	if string(data) != want {
		t.Errorf("JSON = %s, want %s", data, want)
	}
}

func TestCredentials_Params(t *testing.T) {
	creds := &Credentials{ClientID: "id", ClientSecret: "secret"}

	tests := []struct {
		grant      string
		wantSecret string
		wantSigned bool
		wantErr    bool
	}{
		{GrantClientSignature, "", true, false},
		{GrantClientCredentials, "secret", false, false},
		{"password", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.grant, func(t *testing.T) {
			params, err := creds.Params(tt.grant, "gatherer-1")
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Params() error = %v", err)
			}
			if params.GrantType != tt.grant {
				t.Errorf("GrantType = %q, want %q", params.GrantType, tt.grant)
			}
			if params.ClientSecret != tt.wantSecret {
				t.Errorf("ClientSecret = %q, want %q", params.ClientSecret, tt.wantSecret)
			}
			if signed := params.Signature != ""; signed != tt.wantSigned {
				t.Errorf("signed = %v, want %v", signed, tt.wantSigned)
			}
		})
	}
}

func TestLoadCredentials(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		secret  string
		wantErr bool
	}{
		{"valid", "my-id", "my-secret", false},
		{"missing id", "", "my-secret", true},
		{"missing secret", "my-id", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := LoadCredentials(tt.id, tt.secret)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadCredentials failed: %v", err)
			}
			if creds.ClientID != tt.id {
				t.Errorf("ClientID = %q, want %q", creds.ClientID, tt.id)
			}
		})
	}
}

func TestLoadSecretFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(tmpFile, []byte("  s3cret\n"), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	secret, err := LoadSecretFile(tmpFile)
	if err != nil {
		t.Fatalf("LoadSecretFile failed: %v", err)
	}
	if secret != "s3cret" {
		t.Errorf("secret = %q, want %q", secret, "s3cret")
	}
}

func TestLoadSecretFile_Empty(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(tmpFile, []byte("\n"), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	if _, err := LoadSecretFile(tmpFile); err == nil {
		t.Error("expected error for empty secret file")
	}
}

func TestLoadSecretFile_NotFound(t *testing.T) {
	if _, err := LoadSecretFile("/nonexistent/path/to/secret"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}
