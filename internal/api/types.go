package api

// HelloRequest for public/hello
type HelloRequest struct {
	ClientName    string `json:"client_name"`
	ClientVersion string `json:"client_version"`
}

// HelloResponse from public/hello
type HelloResponse struct {
	Version string `json:"version"`
}

// TestRequest for public/test. ExpectedResult "exception" makes the server
// answer with an error, which is useful for checking error handling.
type TestRequest struct {
	ExpectedResult string `json:"expected_result,omitempty"`
}

// TestResponse from public/test
type TestResponse struct {
	Version string `json:"version"`
}

// AuthResponse from public/auth
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"` // Seconds
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

type channelsParams struct {
	Channels []string `json:"channels"`
}

type heartbeatParams struct {
	Interval int `json:"interval"` // Seconds
}
