package api

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TokenResponse is returned by the token refresh endpoint.
type TokenResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
