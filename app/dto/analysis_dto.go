package dto

import "io"

// AnalyzeImageRequest contains upload details passed from handler to flow.
type AnalyzeImageRequest struct {
	OriginalFilename string    `json:"-"`
	FileSize         int64     `json:"-"`
	ContentType      string    `json:"-"`
	Prompt           string    `json:"-" validate:"omitempty,max=4000"`
	File             io.Reader `json:"-"`
}

// AnalyzeImageResponse is the success body of the analyze-image endpoint.
type AnalyzeImageResponse struct {
	Output string `json:"output"`
}

// TestGenerationResponse is the success body of the test-gemini endpoint.
type TestGenerationResponse struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// GatewayErrorResponse is the error body returned by the gateway endpoints.
// Details never carry upstream diagnostics, only client-safe hints.
type GatewayErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// TestGenerationErrorResponse is the error body of the test-gemini endpoint.
type TestGenerationErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
