// Package services provides external service integrations and technical concerns for the gateway
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/amirphl/Yata-no-Kagami/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrGenerationFailed covers every upstream failure of the generation API.
// The upstream detail is wrapped for logging but is never client-safe.
var ErrGenerationFailed = errors.New("generation failed")

// ContentPart is one ordered unit of input to a generation call: either text
// or inline binary data with a MIME type.
type ContentPart struct {
	Text       string
	InlineData *InlineData
}

// InlineData carries base64-encoded bytes plus their MIME type.
type InlineData struct {
	MIMEType string
	Data     string
}

// GenerationService is the boundary to the external generative API.
type GenerationService interface {
	Generate(ctx context.Context, parts []ContentPart) (string, error)
}

var (
	generationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_requests_total",
			Help: "Total number of generation API calls partitioned by outcome",
		},
		[]string{"outcome"},
	)

	generationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "generation_request_duration_seconds",
			Help:    "Generation API call latencies in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

// GeminiClient implements GenerationService against the Gemini REST API.
// One instance is shared across all requests and is never mutated after construction.
type GeminiClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewGeminiClient creates a new generation client from configuration.
func NewGeminiClient(cfg *config.GeminiConfig) *GeminiClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Wire types for the generateContent endpoint

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerateRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiCandidate struct {
	Content      *geminiContent `json:"content"`
	FinishReason string         `json:"finishReason,omitempty"`
}

type geminiErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type geminiGenerateResponse struct {
	Candidates []geminiCandidate  `json:"candidates"`
	Error      *geminiErrorDetail `json:"error,omitempty"`
}

// Generate sends the ordered content parts to the model and returns the
// generated text. All failures come back as ErrGenerationFailed; the
// diagnostic is logged here, not surfaced to callers' clients.
func (c *GeminiClient) Generate(ctx context.Context, parts []ContentPart) (string, error) {
	if len(parts) == 0 {
		return "", fmt.Errorf("no content parts: %w", ErrGenerationFailed)
	}

	wireParts := make([]geminiPart, 0, len(parts))
	for _, p := range parts {
		wp := geminiPart{Text: p.Text}
		if p.InlineData != nil {
			wp.InlineData = &geminiInlineData{
				MimeType: p.InlineData.MIMEType,
				Data:     p.InlineData.Data,
			}
		}
		wireParts = append(wireParts, wp)
	}

	requestBody, err := json.Marshal(geminiGenerateRequest{
		Contents: []geminiContent{{Parts: wireParts}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal generation request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	generationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		generationRequestsTotal.WithLabelValues("transport_error").Inc()
		log.Printf("generation call failed: model=%s err=%v", c.model, err)
		return "", fmt.Errorf("upstream call failed: %w", ErrGenerationFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		generationRequestsTotal.WithLabelValues("read_error").Inc()
		log.Printf("generation response read failed: model=%s err=%v", c.model, err)
		return "", fmt.Errorf("upstream read failed: %w", ErrGenerationFailed)
	}

	var out geminiGenerateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		generationRequestsTotal.WithLabelValues("decode_error").Inc()
		log.Printf("generation response decode failed: model=%s status=%d err=%v", c.model, resp.StatusCode, err)
		return "", fmt.Errorf("upstream decode failed: %w", ErrGenerationFailed)
	}

	if resp.StatusCode != http.StatusOK {
		generationRequestsTotal.WithLabelValues("upstream_error").Inc()
		detail := ""
		if out.Error != nil {
			detail = fmt.Sprintf(" %s: %s", out.Error.Status, out.Error.Message)
		}
		log.Printf("generation rejected: model=%s status=%d%s", c.model, resp.StatusCode, detail)
		return "", fmt.Errorf("upstream status %d: %w", resp.StatusCode, ErrGenerationFailed)
	}

	text := collectText(out.Candidates)
	if text == "" {
		generationRequestsTotal.WithLabelValues("empty_response").Inc()
		log.Printf("generation returned no text: model=%s candidates=%d", c.model, len(out.Candidates))
		return "", fmt.Errorf("no text returned by model: %w", ErrGenerationFailed)
	}

	generationRequestsTotal.WithLabelValues("success").Inc()
	return text, nil
}

func collectText(candidates []geminiCandidate) string {
	var sb strings.Builder
	for _, cand := range candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
		// Only the first candidate is relayed
		break
	}
	return strings.TrimSpace(sb.String())
}

// MockGenerationService implements GenerationService for testing
type MockGenerationService struct {
	Output string
	Err    error
	Calls  [][]ContentPart
}

// NewMockGenerationService creates a new mock generation service
func NewMockGenerationService(output string, err error) *MockGenerationService {
	return &MockGenerationService{Output: output, Err: err}
}

// Generate records the call and returns the configured result.
func (m *MockGenerationService) Generate(ctx context.Context, parts []ContentPart) (string, error) {
	copied := make([]ContentPart, len(parts))
	copy(copied, parts)
	m.Calls = append(m.Calls, copied)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Output, nil
}
