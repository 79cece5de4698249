// Package extract calls the document-extraction service that turns free
// resume text into structured fields.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotConfigured is returned when no extraction endpoint is set.
var ErrNotConfigured = errors.New("extraction service not configured")

// Extractor turns text into resume fields.
type Extractor interface {
	ExtractResumeFields(ctx context.Context, text string) (map[string]any, error)
}

// HTTPExtractor posts text to an extraction endpoint.
type HTTPExtractor struct {
	url    string
	client *http.Client
}

// NewHTTPExtractor creates an extractor for url.
func NewHTTPExtractor(url string, timeout time.Duration) *HTTPExtractor {
	return &HTTPExtractor{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type extractRequest struct {
	Text   string `json:"text"`
	Target string `json:"target"`
}

type extractResponse struct {
	Fields map[string]any `json:"fields"`
	Error  string         `json:"error,omitempty"`
}

// ExtractResumeFields sends text and returns the extracted fields.
func (e *HTTPExtractor) ExtractResumeFields(ctx context.Context, text string) (map[string]any, error) {
	if e.url == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(extractRequest{Text: text, Target: "resume"})
	if err != nil {
		return nil, fmt.Errorf("encode extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read extraction response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out extractResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("extraction failed: %s", out.Error)
	}
	if out.Fields == nil {
		out.Fields = map[string]any{}
	}
	return out.Fields, nil
}
