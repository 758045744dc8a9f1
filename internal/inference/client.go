// Package inference is the external model path: an HTTP client wrapped in a
// circuit breaker and a slow token-bucket gate. Every failure mode surfaces
// as an error the caller can fall back from.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/stats"
)

// ErrUnavailable is returned when no inference endpoint is configured.
var ErrUnavailable = errors.New("inference: not configured")

// Request is the statistics bundle sent to the external model.
type Request struct {
	LastValue   *int                     `json:"last_value,omitempty"`
	Pattern     domain.PatternCode       `json:"pattern"`
	WindowIndex int                      `json:"window_index"`
	Recent      []int                    `json:"recent"`
	Shares      stats.ClassShares        `json:"shares"`
	ColorShares map[domain.Color]float64 `json:"color_shares"`
	Gaps        map[int]stats.Gap        `json:"gaps"`
}

// Response is the ranked candidate set returned by the model.
type Response struct {
	Values     []int   `json:"values"`
	Confidence float64 `json:"confidence"`
}

// Client is the external inference surface.
type Client interface {
	Predict(ctx context.Context, req *Request) (*Response, error)
}

// HTTPClient posts the bundle to a remote inference endpoint.
type HTTPClient struct {
	url    string
	apiKey string
	http   *http.Client
}

func NewHTTPClient(url, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		url:    url,
		apiKey: apiKey,
		http:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Predict(ctx context.Context, req *Request) (*Response, error) {
	if c.url == "" {
		return nil, ErrUnavailable
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inference request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build inference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("inference returned status %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}
	if len(out.Values) == 0 {
		return nil, fmt.Errorf("inference returned no candidates")
	}
	for _, v := range out.Values {
		if !domain.ValidValue(v) {
			return nil, fmt.Errorf("inference returned out-of-range value %d", v)
		}
	}
	return &out, nil
}
