package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultURL is where the generation service listens in local setups.
const DefaultURL = "http://localhost:8000/generate-itinerary/"

// Request is the body sent to the generation service.
type Request struct {
	TripID string `json:"trip_id"`
	Days   int    `json:"days"`
}

type response struct {
	Message string          `json:"message,omitempty"`
	Content json.RawMessage `json:"content"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// Client calls the external generation service with a bearer credential.
type Client struct {
	URL        string
	ServiceKey string
	HTTPClient *http.Client
	// Timeout applies only when HTTPClient is nil. Zero means no timeout.
	Timeout time.Duration
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}

// Generate posts {trip_id, days} and returns the response's content field.
func (c *Client) Generate(ctx context.Context, tripID string, days int) (json.RawMessage, error) {
	url := c.URL
	if url == "" {
		url = DefaultURL
	}
	body, err := json.Marshal(Request{TripID: tripID, Days: days})
	if err != nil {
		return nil, &UnknownError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &UnknownError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ServiceKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.ServiceKey)
	}
	res, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &UnknownError{Err: err}
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, &UnknownError{Err: err}
	}
	var parsed response
	decodeErr := json.Unmarshal(data, &parsed)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail := ""
		if decodeErr == nil {
			detail = detailText(parsed.Detail)
		}
		return nil, &UpstreamError{Status: res.StatusCode, Detail: detail}
	}
	if decodeErr != nil {
		return nil, &UnknownError{Err: fmt.Errorf("decode generation response: %w", decodeErr)}
	}
	return parsed.Content, nil
}

// detailText accepts both a plain string and structured validation details.
func detailText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}
