package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ann82/havenline/gateway"
	"github.com/ann82/havenline/models"
)

// SearchClient talks to the resource search backend over JSON/HTTP.
type SearchClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type searchRequest struct {
	Query    string `json:"query"`
	Location string `json:"location,omitempty"`
}

// NewSearchClient creates a search backend client.
func NewSearchClient(baseURL, apiKey string) *SearchClient {
	return &SearchClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Search queries the backend for resources matching query near locationHint.
// Non-2xx responses come back as *gateway.StatusError so the gateway can
// classify them.
func (c *SearchClient) Search(ctx context.Context, query, locationHint string) (*models.SearchResponse, error) {
	body, err := json.Marshal(searchRequest{Query: query, Location: locationHint})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &gateway.StatusError{Code: res.StatusCode, Body: string(data)}
	}

	var resp models.SearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &resp, nil
}
