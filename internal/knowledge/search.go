package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SearchClient calls the external web-search service used for market
// snippets and fact corroboration.
type SearchClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// SearchOption configures the client.
type SearchOption func(*SearchClient)

// WithSearchHTTPClient overrides the HTTP client, used by tests.
func WithSearchHTTPClient(c *http.Client) SearchOption {
	return func(s *SearchClient) { s.httpClient = c }
}

func NewSearchClient(baseURL, apiKey string, opts ...SearchOption) *SearchClient {
	s := &SearchClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 6 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []struct {
		Snippet string `json:"snippet"`
	} `json:"results"`
}

// Search returns up to five result snippets for the query.
func (s *SearchClient) Search(ctx context.Context, query string) ([]string, error) {
	body, err := json.Marshal(searchRequest{Query: query, MaxResults: 5})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	snippets := make([]string, 0, len(sr.Results))
	for _, r := range sr.Results {
		if r.Snippet != "" {
			snippets = append(snippets, r.Snippet)
		}
	}
	return snippets, nil
}
