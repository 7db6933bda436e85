package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"maestro/internal/types"
)

const defaultSearchEndpoint = "https://api.tavily.com/search"

// webSearch is the built-in server adapter behind the web_search tool. With
// an API key it queries the search API; without one it serves deterministic
// offline results so the engine stays usable in development.
type webSearch struct {
	client   *http.Client
	apiKey   string
	endpoint string
}

func newWebSearch(apiKey, endpoint string, client *http.Client) *webSearch {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if endpoint == "" {
		endpoint = defaultSearchEndpoint
	}
	return &webSearch{client: client, apiKey: apiKey, endpoint: endpoint}
}

func (t *webSearch) execute(ctx context.Context, inputs map[string]any) (*types.TaskOutput, error) {
	query, _ := inputs["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("web_search: query parameter required")
	}
	maxResults := intInput(inputs, "max_results", 5)
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > 10 {
		maxResults = 10
	}

	started := time.Now()
	var results []map[string]any
	var err error
	if t.apiKey == "" {
		results = offlineResults(query)
	} else {
		results, err = t.searchAPI(ctx, query, maxResults)
		if err != nil {
			return nil, err
		}
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	return &types.TaskOutput{
		Success: true,
		Data: map[string]any{
			"query":             query,
			"results":           anySlice(results),
			"total_results":     len(results),
			"search_time_ms":    float64(time.Since(started).Microseconds()) / 1000,
			"formatted_results": formatResults(query, results),
		},
	}, nil
}

func (t *webSearch) searchAPI(ctx context.Context, query string, maxResults int) ([]map[string]any, error) {
	body, err := json.Marshal(map[string]any{
		"api_key":      t.apiKey,
		"query":        query,
		"max_results":  maxResults,
		"search_depth": "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("web_search: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("web_search: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web_search: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("web_search: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web_search: API returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("web_search: decode response: %w", err)
	}

	results := make([]map[string]any, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, map[string]any{
			"title":           r.Title,
			"url":             r.URL,
			"snippet":         r.Content,
			"relevance_score": r.Score,
		})
	}
	return results, nil
}

// offlineResults synthesizes a stable result set for development without an
// API key.
func offlineResults(query string) []map[string]any {
	return []map[string]any{
		{
			"title":           fmt.Sprintf("Search result for %q - 1", query),
			"url":             "https://example.com/search?q=" + query,
			"snippet":         fmt.Sprintf("This is a search result about %s", query),
			"relevance_score": 0.95,
		},
		{
			"title":           fmt.Sprintf("Search result for %q - 2", query),
			"url":             "https://example.com/result2",
			"snippet":         fmt.Sprintf("More information about %s", query),
			"relevance_score": 0.87,
		},
	}
}

// formatResults renders the result set as readable text for the user-facing
// layer.
func formatResults(query string, results []map[string]any) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Search results for: %q\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %v\n   URL: %v\n   %v\n", i+1, r["title"], r["url"], r["snippet"])
	}
	fmt.Fprintf(&b, "Total results: %d\n", len(results))
	return b.String()
}

func intInput(inputs map[string]any, key string, fallback int) int {
	switch v := inputs[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// anySlice converts the typed result maps into the []any shape every other
// JSON document in the engine uses, so binding paths walk it uniformly.
func anySlice(results []map[string]any) []any {
	out := make([]any, len(results))
	for i, r := range results {
		out[i] = any(r)
	}
	return out
}
