package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebSearchLiveAPI(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		gotQuery, _ = req["query"].(string)
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "Go blog", "url": "https://go.dev/blog", "content": "News from the Go project", "score": 0.99},
				{"title": "Go wiki", "url": "https://go.dev/wiki", "content": "Community-maintained Go wiki", "score": 0.8},
			},
		})
	}))
	defer ts.Close()

	search := newWebSearch("test-key", ts.URL, ts.Client())
	output, err := search.execute(context.Background(), map[string]any{"query": "go releases", "max_results": 1})
	if err != nil {
		t.Fatalf("live search failed: %v", err)
	}
	if gotQuery != "go releases" {
		t.Fatalf("API saw query %q", gotQuery)
	}

	results := output.Data["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("max_results not applied: %d results", len(results))
	}
	first := results[0].(map[string]any)
	if first["title"] != "Go blog" || first["snippet"] != "News from the Go project" {
		t.Fatalf("result fields not mapped: %v", first)
	}
	if first["relevance_score"] != 0.99 {
		t.Fatalf("score not mapped: %v", first["relevance_score"])
	}
}

func TestWebSearchAPIErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	search := newWebSearch("test-key", ts.URL, ts.Client())
	_, err := search.execute(context.Background(), map[string]any{"query": "anything"})
	if err == nil || !strings.Contains(err.Error(), "status 429") {
		t.Fatalf("expected status error, got %v", err)
	}
}
