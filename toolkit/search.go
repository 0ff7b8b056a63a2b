package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bernardlabs/bernard/agent"
)

// SearchTool queries a SearxNG instance's JSON API.
type SearchTool struct {
	baseURL    string
	maxResults int
	http       *http.Client
}

// NewSearchTool creates a search tool against the given SearxNG base URL.
func NewSearchTool(baseURL string) *SearchTool {
	return &SearchTool{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxResults: 5,
		http:       &http.Client{Timeout: 15 * time.Second},
	}
}

// Descriptor returns the tool definition for registration.
func (s *SearchTool) Descriptor() agent.Descriptor {
	return agent.Descriptor{
		Name:        "web_search",
		Description: "Search the web and return the top results.",
		InputSchema: &agent.Schema{
			Properties: map[string]agent.Property{
				"query":       {Type: "string", Description: "Search query."},
				"max_results": {Type: "integer", Minimum: agent.Num(1), Maximum: agent.Num(10)},
			},
			Required: []string{"query"},
		},
		Execute: s.run,
	}
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *SearchTool) run(ctx context.Context, args map[string]any) (string, error) {
	query := argString(args, "query", "")
	limit := s.maxResults
	if n, ok := argNumber(args, "max_results"); ok {
		limit = int(n)
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search API returned %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode results: %w", err)
	}
	if len(parsed.Results) == 0 {
		return fmt.Sprintf("No results for %q.", query), nil
	}

	var b strings.Builder
	for i, r := range parsed.Results {
		if i >= limit {
			break
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\n%s", i+1, r.Title, r.URL)
		if r.Content != "" {
			fmt.Fprintf(&b, "\n%s", r.Content)
		}
	}
	return b.String(), nil
}
