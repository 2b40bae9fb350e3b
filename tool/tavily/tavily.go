// Package tavily exposes the Tavily web search API as a tool the reasoning
// node can call when the internal knowledge base is insufficient.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/mentormesh/core"
	"github.com/hupe1980/mentormesh/internal/util"
	"github.com/hupe1980/mentormesh/tool"
)

// Name is the tool name declared to the model.
const Name = "tavily_search"

const defaultBaseURL = "https://api.tavily.com"

// ErrMissingAPIKey is returned when a search is attempted without credentials.
var ErrMissingAPIKey = errors.New("tavily: API key is missing")

// Options configure the search tool.
type Options struct {
	APIKey     string
	BaseURL    string
	MaxResults int
	// Depth is Tavily's search_depth (basic or advanced).
	Depth      string
	HTTPClient *http.Client
	// InitialBackoff is the first delay after a 429; it doubles up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int
}

// Result is a single search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Args is the argument shape the model fills in.
type Args struct {
	Query string `json:"query" description:"Search query to look up on the web"`
}

// Search is a tool.Tool backed by the Tavily HTTP API.
type Search struct {
	opts   Options
	schema map[string]any
}

var _ tool.Tool = (*Search)(nil)

// New creates a Tavily search tool.
func New(optFns ...func(o *Options)) *Search {
	opts := Options{
		BaseURL:        defaultBaseURL,
		MaxResults:     3,
		Depth:          "basic",
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		MaxRetries:     5,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Search{opts: opts, schema: util.CreateSchema(Args{})}
}

// Name implements tool.Tool.
func (s *Search) Name() string { return Name }

// Description implements tool.Tool.
func (s *Search) Description() string {
	return "A search engine optimized for comprehensive, accurate, and trusted results. " +
		"Useful for answering questions about current events or information missing from the internal knowledge base. " +
		"Input should be a search query."
}

// Parameters implements tool.Tool.
func (s *Search) Parameters() map[string]any { return s.schema }

// Call implements tool.Tool. The result is a plain text rendering of the hits.
func (s *Search) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, s.schema); err != nil {
		return nil, &tool.ToolError{Tool: Name, Message: err.Error(), Code: tool.CodeValidation, Details: err}
	}

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, tool.NewToolError(Name, "query must not be empty", tool.CodeInvalidArg)
	}

	start := time.Now()

	results, err := s.Search(toolCtx.Context(), query)
	if err != nil {
		toolCtx.Logger().Warn("tavily.search.failed", "error", err.Error())
		return nil, &tool.ToolError{Tool: Name, Message: err.Error(), Code: tool.CodeExecution}
	}

	toolCtx.Logger().Debug("tavily.search.done", "results", len(results), "duration_ms", time.Since(start).Milliseconds())

	return FormatResults(results), nil
}

// Search posts a query to Tavily, backing off exponentially on 429 responses.
func (s *Search) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(s.opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	payload, err := json.Marshal(map[string]any{
		"query":        query,
		"api_key":      s.opts.APIKey,
		"max_results":  s.opts.MaxResults,
		"search_depth": s.opts.Depth,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: encode request: %w", err)
	}

	var resp *http.Response

	delay := s.opts.InitialBackoff

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.BaseURL+"/search", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("tavily: build request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")

		resp, err = s.opts.HTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("tavily: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}

		resp.Body.Close()

		if attempt >= s.opts.MaxRetries {
			return nil, fmt.Errorf("tavily: rate limited after %d retries", attempt)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		if delay < s.opts.MaxBackoff {
			delay = min(delay*2, s.opts.MaxBackoff)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily: http %d", resp.StatusCode)
	}

	var response struct {
		Results []Result `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}

	results := response.Results
	if s.opts.MaxResults > 0 && len(results) > s.opts.MaxResults {
		results = results[:s.opts.MaxResults]
	}

	return results, nil
}

// FormatResults renders hits as numbered blocks of title, url and content.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No web results found."
	}

	var b strings.Builder

	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}

		fmt.Fprintf(&b, "[%d] %s\nURL: %s\n%s", i+1, r.Title, r.URL, r.Content)
	}

	return b.String()
}
