package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/wellpen/internal/httpkit"
)

const (
	requestTimeout = 15 * time.Second
	braveBaseURL   = "https://api.search.brave.com"
)

// getJSON performs a GET and decodes a JSON body into dst.
func getJSON(ctx context.Context, client *http.Client, provider, reqURL string, header http.Header, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", provider, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d: %s", provider, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%s: decode response: %w", provider, err)
	}
	return nil
}

// SearXNG queries a self-hosted SearXNG instance with JSON output
// enabled.
type SearXNG struct {
	baseURL string
	client  *http.Client
}

// NewSearXNG creates a provider for the instance at baseURL.
func NewSearXNG(baseURL string) *SearXNG {
	return &SearXNG{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpkit.NewClient(httpkit.WithTimeout(requestTimeout)),
	}
}

// Name implements Provider.
func (s *SearXNG) Name() string { return "searxng" }

// Search implements Provider.
func (s *SearXNG) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{"q": {query}, "format": {"json"}}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}

	var body struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := getJSON(ctx, s.client, s.Name(), s.baseURL+"/search?"+params.Encode(), nil, &body); err != nil {
		return nil, err
	}

	// SearXNG has no count parameter; trim locally.
	n := min(opts.count(), len(body.Results))
	results := make([]Result, 0, n)
	for _, r := range body.Results[:n] {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return results, nil
}

// Brave queries the Brave Search web API.
type Brave struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// BraveOption configures a Brave provider.
type BraveOption func(*Brave)

// WithBraveBaseURL points the provider at another host.
func WithBraveBaseURL(u string) BraveOption {
	return func(b *Brave) { b.baseURL = strings.TrimRight(u, "/") }
}

// NewBrave creates a Brave provider.
func NewBrave(apiKey string, opts ...BraveOption) *Brave {
	b := &Brave{
		apiKey:  apiKey,
		baseURL: braveBaseURL,
		client:  httpkit.NewClient(httpkit.WithTimeout(requestTimeout)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements Provider.
func (b *Brave) Name() string { return "brave" }

// Search implements Provider.
func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{"q": {query}, "count": {strconv.Itoa(opts.count())}}
	if opts.Language != "" {
		params.Set("search_lang", opts.Language)
	}

	var body struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	header := http.Header{"X-Subscription-Token": {b.apiKey}}
	if err := getJSON(ctx, b.client, b.Name(), b.baseURL+"/res/v1/web/search?"+params.Encode(), header, &body); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return results, nil
}
