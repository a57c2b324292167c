package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"golang.org/x/net/html"
)

const userAgent = "Mozilla/5.0 (compatible; ImageSourcer/1.0)"

// ScrapeProvider finds candidate images by fetching a search results page
// and pattern-matching <img> sources against a known CDN URL shape.
type ScrapeProvider struct {
	name       string
	searchURL  string // fmt template with one %s for the escaped query
	cdnPattern *regexp.Regexp
	client     *http.Client
}

// NewScrapeProvider creates a screen-scraping provider. client may be nil,
// in which case a default client with a 15s timeout is used.
func NewScrapeProvider(name, searchURL string, cdnPattern *regexp.Regexp, client *http.Client) *ScrapeProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &ScrapeProvider{
		name:       name,
		searchURL:  searchURL,
		cdnPattern: cdnPattern,
		client:     client,
	}
}

// NewBingProvider scrapes Bing image search results for thumbnail CDN URLs
func NewBingProvider(client *http.Client) *ScrapeProvider {
	return NewScrapeProvider(
		"bing",
		"https://www.bing.com/images/search?q=%s&form=HDRSC2",
		regexp.MustCompile(`^https://(th\.bing\.com|[a-z0-9.-]+\.mm\.bing\.net)/`),
		client,
	)
}

// NewDuckDuckGoProvider scrapes DuckDuckGo image results for proxied CDN URLs
func NewDuckDuckGoProvider(client *http.Client) *ScrapeProvider {
	return NewScrapeProvider(
		"duckduckgo",
		"https://duckduckgo.com/?q=%s&iax=images&ia=images",
		regexp.MustCompile(`^https://external-content\.duckduckgo\.com/`),
		client,
	)
}

// Name returns the provider's name for logging and metrics
func (p *ScrapeProvider) Name() string {
	return p.name
}

// FindImage fetches the search page for query and returns the first <img>
// source matching the provider's CDN pattern
func (p *ScrapeProvider) FindImage(ctx context.Context, query string) (string, error) {
	if query == "" {
		return "", fmt.Errorf("query must not be empty")
	}

	searchURL := fmt.Sprintf(p.searchURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch search results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	candidate := p.firstMatchingImage(doc)
	if candidate == "" {
		return "", ErrNoCandidate
	}

	return candidate, nil
}

// firstMatchingImage walks the parsed document and returns the first img
// src (or lazy-load data-src) matching the CDN pattern
func (p *ScrapeProvider) firstMatchingImage(doc *html.Node) string {
	var found string
	var f func(*html.Node)
	f = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "img" {
			for _, attr := range n.Attr {
				if attr.Key != "src" && attr.Key != "data-src" {
					continue
				}
				if p.cdnPattern.MatchString(attr.Val) {
					found = attr.Val
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(doc)
	return found
}
