// Package collector is the HTTP client boundary to the external
// data-collection service that fetches paginated, tree-structured site
// content. Every fetch is metered: the service reports credits used and
// call sites feed that usage to the cost governor.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Config holds collector client configuration.
type Config struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries uint64        `yaml:"max_retries"`
	PageLimit  int           `yaml:"page_limit"`
}

// Page is one unit of collected content within the source tree.
type Page struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Children []string `json:"children"`
}

// FetchResult is the complete collected content for one source.
type FetchResult struct {
	Pages       []Page
	CreditsUsed int64
}

// Client talks to the collection service.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a collector client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 50
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type fetchRequest struct {
	SourceURL string `json:"source_url"`
	Cursor    string `json:"cursor,omitempty"`
	Limit     int    `json:"limit"`
}

type fetchResponse struct {
	Pages       []Page `json:"pages"`
	NextCursor  string `json:"next_cursor"`
	CreditsUsed int64  `json:"credits_used"`
}

// FetchSite collects all pages under sourceURL, following pagination cursors
// until the tree is exhausted.
func (c *Client) FetchSite(ctx context.Context, sourceURL string) (*FetchResult, error) {
	result := &FetchResult{}
	cursor := ""

	for {
		page, err := c.fetchPage(ctx, sourceURL, cursor)
		if err != nil {
			return nil, err
		}

		result.Pages = append(result.Pages, page.Pages...)
		result.CreditsUsed += page.CreditsUsed

		if page.NextCursor == "" {
			return result, nil
		}
		cursor = page.NextCursor
	}
}

// fetchPage performs one paginated request with exponential backoff on
// transient failures.
func (c *Client) fetchPage(ctx context.Context, sourceURL, cursor string) (*fetchResponse, error) {
	body, err := json.Marshal(fetchRequest{
		SourceURL: sourceURL,
		Cursor:    cursor,
		Limit:     c.cfg.PageLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal fetch request: %w", err)
	}

	backoff := retry.WithMaxRetries(c.cfg.MaxRetries, retry.NewExponential(500*time.Millisecond))

	var out fetchResponse
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, c.cfg.BaseURL+"/v1/collect", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return retry.RetryableError(fmt.Errorf("collector returned status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("collector returned status %d: %s", resp.StatusCode, data)
		}

		out = fetchResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode collector response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", sourceURL, err)
	}
	return &out, nil
}
