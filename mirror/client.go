package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// Config points at a PostgREST-compatible remote store (e.g. a Supabase
// project). Leaving URL or key empty disables mirroring entirely.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// ConfigFromEnv reads MIRROR_URL / MIRROR_API_KEY.
func ConfigFromEnv() Config {
	return Config{
		URL:     strings.TrimSpace(os.Getenv("MIRROR_URL")),
		APIKey:  strings.TrimSpace(os.Getenv("MIRROR_API_KEY")),
		Timeout: defaultTimeout,
	}
}

// Client replicates rows to the remote store. Every method is best-effort:
// mirroring failures are logged and must never reach a caller.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	enabled    bool
}

// NewClient builds a mirror client from the given config. A client is always
// returned; when the config is incomplete the client is a no-op.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.APIKey == "" {
		return &Client{enabled: false}, nil
	}

	baseURL := strings.TrimRight(cfg.URL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("mirror: invalid base URL %q", baseURL)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("mirror: parse base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		enabled:    true,
	}, nil
}

// Enabled reports whether mirroring is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// Upsert replicates a single row into the named remote table, merging on the
// primary key.
func (c *Client) Upsert(ctx context.Context, table string, row map[string]interface{}) error {
	if !c.Enabled() {
		return nil
	}
	if table == "" || len(row) == 0 {
		return nil
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(row); err != nil {
		return fmt.Errorf("mirror: encode row: %w", err)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, url.PathEscape(table))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("mirror: create upsert request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Prefer", "resolution=merge-duplicates")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mirror: upsert request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mirror: upsert status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// Delete removes the row with the given id from the named remote table.
func (c *Client) Delete(ctx context.Context, table string, id string) error {
	if !c.Enabled() {
		return nil
	}
	if table == "" || id == "" {
		return nil
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s?id=eq.%s", c.baseURL, url.PathEscape(table), url.QueryEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("mirror: create delete request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mirror: delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mirror: delete status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// UpsertAsync replicates in the background with its own bounded context. Used
// on the ingestion path so the primary write returns immediately.
func (c *Client) UpsertAsync(table string, row map[string]interface{}) {
	if !c.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
		defer cancel()
		if err := c.Upsert(ctx, table, row); err != nil {
			log.Printf("mirror: background upsert into %s failed: %v", table, err)
		}
	}()
}

// DeleteAsync removes a remote row in the background.
func (c *Client) DeleteAsync(table string, id string) {
	if !c.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
		defer cancel()
		if err := c.Delete(ctx, table, id); err != nil {
			log.Printf("mirror: background delete from %s failed: %v", table, err)
		}
	}()
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
