// Package client provides a Go client for a remote ingestion API.
//
// Usage:
//
//	c := client.New("https://api.example.com",
//	    client.WithToken("ik_..."),
//	)
//
//	j, err := c.Trigger(ctx, client.TriggerOptions{
//	    Type:    "document",
//	    Payload: map[string]any{"documentId": "doc_..."},
//	})
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/ingest"
	"github.com/xraph/ingest/job"
	"github.com/xraph/ingest/lifecycle"
)

const basePath = "/api/ingestion"

// Client talks to a remote ingestion API over HTTP.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TriggerOptions describes the job to create.
type TriggerOptions struct {
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	MaxRetries int            `json:"maxRetries,omitempty"`
}

// ListOptions carries filter and pagination parameters for list calls.
type ListOptions struct {
	Type      string
	Status    string
	Page      int
	PerPage   int
	SortBy    string
	SortOrder string
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Type != "" {
		q.Set("type", o.Type)
	}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.PerPage > 0 {
		q.Set("perPage", strconv.Itoa(o.PerPage))
	}
	if o.SortBy != "" {
		q.Set("sortBy", o.SortBy)
	}
	if o.SortOrder != "" {
		q.Set("sortOrder", o.SortOrder)
	}
	return q
}

// Trigger creates an ingestion job.
func (c *Client) Trigger(ctx context.Context, opts TriggerOptions) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, basePath+"/trigger", nil, opts, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Get retrieves a job by id.
func (c *Client) Get(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, basePath+"/jobs/"+url.PathEscape(jobID), nil, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// List returns one page of jobs matching opts.
func (c *Client) List(ctx context.Context, opts ListOptions) (*lifecycle.Page, error) {
	var page lifecycle.Page
	if err := c.do(ctx, http.MethodGet, basePath+"/jobs", opts.query(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// MyJobs returns one page of the calling principal's jobs.
func (c *Client) MyJobs(ctx context.Context, opts ListOptions) (*lifecycle.Page, error) {
	var page lifecycle.Page
	if err := c.do(ctx, http.MethodGet, basePath+"/jobs/my-jobs", opts.query(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Active returns the currently processing jobs, oldest first.
func (c *Client) Active(ctx context.Context) ([]*job.Job, error) {
	var jobs []*job.Job
	if err := c.do(ctx, http.MethodGet, basePath+"/jobs/active", nil, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ByStatus returns one page of jobs in the given status.
func (c *Client) ByStatus(ctx context.Context, status string, opts ListOptions) (*lifecycle.Page, error) {
	var page lifecycle.Page
	path := basePath + "/jobs/by-status/" + url.PathEscape(status)
	if err := c.do(ctx, http.MethodGet, path, opts.query(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Retry re-queues a failed job, merging payload keys over the existing
// payload when payload is non-empty.
func (c *Client) Retry(ctx context.Context, jobID string, payload map[string]any) (*job.Job, error) {
	var j job.Job
	body := map[string]any{}
	if len(payload) > 0 {
		body["payload"] = payload
	}
	path := basePath + "/jobs/" + url.PathEscape(jobID) + "/retry"
	if err := c.do(ctx, http.MethodPost, path, nil, body, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Cancel cancels an active job. An empty reason lets the server record
// its default.
func (c *Client) Cancel(ctx context.Context, jobID, reason string) (*job.Job, error) {
	var j job.Job
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	path := basePath + "/jobs/" + url.PathEscape(jobID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, nil, body, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Delete removes a job record. Requires an admin principal.
func (c *Client) Delete(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, basePath+"/jobs/"+url.PathEscape(jobID), nil, nil, nil)
}

// do executes one request and decodes the JSON response into out when out
// is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ingest/client: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("ingest/client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("ingest/client: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.apiError(resp, method, path)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ingest/client: decode response: %w", err)
	}
	return nil
}

// apiError turns a non-2xx response into an error, mapping 404 onto the
// shared not-found sentinel so callers can errors.Is against it.
func (c *Client) apiError(resp *http.Response, method, path string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(snippet))

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("ingest/client: %s %s: %s: %w",
			method, path, detail, ingest.ErrJobNotFound)
	}
	return fmt.Errorf("ingest/client: %s %s: unexpected status %d: %s",
		method, path, resp.StatusCode, detail)
}
