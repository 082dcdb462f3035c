// Package gitapi provides an HTTP client for a remote git backend.
package gitapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	rdotel "github.com/Strob0t/repodeck/internal/adapter/otel"
	"github.com/Strob0t/repodeck/internal/domain/workcopy"
	"github.com/Strob0t/repodeck/internal/logger"
	"github.com/Strob0t/repodeck/internal/middleware"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
	"github.com/Strob0t/repodeck/internal/resilience"
)

const maxResponseBytes = 32 << 20

// Error is a non-2xx answer from the backend. Message is set only when the
// backend answered with a JSON error body.
type Error struct {
	Status  int
	Message string
	Body    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("git backend error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("git backend error %d: %s", e.Status, e.Body)
}

// UserMessage returns the backend's own explanation, or "".
func (e *Error) UserMessage() string { return e.Message }

// IsTransient reports whether err should count against the circuit breaker.
// A 4xx answer means the backend is up and rejected the request.
func IsTransient(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}
	return true
}

// Client talks to a git backend over the HTTP wire contract.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ gitbackend.Backend = (*Client)(nil)

// NewClient creates a client for the backend at baseURL. Outgoing requests
// are traced.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: rdotel.Transport(nil),
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

func (c *Client) Diff(ctx context.Context, path string) (string, error) {
	var resp DiffResponse
	if err := c.get(ctx, PathDiff, path, &resp); err != nil {
		return "", fmt.Errorf("diff: %w", err)
	}
	return resp.Diff, nil
}

func (c *Client) Status(ctx context.Context, path string) (*gitbackend.Status, error) {
	var resp StatusResponse
	if err := c.get(ctx, PathStatus, path, &resp); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return &gitbackend.Status{Ahead: resp.Status.Ahead, Behind: resp.Status.Behind}, nil
}

func (c *Client) Branches(ctx context.Context, path string) (*workcopy.BranchState, error) {
	var resp BranchesResponse
	if err := c.get(ctx, PathBranches, path, &resp); err != nil {
		return nil, fmt.Errorf("branches: %w", err)
	}
	return &workcopy.BranchState{Current: resp.Current, All: resp.All}, nil
}

func (c *Client) Checkout(ctx context.Context, path, branch string) error {
	if err := c.post(ctx, PathCheckout, CheckoutRequest{Path: path, Branch: branch}, &OKResponse{}); err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	return nil
}

func (c *Client) CreateBranch(ctx context.Context, path, name, source string) error {
	req := CreateBranchRequest{Path: path, Branch: name, Source: source}
	if err := c.post(ctx, PathBranches, req, &OKResponse{}); err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	return nil
}

func (c *Client) Pull(ctx context.Context, path string) (*workcopy.PullResult, error) {
	var resp PullResponse
	if err := c.post(ctx, PathPull, PathRequest{Path: path}, &resp); err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}
	return &workcopy.PullResult{
		BeforeBehind: resp.Status.Before.Behind,
		AfterBehind:  resp.Status.After.Behind,
		UpToDate:     resp.Status.UpToDate,
	}, nil
}

func (c *Client) CommitAndPush(ctx context.Context, path, message string) (string, error) {
	var resp PushResponse
	if err := c.post(ctx, PathPush, PushRequest{Path: path, Message: message}, &resp); err != nil {
		return "", fmt.Errorf("push: %w", err)
	}
	return resp.Commit.Commit, nil
}

func (c *Client) Rollback(ctx context.Context, path string) error {
	if err := c.post(ctx, PathRollback, PathRequest{Path: path}, &OKResponse{}); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (c *Client) Log(ctx context.Context, path string) ([]workcopy.CommitLogEntry, error) {
	var resp LogResponse
	if err := c.get(ctx, PathLog, path, &resp); err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	entries := make([]workcopy.CommitLogEntry, 0, len(resp.Commits))
	for _, cm := range resp.Commits {
		entries = append(entries, workcopy.CommitLogEntry{Hash: cm.Hash, Message: cm.Message, WebURL: cm.WebURL})
	}
	return entries, nil
}

func (c *Client) get(ctx context.Context, route, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, route+"?path="+url.QueryEscape(path), nil, out)
}

func (c *Client) post(ctx context.Context, route string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.doRequest(ctx, http.MethodPost, route, body, out)
}

func (c *Client) doRequest(ctx context.Context, method, route string, body []byte, out any) error {
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if id := logger.RequestID(ctx); id != "" {
			req.Header.Set(middleware.HeaderRequestID, id)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return errorFromResponse(resp.StatusCode, data)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}

	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}

func errorFromResponse(status int, data []byte) error {
	var body ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return &Error{Status: status, Message: body.Error}
	}
	text := strings.TrimSpace(string(data))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		text = http.StatusText(status)
	}
	return &Error{Status: status, Body: text}
}
