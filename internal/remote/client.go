// Package remote is the HTTP transport for the two routes the remote
// authority exposes:
//
//	GET  {base}?route=students      -> {ok, students, count, error?}
//	POST {base}?route=transactions  -> {ok, error?}
//
// Transaction batches are posted as text/plain so browser-hosted remotes
// accept them without a preflight request; the body is still JSON.
package remote

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

	"github.com/cdlta/tracker/internal/schema"
)

// Route names accepted by the remote.
const (
	RouteStudents     = "students"
	RouteTransactions = "transactions"
)

// BatchContentType is the content type used for transaction uploads.
const BatchContentType = "text/plain;charset=utf-8"

// DefaultTimeout bounds a single remote request.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 32 << 20

// RemoteError is returned when the remote answers ok=false.
type RemoteError struct {
	Route   string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// StatusError is returned for a non-2xx HTTP response.
type StatusError struct {
	Route      string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("remote %s returned HTTP %d", e.Route, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Batch is the body of a transaction upload.
type Batch struct {
	Transactions []json.RawMessage `json:"transactions"`
}

// Ack is the remote's answer to a transaction upload.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// StudentsResponse is the remote's answer to a students fetch.
type StudentsResponse struct {
	OK       bool              `json:"ok"`
	Students []*schema.Student `json:"students"`
	Count    int               `json:"count"`
	Error    string            `json:"error,omitempty"`
}

// Options configures a Client.
type Options struct {
	// Timeout bounds each request. Zero uses DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the client used for requests.
	HTTPClient *http.Client

	// Logger receives request logs. Nil writes to stderr.
	Logger *log.Logger
}

// Client talks to the remote authority. The endpoint base is passed per call
// so settings changes apply to the next request.
type Client struct {
	http   *http.Client
	logger *log.Logger
}

// New returns a Client.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{http: hc, logger: logger}
}

// RouteURL returns base with the route query parameter set.
func RouteURL(base, route string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q: scheme and host are required", base)
	}
	q := u.Query()
	q.Set("route", route)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// PostTransactions uploads records as one batch. It returns nil only when the
// remote acknowledged the batch with ok=true.
func (c *Client) PostTransactions(ctx context.Context, base string, records []json.RawMessage) error {
	target, err := RouteURL(base, RouteTransactions)
	if err != nil {
		return err
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	body, err := json.Marshal(Batch{Transactions: records})
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", BatchContentType)

	var ack Ack
	if err := c.do(req, RouteTransactions, &ack); err != nil {
		return err
	}
	if !ack.OK {
		msg := ack.Error
		if msg == "" {
			msg = "Sync failed"
		}
		return &RemoteError{Route: RouteTransactions, Message: msg}
	}
	c.logger.Printf("Uploaded %d transactions", len(records))
	return nil
}

// FetchStudents downloads the full student snapshot. It returns an error
// unless the remote answered ok=true.
func (c *Client) FetchStudents(ctx context.Context, base string) (*StudentsResponse, error) {
	target, err := RouteURL(base, RouteStudents)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	var resp StudentsResponse
	if err := c.do(req, RouteStudents, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		msg := resp.Error
		if msg == "" {
			msg = "Failed to fetch students"
		}
		return nil, &RemoteError{Route: RouteStudents, Message: msg}
	}
	return &resp, nil
}

func (c *Client) do(req *http.Request, route string, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach remote: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", route, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return &StatusError{Route: route, StatusCode: resp.StatusCode, Body: snippet}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", route, err)
	}
	return nil
}
