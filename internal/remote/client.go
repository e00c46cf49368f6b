// Package remote talks to the revisioned list service.
//
// The service holds one list of elements and a monotonically increasing
// revision. Every mutating request carries the client's last known revision
// in the X-Last-Known-Revision header; the server rejects it when the
// revision is stale. Every successful response carries the new revision,
// which the Client records.
//
// Example:
//
//	c, err := remote.New(remote.Options{BaseURL: "https://list.example/api", Token: tok})
//	if err != nil {
//	    return err
//	}
//	items, rev, err := c.FetchAll(ctx)
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
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/todosync/todosync/internal/item"
)

// DefaultTimeout bounds every request when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// maxBodySize caps response bodies read from the server.
const maxBodySize = 16 << 20

// Options configures a Client.
type Options struct {
	BaseURL    string        // Service root, e.g. https://host/todobackend
	Token      string        // Bearer token; omitted when empty
	ClientID   string        // last_updated_by value (default DefaultClientID)
	Timeout    time.Duration // Per-request timeout (default DefaultTimeout)
	HTTPClient *http.Client  // Overrides the default client; Timeout is then ignored
	Logger     *log.Logger   // Request log (default: discard)
}

// Client is a revision-tracking client of the list service.
// It is safe for concurrent use.
type Client struct {
	base     *url.URL
	token    string
	clientID string
	http     *http.Client
	logger   *log.Logger
	revision atomic.Int64
}

// New creates a client for the service at opts.BaseURL.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid remote base URL %q: scheme must be http or https", opts.BaseURL)
	}

	c := &Client{
		base:     base,
		token:    opts.Token,
		clientID: opts.ClientID,
		http:     opts.HTTPClient,
		logger:   opts.Logger,
	}
	if c.clientID == "" {
		c.clientID = DefaultClientID
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard, "", 0)
	}
	return c, nil
}

// Revision returns the last revision received from the server, 0 before the
// first successful response.
func (c *Client) Revision() int64 {
	return c.revision.Load()
}

// FetchAll downloads the whole list.
func (c *Client) FetchAll(ctx context.Context) ([]item.Item, int64, error) {
	var resp ListResponse
	if err := c.do(ctx, "fetch", http.MethodGet, "list", nil, &resp); err != nil {
		return nil, 0, err
	}
	c.revision.Store(resp.Revision)
	return fromElements(resp.List), resp.Revision, nil
}

// PushAll replaces the server's list with items and returns the list the
// server holds afterwards.
func (c *Client) PushAll(ctx context.Context, items []item.Item) ([]item.Item, int64, error) {
	body := ListRequest{List: toElements(items, c.clientID)}
	var resp ListResponse
	if err := c.do(ctx, "push", http.MethodPatch, "list", body, &resp); err != nil {
		return nil, 0, err
	}
	c.revision.Store(resp.Revision)
	return fromElements(resp.List), resp.Revision, nil
}

// FetchItem downloads a single element.
func (c *Client) FetchItem(ctx context.Context, id string) (item.Item, int64, error) {
	return c.element(ctx, "fetch item", http.MethodGet, id, nil)
}

// CreateItem adds it to the server's list.
func (c *Client) CreateItem(ctx context.Context, it item.Item) (item.Item, int64, error) {
	return c.element(ctx, "create", http.MethodPost, "", &ElementRequest{Element: ToElement(it, c.clientID)})
}

// ReplaceItem overwrites the server's copy of it.
func (c *Client) ReplaceItem(ctx context.Context, it item.Item) (item.Item, int64, error) {
	return c.element(ctx, "replace", http.MethodPut, it.ID, &ElementRequest{Element: ToElement(it, c.clientID)})
}

// DeleteItem removes id from the server's list and returns the deleted
// element.
func (c *Client) DeleteItem(ctx context.Context, id string) (item.Item, int64, error) {
	return c.element(ctx, "delete", http.MethodDelete, id, nil)
}

func (c *Client) element(ctx context.Context, op, method, id string, body *ElementRequest) (item.Item, int64, error) {
	path := "list"
	if id != "" {
		path += "/" + url.PathEscape(id)
	}

	var reqBody any
	if body != nil {
		reqBody = body
	}
	var resp ElementResponse
	if err := c.do(ctx, op, method, path, reqBody, &resp); err != nil {
		return item.Item{}, 0, err
	}
	c.revision.Store(resp.Revision)
	return FromElement(resp.Element), resp.Revision, nil
}

// do performs one request and decodes a successful response into out.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if method != http.MethodGet {
		req.Header.Set(RevisionHeader, strconv.FormatInt(c.Revision(), 10))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Printf("%s %s failed after %v: %v", method, u.Path, time.Since(start), err)
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()
	c.logger.Printf("%s %s -> %d in %v", method, u.Path, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &Error{Op: op, StatusCode: resp.StatusCode}
		var er ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Message != "" {
			e.Message = er.Message
		} else if s := strings.TrimSpace(string(data)); s != "" && len(s) < 200 {
			e.Message = s
		}
		return e
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}
