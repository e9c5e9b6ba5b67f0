// Package client talks to a running crabdash agent over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/simon/crabdash/internal/notifications"
	"github.com/simon/crabdash/internal/session"
)

// ErrNotFound is matched by errors for 404 responses.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the agent.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("agent returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("agent returned status %d", e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client calls the agent at a base URL such as http://127.0.0.1:4678.
type Client struct {
	httpClient *http.Client
	baseURL    string
	dialer     *websocket.Dialer
}

func New(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		dialer:     &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

// WithTimeout returns a copy of c whose requests give up after d. Hooks use a
// short timeout so a stopped agent never stalls Claude Code.
func (c *Client) WithTimeout(d time.Duration) *Client {
	cp := *c
	cp.httpClient = &http.Client{Timeout: d}
	return &cp
}

type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var env errorEnvelope
		if json.NewDecoder(resp.Body).Decode(&env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func getData[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var env dataEnvelope[T]
	err := c.do(ctx, method, path, body, &env)
	return env.Data, err
}

func sessionPath(name string, suffix ...string) string {
	p := "/api/sessions/" + url.PathEscape(name)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

// Heartbeat forwards a statusLine payload.
func (c *Client) Heartbeat(ctx context.Context, p session.HeartbeatPayload) error {
	return c.do(ctx, http.MethodPost, "/heartbeat", p, nil)
}

// Notification forwards a Notification or Stop hook payload. A 404 means
// tmux does not know the session.
func (c *Client) Notification(ctx context.Context, p session.NotificationPayload) error {
	return c.do(ctx, http.MethodPost, "/notification", p, nil)
}

func (c *Client) ListActive(ctx context.Context) ([]session.Session, error) {
	return getData[[]session.Session](ctx, c, http.MethodGet, "/api/sessions", nil)
}

func (c *Client) ListArchived(ctx context.Context) ([]session.Session, error) {
	return getData[[]session.Session](ctx, c, http.MethodGet, "/api/sessions/archived", nil)
}

func (c *Client) Get(ctx context.Context, name string) (*session.Session, error) {
	return getData[*session.Session](ctx, c, http.MethodGet, sessionPath(name), nil)
}

// History returns up to limit transitions, newest first. A non-positive limit
// uses the agent's default.
func (c *Client) History(ctx context.Context, name string, limit int) ([]session.HistoryEntry, error) {
	path := sessionPath(name, "history")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	return getData[[]session.HistoryEntry](ctx, c, http.MethodGet, path, nil)
}

func (c *Client) Archive(ctx context.Context, name string) (*session.Session, error) {
	return getData[*session.Session](ctx, c, http.MethodPost, sessionPath(name, "archive"), nil)
}

func (c *Client) Unarchive(ctx context.Context, name string) (*session.Session, error) {
	return getData[*session.Session](ctx, c, http.MethodPost, sessionPath(name, "unarchive"), nil)
}

func (c *Client) Delete(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(name), nil, nil)
}

type worktreeRequest struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
}

func (c *Client) SetWorktree(ctx context.Context, name, path, branch string) (*session.Session, error) {
	return getData[*session.Session](ctx, c, http.MethodPut, sessionPath(name, "worktree"), worktreeRequest{Path: path, Branch: branch})
}

func (c *Client) ClearWorktree(ctx context.Context, name string) (*session.Session, error) {
	return getData[*session.Session](ctx, c, http.MethodDelete, sessionPath(name, "worktree"), nil)
}

// SweepResult mirrors the agent's retention sweep counts.
type SweepResult struct {
	Sessions int `json:"sessions"`
	History  int `json:"history"`
}

func (c *Client) Sweep(ctx context.Context) (SweepResult, error) {
	return getData[SweepResult](ctx, c, http.MethodPost, "/api/maintenance/sweep", nil)
}

// Subscribe opens the agent's event stream. The channel closes when ctx is
// cancelled or the connection drops; callers refetch state and resubscribe.
func (c *Client) Subscribe(ctx context.Context) (<-chan notifications.Event, error) {
	wsURL, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return nil, err
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}

	events := make(chan notifications.Event, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var ev notifications.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
