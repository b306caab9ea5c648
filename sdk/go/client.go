package sdk

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

	"rewardkit/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the rewardkit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// TrackEvent submits an event for evaluation and returns what the engine did with it.
func (c *Client) TrackEvent(ctx context.Context, ev Event) (EvaluationResult, error) {
	return c.postEvent(ctx, "/events", ev)
}

// Simulate evaluates an event without persisting anything.
func (c *Client) Simulate(ctx context.Context, ev Event) (EvaluationResult, error) {
	return c.postEvent(ctx, "/events/simulate", ev)
}

func (c *Client) postEvent(ctx context.Context, path string, ev Event) (EvaluationResult, error) {
	if strings.TrimSpace(ev.UserID) == "" {
		return EvaluationResult{}, ErrEmptyUserID
	}
	if strings.TrimSpace(ev.Type) == "" {
		return EvaluationResult{}, ErrEmptyEventType
	}
	var res EvaluationResult
	err := c.do(ctx, http.MethodPost, c.baseURL+path, ev, &res)
	return res, err
}

// GetUser fetches the current reward state for a user.
func (c *Client) GetUser(ctx context.Context, userID string) (UserState, error) {
	if strings.TrimSpace(userID) == "" {
		return UserState{}, ErrEmptyUserID
	}
	var st UserState
	err := c.do(ctx, http.MethodGet, c.userURL(userID), nil, &st)
	return st, err
}

// GetWallet fetches a user's wallet for a spendable category.
func (c *Client) GetWallet(ctx context.Context, userID, category string) (Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return Wallet{}, ErrEmptyUserID
	}
	var w Wallet
	err := c.do(ctx, http.MethodGet, c.userURL(userID)+"/wallets/"+url.PathEscape(category), nil, &w)
	return w, err
}

// ListTransactions pages through a wallet's transactions, newest first.
func (c *Client) ListTransactions(ctx context.Context, userID, category string, limit, offset int) ([]Transaction, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	var body struct {
		Transactions []Transaction `json:"transactions"`
	}
	u := pageURL(c.userURL(userID)+"/wallets/"+url.PathEscape(category)+"/transactions", limit, offset)
	err := c.do(ctx, http.MethodGet, u, nil, &body)
	return body.Transactions, err
}

// ListHistory pages through a user's reward history, newest first.
func (c *Client) ListHistory(ctx context.Context, userID string, limit, offset int) ([]HistoryEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	var body struct {
		History []HistoryEntry `json:"history"`
	}
	err := c.do(ctx, http.MethodGet, pageURL(c.userURL(userID)+"/history", limit, offset), nil, &body)
	return body.History, err
}

// GetTransfer looks up a wallet transfer by id.
func (c *Client) GetTransfer(ctx context.Context, id string) (Transfer, error) {
	var t Transfer
	err := c.do(ctx, http.MethodGet, c.baseURL+"/transfers/"+url.PathEscape(id), nil, &t)
	return t, err
}

// Health calls /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	err := c.do(ctx, http.MethodGet, c.baseURL+"/healthz", nil, &hs)
	return hs, err
}

// SubscribeOptions narrows the WebSocket stream.
type SubscribeOptions struct {
	UserID string
	Types  []core.DomainEventType
}

// SubscribeEvents connects to the WebSocket stream and emits core.DomainEvent values.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, opts SubscribeOptions) (<-chan core.DomainEvent, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if opts.UserID != "" {
		q.Set("user", opts.UserID)
	}
	if len(opts.Types) > 0 {
		types := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = string(t)
		}
		q.Set("types", strings.Join(types, ","))
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.DomainEvent, 32)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var evt core.DomainEvent
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

func (c *Client) userURL(userID string) string {
	return fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(userID))
}

func pageURL(base string, limit, offset int) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if len(q) == 0 {
		return base
	}
	return base + "?" + q.Encode()
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
