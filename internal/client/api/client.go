// Package api is the REST client for message history, read receipts and
// session endpoints.
package api

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

	"github.com/rs/zerolog"

	"github.com/engly817chat/engly-client/internal/client/credentials"
	"github.com/engly817chat/engly-client/internal/core"
	englylog "github.com/engly817chat/engly-client/internal/log"
	"github.com/engly817chat/engly-client/internal/proto"
)

const defaultTimeout = 10 * time.Second

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

// Client talks to the chat REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     credentials.TokenSource
	log        *zerolog.Logger
	now        func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Client) { c.log = englylog.OrNop(logger) }
}

// New returns a client for baseURL. tokens may be nil for anonymous access.
func New(baseURL string, tokens credentials.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		tokens:     tokens,
		log:        englylog.OrNop(nil),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPage loads one history page. Page 0 holds the oldest messages.
func (c *Client) FetchPage(ctx context.Context, roomID string, page, size int) (core.Page, error) {
	q := url.Values{}
	q.Set("room", roomID)
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var resp proto.PageResponse
	if err := c.do(ctx, http.MethodGet, "/messages?"+q.Encode(), nil, &resp); err != nil {
		return core.Page{}, err
	}
	return proto.PageToCore(resp, roomID, c.now()), nil
}

// Readers returns who has read messageID.
func (c *Client) Readers(ctx context.Context, messageID string) ([]core.Reader, error) {
	var resp []proto.ReaderPayload
	if err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(messageID)+"/readers", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]core.Reader, 0, len(resp))
	for _, r := range resp {
		out = append(out, proto.ReaderToCore(r))
	}
	return out, nil
}

// Register creates an account and returns its token.
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	return c.authenticate(ctx, "/api/register", username, password)
}

// Login returns a token for existing credentials.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	return c.authenticate(ctx, "/api/login", username, password)
}

func (c *Client) authenticate(ctx context.Context, path, username, password string) (string, error) {
	var resp proto.AuthResponse
	body := proto.Credentials{Username: username, Password: password}
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%s: empty token in response", path)
	}
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("get token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			se.Message = payload.Error
		} else {
			se.Message = strings.TrimSpace(string(data))
		}
		c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("api request failed")
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
