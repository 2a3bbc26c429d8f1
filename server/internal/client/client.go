// Package client is a small Go client for the tubedrift REST API.
package client

import (
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

	"github.com/tubedrift/tubedrift/pkg/types"
	"github.com/tubedrift/tubedrift/server/internal/api"
	"github.com/tubedrift/tubedrift/server/internal/view"
)

// DefaultTimeout bounds one API call when New is given zero.
const DefaultTimeout = 60 * time.Second

// APIError is a non-2xx answer from the server. It unwraps to the matching
// types sentinel, so errors.Is(err, types.ErrNotFound) works on it.
type APIError struct {
	Status  int
	Code    types.ErrorCode
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tubedrift api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("tubedrift api: %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case types.CodeNotFound:
		return types.ErrNotFound
	case types.CodeUpstream:
		return types.ErrUpstream
	case types.CodeInvalid:
		return types.ErrInvalidRequest
	case types.CodeInternal:
		return types.ErrInternal
	}
	if e.Status == http.StatusNotFound {
		return types.ErrNotFound
	}
	return nil
}

// Client calls one tubedrift server.
type Client struct {
	base   *url.URL
	http   *http.Client
	header string
	key    string
}

// New returns a Client for baseURL. When key is non-empty it is sent in
// header on every request.
func New(baseURL, header, key string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse server url %q: %w", baseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("client: server url %q: scheme must be http or https", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base:   base,
		http:   &http.Client{Timeout: timeout},
		header: header,
		key:    key,
	}, nil
}

func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var out api.HealthResponse
	return out, c.do(ctx, http.MethodGet, nil, &out, "api", "v1", "health")
}

func (c *Client) Search(ctx context.Context, query string, limit int) (api.SearchResponse, error) {
	q := limitQuery(limit)
	q.Set("q", query)
	var out api.SearchResponse
	return out, c.do(ctx, http.MethodGet, q, &out, "api", "v1", "search")
}

func (c *Client) Tag(ctx context.Context, tag string, limit int) (api.SearchResponse, error) {
	var out api.SearchResponse
	return out, c.do(ctx, http.MethodGet, limitQuery(limit), &out, "api", "v1", "tags", strings.TrimPrefix(tag, "#"))
}

func (c *Client) Channel(ctx context.Context, channelID string, limit int) (api.ChannelResponse, error) {
	var out api.ChannelResponse
	return out, c.do(ctx, http.MethodGet, limitQuery(limit), &out, "api", "v1", "channels", channelID)
}

func (c *Client) Video(ctx context.Context, videoID string) (types.VideoDetail, error) {
	var out types.VideoDetail
	return out, c.do(ctx, http.MethodGet, nil, &out, "api", "v1", "videos", videoID)
}

func (c *Client) Description(ctx context.Context, videoID string) (api.DescriptionResponse, error) {
	var out api.DescriptionResponse
	return out, c.do(ctx, http.MethodGet, nil, &out, "api", "v1", "videos", videoID, "description")
}

func (c *Client) Sessions(ctx context.Context) ([]api.SessionResponse, error) {
	var out []api.SessionResponse
	return out, c.do(ctx, http.MethodGet, nil, &out, "api", "v1", "sessions")
}

func (c *Client) History(ctx context.Context, sessionID string) (view.Result, error) {
	var out view.Result
	return out, c.do(ctx, http.MethodGet, nil, &out, "api", "v1", "sessions", sessionID, "history")
}

func (c *Client) Refresh(ctx context.Context, sessionID string) (api.RefreshResponse, error) {
	var out api.RefreshResponse
	return out, c.do(ctx, http.MethodPost, nil, &out, "api", "v1", "sessions", sessionID, "refresh")
}

func (c *Client) do(ctx context.Context, method string, query url.Values, out any, segments ...string) error {
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = url.PathEscape(seg)
	}
	u := c.base.JoinPath(escaped...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.key != "" {
		req.Header.Set(c.header, c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: %s %s: decode response: %w", method, u.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{Status: resp.StatusCode}
	var payload struct {
		Error string          `json:"error"`
		Code  types.ErrorCode `json:"code"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Code = payload.Code
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func limitQuery(limit int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

// IsNotFound reports whether err is a not-found answer from the server.
func IsNotFound(err error) bool { return errors.Is(err, types.ErrNotFound) }
