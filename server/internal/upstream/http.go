package upstream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tubedrift/tubedrift/pkg/types"
	"github.com/tubedrift/tubedrift/server/internal/config"
)

// maxErrorBody caps how much of a failed response is quoted in an error.
const maxErrorBody = 512

// HTTPProvider talks to a JSON search/metadata API:
//
//	GET {endpoint}/search?q={query}          → {"items": [ResultItem]}
//	GET {endpoint}/channels/{id}/videos      → {"items": [ResultItem]}
//	GET {endpoint}/channels/{id}             → ChannelInfo
//	GET {endpoint}/videos/{id}               → VideoDetail
//	GET {endpoint}/videos/{id}/description   → {"description": "..."}
type HTTPProvider struct {
	base   *url.URL
	client *http.Client
}

var _ Provider = (*HTTPProvider)(nil)

type itemsResponse struct {
	Items []types.ResultItem `json:"items"`
}

type descriptionResponse struct {
	Description string `json:"description"`
}

// NewHTTPProvider builds the HTTP client once and reuses it across calls.
func NewHTTPProvider(cfg config.UpstreamConfig) (*HTTPProvider, error) {
	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("upstream: parse endpoint %q: %w", cfg.Endpoint, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream: endpoint %q: scheme must be http or https", cfg.Endpoint)
	}
	return &HTTPProvider{base: base, client: buildHTTPClient(cfg)}, nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.UpstreamAuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.EffectiveHeader(), t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the provider's auth and TLS settings.
func buildHTTPClient(cfg config.UpstreamConfig) *http.Client {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg},
			auth: cfg.Auth,
		},
		Timeout: cfg.Timeout,
	}
}

func (p *HTTPProvider) FetchVideosByQuery(ctx context.Context, query string) ([]types.ResultItem, error) {
	var resp itemsResponse
	if err := p.get(ctx, url.Values{"q": {query}}, &resp, "search"); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (p *HTTPProvider) FetchVideosByChannel(ctx context.Context, channelID string) ([]types.ResultItem, error) {
	var resp itemsResponse
	if err := p.get(ctx, nil, &resp, "channels", channelID, "videos"); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (p *HTTPProvider) FetchChannelMetadata(ctx context.Context, channelID string) (types.ChannelInfo, error) {
	var info types.ChannelInfo
	if err := p.get(ctx, nil, &info, "channels", channelID); err != nil {
		return types.ChannelInfo{}, err
	}
	if info.ID == "" {
		info.ID = channelID
	}
	return info, nil
}

func (p *HTTPProvider) FetchVideoMetadata(ctx context.Context, videoID string) (types.VideoDetail, error) {
	var detail types.VideoDetail
	if err := p.get(ctx, nil, &detail, "videos", videoID); err != nil {
		return types.VideoDetail{}, err
	}
	if detail.ID == "" {
		detail.ID = videoID
	}
	return detail, nil
}

func (p *HTTPProvider) FetchDescription(ctx context.Context, videoID string) (string, error) {
	var resp descriptionResponse
	if err := p.get(ctx, nil, &resp, "videos", videoID, "description"); err != nil {
		return "", err
	}
	return resp.Description, nil
}

// get performs GET {base}/{segments...}?{query} and decodes the JSON body
// into out.
func (p *HTTPProvider) get(ctx context.Context, query url.Values, out any, segments ...string) error {
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = url.PathEscape(seg)
	}
	u := p.base.JoinPath(escaped...)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("upstream: GET %s: %w", u.Path, ctx.Err())
		}
		return fmt.Errorf("upstream: GET %s: %v: %w", u.Path, err, types.ErrUpstream)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("upstream: GET %s: %w", u.Path, types.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("upstream: GET %s: status %d: %s: %w",
			u.Path, resp.StatusCode, strings.TrimSpace(string(body)), types.ErrUpstream)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("upstream: GET %s: decode response: %v: %w", u.Path, err, types.ErrUpstream)
	}
	return nil
}
