package upstream

import (
	"context"
	"fmt"

	"github.com/tubedrift/tubedrift/pkg/types"
	"github.com/tubedrift/tubedrift/server/internal/config"
)

// Provider is the external search/metadata API.
type Provider interface {
	FetchVideosByQuery(ctx context.Context, query string) ([]types.ResultItem, error)
	FetchVideosByChannel(ctx context.Context, channelID string) ([]types.ResultItem, error)
	FetchChannelMetadata(ctx context.Context, channelID string) (types.ChannelInfo, error)
	FetchVideoMetadata(ctx context.Context, videoID string) (types.VideoDetail, error)
	FetchDescription(ctx context.Context, videoID string) (string, error)
}

// New returns the Provider selected by cfg.Backend, rate limited per cfg.
func New(cfg config.UpstreamConfig) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Backend {
	case "http", "":
		p, err = NewHTTPProvider(cfg)
	case "elasticsearch":
		p, err = NewElasticProvider(cfg)
	default:
		return nil, fmt.Errorf("upstream: unsupported backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if cfg.ChannelFeedURL != "" {
		p = NewFeedProvider(p, cfg.ChannelFeedURL, cfg.Timeout)
	}
	return NewLimited(p, cfg.RatePerMinute, cfg.Burst), nil
}

// Funcs is a Provider built from plain functions. A nil field answers with
// types.ErrNotFound.
type Funcs struct {
	VideosByQuery   func(ctx context.Context, query string) ([]types.ResultItem, error)
	VideosByChannel func(ctx context.Context, channelID string) ([]types.ResultItem, error)
	ChannelMetadata func(ctx context.Context, channelID string) (types.ChannelInfo, error)
	VideoMetadata   func(ctx context.Context, videoID string) (types.VideoDetail, error)
	Description     func(ctx context.Context, videoID string) (string, error)
}

var _ Provider = Funcs{}

func (f Funcs) FetchVideosByQuery(ctx context.Context, query string) ([]types.ResultItem, error) {
	if f.VideosByQuery == nil {
		return nil, notFound("videos for query", query)
	}
	return f.VideosByQuery(ctx, query)
}

func (f Funcs) FetchVideosByChannel(ctx context.Context, channelID string) ([]types.ResultItem, error) {
	if f.VideosByChannel == nil {
		return nil, notFound("videos for channel", channelID)
	}
	return f.VideosByChannel(ctx, channelID)
}

func (f Funcs) FetchChannelMetadata(ctx context.Context, channelID string) (types.ChannelInfo, error) {
	if f.ChannelMetadata == nil {
		return types.ChannelInfo{}, notFound("channel", channelID)
	}
	return f.ChannelMetadata(ctx, channelID)
}

func (f Funcs) FetchVideoMetadata(ctx context.Context, videoID string) (types.VideoDetail, error) {
	if f.VideoMetadata == nil {
		return types.VideoDetail{}, notFound("video", videoID)
	}
	return f.VideoMetadata(ctx, videoID)
}

func (f Funcs) FetchDescription(ctx context.Context, videoID string) (string, error) {
	if f.Description == nil {
		return "", notFound("description", videoID)
	}
	return f.Description(ctx, videoID)
}

func notFound(what, id string) error {
	return fmt.Errorf("upstream: %s %q: %w", what, id, types.ErrNotFound)
}
