package upstream

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/tubedrift/tubedrift/pkg/types"
)

// Limited wraps a Provider with a process-wide token bucket so that bursts
// of cache misses and poll cycles cannot exceed the provider's quota.
type Limited struct {
	next    Provider
	limiter *rate.Limiter
}

var _ Provider = (*Limited)(nil)

// NewLimited allows perMinute calls per minute with the given burst.
func NewLimited(next Provider, perMinute, burst int) *Limited {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (l *Limited) wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("upstream: rate limit wait: %w", ctx.Err())
		}
		// The wait would outlast ctx's deadline.
		return fmt.Errorf("upstream: rate limited: %v: %w", err, types.ErrUpstream)
	}
	return nil
}

func (l *Limited) FetchVideosByQuery(ctx context.Context, query string) ([]types.ResultItem, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.next.FetchVideosByQuery(ctx, query)
}

func (l *Limited) FetchVideosByChannel(ctx context.Context, channelID string) ([]types.ResultItem, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.next.FetchVideosByChannel(ctx, channelID)
}

func (l *Limited) FetchChannelMetadata(ctx context.Context, channelID string) (types.ChannelInfo, error) {
	if err := l.wait(ctx); err != nil {
		return types.ChannelInfo{}, err
	}
	return l.next.FetchChannelMetadata(ctx, channelID)
}

func (l *Limited) FetchVideoMetadata(ctx context.Context, videoID string) (types.VideoDetail, error) {
	if err := l.wait(ctx); err != nil {
		return types.VideoDetail{}, err
	}
	return l.next.FetchVideoMetadata(ctx, videoID)
}

func (l *Limited) FetchDescription(ctx context.Context, videoID string) (string, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	return l.next.FetchDescription(ctx, videoID)
}
