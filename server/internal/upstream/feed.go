package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/tubedrift/tubedrift/pkg/types"
)

// FeedProvider lists a channel's videos from its Atom/RSS feed and delegates
// every other call to the wrapped Provider.
type FeedProvider struct {
	Provider
	urlFormat string
	parser    *gofeed.Parser
}

var _ Provider = (*FeedProvider)(nil)

// NewFeedProvider wraps base. urlFormat holds one %s for the channel id.
func NewFeedProvider(base Provider, urlFormat string, timeout time.Duration) *FeedProvider {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	parser.UserAgent = "tubedrift"
	return &FeedProvider{Provider: base, urlFormat: urlFormat, parser: parser}
}

// FetchVideosByChannel parses the channel feed, newest entries first as the
// feed orders them.
func (p *FeedProvider) FetchVideosByChannel(ctx context.Context, channelID string) ([]types.ResultItem, error) {
	u := fmt.Sprintf(p.urlFormat, url.QueryEscape(channelID))
	feed, err := p.parser.ParseURLWithContext(u, ctx)
	if err != nil {
		return nil, feedErr(ctx, channelID, err)
	}

	items := make([]types.ResultItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		items = append(items, feedItem(it, channelID))
	}
	return items, nil
}

func feedItem(it *gofeed.Item, channelID string) types.ResultItem {
	out := types.ResultItem{
		ID:        ytValue(it, "videoId"),
		URL:       it.Link,
		Title:     it.Title,
		ChannelID: ytValue(it, "channelId"),
	}
	if out.ID == "" {
		out.ID = strings.TrimPrefix(it.GUID, "yt:video:")
	}
	if out.ChannelID == "" {
		out.ChannelID = channelID
	}
	if it.PublishedParsed != nil {
		out.PublishedAt = *it.PublishedParsed
	} else if it.UpdatedParsed != nil {
		out.PublishedAt = *it.UpdatedParsed
	}

	out.Description = it.Description
	if it.Image != nil {
		out.Thumbnail = it.Image.URL
	}
	// YouTube puts the description and thumbnail under media:group.
	if groups := it.Extensions["media"]["group"]; len(groups) > 0 {
		g := groups[0]
		if d := g.Children["description"]; len(d) > 0 && out.Description == "" {
			out.Description = d[0].Value
		}
		if th := g.Children["thumbnail"]; len(th) > 0 && out.Thumbnail == "" {
			out.Thumbnail = th[0].Attrs["url"]
		}
	}
	return out
}

func ytValue(it *gofeed.Item, name string) string {
	if vals := it.Extensions["yt"][name]; len(vals) > 0 {
		return strings.TrimSpace(vals[0].Value)
	}
	return ""
}

func feedErr(ctx context.Context, channelID string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("upstream: feed %s: %w", channelID, ctx.Err())
	}
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("upstream: feed %s: %w", channelID, types.ErrNotFound)
	}
	return fmt.Errorf("upstream: feed %s: %v: %w", channelID, err, types.ErrUpstream)
}
