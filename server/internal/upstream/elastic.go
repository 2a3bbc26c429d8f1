package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/tubedrift/tubedrift/pkg/types"
	"github.com/tubedrift/tubedrift/server/internal/config"
)

// defaultSearchSize is the number of hits requested per search.
const defaultSearchSize = 25

// ElasticProvider serves videos and channels from two Elasticsearch indices
// populated by an external ingester.
type ElasticProvider struct {
	es           *elasticsearch.Client
	videoIndex   string
	channelIndex string
}

var _ Provider = (*ElasticProvider)(nil)

// videoDoc is the stored shape of one video document.
type videoDoc struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Thumbnail       string    `json:"thumbnail"`
	ChannelID       string    `json:"channel_id"`
	PublishedAt     time.Time `json:"published_at"`
	Tags            []string  `json:"tags"`
	DurationSeconds int64     `json:"duration_seconds"`
	ViewCount       int64     `json:"view_count"`
	LikeCount       int64     `json:"like_count"`
}

func (d videoDoc) item() types.ResultItem {
	return types.ResultItem{
		ID:          d.ID,
		URL:         d.URL,
		Title:       d.Title,
		Description: d.Description,
		Thumbnail:   d.Thumbnail,
		ChannelID:   d.ChannelID,
		PublishedAt: d.PublishedAt,
	}
}

func (d videoDoc) detail() types.VideoDetail {
	return types.VideoDetail{
		ResultItem: d.item(),
		Tags:       d.Tags,
		Duration:   time.Duration(d.DurationSeconds) * time.Second,
		ViewCount:  d.ViewCount,
		LikeCount:  d.LikeCount,
	}
}

// NewElasticProvider instantiates the Elasticsearch client.
func NewElasticProvider(cfg config.UpstreamConfig) (*ElasticProvider, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Elasticsearch.Addresses,
		Username:  cfg.Elasticsearch.Username,
		Password:  cfg.Elasticsearch.Password(),
	})
	if err != nil {
		return nil, fmt.Errorf("upstream: create elasticsearch client: %w", err)
	}
	return &ElasticProvider{
		es:           es,
		videoIndex:   cfg.Elasticsearch.VideoIndex,
		channelIndex: cfg.Elasticsearch.ChannelIndex,
	}, nil
}

func (p *ElasticProvider) FetchVideosByQuery(ctx context.Context, query string) ([]types.ResultItem, error) {
	return p.searchVideos(ctx, map[string]any{
		"size": defaultSearchSize,
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  query,
				"fields": []string{"title^2", "description", "tags"},
			},
		},
	})
}

func (p *ElasticProvider) FetchVideosByChannel(ctx context.Context, channelID string) ([]types.ResultItem, error) {
	return p.searchVideos(ctx, map[string]any{
		"size": defaultSearchSize,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []map[string]any{
					{"term": map[string]any{"channel_id": channelID}},
				},
			},
		},
		"sort": []map[string]any{
			{"published_at": map[string]any{"order": "desc"}},
		},
	})
}

func (p *ElasticProvider) FetchChannelMetadata(ctx context.Context, channelID string) (types.ChannelInfo, error) {
	var info types.ChannelInfo
	if err := p.getDoc(ctx, p.channelIndex, channelID, &info); err != nil {
		return types.ChannelInfo{}, err
	}
	if info.ID == "" {
		info.ID = channelID
	}
	return info, nil
}

func (p *ElasticProvider) FetchVideoMetadata(ctx context.Context, videoID string) (types.VideoDetail, error) {
	var doc videoDoc
	if err := p.getDoc(ctx, p.videoIndex, videoID, &doc); err != nil {
		return types.VideoDetail{}, err
	}
	if doc.ID == "" {
		doc.ID = videoID
	}
	return doc.detail(), nil
}

func (p *ElasticProvider) FetchDescription(ctx context.Context, videoID string) (string, error) {
	detail, err := p.FetchVideoMetadata(ctx, videoID)
	if err != nil {
		return "", err
	}
	return detail.Description, nil
}

func (p *ElasticProvider) searchVideos(ctx context.Context, body map[string]any) ([]types.ResultItem, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("upstream: marshal search body: %v: %w", err, types.ErrInternal)
	}

	res, err := p.es.Search(
		p.es.Search.WithContext(ctx),
		p.es.Search.WithIndex(p.videoIndex),
		p.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, transportErr(ctx, "search", err)
	}
	defer res.Body.Close()

	if err := responseErr("search", res); err != nil {
		return nil, err
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string   `json:"_id"`
				Source videoDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("upstream: decode search response: %v: %w", err, types.ErrUpstream)
	}

	items := make([]types.ResultItem, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		doc := hit.Source
		if doc.ID == "" {
			doc.ID = hit.ID
		}
		items = append(items, doc.item())
	}
	return items, nil
}

func (p *ElasticProvider) getDoc(ctx context.Context, index, id string, out any) error {
	res, err := p.es.Get(index, id, p.es.Get.WithContext(ctx))
	if err != nil {
		return transportErr(ctx, "get "+index, err)
	}
	defer res.Body.Close()

	if err := responseErr("get "+index+"/"+id, res); err != nil {
		return err
	}

	var parsed struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("upstream: decode %s/%s: %v: %w", index, id, err, types.ErrUpstream)
	}
	if !parsed.Found {
		return fmt.Errorf("upstream: %s/%s: %w", index, id, types.ErrNotFound)
	}
	if err := json.Unmarshal(parsed.Source, out); err != nil {
		return fmt.Errorf("upstream: decode %s/%s source: %v: %w", index, id, err, types.ErrUpstream)
	}
	return nil
}

func transportErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("upstream: elasticsearch %s: %w", op, ctx.Err())
	}
	return fmt.Errorf("upstream: elasticsearch %s: %v: %w", op, err, types.ErrUpstream)
}

func responseErr(op string, res *esapi.Response) error {
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("upstream: elasticsearch %s: %w", op, types.ErrNotFound)
	}
	if res.IsError() {
		data, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return fmt.Errorf("upstream: elasticsearch %s failed: %s: %w",
			op, strings.TrimSpace(string(data)), types.ErrUpstream)
	}
	return nil
}
