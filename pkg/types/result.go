package types

import "time"

// ResultItem is one video returned by the upstream provider.
//
// ID and URL are the identity fields. Everything else is display content and
// does not take part in change detection.
type ResultItem struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	ChannelID   string    `json:"channel_id,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// IdentityKey returns the stable key used to compare results across poll
// cycles: the ID, or the URL when the provider returned no ID.
func (r ResultItem) IdentityKey() string {
	if r.ID != "" {
		return r.ID
	}
	return r.URL
}

// IdentityKeys returns the ordered identity keys of items.
func IdentityKeys(items []ResultItem) []string {
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.IdentityKey()
	}
	return keys
}

// SameIdentity reports whether a and b carry the same identity keys in the
// same order. A reorder or a length change is a difference; title or
// description edits are not.
func SameIdentity(a, b []ResultItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].IdentityKey() != b[i].IdentityKey() {
			return false
		}
	}
	return true
}

// Sentiment is an optional tag attached to a search record by whoever
// classifies it. tubedrift stores and returns it but never sets it.
type Sentiment string

// SearchRecord is one query a session issued together with the last results
// seen for it.
type SearchRecord struct {
	Query     string       `json:"query"`
	Kind      Kind         `json:"kind"`
	Results   []ResultItem `json:"results"`
	Sentiment Sentiment    `json:"sentiment,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// QueryKind returns the namespace the record's query was issued under.
// Records created before kinds were tracked default to KindVideo.
func (r SearchRecord) QueryKind() Kind {
	if r.Kind == "" {
		return KindVideo
	}
	return r.Kind
}

// Key returns the cache key holding this record's results.
func (r SearchRecord) Key() string {
	return r.QueryKind().Key(r.Query)
}

// CacheRefs lists the cache slots a record's query may live under. A bare
// query could have been issued as a video search or as a channel lookup, so
// both namespaces are listed.
func (r SearchRecord) CacheRefs() []Ref {
	refs := []Ref{
		{Kind: KindVideo, ID: r.Query},
		{Kind: KindChannel, ID: r.Query},
	}
	if r.Kind == KindTag {
		refs = append(refs, Ref{Kind: KindTag, ID: r.Query})
	}
	return refs
}

// Clone returns a deep copy of r.
func (r SearchRecord) Clone() SearchRecord {
	out := r
	if r.Results != nil {
		out.Results = append([]ResultItem(nil), r.Results...)
	}
	return out
}

// CloneRecords deep-copies a record list. A nil input yields an empty,
// non-nil slice so JSON encoders emit [] rather than null.
func CloneRecords(records []SearchRecord) []SearchRecord {
	out := make([]SearchRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// ChannelInfo is the metadata of one upstream channel.
type ChannelInfo struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Thumbnail       string `json:"thumbnail,omitempty"`
	SubscriberCount int64  `json:"subscriber_count"`
	VideoCount      int64  `json:"video_count"`
}

// CacheRefs lists the cache slot holding this channel's metadata.
func (c ChannelInfo) CacheRefs() []Ref {
	return []Ref{{Kind: KindChannelInfo, ID: c.ID}}
}

// VideoDetail is the full metadata of one video.
type VideoDetail struct {
	ResultItem
	Tags      []string      `json:"tags,omitempty"`
	Duration  time.Duration `json:"duration"`
	ViewCount int64         `json:"view_count"`
	LikeCount int64         `json:"like_count"`
}

// CacheRefs lists the cache slot holding this video's detail.
func (v VideoDetail) CacheRefs() []Ref {
	return []Ref{{Kind: KindVideoDetail, ID: v.ID}}
}
