package types

import (
	"fmt"
	"strings"
)

// KeySeparator joins a kind and an identifier into a cache key.
const KeySeparator = ":::"

// Kind is a cache key namespace. Namespacing keeps identical literal text used
// for, say, a video query and a channel lookup from colliding.
type Kind string

const (
	KindVideo       Kind = "video"
	KindChannel     Kind = "channel"
	KindChannelInfo Kind = "channelInfo"
	KindDescription Kind = "description"
	KindVideoDetail Kind = "videoDetail"
	KindTag         Kind = "tag"
)

// Kinds lists every known namespace.
var Kinds = []Kind{KindVideo, KindChannel, KindChannelInfo, KindDescription, KindVideoDetail, KindTag}

// Valid reports whether k is a known namespace.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Key builds the cache key "<kind>:::<id>".
func (k Kind) Key(id string) string {
	return string(k) + KeySeparator + id
}

// ParseKey splits a cache key into its namespace and identifier.
func ParseKey(key string) (Kind, string, error) {
	kind, id, ok := strings.Cut(key, KeySeparator)
	if !ok {
		return "", "", fmt.Errorf("cache key %q: missing %q separator", key, KeySeparator)
	}
	if !Kind(kind).Valid() {
		return "", "", fmt.Errorf("cache key %q: unknown kind %q", key, kind)
	}
	return Kind(kind), id, nil
}

// Ref names one cache slot.
type Ref struct {
	Kind Kind
	ID   string
}

// Key returns the cache key for r.
func (r Ref) Key() string {
	return r.Kind.Key(r.ID)
}

// DescriptionRef names the cache slot holding a video's description.
func DescriptionRef(videoID string) Ref {
	return Ref{Kind: KindDescription, ID: videoID}
}
