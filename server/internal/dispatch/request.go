package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/tubedrift/tubedrift/pkg/types"
)

// Kind selects what a request looks up.
type Kind string

const (
	KindQuery   Kind = "QUERY"
	KindChannel Kind = "CHANNEL"
	KindTag     Kind = "TAG"
)

// ParseKind accepts the wire spellings query, channel and tag in any case.
// An empty string is a query.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(KindQuery):
		return KindQuery, nil
	case string(KindChannel):
		return KindChannel, nil
	case string(KindTag):
		return KindTag, nil
	}
	return "", fmt.Errorf("dispatch: unknown request kind %q: %w", s, types.ErrInvalidRequest)
}

// recordKind maps a request kind to the cache namespace its results live in.
func (k Kind) recordKind() types.Kind {
	switch k {
	case KindChannel:
		return types.KindChannel
	case KindTag:
		return types.KindTag
	default:
		return types.KindVideo
	}
}

// Params tune a request without changing what is fetched or cached.
type Params struct {
	// Limit caps the number of items returned. Zero means no cap.
	Limit int `json:"limit,omitempty"`
}

// Request is one lookup submitted to the Dispatcher.
type Request struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Payload   string `json:"payload"`
	Params    Params `json:"params"`
	SessionID string `json:"session_id,omitempty"`
}

// ErrorPayload is the typed failure carried by a Response.
type ErrorPayload struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

// Response is the kind-tagged answer to one Request.
type Response struct {
	ID      string             `json:"id"`
	Kind    Kind               `json:"kind"`
	Query   string             `json:"query"`
	Items   []types.ResultItem `json:"items,omitempty"`
	Channel *types.ChannelInfo `json:"channel,omitempty"`
	Error   *ErrorPayload      `json:"error,omitempty"`

	// all is Items before Params.Limit was applied.
	all []types.ResultItem
}

// OK reports whether the response carries a result rather than an error.
func (r Response) OK() bool { return r.Error == nil }

// Record converts a successful response into the search record a session
// history tracks. The record holds every fetched item regardless of any
// limit the request asked for.
func (r Response) Record(at time.Time) (types.SearchRecord, bool) {
	if !r.OK() {
		return types.SearchRecord{}, false
	}
	results := r.all
	if results == nil {
		results = r.Items
	}
	return types.SearchRecord{
		Query:     r.Query,
		Kind:      r.Kind.recordKind(),
		Results:   append([]types.ResultItem{}, results...),
		UpdatedAt: at,
	}, true
}

func errorResponse(req Request, err error) Response {
	return Response{
		ID:    req.ID,
		Kind:  req.Kind,
		Query: req.Payload,
		Error: &ErrorPayload{Code: types.Code(err), Message: err.Error()},
	}
}

func limitItems(items []types.ResultItem, limit int) []types.ResultItem {
	if limit <= 0 || limit >= len(items) {
		return append([]types.ResultItem{}, items...)
	}
	return append([]types.ResultItem{}, items[:limit]...)
}
