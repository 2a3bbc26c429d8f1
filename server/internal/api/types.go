package api

import (
	"github.com/tubedrift/tubedrift/pkg/types"
	"github.com/tubedrift/tubedrift/server/internal/dispatch"
	"github.com/tubedrift/tubedrift/server/internal/view"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status         string `json:"status"`
	Connections    int    `json:"connections"`
	PolledSessions int    `json:"polled_sessions"`
	CacheEntries   int    `json:"cache_entries"`
}

// SearchResponse is the payload for GET /api/v1/search and
// GET /api/v1/tags/{tag}.
type SearchResponse struct {
	ID    string             `json:"id"`
	Kind  dispatch.Kind      `json:"kind"`
	Query string             `json:"query"`
	Items []types.ResultItem `json:"items"`
	Words []view.WordCount   `json:"words"`
}

// ChannelResponse is the payload for GET /api/v1/channels/{id}.
type ChannelResponse struct {
	Channel types.ChannelInfo  `json:"channel"`
	Videos  []types.ResultItem `json:"videos"`
}

// DescriptionResponse is the payload for GET /api/v1/videos/{id}/description.
type DescriptionResponse struct {
	VideoID     string `json:"video_id"`
	Description string `json:"description"`
}

// SessionResponse is one entry of GET /api/v1/sessions.
type SessionResponse struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
	Poller    string `json:"poller"`
	Records   int    `json:"records"`
}

// RefreshResponse is the payload for POST /api/v1/sessions/{id}/refresh.
type RefreshResponse struct {
	SessionID string `json:"session_id"`
	Changed   bool   `json:"changed"`
}

// errorResponse is returned for all 4xx/5xx responses.
type errorResponse struct {
	Error string          `json:"error"`
	Code  types.ErrorCode `json:"code,omitempty"`
}
