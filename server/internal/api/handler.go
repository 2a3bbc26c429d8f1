package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tubedrift/tubedrift/pkg/types"
	"github.com/tubedrift/tubedrift/server/internal/auth"
	"github.com/tubedrift/tubedrift/server/internal/cache"
	"github.com/tubedrift/tubedrift/server/internal/config"
	"github.com/tubedrift/tubedrift/server/internal/dispatch"
	"github.com/tubedrift/tubedrift/server/internal/history"
	"github.com/tubedrift/tubedrift/server/internal/poller"
	"github.com/tubedrift/tubedrift/server/internal/view"
)

// maxLimit caps the limit query parameter.
const maxLimit = 100

// Searcher answers lookups through the cache.
type Searcher interface {
	Do(ctx context.Context, req dispatch.Request) (dispatch.Response, error)
	Describe(ctx context.Context, videoID string) (string, error)
	VideoDetail(ctx context.Context, videoID string) (types.VideoDetail, error)
}

// Refresher runs and reports poll cycles.
type Refresher interface {
	PollNow(ctx context.Context, sessionID string) (bool, error)
	State(sessionID string) poller.State
	Active() []string
}

// Connections reports the sessions with open transport connections.
type Connections interface {
	Count() int
	Sessions() []string
}

// Deps wires the handler to the rest of the server.
type Deps struct {
	Searcher    Searcher
	History     *history.Store
	Refresher   Refresher
	Connections Connections
	Cache       *cache.Cache
	Metrics     http.Handler
	Auth        config.AuthConfig
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	deps   Deps
	router chi.Router
}

// New creates a Handler and registers all routes. Health and metrics are
// served without authentication.
func New(d Deps) http.Handler {
	h := &Handler{deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/api/v1/health", h.health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.HTTPMiddleware(d.Auth.Mode, d.Auth.EffectiveHeader(), d.Auth.Key()))

		r.Get("/api/v1/search", h.search)
		r.Get("/api/v1/tags/{tag}", h.tag)
		r.Get("/api/v1/channels/{id}", h.channel)
		r.Get("/api/v1/videos/{id}", h.video)
		r.Get("/api/v1/videos/{id}/description", h.description)
		r.Get("/api/v1/sessions", h.listSessions)
		r.Get("/api/v1/sessions/{id}/history", h.sessionHistory)
		r.Post("/api/v1/sessions/{id}/refresh", h.refresh)
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.deps.Connections != nil {
		resp.Connections = h.deps.Connections.Count()
	}
	if h.deps.Refresher != nil {
		resp.PolledSessions = len(h.deps.Refresher.Active())
	}
	if h.deps.Cache != nil {
		resp.CacheEntries = h.deps.Cache.Count()
	}
	jsonResp(w, http.StatusOK, resp)
}

// search returns GET /api/v1/search?q=&limit=.
func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	h.lookup(w, r, dispatch.KindQuery, r.URL.Query().Get("q"))
}

// tag returns GET /api/v1/tags/{tag}.
func (h *Handler) tag(w http.ResponseWriter, r *http.Request) {
	h.lookup(w, r, dispatch.KindTag, chi.URLParam(r, "tag"))
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request, kind dispatch.Kind, payload string) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	resp, ok := h.do(w, r, dispatch.Request{Kind: kind, Payload: payload, Params: dispatch.Params{Limit: limit}})
	if !ok {
		return
	}
	words := view.Build([]types.SearchRecord{{Query: resp.Query, Results: resp.Items}}, view.DefaultWordLimit).Words
	jsonResp(w, http.StatusOK, SearchResponse{
		ID:    resp.ID,
		Kind:  resp.Kind,
		Query: resp.Query,
		Items: nonNil(resp.Items),
		Words: words,
	})
}

// channel returns GET /api/v1/channels/{id}.
func (h *Handler) channel(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	resp, ok := h.do(w, r, dispatch.Request{
		Kind:    dispatch.KindChannel,
		Payload: chi.URLParam(r, "id"),
		Params:  dispatch.Params{Limit: limit},
	})
	if !ok {
		return
	}
	out := ChannelResponse{Videos: nonNil(resp.Items)}
	if resp.Channel != nil {
		out.Channel = *resp.Channel
	}
	jsonResp(w, http.StatusOK, out)
}

// video returns GET /api/v1/videos/{id}.
func (h *Handler) video(w http.ResponseWriter, r *http.Request) {
	detail, err := h.deps.Searcher.VideoDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		errResp(w, err)
		return
	}
	jsonResp(w, http.StatusOK, detail)
}

// description returns GET /api/v1/videos/{id}/description.
func (h *Handler) description(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	desc, err := h.deps.Searcher.Describe(r.Context(), id)
	if err != nil {
		errResp(w, err)
		return
	}
	jsonResp(w, http.StatusOK, DescriptionResponse{VideoID: id, Description: desc})
}

// listSessions returns GET /api/v1/sessions.
func (h *Handler) listSessions(w http.ResponseWriter, _ *http.Request) {
	connected := make(map[string]bool)
	if h.deps.Connections != nil {
		for _, id := range h.deps.Connections.Sessions() {
			connected[id] = true
		}
	}

	ids := h.deps.History.Sessions()
	out := make([]SessionResponse, 0, len(ids))
	for _, id := range ids {
		s := SessionResponse{
			ID:        id,
			Connected: connected[id],
			Poller:    poller.StateStopped.String(),
			Records:   len(h.deps.History.Get(id)),
		}
		if h.deps.Refresher != nil {
			s.Poller = h.deps.Refresher.State(id).String()
		}
		out = append(out, s)
	}
	jsonResp(w, http.StatusOK, out)
}

// sessionHistory returns GET /api/v1/sessions/{id}/history.
func (h *Handler) sessionHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.deps.History.Has(id) {
		jsonErr(w, http.StatusNotFound, "session not found")
		return
	}
	jsonResp(w, http.StatusOK, view.Build(h.deps.History.Get(id), view.DefaultWordLimit))
}

// refresh handles POST /api/v1/sessions/{id}/refresh: one poll cycle now.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.deps.History.Has(id) {
		jsonErr(w, http.StatusNotFound, "session not found")
		return
	}
	if h.deps.Refresher == nil {
		jsonErr(w, http.StatusServiceUnavailable, "poller not configured")
		return
	}
	changed, err := h.deps.Refresher.PollNow(r.Context(), id)
	if errors.Is(err, poller.ErrAllFetchesFailed) {
		jsonResp(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Code: types.CodeUpstream})
		return
	}
	if err != nil {
		errResp(w, err)
		return
	}
	jsonResp(w, http.StatusOK, RefreshResponse{SessionID: id, Changed: changed})
}

// --- helpers ----------------------------------------------------------------

// do runs req through the dispatcher and writes the error response itself
// when the lookup fails.
func (h *Handler) do(w http.ResponseWriter, r *http.Request, req dispatch.Request) (dispatch.Response, bool) {
	resp, err := h.deps.Searcher.Do(r.Context(), req)
	if err != nil {
		errResp(w, err)
		return dispatch.Response{}, false
	}
	if !resp.OK() {
		jsonResp(w, statusFor(resp.Error.Code), errorResponse{Error: resp.Error.Message, Code: resp.Error.Code})
		return dispatch.Response{}, false
	}
	return resp, true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		jsonResp(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer", Code: types.CodeInvalid})
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

// statusFor maps an error class to its HTTP status.
func statusFor(code types.ErrorCode) int {
	switch code {
	case types.CodeNotFound:
		return http.StatusNotFound
	case types.CodeUpstream:
		return http.StatusBadGateway
	case types.CodeInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errResp(w http.ResponseWriter, err error) {
	code := types.Code(err)
	jsonResp(w, statusFor(code), errorResponse{Error: err.Error(), Code: code})
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func nonNil(items []types.ResultItem) []types.ResultItem {
	if items == nil {
		return []types.ResultItem{}
	}
	return items
}
