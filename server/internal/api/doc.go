// Package api implements the HTTP REST API for tubedrift-server.
//
// New(deps) returns an http.Handler that serves:
//
//	GET  /api/v1/health                      server status, open connections, polled sessions
//	GET  /api/v1/search?q=&limit=            video search, served through the cache
//	GET  /api/v1/tags/{tag}?limit=           hashtag search
//	GET  /api/v1/channels/{id}?limit=        channel metadata and its videos
//	GET  /api/v1/videos/{id}                 full video metadata
//	GET  /api/v1/videos/{id}/description     video description
//	GET  /api/v1/sessions                    known sessions with connection and poller state
//	GET  /api/v1/sessions/{id}/history       a session's records and word summary
//	POST /api/v1/sessions/{id}/refresh       run one poll cycle for a session now
//	GET  /metrics                            Prometheus text exposition
//
// All JSON endpoints respond with Content-Type: application/json. Errors use
// {"error", "code"} with not_found→404, upstream→502, invalid_request→400
// and internal→500. Everything except health and metrics sits behind the
// API key middleware when auth mode is apikey.
package api
